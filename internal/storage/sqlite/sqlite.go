// Package sqlite registers the "sqlite" storage kind on modernc.org/sqlite,
// a cgo-free driver. It suits single-node installs and local runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"leadetl/internal/storage"
	"leadetl/internal/storage/sqlstore"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Open opens the database named by cfg.DSN, for example "leads.db" or
// "file:leads.db?_pragma=busy_timeout(5000)", and migrates it when
// cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg storage.Config) (*sqlstore.Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	// Every connection to an in-memory database is a separate database, and
	// SQLite serializes writers anyway.
	if cfg.MaxConns > 0 && !inMemory(cfg.DSN) {
		db.SetMaxOpenConns(cfg.MaxConns)
	} else {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")

	s := sqlstore.New(db, sqlstore.SQLite)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

func inMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}
