// Package mysql registers the "mysql" storage kind on go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"leadetl/internal/storage"
	"leadetl/internal/storage/sqlstore"
)

// openDB is a test hook; by default it opens a pool over mysql.NewConnector.
var openDB = func(c *mysql.Config) (*sql.DB, error) {
	conn, err := mysql.NewConnector(c)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(conn), nil
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// ParseDSN validates dsn ("user:pass@tcp(host:3306)/leads") and applies the
// settings the store relies on.
func ParseDSN(dsn string) (*mysql.Config, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if c.DBName == "" {
		return nil, fmt.Errorf("mysql dsn: database name is required")
	}
	if c.Params == nil {
		c.Params = map[string]string{}
	}
	if _, ok := c.Params["charset"]; !ok {
		c.Params["charset"] = "utf8mb4"
	}
	return c, nil
}

// Open connects and pings the server, migrating when cfg.AutoMigrate is set.
func Open(ctx context.Context, cfg storage.Config) (*sqlstore.Store, error) {
	c, err := ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	db, err := openDB(c)
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(3 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
	}
	s := sqlstore.New(db, sqlstore.MySQL)
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}
