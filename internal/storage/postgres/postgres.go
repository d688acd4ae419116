// Package postgres registers the "postgres" storage kind on pgx v5. Leads are
// loaded with COPY into a transaction-scoped temporary table and then moved
// into the leads table, skipping rows already stored for the batch.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"leadetl/internal/storage"
	"leadetl/internal/storage/sqlstore"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store embeds the shared store and overrides InsertLeads with COPY.
type Store struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// ParseConfig validates dsn and applies cfg's pool limits.
func ParseConfig(cfg storage.Config) (*pgxpool.Config, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = int32(cfg.MaxConns)
	}
	return pc, nil
}

// Open connects a pool and wraps it for database/sql access.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	pc, err := ParseConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	s := &Store{Store: sqlstore.New(stdlib.OpenDBFromPool(pool), sqlstore.Postgres), pool: pool}
	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the database/sql wrapper and the pool.
func (s *Store) Close() error {
	err := s.DB.Close()
	s.pool.Close()
	return err
}

const tmpLeads = "tmp_leads"

// InsertLeads COPYs rows into a temporary table and inserts them with
// ON CONFLICT DO NOTHING, so a retried chunk only writes missing rows.
func (s *Store) InsertLeads(ctx context.Context, batchID, supplierID string, rows []storage.LeadRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	now := s.Now().UTC().Format(sqlstore.TimeLayout)
	values := make([][]any, 0, len(rows))
	for _, r := range rows {
		v, err := sqlstore.LeadValues(batchID, supplierID, r, now)
		if err != nil {
			return 0, err
		}
		values = append(values, v)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	create := fmt.Sprintf(
		"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgIdent(tmpLeads), pgIdent(sqlstore.LeadsTable),
	)
	if _, err := tx.Exec(ctx, create); err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{tmpLeads}, sqlstore.LeadColumns, pgx.CopyFromRows(values)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Detail != "" {
			return 0, fmt.Errorf("copy into temp: %s (%s)", pgErr.Detail, pgErr.SQLState())
		}
		return 0, fmt.Errorf("copy into temp: %w", err)
	}

	cols := strings.Join(mapIdent(sqlstore.LeadColumns), ",")
	insert := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING",
		pgIdent(sqlstore.LeadsTable), cols, cols, pgIdent(tmpLeads),
	)
	tag, err := tx.Exec(ctx, insert)
	if err != nil {
		return 0, fmt.Errorf("insert phase: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}
