// Package sqlstore implements storage.Store on database/sql. Backends supply
// an opened *sql.DB and a Dialect; postgres and mssql embed Store and replace
// the bulk paths with their native copy APIs.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"leadetl/internal/dedupe"
	"leadetl/internal/lead"
	"leadetl/internal/storage"
)

// TimeLayout is the fixed-width UTC layout used for timestamp columns so
// they sort lexically.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a database/sql backed storage.Store.
type Store struct {
	DB *sql.DB
	D  Dialect
	// Now is the clock; tests may replace it.
	Now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New wraps db.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{DB: db, D: d, Now: time.Now}
}

func (s *Store) now() string { return s.Now().UTC().Format(TimeLayout) }

func parseTime(v string) time.Time {
	t, _ := time.Parse(TimeLayout, v)
	return t
}

// q rewrites "?" placeholders into the dialect's form.
func (s *Store) q(query string) string {
	if s.D.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.D.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) findOne(ctx context.Context, col, key string) (*dedupe.StoreRecord, error) {
	if key == "" {
		return nil, nil
	}
	query := s.q(s.D.first("id, data", fmt.Sprintf("FROM %s WHERE %s = ? ORDER BY created_at, row_index",
		s.D.Ident(LeadsTable), s.D.Ident(col))))

	var id, data string
	err := s.DB.QueryRowContext(ctx, query, key).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: find by %s: %w", s.D.Name, col, err)
	}
	rec := lead.Record{}
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("%s: decode lead %s: %w", s.D.Name, id, err)
	}
	return &dedupe.StoreRecord{ID: id, Snapshot: rec}, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*dedupe.StoreRecord, error) {
	return s.findOne(ctx, "email", email)
}

func (s *Store) FindByPhone(ctx context.Context, digits string) (*dedupe.StoreRecord, error) {
	return s.findOne(ctx, "phone", digits)
}

func (s *Store) IsDNC(ctx context.Context, kind, value string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		s.q(fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE kind = ? AND %s = ?", s.D.Ident(DNCTable), s.D.Ident("value"))),
		kind, value).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: dnc lookup: %w", s.D.Name, err)
	}
	return n > 0, nil
}

func (s *Store) AddDNC(ctx context.Context, kind, value, reason string) error {
	stmt := s.D.insertOnce(DNCTable, []string{"kind", "value", "reason", "created_at"}, []string{"kind", "value"})
	if _, err := s.DB.ExecContext(ctx, stmt, kind, value, reason, s.now()); err != nil {
		return fmt.Errorf("%s: add dnc: %w", s.D.Name, err)
	}
	return nil
}

var batchCols = []string{
	"id", "fingerprint", "file_name", "supplier_id", "lead_cost", "status", "progress",
	"total_rows", "inserted", "failed", "duplicates", "dnc_matches", "stats", "created_at", "updated_at",
}

func (s *Store) CreateBatch(ctx context.Context, b storage.Batch) error {
	now := s.now()
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.D.Ident(BatchesTable), joinIdent(s.D.Ident, batchCols), s.D.binds(1, len(batchCols)))
	_, err := s.DB.ExecContext(ctx, stmt,
		b.ID, b.Fingerprint, b.FileName, b.SupplierID, b.LeadCost, b.Status, b.Progress,
		b.TotalRows, b.Inserted, b.Failed, b.Duplicates, b.DNCMatches, b.Stats, now, now)
	if err != nil {
		return fmt.Errorf("%s: create batch: %w", s.D.Name, err)
	}
	return nil
}

func (s *Store) scanBatch(row *sql.Row) (*storage.Batch, error) {
	var (
		b                  storage.Batch
		fileName, stats    sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&b.ID, &b.Fingerprint, &fileName, &b.SupplierID, &b.LeadCost, &b.Status, &b.Progress,
		&b.TotalRows, &b.Inserted, &b.Failed, &b.Duplicates, &b.DNCMatches, &stats, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	b.FileName, b.Stats = fileName.String, stats.String
	b.CreatedAt, b.UpdatedAt = parseTime(createdAt), parseTime(updated)
	return &b, nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*storage.Batch, error) {
	query := s.q(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", joinIdent(s.D.Ident, batchCols), s.D.Ident(BatchesTable)))
	b, err := s.scanBatch(s.DB.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: get batch: %w", s.D.Name, err)
	}
	return b, nil
}

func (s *Store) FindBatchByFingerprint(ctx context.Context, fingerprint string) (*storage.Batch, error) {
	query := s.q(s.D.first(joinIdent(s.D.Ident, batchCols),
		fmt.Sprintf("FROM %s WHERE fingerprint = ?", s.D.Ident(BatchesTable))))
	b, err := s.scanBatch(s.DB.QueryRowContext(ctx, query, fingerprint))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: find batch: %w", s.D.Name, err)
	}
	return b, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b storage.Batch) error {
	cols := []string{"status", "progress", "total_rows", "inserted", "failed", "duplicates", "dnc_matches", "stats", "updated_at"}
	set := make([]string, len(cols))
	for i, c := range cols {
		set[i] = s.D.Ident(c) + " = ?"
	}
	query := s.q(fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", s.D.Ident(BatchesTable), strings.Join(set, ", ")))
	res, err := s.DB.ExecContext(ctx, query,
		b.Status, b.Progress, b.TotalRows, b.Inserted, b.Failed, b.Duplicates, b.DNCMatches, b.Stats, s.now(), b.ID)
	if err != nil {
		return fmt.Errorf("%s: update batch: %w", s.D.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ExistingRows(ctx context.Context, batchID string) (map[int]bool, error) {
	rows, err := s.DB.QueryContext(ctx,
		s.q(fmt.Sprintf("SELECT row_index FROM %s WHERE batch_id = ?", s.D.Ident(LeadsTable))), batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: existing rows: %w", s.D.Name, err)
	}
	defer rows.Close()
	out := map[int]bool{}
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("%s: existing rows: %w", s.D.Name, err)
		}
		out[r] = true
	}
	return out, rows.Err()
}

// LeadColumns is the insert column order for the leads table.
var LeadColumns = []string{
	"id", "batch_id", "row_index", "supplier_id", "email", "phone", "lead_cost", "tags", "data", "created_at",
}

// LeadValues renders one lead row in LeadColumns order.
func LeadValues(batchID, supplierID string, r storage.LeadRow, createdAt string) ([]any, error) {
	data, err := json.Marshal(r.Record)
	if err != nil {
		return nil, fmt.Errorf("encode row %d: %w", r.Row, err)
	}
	var cost any
	if f, ok := r.Record.Float(lead.LeadCost); ok {
		cost = f
	}
	return []any{
		uuid.NewString(), batchID, r.Row, supplierID,
		dedupe.NormalizeEmail(r.Record[string(lead.Email)]),
		dedupe.NormalizePhone(r.Record[string(lead.Phone)]),
		cost, strings.Join(r.Record.TagList(), ","), string(data), createdAt,
	}, nil
}

// InsertLeads writes rows in one transaction, skipping rows already stored
// for the batch.
func (s *Store) InsertLeads(ctx context.Context, batchID, supplierID string, rows []storage.LeadRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", s.D.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, s.D.insertOnce(LeadsTable, LeadColumns, []string{"batch_id", "row_index"}))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: prepare insert: %w", s.D.Name, err)
	}
	defer stmt.Close()

	now := s.now()
	var inserted int64
	for _, r := range rows {
		vals, err := LeadValues(batchID, supplierID, r, now)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: %w", s.D.Name, err)
		}
		res, err := stmt.ExecContext(ctx, vals...)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: insert row %d: %w", s.D.Name, r.Row, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", s.D.Name, err)
	}
	return inserted, nil
}

// DuplicateColumns is the insert column order for the duplicate audit table.
var DuplicateColumns = []string{"id", "batch_id", "row_index", "match_type", "reason", "existing_id", "data", "created_at"}

// DuplicateValues renders one audit row in DuplicateColumns order.
func DuplicateValues(batchID string, r storage.DuplicateRow, createdAt string) ([]any, error) {
	data, err := json.Marshal(r.Record)
	if err != nil {
		return nil, fmt.Errorf("encode duplicate row %d: %w", r.Row, err)
	}
	return []any{uuid.NewString(), batchID, r.Row, r.MatchType, r.Reason, r.ExistingID, string(data), createdAt}, nil
}

func (s *Store) InsertDuplicates(ctx context.Context, batchID string, rows []storage.DuplicateRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", s.D.Name, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		s.D.Ident(DuplicatesTable), joinIdent(s.D.Ident, DuplicateColumns), s.D.binds(1, len(DuplicateColumns))))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: prepare duplicate insert: %w", s.D.Name, err)
	}
	defer stmt.Close()

	now := s.now()
	for _, r := range rows {
		vals, err := DuplicateValues(batchID, r, now)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: %w", s.D.Name, err)
		}
		if _, err := stmt.ExecContext(ctx, vals...); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("%s: insert duplicate row %d: %w", s.D.Name, r.Row, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", s.D.Name, err)
	}
	return int64(len(rows)), nil
}

func (s *Store) Close() error { return s.DB.Close() }
