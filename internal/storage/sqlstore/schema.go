package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

type colType int

const (
	tKey colType = iota
	tText
	tFloat
	tInt
)

type column struct {
	name string
	typ  colType
	null bool
}

type index struct {
	name   string
	cols   []string
	unique bool
}

type table struct {
	name    string
	cols    []column
	primary []string
	indexes []index
}

// Table names.
const (
	LeadsTable      = "leads"
	DuplicatesTable = "duplicate_leads"
	BatchesTable    = "upload_batches"
	DNCTable        = "dnc_entries"
)

var schema = []table{
	{
		name: LeadsTable,
		cols: []column{
			{"id", tKey, false}, {"batch_id", tKey, false}, {"row_index", tInt, false},
			{"supplier_id", tKey, false}, {"email", tKey, false}, {"phone", tKey, false},
			{"lead_cost", tFloat, true}, {"tags", tText, true}, {"data", tText, false},
			{"created_at", tKey, false},
		},
		primary: []string{"id"},
		indexes: []index{
			{"leads_email_idx", []string{"email"}, false},
			{"leads_phone_idx", []string{"phone"}, false},
			{"leads_batch_row_idx", []string{"batch_id", "row_index"}, true},
		},
	},
	{
		name: DuplicatesTable,
		cols: []column{
			{"id", tKey, false}, {"batch_id", tKey, false}, {"row_index", tInt, false},
			{"match_type", tKey, false}, {"reason", tText, true}, {"existing_id", tKey, true},
			{"data", tText, false}, {"created_at", tKey, false},
		},
		primary: []string{"id"},
		indexes: []index{{"duplicate_leads_batch_idx", []string{"batch_id"}, false}},
	},
	{
		name: BatchesTable,
		cols: []column{
			{"id", tKey, false}, {"fingerprint", tKey, false}, {"file_name", tText, true},
			{"supplier_id", tKey, false}, {"lead_cost", tFloat, false}, {"status", tKey, false},
			{"progress", tInt, false}, {"total_rows", tInt, false}, {"inserted", tInt, false},
			{"failed", tInt, false}, {"duplicates", tInt, false}, {"dnc_matches", tInt, false},
			{"stats", tText, true}, {"created_at", tKey, false}, {"updated_at", tKey, false},
		},
		primary: []string{"id"},
		indexes: []index{{"upload_batches_fingerprint_idx", []string{"fingerprint"}, true}},
	},
	{
		name: DNCTable,
		cols: []column{
			{"kind", tKey, false}, {"value", tKey, false}, {"reason", tText, true},
			{"created_at", tKey, false},
		},
		primary: []string{"kind", "value"},
	},
}

func (d Dialect) colType(t colType) string {
	switch t {
	case tText:
		return d.TextType
	case tFloat:
		return d.FloatType
	case tInt:
		return d.IntType
	}
	return d.KeyType
}

// DDL returns the statements that create the lead schema for d. Every
// statement is idempotent.
func (d Dialect) DDL() []string {
	var stmts []string
	for _, t := range schema {
		parts := make([]string, 0, len(t.cols)+1+len(t.indexes))
		for _, c := range t.cols {
			null := " NOT NULL"
			if c.null {
				null = ""
			}
			parts = append(parts, d.Ident(c.name)+" "+d.colType(c.typ)+null)
		}
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdent(d.Ident, t.primary)))

		var after []string
		for _, ix := range t.indexes {
			if s := d.CreateIndex(ix.name, t.name, ix.cols, ix.unique); s != "" {
				after = append(after, s)
				continue
			}
			kw := "INDEX"
			if ix.unique {
				kw = "UNIQUE KEY"
			}
			parts = append(parts, fmt.Sprintf("%s %s (%s)", kw, d.Ident(ix.name), joinIdent(d.Ident, ix.cols)))
		}
		stmts = append(stmts, d.CreateTable(d.Ident(t.name), strings.Join(parts, ", ")))
		stmts = append(stmts, after...)
	}
	return stmts
}

// Migrate applies DDL.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.D.DDL() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s: migrate: %w", s.D.Name, err)
		}
	}
	return nil
}
