package mysql

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/go-sql-driver/mysql"

	"leadetl/internal/storage"
)

func TestParseDSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		dsn     string
		wantErr bool
		charset string
	}{
		{name: "defaults charset", dsn: "u:p@tcp(db:3306)/leads", charset: "utf8mb4"},
		{name: "keeps charset", dsn: "u:p@tcp(db:3306)/leads?charset=latin1", charset: "latin1"},
		{name: "missing database", dsn: "u:p@tcp(db:3306)/", wantErr: true},
		{name: "malformed", dsn: "u:p@tcp(db:3306", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, err := ParseDSN(tt.dsn)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDSN: %v", err)
			}
			if c.Params["charset"] != tt.charset {
				t.Fatalf("charset = %q, want %q", c.Params["charset"], tt.charset)
			}
		})
	}
}

func TestRegistrationUsesOpenHook(t *testing.T) {
	orig := openDB
	defer func() { openDB = orig }()

	var got *mysql.Config
	boom := errors.New("no server")
	openDB = func(c *mysql.Config) (*sql.DB, error) {
		got = c
		return nil, boom
	}

	_, err := storage.New(context.Background(), storage.Config{Kind: "mysql", DSN: "u:p@tcp(db:3306)/leads"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if got == nil || got.DBName != "leads" || got.Addr != "db:3306" {
		t.Fatalf("hook config = %+v", got)
	}
}
