// Package storage defines the lead store contract and a registry of backends.
//
// Backends (memory, sqlite, postgres, mysql, mssql) register a Factory for
// their kind at init time; callers open a Store with New and stay backend
// agnostic. Import leadetl/internal/storage/all to enable every built-in
// backend.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"leadetl/internal/dedupe"
	"leadetl/internal/lead"
)

// Config selects and configures a backend.
type Config struct {
	Kind        string
	DSN         string
	AutoMigrate bool
	MaxConns    int
}

// Batch statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusPartial    = "partial"
	StatusFailed     = "failed"
)

// Batch is one committed upload.
type Batch struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	FileName    string    `json:"fileName,omitempty"`
	SupplierID  string    `json:"supplierId"`
	LeadCost    float64   `json:"leadCost"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	TotalRows   int       `json:"totalRows"`
	Inserted    int       `json:"inserted"`
	Failed      int       `json:"failed"`
	Duplicates  int       `json:"duplicates"`
	DNCMatches  int       `json:"dncMatches"`
	Stats       string    `json:"stats,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LeadRow is one clean record addressed by its position in the batch.
type LeadRow struct {
	Row    int
	Record lead.Record
}

// DuplicateRow is one audit-trail entry for a rejected record.
type DuplicateRow struct {
	Row        int
	MatchType  string
	Reason     string
	ExistingID string
	Record     lead.Record
}

// DNC entry kinds.
const (
	DNCEmail = "email"
	DNCPhone = "phone"
)

// ErrNotFound is returned when a batch does not exist.
var ErrNotFound = errors.New("storage: not found")

// Store is the persistence contract used by the pipeline.
//
// FindByEmail and FindByPhone take normalized keys (see dedupe.NormalizeEmail
// and dedupe.NormalizePhone) and return nil, nil when nothing matches.
// InsertLeads must skip rows already stored for the batch so a retried commit
// never double-inserts; it returns the number of rows actually written.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*dedupe.StoreRecord, error)
	FindByPhone(ctx context.Context, digits string) (*dedupe.StoreRecord, error)
	IsDNC(ctx context.Context, kind, value string) (bool, error)
	AddDNC(ctx context.Context, kind, value, reason string) error

	CreateBatch(ctx context.Context, b Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	FindBatchByFingerprint(ctx context.Context, fingerprint string) (*Batch, error)
	UpdateBatch(ctx context.Context, b Batch) error

	ExistingRows(ctx context.Context, batchID string) (map[int]bool, error)
	InsertLeads(ctx context.Context, batchID, supplierID string, rows []LeadRow) (int64, error)
	InsertDuplicates(ctx context.Context, batchID string, rows []DuplicateRow) (int64, error)

	Close() error
}

// Factory opens a Store for cfg.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Store of cfg.Kind.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered kinds, sorted.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
