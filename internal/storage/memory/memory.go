// Package memory implements an in-process storage.Store. It backs tests and
// dry runs and registers itself as storage kind "memory".
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"leadetl/internal/dedupe"
	"leadetl/internal/lead"
	"leadetl/internal/storage"
)

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return New(), nil
	})
}

type leadEntry struct {
	id         string
	batchID    string
	row        int
	supplierID string
	emailKey   string
	phoneKey   string
	record     lead.Record
}

// Store is a mutex-guarded in-memory storage.Store.
type Store struct {
	mu         sync.RWMutex
	leads      []leadEntry
	rows       map[string]map[int]bool
	duplicates map[string][]storage.DuplicateRow
	batches    map[string]storage.Batch
	dnc        map[string]string

	// InsertHook, when set, runs before each InsertLeads call; a non-nil
	// error fails the call without writing anything.
	InsertHook func(batchID string, rows []storage.LeadRow) error
}

var _ storage.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		rows:       map[string]map[int]bool{},
		duplicates: map[string][]storage.DuplicateRow{},
		batches:    map[string]storage.Batch{},
		dnc:        map[string]string{},
	}
}

// Seed stores records outside any batch, as if committed earlier.
func (s *Store) Seed(records ...lead.Record) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = uuid.NewString()
		s.leads = append(s.leads, leadEntry{
			id:       ids[i],
			row:      i,
			emailKey: dedupe.NormalizeEmail(r[string(lead.Email)]),
			phoneKey: dedupe.NormalizePhone(r[string(lead.Phone)]),
			record:   r.Clone(),
		})
	}
	return ids
}

// Leads returns a copy of every stored lead record in insertion order.
func (s *Store) Leads() []lead.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lead.Record, len(s.leads))
	for i, e := range s.leads {
		out[i] = e.record.Clone()
	}
	return out
}

// Duplicates returns the audit rows stored for batchID.
func (s *Store) Duplicates(batchID string) []storage.DuplicateRow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]storage.DuplicateRow(nil), s.duplicates[batchID]...)
}

func (s *Store) find(ctx context.Context, match func(leadEntry) bool) (*dedupe.StoreRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.leads {
		if match(e) {
			return &dedupe.StoreRecord{ID: e.id, Snapshot: e.record.Clone()}, nil
		}
	}
	return nil, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*dedupe.StoreRecord, error) {
	if email == "" {
		return nil, nil
	}
	return s.find(ctx, func(e leadEntry) bool { return e.emailKey == email })
}

func (s *Store) FindByPhone(ctx context.Context, digits string) (*dedupe.StoreRecord, error) {
	if digits == "" {
		return nil, nil
	}
	return s.find(ctx, func(e leadEntry) bool { return e.phoneKey == digits })
}

func (s *Store) IsDNC(ctx context.Context, kind, value string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dnc[kind+"\x00"+value]
	return ok, nil
}

func (s *Store) AddDNC(ctx context.Context, kind, value, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dnc[kind+"\x00"+value] = reason
	return nil
}

func (s *Store) CreateBatch(ctx context.Context, b storage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[b.ID]; ok {
		return fmt.Errorf("memory: batch %s already exists", b.ID)
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	s.batches[b.ID] = b
	return nil
}

func (s *Store) GetBatch(ctx context.Context, id string) (*storage.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &b, nil
}

func (s *Store) FindBatchByFingerprint(ctx context.Context, fingerprint string) (*storage.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.batches {
		if b.Fingerprint == fingerprint {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateBatch(ctx context.Context, b storage.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.batches[b.ID]
	if !ok {
		return storage.ErrNotFound
	}
	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	s.batches[b.ID] = b
	return nil
}

func (s *Store) ExistingRows(ctx context.Context, batchID string) (map[int]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]bool, len(s.rows[batchID]))
	for r := range s.rows[batchID] {
		out[r] = true
	}
	return out, nil
}

func (s *Store) InsertLeads(ctx context.Context, batchID, supplierID string, rows []storage.LeadRow) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.InsertHook != nil {
		if err := s.InsertHook(batchID, rows); err != nil {
			return 0, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.rows[batchID]
	if seen == nil {
		seen = map[int]bool{}
		s.rows[batchID] = seen
	}
	var n int64
	for _, r := range rows {
		if seen[r.Row] {
			continue
		}
		seen[r.Row] = true
		s.leads = append(s.leads, leadEntry{
			id:         uuid.NewString(),
			batchID:    batchID,
			row:        r.Row,
			supplierID: supplierID,
			emailKey:   dedupe.NormalizeEmail(r.Record[string(lead.Email)]),
			phoneKey:   dedupe.NormalizePhone(r.Record[string(lead.Phone)]),
			record:     r.Record.Clone(),
		})
		n++
	}
	return n, nil
}

func (s *Store) InsertDuplicates(ctx context.Context, batchID string, rows []storage.DuplicateRow) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates[batchID] = append(s.duplicates[batchID], rows...)
	return int64(len(rows)), nil
}

func (s *Store) Close() error { return nil }
