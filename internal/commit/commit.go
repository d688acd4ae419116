// Package commit persists a processed upload as a batch.
//
// Clean records are written in micro-batches through storage.LoadChunks; a
// failed micro-batch is logged and skipped and the batch ends up completed,
// partial or failed depending on what actually persisted. Commits are retry
// safe: a batch is identified by a fingerprint of its content, a completed
// batch is never written twice, and an incomplete one resumes by skipping
// rows that are already stored.
package commit

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"

	"leadetl/internal/config"
	"leadetl/internal/dedupe"
	"leadetl/internal/lead"
	"leadetl/internal/metrics"
	"leadetl/internal/storage"
)

// DefaultChunkSize is the micro-batch size.
const DefaultChunkSize = 100

var (
	ErrNoRecords       = errors.New("commit: no records to commit")
	ErrMissingSupplier = errors.New("commit: supplierId is required")
)

// Request is one commit call.
type Request struct {
	Records        []lead.Record  `json:"records"`
	SupplierID     string         `json:"supplierId"`
	LeadCost       float64        `json:"leadCost"`
	FileName       string         `json:"fileName,omitempty"`
	DuplicateStats config.Options `json:"duplicateStats,omitempty"`
	DNCStats       config.Options `json:"dncStats,omitempty"`
	// Duplicates become the batch's audit trail.
	Duplicates []dedupe.Match `json:"duplicates,omitempty"`
}

// Result reports what was persisted. Inserted counts every row of the batch
// that is stored, including rows written by an earlier attempt.
type Result struct {
	BatchID          string   `json:"batchId"`
	Status           string   `json:"status"`
	Progress         int      `json:"progress"`
	Total            int      `json:"total"`
	Inserted         int      `json:"inserted"`
	Failed           int      `json:"failed"`
	AlreadyStored    int      `json:"alreadyStored"`
	Duplicates       int      `json:"duplicates"`
	DNCMatches       int      `json:"dncMatches"`
	Resumed          bool     `json:"resumed"`
	AlreadyCommitted bool     `json:"alreadyCommitted"`
	Errors           []string `json:"errors,omitempty"`
	Message          string   `json:"message"`
}

// Committer writes batches to Store.
type Committer struct {
	Store     storage.Store
	ChunkSize int
	// Job labels metrics.
	Job string
}

// Fingerprint identifies a request by content: supplier, cost and the
// canonical JSON of every record in order. Map keys marshal sorted, so equal
// records always hash equal.
func Fingerprint(req Request) (string, error) {
	h := xxh3.New()
	_, _ = h.WriteString(req.SupplierID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.FormatFloat(req.LeadCost, 'f', -1, 64))
	_, _ = h.WriteString("\x00")
	for i, r := range req.Records {
		b, err := json.Marshal(r)
		if err != nil {
			return "", fmt.Errorf("commit: fingerprint record %d: %w", i, err)
		}
		_, _ = h.Write(b)
		_, _ = h.WriteString("\n")
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// Commit persists req. The returned error is non-nil only when no batch
// could be created or resumed; micro-batch failures and cancellation are
// reported through Result.Status and Result.Errors.
func (c *Committer) Commit(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	defer func() { metrics.RecordStep(c.job(), "commit", err, time.Since(start)) }()

	if req.SupplierID == "" {
		return Result{}, ErrMissingSupplier
	}
	if len(req.Records) == 0 && len(req.Duplicates) == 0 {
		return Result{}, ErrNoRecords
	}

	fp, err := Fingerprint(req)
	if err != nil {
		return Result{}, err
	}
	existing, err := c.Store.FindBatchByFingerprint(ctx, fp)
	if err != nil {
		return Result{}, fmt.Errorf("commit: find batch: %w", err)
	}
	if existing != nil && existing.Status == storage.StatusCompleted {
		log.Printf("commit: batch %s already completed; nothing to do", existing.ID)
		res = fromBatch(*existing)
		res.AlreadyCommitted = true
		res.AlreadyStored = existing.Inserted
		return res, nil
	}

	var (
		batch   storage.Batch
		stored  map[int]bool
		resumed = existing != nil
	)
	if resumed {
		batch = *existing
		if stored, err = c.Store.ExistingRows(ctx, batch.ID); err != nil {
			return Result{}, fmt.Errorf("commit: existing rows: %w", err)
		}
		log.Printf("commit: resuming batch %s status=%s stored=%d/%d", batch.ID, batch.Status, len(stored), batch.TotalRows)
	} else {
		if batch, err = c.create(ctx, req, fp); err != nil {
			return Result{}, err
		}
	}

	rows := make([]storage.LeadRow, 0, len(req.Records))
	for i, rec := range req.Records {
		if stored[i] {
			continue
		}
		r := rec.Clone()
		if !r.Has(lead.LeadCost) {
			r[string(lead.LeadCost)] = req.LeadCost
		}
		rows = append(rows, storage.LeadRow{Row: i, Record: r})
	}

	total := len(req.Records)
	already := len(req.Records) - len(rows)
	var written int64
	insert := func(ctx context.Context, chunk []storage.LeadRow) (int64, error) {
		n, err := c.Store.InsertLeads(ctx, batch.ID, req.SupplierID, chunk)
		written += n
		return n, err
	}
	progress := func(done, _ int) {
		pct := percent(already+done, total)
		if pct <= batch.Progress {
			return
		}
		batch.Progress = pct
		batch.Inserted = already + int(written)
		if err := c.Store.UpdateBatch(ctx, batch); err != nil {
			log.Printf("commit: batch %s progress update failed: %v", batch.ID, err)
		}
	}

	rep, loadErr := storage.LoadChunks(ctx, rows, c.chunkSize(), insert, progress)

	inserted := already + int(rep.Written)
	batch.Inserted = inserted
	batch.Failed = total - inserted
	batch.Status = finalStatus(inserted, total)
	if batch.Status == storage.StatusCompleted {
		batch.Progress = 100
	}
	if loadErr != nil {
		log.Printf("commit: batch %s interrupted after %d of %d rows: %v", batch.ID, inserted, total, loadErr)
	}
	// The final status must land even when the caller has gone away.
	if err := c.Store.UpdateBatch(context.WithoutCancel(ctx), batch); err != nil {
		log.Printf("commit: batch %s final update failed: %v", batch.ID, err)
	}

	job := c.job()
	metrics.RecordRow(job, "inserted", rep.Written)
	metrics.RecordRow(job, "failed", int64(batch.Failed))
	metrics.RecordBatches(job, batch.Status, 1)

	res = fromBatch(batch)
	res.Resumed = resumed
	res.AlreadyStored = already
	for _, e := range rep.Errors {
		res.Errors = append(res.Errors, e.Error())
	}
	if loadErr != nil {
		res.Errors = append(res.Errors, loadErr.Error())
	}
	log.Printf("commit: batch %s %s: %s", batch.ID, batch.Status, res.Message)
	return res, nil
}

// create registers a new batch and writes its duplicate audit trail. Audit
// failures are logged; they never block the clean records.
func (c *Committer) create(ctx context.Context, req Request, fp string) (storage.Batch, error) {
	stats, err := json.Marshal(map[string]any{
		"duplicateStats": req.DuplicateStats,
		"dncStats":       req.DNCStats,
	})
	if err != nil {
		return storage.Batch{}, fmt.Errorf("commit: encode stats: %w", err)
	}
	b := storage.Batch{
		ID:          uuid.NewString(),
		Fingerprint: fp,
		FileName:    req.FileName,
		SupplierID:  req.SupplierID,
		LeadCost:    req.LeadCost,
		Status:      storage.StatusProcessing,
		TotalRows:   len(req.Records),
		Duplicates:  req.DuplicateStats.Int("duplicates", len(req.Duplicates)),
		DNCMatches:  req.DNCStats.Int("matches", 0),
		Stats:       string(stats),
	}
	if len(req.Records) == 0 {
		b.Progress = 100
	}
	if err := c.Store.CreateBatch(ctx, b); err != nil {
		return storage.Batch{}, fmt.Errorf("commit: create batch: %w", err)
	}
	log.Printf("commit: created batch %s supplier=%s rows=%d duplicates=%d", b.ID, b.SupplierID, b.TotalRows, len(req.Duplicates))

	if len(req.Duplicates) == 0 {
		return b, nil
	}
	audit := make([]storage.DuplicateRow, len(req.Duplicates))
	byType := map[dedupe.MatchType]int64{}
	for i, m := range req.Duplicates {
		audit[i] = storage.DuplicateRow{
			Row:       m.Index,
			MatchType: string(m.Type),
			Reason:    m.Reason,
			Record:    m.Record,
		}
		if m.Existing != nil {
			audit[i].ExistingID = m.Existing.ID
		}
		byType[m.Type]++
	}
	if _, err := c.Store.InsertDuplicates(ctx, b.ID, audit); err != nil {
		log.Printf("commit: batch %s duplicate audit failed: %v", b.ID, err)
	}
	for t, n := range byType {
		metrics.RecordDuplicates(c.job(), string(t), n)
	}
	return b, nil
}

func fromBatch(b storage.Batch) Result {
	return Result{
		BatchID:    b.ID,
		Status:     b.Status,
		Progress:   b.Progress,
		Total:      b.TotalRows,
		Inserted:   b.Inserted,
		Failed:     b.Failed,
		Duplicates: b.Duplicates,
		DNCMatches: b.DNCMatches,
		Message:    fmt.Sprintf("%d of %d inserted", b.Inserted, b.TotalRows),
	}
}

func finalStatus(inserted, total int) string {
	switch {
	case inserted >= total:
		return storage.StatusCompleted
	case inserted == 0:
		return storage.StatusFailed
	}
	return storage.StatusPartial
}

func percent(done, total int) int {
	if total <= 0 {
		return 100
	}
	return done * 100 / total
}

func (c *Committer) chunkSize() int {
	if c.ChunkSize > 0 {
		return c.ChunkSize
	}
	return DefaultChunkSize
}

func (c *Committer) job() string {
	if c.Job == "" {
		return "leadetl"
	}
	return c.Job
}
