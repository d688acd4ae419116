package commit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"leadetl/internal/config"
	"leadetl/internal/dedupe"
	"leadetl/internal/lead"
	"leadetl/internal/storage"
	"leadetl/internal/storage/memory"
)

func records(n int) []lead.Record {
	out := make([]lead.Record, n)
	for i := range out {
		out[i] = lead.Record{
			"email":     fmt.Sprintf("lead%d@example.com", i),
			"firstname": "Lead",
		}
	}
	return out
}

// progressStore records every progress value written through UpdateBatch.
type progressStore struct {
	*memory.Store
	mu       sync.Mutex
	progress []int
}

func (p *progressStore) UpdateBatch(ctx context.Context, b storage.Batch) error {
	p.mu.Lock()
	p.progress = append(p.progress, b.Progress)
	p.mu.Unlock()
	return p.Store.UpdateBatch(ctx, b)
}

func TestCommit_Completed(t *testing.T) {
	t.Parallel()

	st := &progressStore{Store: memory.New()}
	c := &Committer{Store: st, ChunkSize: 100}
	req := Request{Records: records(250), SupplierID: "acme", LeadCost: 12.5, FileName: "acme.csv"}
	req.Records[3]["leadcost"] = 40.0

	res, err := c.Commit(context.Background(), req)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Status != storage.StatusCompleted || res.Inserted != 250 || res.Failed != 0 || res.Progress != 100 {
		t.Fatalf("result = %+v", res)
	}
	if res.Message != "250 of 250 inserted" {
		t.Fatalf("message = %q", res.Message)
	}

	leads := st.Leads()
	if len(leads) != 250 {
		t.Fatalf("stored %d leads, want 250", len(leads))
	}
	costs := map[float64]int{}
	for _, l := range leads {
		f, _ := l.Float(lead.LeadCost)
		costs[f]++
	}
	if costs[12.5] != 249 || costs[40] != 1 {
		t.Fatalf("lead costs = %v", costs)
	}
	if _, ok := req.Records[0]["leadcost"]; ok {
		t.Fatalf("request records were mutated")
	}

	want := []int{40, 80, 100, 100}
	if fmt.Sprint(st.progress) != fmt.Sprint(want) {
		t.Fatalf("progress updates = %v, want %v", st.progress, want)
	}

	b, err := st.GetBatch(context.Background(), res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.Status != storage.StatusCompleted || b.Inserted != 250 || b.FileName != "acme.csv" {
		t.Fatalf("batch = %+v", b)
	}
}

func TestCommit_PartialThenResume(t *testing.T) {
	t.Parallel()

	st := memory.New()
	calls := 0
	st.InsertHook = func(batchID string, rows []storage.LeadRow) error {
		calls++
		if calls == 2 {
			return errors.New("deadlock detected")
		}
		return nil
	}
	c := &Committer{Store: st, ChunkSize: 100}
	req := Request{Records: records(250), SupplierID: "acme", LeadCost: 5}

	first, err := c.Commit(context.Background(), req)
	if err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if first.Status != storage.StatusPartial || first.Inserted != 150 || first.Failed != 100 {
		t.Fatalf("first = %+v", first)
	}
	if first.Message != "150 of 250 inserted" {
		t.Fatalf("message = %q", first.Message)
	}
	if len(first.Errors) != 1 || !strings.Contains(first.Errors[0], "deadlock") {
		t.Fatalf("errors = %v", first.Errors)
	}

	st.InsertHook = nil
	second, err := c.Commit(context.Background(), req)
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if !second.Resumed || second.BatchID != first.BatchID || second.AlreadyStored != 150 {
		t.Fatalf("second = %+v", second)
	}
	if second.Status != storage.StatusCompleted || second.Inserted != 250 || second.Progress != 100 {
		t.Fatalf("second = %+v", second)
	}
	if n := len(st.Leads()); n != 250 {
		t.Fatalf("stored %d leads after resume, want 250", n)
	}

	third, err := c.Commit(context.Background(), req)
	if err != nil {
		t.Fatalf("third Commit: %v", err)
	}
	if !third.AlreadyCommitted || third.BatchID != first.BatchID || third.Inserted != 250 {
		t.Fatalf("third = %+v", third)
	}
	if n := len(st.Leads()); n != 250 {
		t.Fatalf("stored %d leads after replay, want 250", n)
	}
}

func TestCommit_AllChunksFail(t *testing.T) {
	t.Parallel()

	st := memory.New()
	st.InsertHook = func(string, []storage.LeadRow) error { return errors.New("read-only") }
	c := &Committer{Store: st, ChunkSize: 10}

	res, err := c.Commit(context.Background(), Request{Records: records(25), SupplierID: "acme"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Status != storage.StatusFailed || res.Inserted != 0 || res.Failed != 25 || len(res.Errors) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.Progress != 100 {
		t.Fatalf("progress = %d, want 100 (every chunk attempted)", res.Progress)
	}
}

func TestCommit_CancelStopsFurtherChunks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := memory.New()
	st.InsertHook = func(string, []storage.LeadRow) error {
		cancel()
		return nil
	}
	c := &Committer{Store: st, ChunkSize: 100}

	res, err := c.Commit(ctx, Request{Records: records(250), SupplierID: "acme"})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Status != storage.StatusPartial || res.Inserted != 100 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Errors) == 0 || !strings.Contains(res.Errors[len(res.Errors)-1], "context canceled") {
		t.Fatalf("errors = %v", res.Errors)
	}
	b, err := st.GetBatch(context.Background(), res.BatchID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if b.Status != storage.StatusPartial || b.Inserted != 100 {
		t.Fatalf("persisted batch = %+v", b)
	}
}

func TestCommit_DuplicateAuditTrail(t *testing.T) {
	t.Parallel()

	st := memory.New()
	c := &Committer{Store: st}
	req := Request{
		Records:        records(2),
		SupplierID:     "acme",
		DuplicateStats: config.Options{"duplicates": 2.0},
		DNCStats:       config.Options{"matches": 1.0},
		Duplicates: []dedupe.Match{
			{Index: 2, Type: dedupe.IntraFile, Reason: "duplicate within file: email matches row 1", Record: lead.Record{"email": "lead0@example.com"}},
			{Index: 3, Type: dedupe.StoreExisting, Reason: "existing lead x", Existing: &dedupe.StoreRecord{ID: "x"}, Record: lead.Record{"email": "old@example.com"}},
		},
	}

	res, err := c.Commit(context.Background(), req)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if res.Duplicates != 2 || res.DNCMatches != 1 || res.Inserted != 2 {
		t.Fatalf("result = %+v", res)
	}
	audit := st.Duplicates(res.BatchID)
	if len(audit) != 2 || audit[1].ExistingID != "x" || audit[0].MatchType != "intra-file" {
		t.Fatalf("audit = %+v", audit)
	}

	// Replaying a completed batch does not write the audit trail again.
	if _, err := c.Commit(context.Background(), req); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n := len(st.Duplicates(res.BatchID)); n != 2 {
		t.Fatalf("audit rows after replay = %d, want 2", n)
	}
}

func TestCommit_InvalidRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{name: "missing supplier", req: Request{Records: records(1)}, want: ErrMissingSupplier},
		{name: "nothing to commit", req: Request{SupplierID: "acme"}, want: ErrNoRecords},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := &Committer{Store: memory.New()}
			if _, err := c.Commit(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	base := Request{SupplierID: "acme", LeadCost: 10, Records: []lead.Record{{"email": "a@b.com", "city": "Austin"}}}
	same := Request{SupplierID: "acme", LeadCost: 10, Records: []lead.Record{{"city": "Austin", "email": "a@b.com"}}}

	fp := func(r Request) string {
		s, err := Fingerprint(r)
		if err != nil {
			t.Fatalf("Fingerprint: %v", err)
		}
		return s
	}
	if fp(base) != fp(same) {
		t.Fatalf("key order changed the fingerprint")
	}
	if len(fp(base)) != 32 {
		t.Fatalf("fingerprint %q is not 128-bit hex", fp(base))
	}

	variants := []Request{
		{SupplierID: "other", LeadCost: 10, Records: base.Records},
		{SupplierID: "acme", LeadCost: 11, Records: base.Records},
		{SupplierID: "acme", LeadCost: 10, Records: []lead.Record{{"email": "c@d.com", "city": "Austin"}}},
	}
	for i, v := range variants {
		if fp(v) == fp(base) {
			t.Errorf("variant %d has the base fingerprint", i)
		}
	}
}
