package dnc

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"leadetl/internal/lead"
	"leadetl/internal/storage"
	"leadetl/internal/storage/memory"
)

type failingLookup struct{ err error }

func (f failingLookup) IsDNC(ctx context.Context, kind, value string) (bool, error) {
	return false, f.err
}

func TestCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	if err := st.AddDNC(ctx, storage.DNCEmail, "stop@example.com", "complaint"); err != nil {
		t.Fatalf("AddDNC: %v", err)
	}
	if err := st.AddDNC(ctx, storage.DNCPhone, "5551234567", "federal list"); err != nil {
		t.Fatalf("AddDNC: %v", err)
	}

	records := []lead.Record{
		{"email": " STOP@example.com", "phone": "555-000-1111"},
		{"email": "ok@example.com", "phone": "1 (555) 123-4567"},
		{"email": "fine@example.com"},
		{"firstname": "No Contact"},
		{"email": "stop@example.com", "phone": "5551234567", "leadstatus": "new"},
	}

	res, err := (&Checker{Store: st, Concurrency: 2}).Check(ctx, records)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}

	want := Stats{Total: 5, Checked: 4, Matches: 3, EmailMatches: 2, PhoneMatches: 2}
	if res.Stats != want {
		t.Fatalf("stats = %+v, want %+v", res.Stats, want)
	}
	var idx []int
	for _, m := range res.Matches {
		idx = append(idx, m.Index)
	}
	if !reflect.DeepEqual(idx, []int{0, 1, 4}) {
		t.Fatalf("match indexes = %v", idx)
	}
	if got := res.Matches[2].Fields; !reflect.DeepEqual(got, []lead.Field{lead.Email, lead.Phone}) {
		t.Fatalf("fields = %v", got)
	}
	if res.Records[4]["leadstatus"] != Status || records[4]["leadstatus"] != "new" {
		t.Fatalf("marking leaked into input or missing: out=%v in=%v", res.Records[4], records[4])
	}
	if len(res.Contactable) != 2 || res.Contactable[0]["email"] != "fine@example.com" {
		t.Fatalf("contactable = %v", res.Contactable)
	}
}

func TestCheck_StatusOfContactable(t *testing.T) {
	t.Parallel()

	records := []lead.Record{
		{"email": "ok@example.com"},
		{"email": "warm@example.com", "leadstatus": "Contacted"},
		{"firstname": "No Contact", "leadstatus": "  "},
	}
	res, err := (&Checker{Store: memory.New()}).Check(context.Background(), records)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	want := []any{NewStatus, "Contacted", NewStatus}
	for i, w := range want {
		if got := res.Records[i]["leadstatus"]; got != w {
			t.Errorf("record %d leadstatus = %#v, want %#v", i, got, w)
		}
	}
	if _, ok := records[0]["leadstatus"]; ok {
		t.Fatalf("input record mutated: %v", records[0])
	}
	if res.Contactable[2]["leadstatus"] != NewStatus {
		t.Fatalf("contactable = %v", res.Contactable)
	}
}

func TestCheck_FailsOpen(t *testing.T) {
	t.Parallel()

	records := []lead.Record{{"email": "a@b.com", "phone": "5551234567"}, {"email": "c@d.com"}}
	res, err := (&Checker{Store: failingLookup{errors.New("timeout")}}).Check(context.Background(), records)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if res.Stats.LookupErrors != 3 || res.Stats.Matches != 0 || len(res.Contactable) != 2 {
		t.Fatalf("result = %+v", res.Stats)
	}
}

func TestCheck_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Checker{Store: memory.New()}).Check(ctx, []lead.Record{{"email": "a@b.com"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestLoadList(t *testing.T) {
	t.Parallel()

	store := memory.New()
	list := "# suppression list\n" +
		"Blocked@Example.com, requested 2024-01-02\n" +
		"\n" +
		"(555) 999-8888\n" +
		"1-555-000-1111\n" +
		"12345\n"
	st, err := LoadList(context.Background(), store, strings.NewReader(list), "suppression")
	if err != nil {
		t.Fatalf("LoadList: %v", err)
	}
	if st != (ListStats{Emails: 1, Phones: 2, Skipped: 1}) {
		t.Fatalf("stats = %+v", st)
	}
	for _, c := range []struct{ kind, value string }{
		{storage.DNCEmail, "blocked@example.com"},
		{storage.DNCPhone, "5559998888"},
		{storage.DNCPhone, "5550001111"},
	} {
		ok, err := store.IsDNC(context.Background(), c.kind, c.value)
		if err != nil || !ok {
			t.Errorf("IsDNC(%s, %s) = %v, %v", c.kind, c.value, ok, err)
		}
	}
}
