package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"leadetl/internal/cleaning"
	"leadetl/internal/config"
	"leadetl/internal/dedupe"
	"leadetl/internal/dnc"
	"leadetl/internal/fieldmap"
	"leadetl/internal/intake"
	"leadetl/internal/lead"
	"leadetl/internal/storage"
	"leadetl/internal/storage/memory"
)

const upload = "First Name,Last Name,Email Address,Phone,Lead Cost,State,Notes\n" +
	"John,Smith, JOHN@Example.COM ,555.123.4567,75,New York,exclusive deal\n" +
	"Johnny,Smith,john@example.com,,20,TX,\n" +
	"Old,Lead,old@example.com,5550001111,,CA,\n" +
	"Dee,Nc,dee@example.com,555-999-8888,120,FL,\n"

func parse(t *testing.T, name, data string) *intake.File {
	t.Helper()
	f, err := intake.Parse(name, []byte(data))
	if err != nil {
		t.Fatalf("intake.Parse: %v", err)
	}
	return f
}

func byEmail(records []lead.Record, email string) lead.Record {
	for _, r := range records {
		if r["email"] == email {
			return r
		}
	}
	return nil
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	st.Seed(lead.Record{"email": "old@example.com"})
	if err := st.AddDNC(ctx, storage.DNCPhone, "5559998888", "federal list"); err != nil {
		t.Fatalf("AddDNC: %v", err)
	}

	cfg := config.Default()
	cfg.DNC.Enabled = true
	cfg.SheetTags = []string{"spring-import"}
	cfg.Runtime.Workers = 2
	p, err := New(cfg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := p.Run(ctx, parse(t, "acme.csv", upload), RunRequest{SupplierID: "acme", LeadCost: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	s := rep.Stats
	if s.Total != 4 || s.Clean != 2 || s.Duplicates != 2 || s.DNCMatches != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ByType["intra-file"] != 1 || s.ByType["store-existing"] != 1 || s.FieldMatches["email"] != 2 {
		t.Fatalf("duplicate breakdown = %+v / %+v", s.ByType, s.FieldMatches)
	}
	if s.Inserted != 2 || s.Failed != 0 || s.Status != storage.StatusCompleted || s.Confidence != 1 {
		t.Fatalf("commit stats = %+v", s)
	}
	if rep.Commit == nil || len(st.Duplicates(rep.Commit.BatchID)) != 2 {
		t.Fatalf("duplicate audit trail missing: %+v", rep.Commit)
	}

	leads := st.Leads()
	if len(leads) != 3 {
		t.Fatalf("stored %d leads, want 3", len(leads))
	}
	john := byEmail(leads, "john@example.com")
	if john == nil {
		t.Fatalf("john not stored: %v", leads)
	}
	if john["phone"] != "+15551234567" || john["state"] != "NY" || john["leadcost"] != 75.0 || john["leadstatus"] != dnc.NewStatus {
		t.Fatalf("john = %v", john)
	}
	tags := john.TagList()
	for _, want := range []string{"standard-lead", "spring-import", "exclusive"} {
		if !slices.Contains(tags, want) {
			t.Errorf("john tags %v missing %q", tags, want)
		}
	}
	dee := byEmail(leads, "dee@example.com")
	if dee == nil || dee["leadstatus"] != dnc.Status || !slices.Contains(dee.TagList(), "premium-lead") {
		t.Fatalf("dee = %v", dee)
	}
}

func TestRun_ExcludeDNCAndDryRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := memory.New()
	if err := st.AddDNC(ctx, storage.DNCEmail, "dee@example.com", "opt-out"); err != nil {
		t.Fatalf("AddDNC: %v", err)
	}
	cfg := config.Default()
	cfg.DNC.Enabled = true
	cfg.DNC.Exclude = true
	p, err := New(cfg, st)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dry, err := p.Run(ctx, parse(t, "acme.csv", upload), RunRequest{SupplierID: "acme", DryRun: true})
	if err != nil {
		t.Fatalf("dry Run: %v", err)
	}
	if dry.Commit != nil || len(st.Leads()) != 0 || dry.Stats.Status != "" {
		t.Fatalf("dry run wrote: %+v", dry.Stats)
	}

	rep, err := p.Run(ctx, parse(t, "acme.csv", upload), RunRequest{SupplierID: "acme"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Stats.Inserted != 2 || byEmail(st.Leads(), "dee@example.com") != nil {
		t.Fatalf("excluded DNC lead was stored: %+v", rep.Stats)
	}
}

// flakyStore fails email lookups for one address.
type flakyStore struct {
	*memory.Store
	failEmail string
}

func (f flakyStore) FindByEmail(ctx context.Context, email string) (*dedupe.StoreRecord, error) {
	if email == f.failEmail {
		return nil, errors.New("connection reset")
	}
	return f.Store.FindByEmail(ctx, email)
}

func TestRun_FailClosedAuditsUnverified(t *testing.T) {
	t.Parallel()

	st := memory.New()
	cfg := config.Default()
	cfg.Dedupe.FailClosed = true
	p, err := New(cfg, flakyStore{Store: st, failEmail: "dee@example.com"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rep, err := p.Run(context.Background(), parse(t, "acme.csv", upload), RunRequest{SupplierID: "acme"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Stats.Unverified != 1 || byEmail(st.Leads(), "dee@example.com") != nil {
		t.Fatalf("unverified lead committed: %+v", rep.Stats)
	}

	var found bool
	for _, row := range st.Duplicates(rep.Commit.BatchID) {
		if row.MatchType == string(dedupe.Unverified) {
			found = true
			if row.Row != 3 || !strings.Contains(row.Reason, "connection reset") {
				t.Fatalf("audit row = %+v", row)
			}
		}
	}
	if !found {
		t.Fatalf("unverified record missing from audit trail: %v", st.Duplicates(rep.Commit.BatchID))
	}
}

func TestProcess_KeepsOrderAcrossShards(t *testing.T) {
	t.Parallel()

	records := make([]lead.Record, 103)
	for i := range records {
		records[i] = lead.Record{"email": fmt.Sprintf(" USER%d@EXAMPLE.COM", i), "leadscore": "85"}
	}
	p := &Pipeline{Rules: DefaultRules(), Workers: 4}

	out, st, err := p.Process(context.Background(), records, "batch-7")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	for i, r := range out {
		if want := fmt.Sprintf("user%d@example.com", i); r["email"] != want {
			t.Fatalf("out[%d].email = %v, want %s", i, r["email"], want)
		}
	}
	if st.Cleaning.TotalRecords != 103 || st.Normalization.TotalRecords != 103 || st.Tagging.TotalRecords != 103 {
		t.Fatalf("stats totals = %+v", st)
	}
	if st.Tagging.ByTag["hot-lead"] != 103 || st.Tagging.ByTag["batch-7"] != 103 {
		t.Fatalf("tag counts = %v", st.Tagging.ByTag)
	}
	if records[0]["email"] != " USER0@EXAMPLE.COM" {
		t.Fatalf("input mutated: %v", records[0])
	}
}

func TestProcess_PercentReachesNormalization(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Rules: DefaultRules(), Workers: 1}
	out, _, err := p.Process(context.Background(), []lead.Record{{"leadscore": "85 %"}, {"leadscore": "85"}})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out[0]["leadscore"] != 0.85 {
		t.Fatalf("percent leadscore = %#v, want 0.85", out[0]["leadscore"])
	}
	if out[1]["leadscore"] != 85.0 {
		t.Fatalf("plain leadscore = %#v, want 85", out[1]["leadscore"])
	}
}

func TestProcess_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &Pipeline{Rules: DefaultRules(), Workers: 2}
	if _, _, err := p.Process(ctx, []lead.Record{{"email": "a@b.com"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRunStage(t *testing.T) {
	t.Parallel()

	p := &Pipeline{Rules: DefaultRules(), Workers: 3, SheetTags: []string{"sheet"}}
	records := []lead.Record{{"email": "not-an-email"}, {"email": " A@B.COM "}}

	res, err := p.RunStage(context.Background(), Cleaning, records, map[string]config.Options{
		"email": {"remove_invalid": false},
	})
	if err != nil {
		t.Fatalf("RunStage: %v", err)
	}
	if res.ProcessedData[0]["email"] != "not-an-email" || res.ProcessedData[1]["email"] != "a@b.com" {
		t.Fatalf("processed = %v", res.ProcessedData)
	}
	rules, ok := res.RulesApplied.(*cleaning.RuleSet)
	if !ok || rules.Email.RemoveInvalid {
		t.Fatalf("rulesApplied = %#v", res.RulesApplied)
	}
	if !p.Rules.Cleaning.Email.RemoveInvalid {
		t.Fatalf("overrides leaked into the pipeline rules")
	}
	if st, ok := res.Stats.(cleaning.Stats); !ok || st.TotalRecords != 2 {
		t.Fatalf("stats = %#v", res.Stats)
	}

	tagged, err := p.RunStage(context.Background(), Tagging, records, nil)
	if err != nil {
		t.Fatalf("RunStage tagging: %v", err)
	}
	if !slices.Contains(tagged.ProcessedData[0].TagList(), "sheet") {
		t.Fatalf("sheet tag missing: %v", tagged.ProcessedData[0])
	}

	if _, err := p.RunStage(context.Background(), Stage("scoring"), records, nil); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
	if _, err := ParseStage("normalization"); err != nil {
		t.Fatalf("ParseStage: %v", err)
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Runtime.PreviewRows = 2
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := parse(t, "acme.csv", upload)

	up, err := p.Prepare(context.Background(), f, map[string]string{"Notes": "leadsource"})
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if up.RowCount != 4 || len(up.Preview) != 2 || up.Mapping.Fields["Notes"] != lead.LeadSource {
		t.Fatalf("upload = %+v", up)
	}
	if up.Rows[0]["email"] != " JOHN@Example.COM " || up.Preview[0]["email"] != "john@example.com" {
		t.Fatalf("rows should be mapped only, preview processed: %v / %v", up.Rows[0], up.Preview[0])
	}
	if up.MappingStats.MappedHeaders != 7 || up.MappingStats.UnmappedHeaders != 0 {
		t.Fatalf("mapping stats = %+v", up.MappingStats)
	}

	if _, err := p.Prepare(context.Background(), f, map[string]string{"Missing": "email"}); !errors.Is(err, fieldmap.ErrInvalidOverride) {
		t.Fatalf("err = %v, want ErrInvalidOverride", err)
	}

	// Configured manual mappings only apply to headers the file has.
	cfg.Mapping.Manual = map[string]string{"Notes": "leadsource", "Vendor Ref": "companyname"}
	p, err = New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	up, err = p.Prepare(context.Background(), f, nil)
	if err != nil {
		t.Fatalf("Prepare with configured mapping: %v", err)
	}
	if up.Mapping.Fields["Notes"] != lead.LeadSource {
		t.Fatalf("configured mapping not applied: %v", up.Mapping.Fields)
	}
}

func TestNew_RejectsBadOverrides(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Normalization = map[string]config.Options{"phone": {"format": "fancy"}}
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for unknown phone format")
	}

	cfg = config.Default()
	cfg.Mapping.Dictionary = config.Options{"shoe_size": []any{"shoe"}}
	if _, err := New(cfg, nil); err == nil {
		t.Fatalf("expected error for unknown dictionary field")
	}
}

func TestNew_SamplePipelineFile(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFile("../../configs/pipelines/sample.json")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := config.FirstError(config.ValidatePipeline(cfg)); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
	p, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !p.Rules.Cleaning.Email.FixTypos {
		t.Fatalf("cleaning override not applied")
	}
}

func TestNewBatchStats_WithoutCommit(t *testing.T) {
	t.Parallel()

	m := fieldmap.Mapping{
		Headers:  []string{"Email", "Fax"},
		Fields:   map[string]lead.Field{"Email": lead.Email},
		Scores:   map[string]float64{"Email": 1},
		Unmapped: []string{"Fax"},
	}
	dup := dedupe.Stats{Total: 3, Clean: 2, Duplicates: 1, IntraFile: 1, PhoneMatches: 1}

	s := NewBatchStats(m, dup, nil, nil)
	if s.Status != "" || s.Inserted != 0 || s.DNCMatches != 0 || s.Total != 3 || s.Clean != 2 {
		t.Fatalf("stats = %+v", s)
	}
	if s.MappedHeaders != 1 || s.Unmapped != 1 || s.FieldMatches["phone"] != 1 {
		t.Fatalf("stats = %+v", s)
	}
}
