package pipeline

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"leadetl/internal/commit"
	"leadetl/internal/config"
	"leadetl/internal/dedupe"
	"leadetl/internal/dnc"
	"leadetl/internal/fieldmap"
	"leadetl/internal/intake"
	"leadetl/internal/lead"
	"leadetl/internal/metrics"
)

// Upload is the reviewable result of mapping a file, returned before commit.
type Upload struct {
	FileName     string           `json:"file_name"`
	Format       intake.Format    `json:"format"`
	Mapping      fieldmap.Mapping `json:"mapping"`
	MappingStats fieldmap.Stats   `json:"mapping_stats"`
	Rows         []lead.Record    `json:"rows"`
	RowCount     int              `json:"row_count"`
	// Preview is the first rows run through cleaning, normalization and
	// tagging.
	Preview []lead.Record `json:"preview"`
}

// Prepare maps f's rows. manual overrides are applied on top of the
// pipeline's own manual mapping.
func (p *Pipeline) Prepare(ctx context.Context, f *intake.File, manual map[string]string) (Upload, error) {
	start := time.Now()
	m, err := p.mapHeaders(f.Headers, manual)
	metrics.RecordStep(p.Job, "map", err, time.Since(start))
	if err != nil {
		return Upload{}, err
	}
	rows := m.ApplyAll(f.Rows)
	metrics.RecordRow(p.Job, "uploaded", int64(len(rows)))

	up := Upload{
		FileName:     f.Name,
		Format:       f.Format,
		Mapping:      m,
		MappingStats: m.Stats(),
		Rows:         rows,
		RowCount:     len(rows),
	}
	if n := min(p.PreviewRows, len(rows)); n > 0 {
		if up.Preview, _, err = p.Process(ctx, rows[:n], p.SheetTags...); err != nil {
			return Upload{}, err
		}
	}
	log.Printf("pipeline: mapped %s headers=%d mapped=%d unmapped=%d confidence=%.2f rows=%d",
		f.Name, len(f.Headers), len(m.Fields), len(m.Unmapped), m.Confidence, len(rows))
	return up, nil
}

// mapHeaders applies the configured manual mapping (only for headers the file
// has) and then the per-upload one, which must name existing headers.
func (p *Pipeline) mapHeaders(headers []string, manual map[string]string) (fieldmap.Mapping, error) {
	m := p.Mapper.Map(headers)
	present := make(map[string]string, len(p.Manual))
	for _, h := range headers {
		if f, ok := p.Manual[h]; ok {
			present[h] = f
		}
	}
	for _, over := range []map[string]string{present, manual} {
		if len(over) == 0 {
			continue
		}
		var err error
		if m, err = m.WithOverrides(over); err != nil {
			return fieldmap.Mapping{}, err
		}
	}
	return m, nil
}

// CheckDuplicates partitions records into clean and duplicate sets.
func (p *Pipeline) CheckDuplicates(ctx context.Context, records []lead.Record) (dedupe.Result, error) {
	start := time.Now()
	res, err := p.Detector.Detect(ctx, records)
	metrics.RecordStep(p.Job, "dedupe", err, time.Since(start))
	if err != nil {
		return dedupe.Result{}, err
	}
	metrics.RecordRow(p.Job, "clean", int64(res.Stats.Clean))
	metrics.RecordRow(p.Job, "duplicate", int64(res.Stats.Duplicates))
	return res, nil
}

// RunRequest carries the per-upload parameters of Run.
type RunRequest struct {
	SupplierID string
	LeadCost   float64
	FileName   string
	Manual     map[string]string
	// Tags are added to every record along with the pipeline's sheet tags.
	Tags []string
	// DryRun stops before the commit.
	DryRun bool
}

// Report is the outcome of a full run.
type Report struct {
	Mapping    fieldmap.Mapping `json:"mapping"`
	Duplicates dedupe.Stats     `json:"duplicateStats"`
	DNC        *dnc.Stats       `json:"dncStats,omitempty"`
	Processing ProcessStats     `json:"processing"`
	Commit     *commit.Result   `json:"commit,omitempty"`
	Stats      BatchStats       `json:"stats"`
}

// Run takes a parsed file through every stage and commits the result unless
// req.DryRun is set or the pipeline has no store.
func (p *Pipeline) Run(ctx context.Context, f *intake.File, req RunRequest) (Report, error) {
	up, err := p.Prepare(ctx, f, req.Manual)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Mapping: up.Mapping}

	dup, err := p.CheckDuplicates(ctx, up.Rows)
	if err != nil {
		return Report{}, err
	}
	rep.Duplicates = dup.Stats

	tags := append(append([]string(nil), p.SheetTags...), req.Tags...)
	processed, pst, err := p.Process(ctx, dup.Clean, tags...)
	if err != nil {
		return Report{}, err
	}
	rep.Processing = pst

	toCommit := processed
	if p.DNC != nil {
		start := time.Now()
		res, err := p.DNC.Check(ctx, processed)
		metrics.RecordStep(p.Job, "dnc", err, time.Since(start))
		if err != nil {
			return Report{}, err
		}
		metrics.RecordRow(p.Job, "dnc", int64(res.Stats.Matches))
		rep.DNC = &res.Stats
		toCommit = res.Records
		if p.ExcludeDNC {
			toCommit = res.Contactable
		}
	}

	if !req.DryRun && p.Committer != nil {
		fileName := req.FileName
		if fileName == "" {
			fileName = f.Name
		}
		creq := commit.Request{
			Records:        toCommit,
			SupplierID:     req.SupplierID,
			LeadCost:       req.LeadCost,
			FileName:       fileName,
			DuplicateStats: toOptions(dup.Stats),
			// Unverified records are not committed; the audit trail is where
			// operators find them.
			Duplicates: append(append([]dedupe.Match(nil), dup.Duplicates...), dup.Unverified...),
		}
		if rep.DNC != nil {
			creq.DNCStats = toOptions(*rep.DNC)
		}
		res, err := p.Committer.Commit(ctx, creq)
		if err != nil {
			return Report{}, err
		}
		rep.Commit = &res
	}

	rep.Stats = NewBatchStats(up.Mapping, dup.Stats, rep.DNC, rep.Commit)
	log.Printf("pipeline: %s total=%d clean=%d duplicates=%d dnc=%d inserted=%d status=%s",
		f.Name, rep.Stats.Total, rep.Stats.Clean, rep.Stats.Duplicates, rep.Stats.DNCMatches, rep.Stats.Inserted, rep.Stats.Status)
	return rep, nil
}

// toOptions re-encodes a stats struct as the loose bag commit requests carry.
// Stats structs hold only ints, so encoding cannot fail.
func toOptions(v any) config.Options {
	b, _ := json.Marshal(v)
	var o config.Options
	_ = json.Unmarshal(b, &o)
	return o
}
