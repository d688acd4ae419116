package pipeline

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"leadetl/internal/cleaning"
	"leadetl/internal/config"
	"leadetl/internal/lead"
	"leadetl/internal/metrics"
	"leadetl/internal/normalize"
	"leadetl/internal/tagging"
)

// Stage names a per-record stage exposed on its own.
type Stage string

const (
	Cleaning      Stage = "cleaning"
	Normalization Stage = "normalization"
	Tagging       Stage = "tagging"
)

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case Cleaning, Normalization, Tagging:
		return Stage(s), nil
	}
	return "", fmt.Errorf("pipeline: unknown stage %q", s)
}

// ProcessStats holds the counters of the per-record stages.
type ProcessStats struct {
	Cleaning      cleaning.Stats  `json:"cleaning"`
	Normalization normalize.Stats `json:"normalization"`
	Tagging       tagging.Stats   `json:"tagging"`
}

// StageResult is the outcome of running one stage over a batch.
type StageResult struct {
	ProcessedData []lead.Record `json:"processedData"`
	Stats         any           `json:"stats"`
	RulesApplied  any           `json:"rulesApplied"`
}

// Process cleans, normalizes and tags records. extraTags are added to every
// record. Output order matches input order; the input is not modified.
func (p *Pipeline) Process(ctx context.Context, records []lead.Record, extraTags ...string) ([]lead.Record, ProcessStats, error) {
	start := time.Now()
	out := make([]lead.Record, len(records))
	shards := make([]ProcessStats, p.shardCount(len(records)))

	err := p.fanOut(ctx, len(records), func(k, lo, hi int) {
		cleaned, cs := p.Rules.Cleaning.CleanAll(records[lo:hi])
		normalized, ns := p.Rules.Normalization.NormalizeAll(cleaned)
		tagged, ts := p.Rules.Tagging.TagAll(normalized, extraTags...)
		copy(out[lo:hi], tagged)
		shards[k] = ProcessStats{Cleaning: cs, Normalization: ns, Tagging: ts}
	})
	metrics.RecordStep(p.Job, "process", err, time.Since(start))
	if err != nil {
		return nil, ProcessStats{}, err
	}

	st := ProcessStats{
		Cleaning:      cleaning.Stats{ByField: map[string]int{}},
		Normalization: normalize.Stats{ByField: map[string]int{}},
		Tagging:       tagging.Stats{ByTag: map[string]int{}},
	}
	for _, s := range shards {
		st.Cleaning.Add(s.Cleaning)
		st.Normalization.Add(s.Normalization)
		st.Tagging.Add(s.Tagging)
	}
	return out, st, nil
}

// RunStage runs a single stage with overrides merged over the pipeline's
// rules for that stage.
func (p *Pipeline) RunStage(ctx context.Context, stage Stage, records []lead.Record, overrides map[string]config.Options) (StageResult, error) {
	var (
		rules Rules
		err   error
	)
	switch stage {
	case Cleaning:
		rules, err = p.Rules.Merge(overrides, nil, nil)
	case Normalization:
		rules, err = p.Rules.Merge(nil, overrides, nil)
	case Tagging:
		rules, err = p.Rules.Merge(nil, nil, overrides)
	default:
		return StageResult{}, fmt.Errorf("pipeline: unknown stage %q", stage)
	}
	if err != nil {
		return StageResult{}, err
	}

	start := time.Now()
	out := make([]lead.Record, len(records))
	shards := make([]any, p.shardCount(len(records)))
	err = p.fanOut(ctx, len(records), func(k, lo, hi int) {
		var part []lead.Record
		switch stage {
		case Cleaning:
			part, shards[k] = rules.Cleaning.CleanAll(records[lo:hi])
		case Normalization:
			part, shards[k] = rules.Normalization.NormalizeAll(records[lo:hi])
		case Tagging:
			part, shards[k] = rules.Tagging.TagAll(records[lo:hi], p.SheetTags...)
		}
		copy(out[lo:hi], part)
	})
	metrics.RecordStep(p.Job, string(stage), err, time.Since(start))
	if err != nil {
		return StageResult{}, err
	}

	res := StageResult{ProcessedData: out}
	switch stage {
	case Cleaning:
		st := cleaning.Stats{ByField: map[string]int{}}
		for _, s := range shards {
			st.Add(s.(cleaning.Stats))
		}
		res.Stats, res.RulesApplied = st, rules.Cleaning
	case Normalization:
		st := normalize.Stats{ByField: map[string]int{}}
		for _, s := range shards {
			st.Add(s.(normalize.Stats))
		}
		res.Stats, res.RulesApplied = st, rules.Normalization
	case Tagging:
		st := tagging.Stats{ByTag: map[string]int{}}
		for _, s := range shards {
			st.Add(s.(tagging.Stats))
		}
		res.Stats, res.RulesApplied = st, rules.Tagging
	}
	return res, nil
}

func (p *Pipeline) workers() int {
	if p.Workers > 0 {
		return p.Workers
	}
	return 1
}

func (p *Pipeline) shardCount(n int) int {
	if n == 0 {
		return 0
	}
	size := (n + p.workers() - 1) / p.workers()
	return (n + size - 1) / size
}

// fanOut splits [0,n) into at most Workers contiguous shards and runs fn on
// each concurrently. fn receives the shard number and its bounds.
func (p *Pipeline) fanOut(ctx context.Context, n int, fn func(k, lo, hi int)) error {
	if n == 0 {
		return ctx.Err()
	}
	size := (n + p.workers() - 1) / p.workers()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for k, lo := 0, 0; lo < n; k, lo = k+1, lo+size {
		hi := min(lo+size, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(k, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("pipeline: process: %w", err)
	}
	return nil
}
