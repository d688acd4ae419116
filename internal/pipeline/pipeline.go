// Package pipeline composes the ingestion stages: header mapping, duplicate
// detection, cleaning, normalization, tagging, the do-not-contact check and
// the batch commit.
//
// The per-record stages are pure, so they fan out over contiguous shards of
// the batch with a worker cap; every shard writes its own slice range and
// results stay aligned with the input order.
package pipeline

import (
	"fmt"

	"leadetl/internal/cleaning"
	"leadetl/internal/commit"
	"leadetl/internal/config"
	"leadetl/internal/dedupe"
	"leadetl/internal/dnc"
	"leadetl/internal/fieldmap"
	"leadetl/internal/normalize"
	"leadetl/internal/storage"
	"leadetl/internal/tagging"
)

// Rules bundles the rule sets of the per-record stages.
type Rules struct {
	Cleaning      *cleaning.RuleSet  `json:"cleaning"`
	Normalization *normalize.RuleSet `json:"normalization"`
	Tagging       *tagging.RuleSet   `json:"tagging"`
}

// DefaultRules returns the built-in rule sets.
func DefaultRules() Rules {
	return Rules{
		Cleaning:      cleaning.Default(),
		Normalization: normalize.Default(),
		Tagging:       tagging.Default(),
	}
}

// Merge applies per-category overrides to each rule set. Nil or empty maps
// keep the current rules.
func (r Rules) Merge(clean, norm, tags map[string]config.Options) (Rules, error) {
	var err error
	out := r
	if len(clean) > 0 {
		if out.Cleaning, err = r.Cleaning.Merge(clean); err != nil {
			return Rules{}, err
		}
	}
	if len(norm) > 0 {
		if out.Normalization, err = r.Normalization.Merge(norm); err != nil {
			return Rules{}, err
		}
	}
	if len(tags) > 0 {
		if out.Tagging, err = r.Tagging.Merge(tags); err != nil {
			return Rules{}, err
		}
	}
	return out, nil
}

// Pipeline holds one configured run. It is safe for concurrent use once
// built; nothing in it is mutated by a run.
type Pipeline struct {
	Job    string
	Mapper *fieldmap.Mapper
	// Manual pins header → field assignments over the automatic mapping.
	Manual   map[string]string
	Rules    Rules
	Detector *dedupe.Detector
	// DNC is nil when the do-not-contact check is disabled.
	DNC        *dnc.Checker
	ExcludeDNC bool
	// Committer is nil when there is no store to commit to.
	Committer   *commit.Committer
	Workers     int
	SheetTags   []string
	PreviewRows int
}

// New builds a Pipeline from cfg. store may be nil: duplicate detection then
// only runs within the file and Run never commits.
func New(cfg config.Pipeline, store storage.Store) (*Pipeline, error) {
	cfg.ApplyDefaults()

	dict := fieldmap.DefaultDictionary()
	if len(cfg.Mapping.Dictionary) > 0 {
		var err error
		if dict, err = fieldmap.FromOptions(cfg.Mapping.Dictionary); err != nil {
			return nil, err
		}
	}
	rules, err := DefaultRules().Merge(cfg.Cleaning, cfg.Normalization, cfg.Tagging)
	if err != nil {
		return nil, fmt.Errorf("pipeline: rules: %w", err)
	}

	p := &Pipeline{
		Job:         cfg.Job,
		Mapper:      fieldmap.New(dict, cfg.Mapping.Threshold),
		Manual:      cfg.Mapping.Manual,
		Rules:       rules,
		Workers:     cfg.Runtime.Workers,
		SheetTags:   cfg.SheetTags,
		PreviewRows: cfg.Runtime.PreviewRows,
		Detector: &dedupe.Detector{
			Concurrency:      cfg.Dedupe.Concurrency,
			CheckStorePhones: cfg.Dedupe.CheckStorePhones,
		},
	}
	if cfg.Dedupe.FailClosed {
		p.Detector.Policy = dedupe.FailClosed
	}
	if store != nil {
		p.Detector.Store = store
		p.Committer = &commit.Committer{Store: store, ChunkSize: cfg.Runtime.ChunkSize, Job: cfg.Job}
		if cfg.DNC.Enabled {
			p.DNC = &dnc.Checker{Store: store, Concurrency: cfg.DNC.Concurrency}
			p.ExcludeDNC = cfg.DNC.Exclude
		}
	}
	return p, nil
}
