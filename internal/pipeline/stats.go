package pipeline

import (
	"leadetl/internal/commit"
	"leadetl/internal/dedupe"
	"leadetl/internal/dnc"
	"leadetl/internal/fieldmap"
)

// BatchStats are the derived counters of one upload. They are computed once
// from the stage results and never updated.
type BatchStats struct {
	Total         int            `json:"total"`
	Clean         int            `json:"clean"`
	Duplicates    int            `json:"duplicates"`
	ByType        map[string]int `json:"byType"`
	FieldMatches  map[string]int `json:"fieldMatches"`
	LookupErrors  int            `json:"lookupErrors"`
	Unverified    int            `json:"unverified"`
	DNCMatches    int            `json:"dncMatches"`
	Inserted      int            `json:"inserted"`
	Failed        int            `json:"failed"`
	Status        string         `json:"status,omitempty"`
	Confidence    float64        `json:"confidence"`
	MappedHeaders int            `json:"mappedHeaders"`
	Unmapped      int            `json:"unmappedHeaders"`
}

// NewBatchStats derives BatchStats. d and c may be nil when the DNC check or
// the commit did not run.
func NewBatchStats(m fieldmap.Mapping, dup dedupe.Stats, d *dnc.Stats, c *commit.Result) BatchStats {
	ms := m.Stats()
	s := BatchStats{
		Total:      dup.Total,
		Clean:      dup.Clean,
		Duplicates: dup.Duplicates,
		ByType: map[string]int{
			string(dedupe.IntraFile):     dup.IntraFile,
			string(dedupe.StoreExisting): dup.StoreExisting,
		},
		FieldMatches: map[string]int{
			"email": dup.EmailMatches,
			"phone": dup.PhoneMatches,
		},
		LookupErrors:  dup.LookupErrors,
		Unverified:    dup.Unverified,
		Confidence:    m.Confidence,
		MappedHeaders: ms.MappedHeaders,
		Unmapped:      ms.UnmappedHeaders,
	}
	if d != nil {
		s.DNCMatches = d.Matches
	}
	if c != nil {
		s.Inserted = c.Inserted
		s.Failed = c.Failed
		s.Status = c.Status
	}
	return s
}
