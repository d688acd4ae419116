package fieldmap

import (
	"errors"
	"fmt"
	"strings"

	"leadetl/internal/lead"
)

// ErrInvalidOverride reports a manual assignment that names an unknown header
// or field.
var ErrInvalidOverride = errors.New("fieldmap: invalid manual mapping")

// Mapping is the resolved header → field assignment for one input file.
type Mapping struct {
	// Headers is the input header row in source order.
	Headers []string `json:"headers"`
	// Fields maps each mapped header to its canonical field.
	Fields map[string]lead.Field `json:"mapping"`
	// Scores holds the similarity score for each mapped header.
	Scores map[string]float64 `json:"scores"`
	// Unmapped lists headers that did not reach the threshold, verbatim.
	Unmapped []string `json:"unmapped_headers"`
	// Confidence is the mean score over mapped headers only; 0 when nothing
	// mapped.
	Confidence float64 `json:"confidence"`
}

// Stats summarizes header coverage.
type Stats struct {
	TotalHeaders    int `json:"total_headers"`
	MappedHeaders   int `json:"mapped_headers"`
	UnmappedHeaders int `json:"unmapped_headers"`
}

func (m Mapping) confidence() float64 {
	if len(m.Scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.Scores {
		sum += s
	}
	return sum / float64(len(m.Scores))
}

// Stats returns header coverage counts.
func (m Mapping) Stats() Stats {
	return Stats{
		TotalHeaders:    len(m.Headers),
		MappedHeaders:   len(m.Fields),
		UnmappedHeaders: len(m.Unmapped),
	}
}

// WithOverrides returns a copy of m where every manual assignment replaces the
// automatic one. A manual mapping scores 1. Mapping a header to "" removes it
// from the mapping and marks it unmapped.
func (m Mapping) WithOverrides(manual map[string]string) (Mapping, error) {
	out := Mapping{
		Headers: m.Headers,
		Fields:  make(map[string]lead.Field, len(m.Fields)),
		Scores:  make(map[string]float64, len(m.Scores)),
	}
	for h, f := range m.Fields {
		out.Fields[h] = f
		out.Scores[h] = m.Scores[h]
	}

	known := make(map[string]bool, len(m.Headers))
	for _, h := range m.Headers {
		known[h] = true
	}
	for h, f := range manual {
		if !known[h] {
			return Mapping{}, fmt.Errorf("%w: unknown header %q", ErrInvalidOverride, h)
		}
		f = strings.TrimSpace(f)
		if f == "" {
			delete(out.Fields, h)
			delete(out.Scores, h)
			continue
		}
		if !lead.IsField(f) {
			return Mapping{}, fmt.Errorf("%w: header %q mapped to unknown field %q", ErrInvalidOverride, h, f)
		}
		out.Fields[h] = lead.Field(f)
		out.Scores[h] = 1
	}

	for _, h := range m.Headers {
		if _, ok := out.Fields[h]; !ok {
			out.Unmapped = appendUnique(out.Unmapped, h)
		}
	}
	out.Confidence = out.confidence()
	return out, nil
}

// Apply converts a raw row into a canonical record. For each field the first
// non-blank cell wins; unmapped cells and losing duplicates are preserved under
// metadata keyed by their raw header, so no input value is dropped. A header
// repeated in the row is kept as "Header_2", "Header_3" and so on.
func (m Mapping) Apply(raw lead.RawRecord) lead.Record {
	rec := lead.Record{}
	var meta map[string]any
	keep := func(h string, v any) {
		if blank(v) {
			return
		}
		if meta == nil {
			meta = map[string]any{}
		}
		meta[metaKey(meta, h)] = v
	}

	for _, c := range raw {
		f, ok := m.Fields[c.Header]
		if !ok || f == lead.Metadata {
			keep(c.Header, c.Value)
			continue
		}
		if cur, exists := rec[string(f)]; exists && !blank(cur) {
			keep(c.Header, c.Value)
			continue
		}
		rec[string(f)] = c.Value
	}
	if meta != nil {
		rec[string(lead.Metadata)] = meta
	}
	return rec
}

// ApplyAll converts rows in order; output index i corresponds to input row i.
func (m Mapping) ApplyAll(rows []lead.RawRecord) []lead.Record {
	out := make([]lead.Record, len(rows))
	for i, r := range rows {
		out[i] = m.Apply(r)
	}
	return out
}

// metaKey returns h, or h with the first free numeric suffix when h is
// already taken.
func metaKey(meta map[string]any, h string) string {
	if _, taken := meta[h]; !taken {
		return h
	}
	for n := 2; ; n++ {
		k := fmt.Sprintf("%s_%d", h, n)
		if _, taken := meta[k]; !taken {
			return k
		}
	}
}

func blank(v any) bool {
	return strings.TrimSpace(lead.ToString(v)) == ""
}
