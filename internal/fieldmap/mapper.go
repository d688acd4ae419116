// Package fieldmap maps arbitrary supplier spreadsheet headers onto the
// canonical lead fields.
//
// Each header is folded (lowercase, accents and punctuation removed) and
// compared against every variation in an ordered Dictionary. An exact folded
// match scores 1.0 and short-circuits; otherwise the best normalized
// Levenshtein similarity wins when it reaches the mapper's threshold.
// Headers below the threshold stay unmapped and their values are kept in the
// record's metadata for manual review.
package fieldmap

import (
	"github.com/agnivade/levenshtein"

	"leadetl/internal/lead"
	"leadetl/internal/textutil"
)

// DefaultThreshold is the minimum similarity for a fuzzy match.
const DefaultThreshold = 0.7

// Mapper resolves headers against a dictionary. The zero value uses the
// default dictionary and threshold.
type Mapper struct {
	Dictionary Dictionary
	Threshold  float64
}

// New returns a Mapper over d with the given threshold. A nil dictionary
// selects the default one; a threshold <= 0 selects DefaultThreshold.
func New(d Dictionary, threshold float64) *Mapper {
	return &Mapper{Dictionary: d, Threshold: threshold}
}

type candidate struct {
	field lead.Field
	key   string
}

// Map resolves every header. The result is deterministic for a given header
// list, dictionary and threshold.
func (m *Mapper) Map(headers []string) Mapping {
	dict := m.Dictionary
	if dict == nil {
		dict = DefaultDictionary()
	}
	threshold := m.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	cands := make([]candidate, 0, len(dict)*6)
	for _, e := range dict {
		for _, v := range e.Variations {
			if k := textutil.FoldKey(v); k != "" {
				cands = append(cands, candidate{field: e.Field, key: k})
			}
		}
	}

	out := Mapping{
		Headers: append([]string(nil), headers...),
		Fields:  make(map[string]lead.Field, len(headers)),
		Scores:  make(map[string]float64, len(headers)),
	}
	for _, h := range headers {
		if _, done := out.Fields[h]; done {
			continue
		}
		f, score, ok := bestMatch(textutil.FoldKey(h), cands, threshold)
		if !ok {
			out.Unmapped = appendUnique(out.Unmapped, h)
			continue
		}
		out.Fields[h] = f
		out.Scores[h] = score
	}
	out.Confidence = out.confidence()
	return out
}

// bestMatch returns the first candidate with the highest similarity. An exact
// key match returns immediately with score 1.
func bestMatch(key string, cands []candidate, threshold float64) (lead.Field, float64, bool) {
	if key == "" {
		return "", 0, false
	}
	for _, c := range cands {
		if c.key == key {
			return c.field, 1, true
		}
	}

	var (
		best      lead.Field
		bestScore float64
	)
	for _, c := range cands {
		s := Similarity(key, c.key)
		if s > bestScore {
			best, bestScore = c.field, s
		}
	}
	if bestScore < threshold {
		return "", bestScore, false
	}
	return best, bestScore, true
}

// Similarity is 1 - levenshtein(a, b) / max(len(a), len(b)) measured in runes.
// Two empty strings are identical.
func Similarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}
