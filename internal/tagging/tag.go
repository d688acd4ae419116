// Package tagging derives classification tags for a lead from static rule
// groups. Each group is evaluated independently and the record's tag set is
// the sorted, deduplicated union of every enabled group's output.
package tagging

import (
	"sort"
	"strings"

	"leadetl/internal/lead"
)

// Tag returns the sorted tag set rs derives for rec. Tags already present on
// rec are not included; see TagRecord.
func (rs *RuleSet) Tag(rec lead.Record) []string {
	set := map[string]struct{}{}
	add := func(tags ...string) {
		for _, t := range tags {
			if t = strings.TrimSpace(t); t != "" {
				set[t] = struct{}{}
			}
		}
	}

	if rs.Exclusivity.Enabled && rs.exclusive(rec) {
		add(rs.Exclusivity.Tag)
	}
	if rs.Score.Enabled {
		add(band(rec, lead.LeadScore, rs.Score.Ranges))
	}
	if rs.Cost.Enabled {
		add(band(rec, lead.LeadCost, rs.Cost.Ranges))
	}
	if rs.CompanySize.Enabled {
		add(keywords(rec, rs.CompanySize)...)
	}
	if rs.Geographic.Enabled {
		add(rs.geographic(rec)...)
	}
	if rs.Industry.Enabled {
		add(keywords(rec, rs.Industry)...)
	}
	if rs.ContactQuality.Enabled {
		for _, q := range rs.ContactQuality.Rules {
			if holds(rec, q.Condition) {
				add(q.Tag)
			}
		}
	}
	if rs.Completeness.Enabled {
		add(rs.completeness(rec))
	}
	if rs.Custom.Enabled {
		add(keywords(rec, rs.Custom)...)
	}

	return sortedSet(set)
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (rs *RuleSet) exclusive(rec lead.Record) bool {
	switch v := rec[string(lead.Exclusivity)].(type) {
	case bool:
		if v {
			return true
		}
	case float64:
		if v == 1 {
			return true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "1", "exclusive":
			return true
		}
	}
	return containsAny(text(rec, rs.Exclusivity.Fields), rs.Exclusivity.Keywords)
}

// band returns the tag of the first range containing the field value.
func band(rec lead.Record, f lead.Field, ranges []Range) string {
	v, ok := rec.Float(f)
	if !ok {
		return ""
	}
	for _, r := range ranges {
		if v >= r.Min && v <= r.Max {
			return r.Tag
		}
	}
	return ""
}

func keywords(rec lead.Record, kr KeywordRules) []string {
	hay := text(rec, kr.Fields)
	if hay == "" {
		return nil
	}
	var out []string
	for _, c := range kr.Categories {
		if containsAny(hay, c.Keywords) {
			out = append(out, c.Tag)
		}
	}
	return out
}

func (rs *RuleSet) geographic(rec lead.Record) []string {
	var out []string
	if st := strings.ToUpper(rec.String(lead.State)); st != "" {
		out = append(out, rs.Geographic.States[st]...)
	}
	if city := strings.ToLower(rec.String(lead.City)); city != "" {
		for _, c := range rs.Geographic.Cities {
			if containsAny(city, c.Keywords) {
				out = append(out, c.Tag)
			}
		}
	}
	return out
}

func holds(rec lead.Record, cond string) bool {
	email, phone := rec.Has(lead.Email), rec.Has(lead.Phone)
	switch cond {
	case "has_email":
		return email
	case "has_phone":
		return phone
	case "has_both":
		return email && phone
	case "email_only":
		return email && !phone
	case "phone_only":
		return phone && !email
	case "no_contact":
		return !email && !phone
	case "has_company":
		return rec.Has(lead.CompanyName)
	case "has_address":
		return rec.Has(lead.Address)
	case "full_address":
		return rec.Has(lead.Address) && rec.Has(lead.City) && rec.Has(lead.State) && rec.Has(lead.ZipCode)
	}
	return false
}

// CompletenessScore returns the percentage of required fields rec populates.
func (rs *RuleSet) CompletenessScore(rec lead.Record) float64 {
	req := rs.Completeness.RequiredFields
	if len(req) == 0 {
		return 0
	}
	n := 0
	for _, f := range req {
		if rec.Has(lead.Field(f)) {
			n++
		}
	}
	return float64(n) * 100 / float64(len(req))
}

func (rs *RuleSet) completeness(rec lead.Record) string {
	pct := rs.CompletenessScore(rec)
	th := append([]Threshold(nil), rs.Completeness.Thresholds...)
	sort.SliceStable(th, func(i, j int) bool { return th[i].Min > th[j].Min })
	for _, t := range th {
		if pct >= t.Min {
			return t.Tag
		}
	}
	return ""
}

// text joins the lowercased values of fields for substring scans.
func text(rec lead.Record, fields []string) string {
	var b strings.Builder
	for _, f := range fields {
		if s := rec.String(lead.Field(f)); s != "" {
			b.WriteString(strings.ToLower(s))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func containsAny(hay string, needles []string) bool {
	if hay == "" {
		return false
	}
	for _, n := range needles {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" && strings.Contains(hay, n) {
			return true
		}
	}
	return false
}

// TagRecord returns a copy of rec whose tags field holds the union of its
// existing tags, extra and the derived tags.
func (rs *RuleSet) TagRecord(rec lead.Record, extra ...string) lead.Record {
	out := rec.Clone()
	set := map[string]struct{}{}
	for _, group := range [][]string{rec.TagList(), extra, rs.Tag(rec)} {
		for _, t := range group {
			if t = strings.TrimSpace(t); t != "" {
				set[t] = struct{}{}
			}
		}
	}
	out[string(lead.Tags)] = sortedSet(set)
	return out
}

// Stats counts tag assignments across a batch.
type Stats struct {
	TotalRecords  int            `json:"totalRecords"`
	TaggedRecords int            `json:"taggedRecords"`
	TotalTags     int            `json:"totalTags"`
	ByTag         map[string]int `json:"byTag"`
}

// TagAll tags records in order.
func (rs *RuleSet) TagAll(records []lead.Record, extra ...string) ([]lead.Record, Stats) {
	st := Stats{TotalRecords: len(records), ByTag: map[string]int{}}
	out := make([]lead.Record, len(records))
	for i, r := range records {
		tr := rs.TagRecord(r, extra...)
		tags := tr.TagList()
		if len(tags) > 0 {
			st.TaggedRecords++
		}
		st.TotalTags += len(tags)
		for _, t := range tags {
			st.ByTag[t]++
		}
		out[i] = tr
	}
	return out, st
}

// Add folds o into s.
func (s *Stats) Add(o Stats) {
	s.TotalRecords += o.TotalRecords
	s.TaggedRecords += o.TaggedRecords
	s.TotalTags += o.TotalTags
	if s.ByTag == nil {
		s.ByTag = map[string]int{}
	}
	for k, v := range o.ByTag {
		s.ByTag[k] += v
	}
}
