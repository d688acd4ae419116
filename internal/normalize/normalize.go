// Package normalize converts cleaned lead values into canonical forms: E.164
// phones, lowercased emails, title-cased names with honorifics, abbreviated
// street addresses, USPS state codes, booleans and plain numbers.
//
// Every function is total. Malformed input is returned unchanged (or nil for
// booleans) rather than failing, and normalize(normalize(x)) == normalize(x).
package normalize

import (
	"math"
	"strconv"
	"strings"

	"leadetl/internal/lead"
	"leadetl/internal/textutil"
)

// Normalize returns the canonical form of v for field. Fields without rules
// pass through untouched.
func (rs *RuleSet) Normalize(field string, v any) any {
	if v == nil {
		return nil
	}
	switch lead.Field(field) {
	case lead.Phone:
		return rs.phone(v)
	case lead.Email:
		return rs.email(v)
	case lead.FirstName, lead.LastName:
		return rs.name(v)
	case lead.Address:
		return rs.address(v)
	case lead.State:
		return rs.state(v)
	case lead.Exclusivity:
		return rs.boolean(v)
	case lead.LeadScore, lead.LeadCost:
		return rs.numeric(v)
	}
	return v
}

func (rs *RuleSet) phone(v any) any {
	if rs.Phone.Format == "preserve" {
		return v
	}
	s := lead.ToString(v)
	d := textutil.Digits(s)
	cc := rs.Phone.CountryCode
	if cc == "" {
		cc = "1"
	}

	switch rs.Phone.Format {
	case "digits":
		if d == "" {
			return v
		}
		return d
	default:
		switch {
		case len(d) == 10:
			return "+" + cc + d
		case len(d) == 10+len(cc) && strings.HasPrefix(d, cc):
			return "+" + d
		}
	}
	return v
}

func (rs *RuleSet) email(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if rs.Email.Lowercase {
		s = strings.ToLower(s)
	}
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return s
	}
	local, domain := s[:at], s[at+1:]
	if rs.Email.StripPlusAlias && domainIn(domain, rs.Email.PlusAliasDomains) {
		if i := strings.IndexByte(local, '+'); i > 0 {
			local = local[:i]
		}
	}
	if rs.Email.StripGmailDots && domainIn(domain, rs.Email.GmailDomains) {
		if stripped := strings.ReplaceAll(local, ".", ""); stripped != "" {
			local = stripped
		}
	}
	return local + "@" + domain
}

func domainIn(domain string, list []string) bool {
	for _, d := range list {
		if strings.EqualFold(domain, d) {
			return true
		}
	}
	return false
}

func (rs *RuleSet) name(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	words := strings.Fields(s)
	if len(words) == 0 {
		return s
	}
	for i, w := range words {
		core := strings.Trim(w, ".,")
		lc := strings.ToLower(core)
		switch {
		case lc == "":
		case i == 0 && len(words) > 1 && contains(rs.Name.Prefixes, lc):
			words[i] = textutil.TitleCase(lc) + "."
		case i > 0 && contains(rs.Name.Suffixes, lc):
			words[i] = strings.ToUpper(lc) + trailingComma(w)
		case rs.Name.TitleCase:
			words[i] = textutil.TitleCase(w)
		}
	}
	return strings.Join(words, " ")
}

func trailingComma(w string) string {
	if strings.HasSuffix(w, ",") {
		return ","
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}

func (rs *RuleSet) address(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	rs.compile()
	s = textutil.CollapseWhitespace(s)
	for _, a := range rs.abbrev {
		s = a.re.ReplaceAllLiteralString(s, a.to)
	}
	if !rs.Address.TitleCase {
		return s
	}
	words := strings.Split(textutil.TitleCase(s), " ")
	for i, w := range words {
		if canon, ok := rs.keep[strings.ToLower(w)]; ok {
			words[i] = canon
		}
	}
	return strings.Join(words, " ")
}

func (rs *RuleSet) state(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if len([]rune(t)) == 2 {
		return strings.ToUpper(t)
	}
	if code, ok := rs.State.Names[strings.ToLower(textutil.CollapseWhitespace(t))]; ok {
		return code
	}
	return s
}

func (rs *RuleSet) boolean(v any) any {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		switch x {
		case 1:
			return true
		case 0:
			return false
		}
		return nil
	}
	s := strings.TrimSpace(lead.ToString(v))
	match := func(list []string) bool {
		for _, l := range list {
			if rs.Boolean.CaseSensitive && l == s {
				return true
			}
			if !rs.Boolean.CaseSensitive && strings.EqualFold(l, s) {
				return true
			}
		}
		return false
	}
	switch {
	case match(rs.Boolean.TrueValues):
		return true
	case match(rs.Boolean.FalseValues):
		return false
	case rs.Boolean.ExclusivityHint && strings.Contains(strings.ToLower(s), "exclu"):
		return true
	}
	return nil
}

func (rs *RuleSet) numeric(v any) any {
	switch x := v.(type) {
	case float64, int, int64, float32:
		return x
	case string:
		s := strings.TrimSpace(x)
		for _, sym := range rs.Numeric.CurrencySymbols {
			s = strings.ReplaceAll(s, sym, "")
		}
		if rs.Numeric.ThousandsSep != "" {
			s = strings.ReplaceAll(s, rs.Numeric.ThousandsSep, "")
		}
		s = strings.TrimSpace(s)
		pct := strings.HasSuffix(s, "%")
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return v
		}
		if pct && rs.Numeric.PercentToFraction {
			f /= 100
		}
		return f
	}
	return v
}

// NormalizeRecord returns a normalized copy of rec.
func (rs *RuleSet) NormalizeRecord(rec lead.Record) lead.Record {
	out := make(lead.Record, len(rec))
	for k, v := range rec {
		out[k] = rs.Normalize(k, v)
	}
	return out
}

// Stats counts normalized fields across a batch.
type Stats struct {
	TotalRecords     int            `json:"totalRecords"`
	FieldsNormalized int            `json:"fieldsNormalized"`
	ByField          map[string]int `json:"byField"`
}

// NormalizeAll normalizes records in order.
func (rs *RuleSet) NormalizeAll(records []lead.Record) ([]lead.Record, Stats) {
	st := Stats{TotalRecords: len(records), ByField: map[string]int{}}
	out := make([]lead.Record, len(records))
	for i, r := range records {
		nr := rs.NormalizeRecord(r)
		for k, v := range r {
			if k == string(lead.Metadata) || k == string(lead.Tags) {
				continue
			}
			if lead.ToString(v) != lead.ToString(nr[k]) || (v == nil) != (nr[k] == nil) {
				st.FieldsNormalized++
				st.ByField[k]++
			}
		}
		out[i] = nr
	}
	return out, st
}

// Add folds o into s.
func (s *Stats) Add(o Stats) {
	s.TotalRecords += o.TotalRecords
	s.FieldsNormalized += o.FieldsNormalized
	if s.ByField == nil {
		s.ByField = map[string]int{}
	}
	for k, v := range o.ByField {
		s.ByField[k] += v
	}
}
