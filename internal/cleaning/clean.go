// Package cleaning sanitizes raw lead values field by field.
//
// Every category runs the same text pipeline (trim, collapse whitespace,
// strip disallowed characters, case-fold, length cap, null-if-empty) and then
// its own rules: email validation and typo repair, phone digit bounds and US
// formatting, numeric parsing and rounding, date parsing, and company suffix
// casing. Cleaning never fails: malformed values become nil or pass through,
// and clean(clean(x)) == clean(x) for every rule set.
package cleaning

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"leadetl/internal/lead"
	"leadetl/internal/textutil"
)

var numericStrip = regexp.MustCompile(`[^0-9.\-]`)

// Clean cleans a single value of field. A nil result means null.
func (rs *RuleSet) Clean(field string, v any) any {
	return rs.CleanCategory(rs.CategoryFor(field), v)
}

// CleanCategory cleans v with the rules of category c. Unknown categories use
// the text rules.
func (rs *RuleSet) CleanCategory(c Category, v any) any {
	comp, err := rs.compile()
	if err != nil {
		// Patterns are checked by Merge/Validate; an invalid set degrades to
		// pass-through rather than failing a batch.
		return v
	}
	if v == nil {
		return nil
	}

	switch c {
	case CategoryNumeric:
		return cleanNumeric(v, rs.Numeric)
	case CategoryDate:
		return cleanDate(v, rs.Date)
	case CategoryBoolean:
		if b, ok := v.(bool); ok {
			return b
		}
	}

	tr, ok := rs.textRules(c)
	if !ok {
		c, tr = CategoryText, rs.Text
	}
	s, null := applyText(lead.ToString(v), tr, comp.strip[c])
	if null {
		return nil
	}

	switch c {
	case CategoryEmail:
		return rs.cleanEmail(s, comp)
	case CategoryPhone:
		return cleanPhone(s, rs.Phone)
	case CategoryCompany:
		if rs.Company.UppercaseSuffixes {
			s = upperSuffixes(s, rs.Company.Suffixes)
		}
	}
	return s
}

// applyText runs the shared string pipeline. The second result reports null.
func applyText(s string, r TextRules, strip *regexp.Regexp) (string, bool) {
	tidy := func(s string) string {
		if r.CollapseWhitespace {
			s = textutil.CollapseWhitespace(s)
		}
		if r.Trim {
			s = strings.TrimSpace(s)
		}
		return s
	}

	s = tidy(s)
	if r.StripHTML {
		s = textutil.StripHTML(s)
	}
	if strip != nil {
		s = strip.ReplaceAllString(s, "")
	}
	if r.StripHTML || strip != nil {
		// Stripping can leave doubled or edge spaces behind.
		s = tidy(s)
	}

	switch r.Case {
	case "lower":
		s = strings.ToLower(s)
	case "upper":
		s = strings.ToUpper(s)
	case "title":
		s = textutil.TitleCase(s)
	}

	if r.MaxLength > 0 {
		if rs := []rune(s); len(rs) > r.MaxLength {
			s = string(rs[:r.MaxLength])
			if r.Trim {
				s = strings.TrimRightFunc(s, unicode.IsSpace)
			}
		}
	}

	if r.NullIfEmpty && strings.TrimSpace(s) == "" {
		return "", true
	}
	return s, false
}

func (rs *RuleSet) cleanEmail(s string, comp *compiled) any {
	if rs.Email.FixTypos {
		if at := strings.LastIndexByte(s, '@'); at >= 0 {
			domain := strings.ToLower(s[at+1:])
			if fixed, ok := rs.Email.Typos[domain]; ok {
				s = s[:at+1] + fixed
			}
		}
	}
	if rs.Email.Validate && comp.email != nil && !comp.email.MatchString(s) {
		if rs.Email.RemoveInvalid {
			return nil
		}
	}
	return s
}

func cleanPhone(s string, r PhoneRules) any {
	d := textutil.Digits(s)
	if len(d) < r.MinDigits || (r.MaxDigits > 0 && len(d) > r.MaxDigits) {
		return nil
	}
	if !r.Format {
		return s
	}
	switch {
	case len(d) == 10:
		return "(" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	case len(d) == 11 && d[0] == '1':
		return "+1 (" + d[1:4] + ") " + d[4:7] + "-" + d[7:]
	}
	return s
}

func cleanNumeric(v any, r NumericRules) any {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case bool:
		return nil
	default:
		raw := strings.TrimSpace(lead.ToString(v))
		n, ok := parseNumeric(raw)
		if !ok {
			return nil
		}
		if r.KeepPercent && strings.HasSuffix(raw, "%") {
			return strconv.FormatFloat(round(n, r.Precision), 'f', -1, 64) + "%"
		}
		f = n
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return round(f, r.Precision)
}

func parseNumeric(s string) (float64, bool) {
	s = numericStrip.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func round(f float64, precision int) float64 {
	if precision < 0 {
		return f
	}
	p := math.Pow10(precision)
	return math.Round(f*p) / p
}

func cleanDate(v any, r DateRules) any {
	if t, ok := v.(time.Time); ok {
		return t.Format(r.Output)
	}
	s := strings.TrimSpace(lead.ToString(v))
	if s == "" {
		return nil
	}
	layouts := append([]string{r.Output}, r.Layouts...)
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.Format(r.Output)
		}
	}
	if r.NullIfInvalid {
		return nil
	}
	return s
}

func upperSuffixes(s string, suffixes []string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		core := strings.Trim(w, ".,")
		for _, suf := range suffixes {
			if strings.EqualFold(core, suf) {
				words[i] = strings.Replace(w, core, strings.ToUpper(core), 1)
				break
			}
		}
	}
	return strings.Join(words, " ")
}

// Stats counts what cleaning changed across a batch.
type Stats struct {
	TotalRecords  int            `json:"totalRecords"`
	FieldsChanged int            `json:"fieldsChanged"`
	FieldsNulled  int            `json:"fieldsNulled"`
	ByField       map[string]int `json:"byField"`
	InvalidEmails int            `json:"invalidEmails"`
	InvalidPhones int            `json:"invalidPhones"`
}

// CleanRecord returns a cleaned copy of rec. Tags and metadata pass through.
func (rs *RuleSet) CleanRecord(rec lead.Record) lead.Record {
	out, _ := rs.cleanRecord(rec, nil)
	return out
}

func (rs *RuleSet) cleanRecord(rec lead.Record, st *Stats) (lead.Record, *Stats) {
	out := make(lead.Record, len(rec))
	for k, v := range rec {
		if k == string(lead.Tags) || k == string(lead.Metadata) {
			out[k] = v
			continue
		}
		nv := rs.Clean(k, v)
		out[k] = nv
		if st == nil || sameValue(v, nv) {
			continue
		}
		st.FieldsChanged++
		st.ByField[k]++
		if nv == nil && strings.TrimSpace(lead.ToString(v)) != "" {
			st.FieldsNulled++
			switch k {
			case string(lead.Email):
				st.InvalidEmails++
			case string(lead.Phone):
				st.InvalidPhones++
			}
		}
	}
	return out, st
}

// CleanAll cleans records in order and reports what changed.
func (rs *RuleSet) CleanAll(records []lead.Record) ([]lead.Record, Stats) {
	st := &Stats{TotalRecords: len(records), ByField: map[string]int{}}
	out := make([]lead.Record, len(records))
	for i, r := range records {
		out[i], _ = rs.cleanRecord(r, st)
	}
	return out, *st
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return lead.ToString(a) == lead.ToString(b)
}

// Add folds o into s.
func (s *Stats) Add(o Stats) {
	s.TotalRecords += o.TotalRecords
	s.FieldsChanged += o.FieldsChanged
	s.FieldsNulled += o.FieldsNulled
	s.InvalidEmails += o.InvalidEmails
	s.InvalidPhones += o.InvalidPhones
	if s.ByField == nil {
		s.ByField = map[string]int{}
	}
	for k, v := range o.ByField {
		s.ByField[k] += v
	}
}
