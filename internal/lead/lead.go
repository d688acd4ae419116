// Package lead defines the canonical lead data model shared by every pipeline
// stage: the fixed set of canonical fields, the raw spreadsheet row as it came
// off the wire, and the mapped record keyed by canonical field name.
//
// Values inside a Record are deliberately loose (string, float64, bool, nil,
// []string, map[string]any) because spreadsheet cells are loose. A nil value
// means "null" and is distinct from an empty string and from zero.
package lead

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Field is a canonical lead field. The string value is the wire name used in
// JSON payloads and database columns.
type Field string

const (
	Email            Field = "email"
	FirstName        Field = "firstname"
	LastName         Field = "lastname"
	Phone            Field = "phone"
	CompanyName      Field = "companyname"
	TaxID            Field = "taxid"
	Address          Field = "address"
	City             Field = "city"
	State            Field = "state"
	ZipCode          Field = "zipcode"
	Country          Field = "country"
	LeadSource       Field = "leadsource"
	LeadStatus       Field = "leadstatus"
	LeadScore        Field = "leadscore"
	LeadCost         Field = "leadcost"
	Exclusivity      Field = "exclusivity"
	ExclusivityNotes Field = "exclusivitynotes"
	Tags             Field = "tags"
	Metadata         Field = "metadata"
)

// Fields lists every canonical field in declared order.
var Fields = []Field{
	Email, FirstName, LastName, Phone, CompanyName, TaxID,
	Address, City, State, ZipCode, Country,
	LeadSource, LeadStatus, LeadScore, LeadCost,
	Exclusivity, ExclusivityNotes, Tags, Metadata,
}

// IsField reports whether name is a canonical field name.
func IsField(name string) bool {
	for _, f := range Fields {
		if string(f) == name {
			return true
		}
	}
	return false
}

// Cell is a single header/value pair from an input row.
type Cell struct {
	Header string
	Value  any
}

// RawRecord is one input row as an ordered sequence of header/value pairs.
// Order matches the header row of the source file.
type RawRecord []Cell

// Get returns the value for header and whether it was present.
func (r RawRecord) Get(header string) (any, bool) {
	for _, c := range r {
		if c.Header == header {
			return c.Value, true
		}
	}
	return nil, false
}

// Record is a lead keyed by canonical field name.
type Record map[string]any

// Clone returns a shallow copy of r. Nested metadata maps are copied one level
// deep so callers can annotate them without aliasing.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if m, ok := v.(map[string]any); ok {
			cp := make(map[string]any, len(m))
			for mk, mv := range m {
				cp[mk] = mv
			}
			v = cp
		}
		out[k] = v
	}
	return out
}

// String returns the field value rendered as a trimmed string. Null and
// missing values yield "".
func (r Record) String(f Field) string {
	return strings.TrimSpace(ToString(r[string(f)]))
}

// Has reports whether the field carries a non-blank value.
func (r Record) Has(f Field) bool {
	return r.String(f) != ""
}

// Float returns the field value as a float64. Strings are parsed after
// stripping thousands separators; ok is false when no number is present.
func (r Record) Float(f Field) (float64, bool) {
	switch v := r[string(f)].(type) {
	case float64:
		return v, !math.IsNaN(v)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(v), ",", "")
		s = strings.TrimPrefix(s, "$")
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// TagList returns the record's tags as a slice regardless of whether they
// are stored as []string, []any or a comma separated string.
func (r Record) TagList() []string {
	switch v := r[string(Tags)].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s := strings.TrimSpace(ToString(x)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

// MetadataMap returns the metadata field as a map, creating it on r when
// absent or of another type.
func (r Record) MetadataMap() map[string]any {
	if m, ok := r[string(Metadata)].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	r[string(Metadata)] = m
	return m
}

// SortedKeys returns the record keys in lexical order.
func (r Record) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ToString renders a loosely typed cell value as a string. Floats with no
// fractional part print without a decimal point so spreadsheet numbers such
// as phone numbers survive ("5551234567" rather than "5.551234567e+09").
func ToString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return ""
		}
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return strconv.FormatFloat(x, 'f', 0, 64)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return ToString(float64(x))
	default:
		return fmt.Sprint(x)
	}
}
