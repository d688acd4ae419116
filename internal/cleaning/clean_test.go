package cleaning

import (
	"reflect"
	"strings"
	"testing"

	"leadetl/internal/config"
	"leadetl/internal/lead"
)

func TestClean_ByField(t *testing.T) {
	t.Parallel()

	rs := Default()
	tests := []struct {
		name  string
		field string
		in    any
		want  any
	}{
		{name: "email lowercased and trimmed", field: "email", in: "  JOHN@Example.COM ", want: "john@example.com"},
		{name: "email inner spaces removed", field: "email", in: "john @ example.com", want: "john@example.com"},
		{name: "email typo fixed", field: "email", in: "a@GMIAL.com", want: "a@gmail.com"},
		{name: "email invalid removed", field: "email", in: "not-an-email", want: nil},
		{name: "email blank is null", field: "email", in: "   ", want: nil},
		{name: "phone formatted", field: "phone", in: "555.123.4567", want: "(555) 123-4567"},
		{name: "phone with country code", field: "phone", in: "15551234567", want: "+1 (555) 123-4567"},
		{name: "phone too short", field: "phone", in: "555-1234", want: nil},
		{name: "phone too long", field: "phone", in: "1234567890123456", want: nil},
		{name: "phone international passes", field: "phone", in: " +44 20 7946 0958 ", want: "+44 20 7946 0958"},
		{name: "phone numeric cell", field: "phone", in: 5551234567.0, want: "(555) 123-4567"},
		{name: "name title cased", field: "firstname", in: "  mary-jane  ", want: "Mary-Jane"},
		{name: "name strips digits", field: "lastname", in: "o'brien3", want: "O'Brien"},
		{name: "name mc", field: "lastname", in: "MCDONALD", want: "McDonald"},
		{name: "address keeps punctuation", field: "address", in: " 123  Main St., Apt #4 ", want: "123 Main St., Apt #4"},
		{name: "address strips symbols", field: "address", in: "12 Elm * St", want: "12 Elm St"},
		{name: "company suffix", field: "companyname", in: "<b>acme   llc</b>", want: "acme LLC"},
		{name: "company suffix with period", field: "companyname", in: "Widgets Co.", want: "Widgets CO."},
		{name: "numeric currency", field: "leadcost", in: "$1,234.567", want: 1234.57},
		{name: "numeric zero is kept", field: "leadscore", in: "0", want: 0.0},
		{name: "numeric unparsable is null", field: "leadscore", in: "n/a", want: nil},
		{name: "numeric native", field: "leadscore", in: 87.456, want: 87.46},
		{name: "numeric percent kept", field: "leadscore", in: " 85 % ", want: "85%"},
		{name: "numeric percent rounded", field: "leadscore", in: "12.3456%", want: "12.35%"},
		{name: "numeric percent unparsable", field: "leadscore", in: "n/a%", want: nil},
		{name: "boolean text lowered", field: "exclusivity", in: " YES ", want: "yes"},
		{name: "boolean native", field: "exclusivity", in: true, want: true},
		{name: "text control chars", field: "leadsource", in: "web\x00form", want: "webform"},
		{name: "nil stays nil", field: "city", in: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := rs.Clean(tt.field, tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Clean(%s, %#v) = %#v, want %#v", tt.field, tt.in, got, tt.want)
			}
		})
	}
}

func TestClean_Idempotent(t *testing.T) {
	t.Parallel()

	rs := Default()
	inputs := map[string][]any{
		"email":       {"  JOHN@Example.COM ", "bad@@x", "a@gmial.com"},
		"phone":       {"555.123.4567", "1-555-123-4567", "+44 20 7946 0958", "12"},
		"firstname":   {"mcdonald", "  o'neil ", strings.Repeat("ab ", 40)},
		"address":     {"12 Elm * St", "a # b"},
		"companyname": {"acme llc", "x  co."},
		"leadcost":    {"$1,234.567", "abc", 12.3456, "12.3456%"},
		"exclusivity": {" YES ", true},
		"leadsource":  {"  web   form "},
	}

	for field, vals := range inputs {
		for _, v := range vals {
			once := rs.Clean(field, v)
			twice := rs.Clean(field, once)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("%s: clean(%#v) = %#v but clean(clean) = %#v", field, v, once, twice)
			}
		}
	}
}

func TestClean_Date(t *testing.T) {
	t.Parallel()

	rs := Default()
	tests := []struct {
		in   any
		want any
	}{
		{in: "01/02/2024", want: "2024-01-02"},
		{in: "2024-01-02", want: "2024-01-02"},
		{in: "Jan 2, 2024", want: "2024-01-02"},
		{in: "someday", want: nil},
	}
	for _, tt := range tests {
		if got := rs.CleanCategory(CategoryDate, tt.in); got != tt.want {
			t.Errorf("date %#v = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestMerge_Overrides(t *testing.T) {
	t.Parallel()

	base := Default()
	rs, err := base.Merge(map[string]config.Options{
		"email":  {"remove_invalid": false},
		"phone":  {"format": false},
		"fields": {"categories": map[string]any{"taxid": "numeric"}},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if got := rs.Clean("email", "Not-An-Email"); got != "not-an-email" {
		t.Fatalf("invalid email kept = %#v", got)
	}
	if got := rs.Clean("phone", "555.123.4567"); got != "555.123.4567" {
		t.Fatalf("unformatted phone = %#v", got)
	}
	if got := rs.Clean("taxid", "TX 12345"); got != 12345.0 {
		t.Fatalf("taxid via numeric = %#v", got)
	}
	if !rs.Email.Validate || !rs.Email.FixTypos {
		t.Fatalf("unrelated email rules lost: %+v", rs.Email)
	}
	if got := base.Clean("email", "Not-An-Email"); got != nil {
		t.Fatalf("base rule set mutated by Merge")
	}
}

func TestMerge_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Default().Merge(map[string]config.Options{"fax": {"x": 1}}); err == nil {
		t.Fatalf("expected unknown category error")
	}
	if _, err := Default().Merge(map[string]config.Options{"name": {"strip_pattern": "["}}); err == nil {
		t.Fatalf("expected pattern compile error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if issues := Default().Validate(); len(issues) != 0 {
		t.Fatalf("default rules have issues: %v", issues)
	}
	rs, err := Default().Merge(map[string]config.Options{"phone": {"min_digits": 16}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if issues := rs.Validate(); !config.HasErrors(issues) {
		t.Fatalf("expected min/max digit error, got %v", issues)
	}
}

func TestCleanAll_Stats(t *testing.T) {
	t.Parallel()

	records := []lead.Record{
		{"email": "A@B.COM", "phone": "555-123-4567", "tags": []string{"x"}},
		{"email": "broken", "phone": "12", "leadcost": "75"},
		{"email": "ok@b.com"},
	}
	out, st := Default().CleanAll(records)

	if len(out) != 3 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0]["email"] != "a@b.com" || out[0]["phone"] != "(555) 123-4567" {
		t.Fatalf("row 0 = %v", out[0])
	}
	if !reflect.DeepEqual(out[0]["tags"], []string{"x"}) {
		t.Fatalf("tags should pass through: %v", out[0]["tags"])
	}
	if out[1]["email"] != nil || out[1]["phone"] != nil || out[1]["leadcost"] != 75.0 {
		t.Fatalf("row 1 = %v", out[1])
	}
	if st.TotalRecords != 3 || st.InvalidEmails != 1 || st.InvalidPhones != 1 || st.FieldsNulled != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st.ByField["email"] != 2 {
		t.Fatalf("ByField = %v", st.ByField)
	}
	if records[0]["email"] != "A@B.COM" {
		t.Fatalf("input mutated")
	}
}
