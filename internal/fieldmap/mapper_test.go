package fieldmap

import (
	"math"
	"reflect"
	"testing"

	"leadetl/internal/config"
	"leadetl/internal/lead"
)

func TestMapper_Map(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		header    string
		wantField lead.Field
		wantScore float64
		mapped    bool
	}{
		{name: "exact", header: "Email", wantField: lead.Email, wantScore: 1, mapped: true},
		{name: "exact after folding", header: "First Name", wantField: lead.FirstName, wantScore: 1, mapped: true},
		{name: "underscore variant", header: "zip_code", wantField: lead.ZipCode, wantScore: 1, mapped: true},
		{name: "accented", header: "Téléphone", wantField: lead.Phone, wantScore: 1, mapped: true},
		{name: "misspelled", header: "E-Mail Adress", wantField: lead.Email, wantScore: 1 - 1.0/12, mapped: true},
		{name: "unrelated", header: "Favourite Colour", mapped: false},
		{name: "punctuation only", header: "###", mapped: false},
	}

	m := New(nil, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := m.Map([]string{tt.header})
			f, ok := got.Fields[tt.header]
			if ok != tt.mapped {
				t.Fatalf("mapped = %v, want %v (mapping %+v)", ok, tt.mapped, got)
			}
			if !tt.mapped {
				if len(got.Unmapped) != 1 || got.Unmapped[0] != tt.header {
					t.Fatalf("Unmapped = %v", got.Unmapped)
				}
				if got.Confidence != 0 {
					t.Fatalf("Confidence = %v, want 0", got.Confidence)
				}
				return
			}
			if f != tt.wantField {
				t.Fatalf("field = %q, want %q", f, tt.wantField)
			}
			if math.Abs(got.Scores[tt.header]-tt.wantScore) > 1e-9 {
				t.Fatalf("score = %v, want %v", got.Scores[tt.header], tt.wantScore)
			}
		})
	}
}

func TestMapper_ConfidenceOverMappedOnly(t *testing.T) {
	t.Parallel()

	m := New(nil, 0.7)
	got := m.Map([]string{"Email", "E-Mail Adress", "Shoe Size"})

	want := (1 + (1 - 1.0/12)) / 2
	if math.Abs(got.Confidence-want) > 1e-9 {
		t.Fatalf("Confidence = %v, want %v", got.Confidence, want)
	}
	if !reflect.DeepEqual(got.Unmapped, []string{"Shoe Size"}) {
		t.Fatalf("Unmapped = %v", got.Unmapped)
	}
	st := got.Stats()
	if st.TotalHeaders != 3 || st.MappedHeaders != 2 || st.UnmappedHeaders != 1 {
		t.Fatalf("Stats = %+v", st)
	}
}

func TestMapper_EmptyHeaders(t *testing.T) {
	t.Parallel()

	got := New(nil, 0).Map(nil)
	if len(got.Fields) != 0 || got.Confidence != 0 {
		t.Fatalf("Map(nil) = %+v", got)
	}
}

func TestMapper_Deterministic(t *testing.T) {
	t.Parallel()

	headers := []string{"Name", "Phone #", "Company", "Addr", "St", "Zip", "Src", "Cost", "Notes"}
	m := New(nil, 0)
	first := m.Map(headers)
	for i := 0; i < 20; i++ {
		if got := m.Map(headers); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, got, first)
		}
	}
}

func TestMapper_TieKeepsFirstDeclared(t *testing.T) {
	t.Parallel()

	d := Dictionary{
		{Field: lead.FirstName, Variations: []string{"abcd"}},
		{Field: lead.LastName, Variations: []string{"abce"}},
	}
	got := New(d, 0.7).Map([]string{"abcx"})
	if got.Fields["abcx"] != lead.FirstName {
		t.Fatalf("tie resolved to %q, want firstname", got.Fields["abcx"])
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	if got := Similarity("", ""); got != 1 {
		t.Fatalf("Similarity(empty) = %v", got)
	}
	if got := Similarity("abc", "abc"); got != 1 {
		t.Fatalf("Similarity(equal) = %v", got)
	}
	if got := Similarity("abcd", "wxyz"); got != 0 {
		t.Fatalf("Similarity(disjoint) = %v", got)
	}
}

func TestMapping_WithOverrides(t *testing.T) {
	t.Parallel()

	auto := New(nil, 0).Map([]string{"Email", "Mystery", "Phone"})
	got, err := auto.WithOverrides(map[string]string{"Mystery": "taxid", "Phone": ""})
	if err != nil {
		t.Fatalf("WithOverrides: %v", err)
	}
	if got.Fields["Mystery"] != lead.TaxID || got.Scores["Mystery"] != 1 {
		t.Fatalf("manual mapping not applied: %+v", got)
	}
	if _, ok := got.Fields["Phone"]; ok {
		t.Fatalf("Phone should be unmapped")
	}
	if !reflect.DeepEqual(got.Unmapped, []string{"Phone"}) {
		t.Fatalf("Unmapped = %v", got.Unmapped)
	}
	if auto.Fields["Phone"] != lead.Phone {
		t.Fatalf("original mapping mutated")
	}

	if _, err := auto.WithOverrides(map[string]string{"Nope": "email"}); err == nil {
		t.Fatalf("expected error for unknown header")
	}
	if _, err := auto.WithOverrides(map[string]string{"Email": "fax"}); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestMapping_Apply(t *testing.T) {
	t.Parallel()

	m := New(nil, 0).Map([]string{"Email", "Mobile", "Phone", "Favourite Colour"})
	raw := lead.RawRecord{
		{Header: "Email", Value: "a@b.com"},
		{Header: "Mobile", Value: ""},
		{Header: "Phone", Value: "5551234567"},
		{Header: "Favourite Colour", Value: "teal"},
	}
	rec := m.Apply(raw)

	if rec["email"] != "a@b.com" {
		t.Fatalf("email = %v", rec["email"])
	}
	if rec["phone"] != "5551234567" {
		t.Fatalf("phone = %v, want first non-blank", rec["phone"])
	}
	meta, ok := rec["metadata"].(map[string]any)
	if !ok || meta["Favourite Colour"] != "teal" {
		t.Fatalf("metadata = %v", rec["metadata"])
	}

	all := m.ApplyAll([]lead.RawRecord{raw, raw})
	if len(all) != 2 {
		t.Fatalf("ApplyAll len = %d", len(all))
	}
}

func TestDictionary_Validate(t *testing.T) {
	t.Parallel()

	if issues := DefaultDictionary().Validate(); len(issues) != 0 {
		t.Fatalf("default dictionary has issues: %v", issues)
	}
	d := Dictionary{
		{Field: lead.Email, Variations: []string{"contact"}},
		{Field: lead.Phone, Variations: []string{"Contact", "--"}},
	}
	if issues := d.Validate(); len(issues) != 2 {
		t.Fatalf("issues = %v, want 2", issues)
	}
}

func TestFromOptions(t *testing.T) {
	t.Parallel()

	d, err := FromOptions(config.Options{"email": []any{"courriel"}})
	if err != nil {
		t.Fatalf("FromOptions: %v", err)
	}
	got := New(d, 0).Map([]string{"Courriel", "Email"})
	if got.Fields["Courriel"] != lead.Email {
		t.Fatalf("override variation not used: %+v", got)
	}
	if _, ok := got.Fields["Email"]; ok {
		t.Fatalf("replaced variations should no longer match exactly: %+v", got)
	}

	if _, err := FromOptions(config.Options{"fax": []any{"x"}}); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}
