package normalize

import (
	"reflect"
	"testing"

	"leadetl/internal/config"
	"leadetl/internal/lead"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	rs := Default()
	tests := []struct {
		name  string
		field string
		in    any
		want  any
	}{
		{name: "phone formatted", field: "phone", in: "(555) 123-4567", want: "+15551234567"},
		{name: "phone with country code", field: "phone", in: "+1 (555) 123-4567", want: "+15551234567"},
		{name: "phone numeric cell", field: "phone", in: 5551234567.0, want: "+15551234567"},
		{name: "phone foreign unchanged", field: "phone", in: "+44 20 7946 0958", want: "+44 20 7946 0958"},
		{name: "email lowercased", field: "email", in: " John.Doe+promo@Gmail.COM", want: "john.doe+promo@gmail.com"},
		{name: "email without at", field: "email", in: "nobody", want: "nobody"},
		{name: "name simple", field: "firstname", in: "jOHN", want: "John"},
		{name: "name prefix and suffix", field: "lastname", in: "dr john smith jr", want: "Dr. John Smith JR"},
		{name: "name roman suffix", field: "lastname", in: "henry ford iii", want: "Henry Ford III"},
		{name: "name suffix with comma", field: "lastname", in: "smith jr., esq", want: "Smith JR, ESQ"},
		{name: "name mc and o'", field: "lastname", in: "mcdonald o'neil", want: "McDonald O'Neil"},
		{name: "address abbreviated", field: "address", in: "123 north main street apartment 4b", want: "123 N Main St Apt 4b"},
		{name: "address po box", field: "address", in: "p.o. box 42", want: "PO Box 42"},
		{name: "address word boundary", field: "address", in: "10 Streeter Road", want: "10 Streeter Rd"},
		{name: "state full name", field: "state", in: "New York", want: "NY"},
		{name: "state spaced name", field: "state", in: "  north   carolina ", want: "NC"},
		{name: "state code lowercased", field: "state", in: "tx", want: "TX"},
		{name: "state unknown unchanged", field: "state", in: "Ontario", want: "Ontario"},
		{name: "boolean yes", field: "exclusivity", in: "Yes", want: true},
		{name: "boolean no", field: "exclusivity", in: "N", want: false},
		{name: "boolean non-exclusive", field: "exclusivity", in: "non-exclusive", want: false},
		{name: "boolean hint", field: "exclusivity", in: "Exclusive for 30 days", want: true},
		{name: "boolean unknown", field: "exclusivity", in: "maybe", want: nil},
		{name: "boolean native", field: "exclusivity", in: false, want: false},
		{name: "numeric currency", field: "leadcost", in: "$1,234.50", want: 1234.5},
		{name: "numeric percent", field: "leadscore", in: "15%", want: 0.15},
		{name: "numeric garbage unchanged", field: "leadscore", in: "n/a", want: "n/a"},
		{name: "numeric native", field: "leadcost", in: 75.0, want: 75.0},
		{name: "other field untouched", field: "city", in: "springfield", want: "springfield"},
		{name: "nil", field: "phone", in: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := rs.Normalize(tt.field, tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Normalize(%s, %#v) = %#v, want %#v", tt.field, tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	rs := Default()
	inputs := map[string][]any{
		"phone":       {"(555) 123-4567", "+1 (555) 123-4567", "12345", "+44 20 7946 0958"},
		"email":       {"John.Doe+x@Gmail.com", "broken"},
		"firstname":   {"mr john smith jr", "o'brien", "dr"},
		"address":     {"123 north main street", "po box 1", "1 Southwest Circle"},
		"state":       {"texas", "tx", "Ontario"},
		"exclusivity": {"Yes", "exclusive deal", "maybe"},
		"leadcost":    {"$1,234.50", "15%", "n/a"},
	}
	for field, vals := range inputs {
		for _, v := range vals {
			once := rs.Normalize(field, v)
			twice := rs.Normalize(field, once)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("%s: normalize(%#v) = %#v, normalize twice = %#v", field, v, once, twice)
			}
		}
	}
}

func TestNormalize_EmailOptions(t *testing.T) {
	t.Parallel()

	rs, err := Default().Merge(map[string]config.Options{
		"email": {"strip_gmail_dots": true, "strip_plus_alias": true},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	tests := map[string]string{
		"John.Doe+promo@Gmail.com":   "johndoe@gmail.com",
		"john.doe+promo@example.com": "john.doe+promo@example.com",
		"j.doe+x@outlook.com":        "j.doe@outlook.com",
	}
	for in, want := range tests {
		if got := rs.Normalize("email", in); got != want {
			t.Errorf("Normalize(email, %q) = %#v, want %q", in, got, want)
		}
	}
}

func TestMerge(t *testing.T) {
	t.Parallel()

	rs, err := Default().Merge(map[string]config.Options{
		"phone":   {"format": "digits"},
		"boolean": {"exclusivity_hint": false},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := rs.Normalize("phone", "(555) 123-4567"); got != "5551234567" {
		t.Fatalf("digits phone = %#v", got)
	}
	if got := rs.Normalize("exclusivity", "exclusive for 30 days"); got != nil {
		t.Fatalf("hint disabled but got %#v", got)
	}

	if _, err := Default().Merge(map[string]config.Options{"phone": {"format": "fancy"}}); err == nil {
		t.Fatalf("expected error for unknown phone format")
	}
}

func TestNormalizeAll(t *testing.T) {
	t.Parallel()

	records := []lead.Record{
		{"phone": "(555) 123-4567", "state": "Texas", "city": "Austin"},
		{"phone": "+15551234567", "state": "TX"},
	}
	out, st := Default().NormalizeAll(records)
	if out[0]["phone"] != "+15551234567" || out[0]["state"] != "TX" || out[0]["city"] != "Austin" {
		t.Fatalf("row 0 = %v", out[0])
	}
	if st.FieldsNormalized != 2 || st.ByField["phone"] != 1 || st.ByField["state"] != 1 {
		t.Fatalf("stats = %+v", st)
	}
}
