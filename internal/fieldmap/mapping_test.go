package fieldmap

import (
	"errors"
	"reflect"
	"testing"

	"leadetl/internal/config"
	"leadetl/internal/intake"
	"leadetl/internal/lead"
)

func TestMapping_ApplyRepeatedHeaders(t *testing.T) {
	t.Parallel()

	f, err := intake.Parse("leads.csv", []byte("Email,Referrer,Referrer,Referrer\na@b.com,alice,bob,carol\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	m := New(nil, 0).Map(f.Headers)
	rec := m.Apply(f.Rows[0])

	want := map[string]any{"Referrer": "alice", "Referrer_2": "bob", "Referrer_3": "carol"}
	if got := rec["metadata"]; !reflect.DeepEqual(got, want) {
		t.Fatalf("metadata = %v, want %v", got, want)
	}
	if rec["email"] != "a@b.com" {
		t.Fatalf("email = %v", rec["email"])
	}
}

func TestMapping_ApplyKeepsLosingDuplicates(t *testing.T) {
	t.Parallel()

	m := New(nil, 0).Map([]string{"Email", "Email", "Notes"})
	raw := lead.RawRecord{
		{Header: "Email", Value: "first@b.com"},
		{Header: "Email", Value: "second@b.com"},
		{Header: "Notes", Value: "call after 5"},
	}
	rec := m.Apply(raw)
	if rec["email"] != "first@b.com" {
		t.Fatalf("email = %v, want first non-blank", rec["email"])
	}
	meta, _ := rec["metadata"].(map[string]any)
	if meta["Email"] != "second@b.com" {
		t.Fatalf("metadata = %v", rec["metadata"])
	}
}

func TestFromOptions_FieldsOutsideDefaults(t *testing.T) {
	t.Parallel()

	d, err := FromOptions(config.Options{"metadata": []any{"internal ref"}})
	if err != nil {
		t.Fatalf("FromOptions: %v", err)
	}
	if last := d[len(d)-1]; last.Field != lead.Metadata {
		t.Fatalf("last entry = %+v, want metadata", last)
	}
	got := New(d, 0).Map([]string{"Internal Ref"})
	if got.Fields["Internal Ref"] != lead.Metadata {
		t.Fatalf("mapping = %+v", got.Fields)
	}

	tests := map[string]config.Options{
		"unknown field": {"fax": []any{"x"}},
		"no variations": {"metadata": []any{}},
		"not a list":    {"email": "courriel"},
	}
	for name, opts := range tests {
		if _, err := FromOptions(opts); !errors.Is(err, ErrInvalidOverride) {
			t.Errorf("%s: err = %v, want ErrInvalidOverride", name, err)
		}
	}
}
