package fieldmap

import (
	"fmt"

	"leadetl/internal/config"
	"leadetl/internal/lead"
	"leadetl/internal/textutil"
)

// Entry lists the known header spellings for one canonical field.
type Entry struct {
	Field      lead.Field `json:"field"`
	Variations []string   `json:"variations"`
}

// Dictionary is the ordered synonym table. Iteration order is the slice order,
// which makes tie-breaking between equally similar candidates deterministic.
type Dictionary []Entry

// DefaultDictionary returns the built-in synonym table. The returned slice is
// a fresh copy and may be modified by the caller.
func DefaultDictionary() Dictionary {
	return Dictionary{
		{lead.Email, []string{"email", "e-mail", "mail", "email address", "emailaddress", "e_mail", "email_address", "contact email", "primary email"}},
		{lead.FirstName, []string{"firstname", "first name", "first_name", "fname", "given name", "given_name", "givenname", "forename", "owner first name", "contact first name"}},
		{lead.LastName, []string{"lastname", "last name", "last_name", "lname", "surname", "family name", "family_name", "owner last name", "contact last name"}},
		{lead.Phone, []string{"phone", "phone number", "phone_number", "phonenumber", "telephone", "tel", "mobile", "cell", "cell phone", "mobile phone", "contact number", "alt phone"}},
		{lead.CompanyName, []string{"companyname", "company name", "company", "business", "business name", "biz", "organization", "organisation", "employer", "firm"}},
		{lead.TaxID, []string{"taxid", "tax id", "tax_id", "ein", "federal id", "federal_id", "tin"}},
		{lead.Address, []string{"address", "street address", "street_address", "street", "addr", "address line 1", "address1", "mailing address"}},
		{lead.City, []string{"city", "town", "municipality", "locality"}},
		{lead.State, []string{"state", "province", "region", "st", "state code"}},
		{lead.ZipCode, []string{"zipcode", "zip code", "zip", "zip_code", "postal", "postal code", "postal_code", "postcode"}},
		{lead.Country, []string{"country", "nation", "country code"}},
		{lead.LeadSource, []string{"leadsource", "lead source", "source", "lead_source", "campaign", "channel"}},
		{lead.LeadStatus, []string{"leadstatus", "lead status", "status", "lead_status", "stage"}},
		{lead.LeadScore, []string{"leadscore", "lead score", "score", "lead_score", "rating", "grade"}},
		{lead.LeadCost, []string{"leadcost", "lead cost", "cost", "price", "lead_cost", "cpl"}},
		{lead.Exclusivity, []string{"exclusivity", "exclusive", "is exclusive", "exclusive lead"}},
		{lead.ExclusivityNotes, []string{"exclusivitynotes", "exclusivity notes", "notes", "comments", "remarks", "note"}},
		{lead.Tags, []string{"tags", "tag", "labels", "categories"}},
	}
}

// FromOptions builds a dictionary from a config bag of field → variations.
// Fields present in opts replace the default variations for that field;
// canonical fields without a default entry (metadata) are appended in declared
// order. Unknown field names and empty variation lists are rejected.
func FromOptions(opts config.Options) (Dictionary, error) {
	for key := range opts {
		if !lead.IsField(key) {
			return nil, fmt.Errorf("%w: unknown field %q in dictionary override", ErrInvalidOverride, key)
		}
		if len(opts.StringSlice(key)) == 0 {
			return nil, fmt.Errorf("%w: dictionary override for %q has no variations", ErrInvalidOverride, key)
		}
	}
	d := DefaultDictionary()
	listed := make(map[lead.Field]bool, len(d))
	for i := range d {
		listed[d[i].Field] = true
		if vs := opts.StringSlice(string(d[i].Field)); len(vs) > 0 {
			d[i].Variations = vs
		}
	}
	for _, f := range lead.Fields {
		if listed[f] {
			continue
		}
		if vs := opts.StringSlice(string(f)); len(vs) > 0 {
			d = append(d, Entry{Field: f, Variations: vs})
		}
	}
	return d, nil
}

// Validate reports variations that fold to the same key under two different
// fields. Such collisions make the first-declared field win silently.
func (d Dictionary) Validate() []config.Issue {
	var issues []config.Issue
	owner := map[string]lead.Field{}
	for i, e := range d {
		for j, v := range e.Variations {
			k := textutil.FoldKey(v)
			path := fmt.Sprintf("mapping.dictionary[%d].variations[%d]", i, j)
			if k == "" {
				issues = append(issues, config.Issue{
					Severity: config.SeverityWarning,
					Path:     path,
					Message:  "variation folds to an empty key and can never match",
				})
				continue
			}
			if prev, ok := owner[k]; ok && prev != e.Field {
				issues = append(issues, config.Issue{
					Severity: config.SeverityWarning,
					Path:     path,
					Message:  fmt.Sprintf("variation %q also listed under %q; %q wins", v, prev, prev),
				})
				continue
			}
			owner[k] = e.Field
		}
	}
	return issues
}
