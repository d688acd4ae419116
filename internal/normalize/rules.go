package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"leadetl/internal/config"
)

// Version identifies the built-in rule set.
const Version = "2024.1"

// PhoneRules selects the canonical phone form.
type PhoneRules struct {
	// Format is "e164" (+1DDDDDDDDDD for US-shaped numbers), "digits" or
	// "preserve".
	Format      string `json:"format"`
	CountryCode string `json:"country_code"`
}

// EmailRules controls provider-specific canonicalization. Dot and plus-alias
// stripping change identity and are off by default.
type EmailRules struct {
	Lowercase        bool     `json:"lowercase"`
	StripGmailDots   bool     `json:"strip_gmail_dots"`
	GmailDomains     []string `json:"gmail_domains"`
	StripPlusAlias   bool     `json:"strip_plus_alias"`
	PlusAliasDomains []string `json:"plus_alias_domains"`
}

// NameRules title-cases names and fixes honorifics.
type NameRules struct {
	TitleCase bool     `json:"title_case"`
	Suffixes  []string `json:"suffixes"`
	Prefixes  []string `json:"prefixes"`
}

// Abbreviation replaces a whole word, case-insensitively.
type Abbreviation struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// AddressRules abbreviates street vocabulary and title-cases the result.
type AddressRules struct {
	Abbreviations []Abbreviation `json:"abbreviations"`
	TitleCase     bool           `json:"title_case"`
}

// StateRules maps full state names to USPS codes.
type StateRules struct {
	Names map[string]string `json:"names"`
}

// BooleanRules maps literals to true/false with an exclusivity fallback.
type BooleanRules struct {
	TrueValues    []string `json:"true_values"`
	FalseValues   []string `json:"false_values"`
	CaseSensitive bool     `json:"case_sensitive"`
	// ExclusivityHint treats any value containing "exclu" as true.
	ExclusivityHint bool `json:"exclusivity_hint"`
}

// NumericRules strips currency noise and converts percentages.
type NumericRules struct {
	CurrencySymbols   []string `json:"currency_symbols"`
	ThousandsSep      string   `json:"thousands_separator"`
	PercentToFraction bool     `json:"percent_to_fraction"`
}

// RuleSet is the complete, read-only normalization configuration.
type RuleSet struct {
	Version string       `json:"version"`
	Phone   PhoneRules   `json:"phone"`
	Email   EmailRules   `json:"email"`
	Name    NameRules    `json:"name"`
	Address AddressRules `json:"address"`
	State   StateRules   `json:"state"`
	Boolean BooleanRules `json:"boolean"`
	Numeric NumericRules `json:"numeric"`

	once   sync.Once
	abbrev []compiledAbbrev
	keep   map[string]string
}

type compiledAbbrev struct {
	re *regexp.Regexp
	to string
}

// Default returns the built-in normalization rules.
func Default() *RuleSet {
	return &RuleSet{
		Version: Version,
		Phone:   PhoneRules{Format: "e164", CountryCode: "1"},
		Email: EmailRules{
			Lowercase:        true,
			GmailDomains:     []string{"gmail.com", "googlemail.com"},
			PlusAliasDomains: []string{"gmail.com", "googlemail.com", "outlook.com", "hotmail.com", "icloud.com"},
		},
		Name: NameRules{
			TitleCase: true,
			Suffixes:  []string{"jr", "sr", "ii", "iii", "iv", "v", "md", "phd", "dds", "esq", "cpa"},
			Prefixes:  []string{"mr", "mrs", "ms", "dr", "prof", "rev", "hon"},
		},
		Address: AddressRules{
			TitleCase: true,
			Abbreviations: []Abbreviation{
				{"street", "St"}, {"avenue", "Ave"}, {"boulevard", "Blvd"},
				{"road", "Rd"}, {"drive", "Dr"}, {"lane", "Ln"}, {"court", "Ct"},
				{"place", "Pl"}, {"square", "Sq"}, {"terrace", "Ter"},
				{"parkway", "Pkwy"}, {"highway", "Hwy"}, {"circle", "Cir"},
				{"suite", "Ste"}, {"apartment", "Apt"}, {"building", "Bldg"},
				{"floor", "Fl"}, {"north", "N"}, {"south", "S"}, {"east", "E"},
				{"west", "W"}, {"northeast", "NE"}, {"northwest", "NW"},
				{"southeast", "SE"}, {"southwest", "SW"},
				{"p.o. box", "PO Box"}, {"po box", "PO Box"},
			},
		},
		State: StateRules{Names: usStates()},
		Boolean: BooleanRules{
			TrueValues:      []string{"true", "yes", "y", "1", "t", "on", "exclusive"},
			FalseValues:     []string{"false", "no", "n", "0", "f", "off", "non-exclusive", "nonexclusive", "shared"},
			ExclusivityHint: true,
		},
		Numeric: NumericRules{
			CurrencySymbols:   []string{"$", "€", "£", "¥", "USD", "usd"},
			ThousandsSep:      ",",
			PercentToFraction: true,
		},
	}
}

// Merge returns a copy of rs with per-category overrides shallow-merged over
// it.
func (rs *RuleSet) Merge(overrides map[string]config.Options) (*RuleSet, error) {
	out := &RuleSet{
		Version: rs.Version,
		Phone:   rs.Phone,
		Email:   rs.Email,
		Name:    rs.Name,
		Address: rs.Address,
		State:   rs.State,
		Boolean: rs.Boolean,
		Numeric: rs.Numeric,
	}
	if err := config.MergeSections(out, overrides); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if err := config.FirstError(out.Validate()); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

// Validate checks option values.
func (rs *RuleSet) Validate() []config.Issue {
	var issues []config.Issue
	switch rs.Phone.Format {
	case "e164", "digits", "preserve":
	default:
		issues = append(issues, config.Issue{
			Severity: config.SeverityError,
			Path:     "normalization.phone.format",
			Message:  fmt.Sprintf("unknown phone format %q", rs.Phone.Format),
		})
	}
	for i, a := range rs.Address.Abbreviations {
		if strings.TrimSpace(a.From) == "" {
			issues = append(issues, config.Issue{
				Severity: config.SeverityError,
				Path:     fmt.Sprintf("normalization.address.abbreviations[%d]", i),
				Message:  "abbreviation has an empty source word",
			})
		}
	}
	for _, v := range rs.Boolean.TrueValues {
		for _, f := range rs.Boolean.FalseValues {
			if strings.EqualFold(v, f) {
				issues = append(issues, config.Issue{
					Severity: config.SeverityWarning,
					Path:     "normalization.boolean",
					Message:  fmt.Sprintf("%q is both true and false; true wins", v),
				})
			}
		}
	}
	return issues
}

func (rs *RuleSet) compile() {
	rs.once.Do(func() {
		rs.keep = map[string]string{}
		for _, a := range rs.Address.Abbreviations {
			from := strings.TrimSpace(a.From)
			if from == "" {
				continue
			}
			pat := `(?i)\b` + regexp.QuoteMeta(from) + `\b`
			rs.abbrev = append(rs.abbrev, compiledAbbrev{re: regexp.MustCompile(pat), to: a.To})
			// Abbreviations keep their own casing through title-casing.
			for _, w := range strings.Fields(a.To) {
				rs.keep[strings.ToLower(w)] = w
			}
		}
	})
}

func usStates() map[string]string {
	return map[string]string{
		"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
		"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
		"florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
		"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
		"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
		"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
		"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
		"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
		"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
		"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
		"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
		"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
		"wisconsin": "WI", "wyoming": "WY",
	}
}
