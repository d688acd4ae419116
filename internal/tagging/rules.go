package tagging

import (
	"fmt"
	"sort"

	"leadetl/internal/config"
	"leadetl/internal/lead"
)

// Version identifies the built-in rule set.
const Version = "2024.1"

// Adjacent bands may leave a gap of one hundredth (49.99, 50).
const gapTolerance = 0.011

// Range tags values in [Min, Max], both inclusive.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Tag string  `json:"tag"`
}

// KeywordTag emits Tag when any keyword occurs in the inspected fields.
type KeywordTag struct {
	Tag      string   `json:"tag"`
	Keywords []string `json:"keywords"`
}

// ExclusivityRules tags exclusive leads.
type ExclusivityRules struct {
	Enabled  bool     `json:"enabled"`
	Tag      string   `json:"tag"`
	Keywords []string `json:"keywords"`
	Fields   []string `json:"fields"`
}

// RangeRules tags a numeric field by band. The first declared band that
// contains the value wins.
type RangeRules struct {
	Enabled bool    `json:"enabled"`
	Ranges  []Range `json:"ranges"`
}

// KeywordRules tags by substring match over Fields. Every matching category
// contributes its tag.
type KeywordRules struct {
	Enabled    bool         `json:"enabled"`
	Fields     []string     `json:"fields"`
	Categories []KeywordTag `json:"categories"`
}

// GeoRules tags by state code and by city substring.
type GeoRules struct {
	Enabled bool                `json:"enabled"`
	States  map[string][]string `json:"states"`
	Cities  []KeywordTag        `json:"cities"`
}

// QualityRule emits Tag when Condition holds. Conditions: has_email,
// has_phone, has_both, email_only, phone_only, no_contact, has_company,
// has_address, full_address.
type QualityRule struct {
	Condition string `json:"condition"`
	Tag       string `json:"tag"`
}

// QualityRules tags contact quality.
type QualityRules struct {
	Enabled bool          `json:"enabled"`
	Rules   []QualityRule `json:"rules"`
}

// Threshold is a completeness bucket; Min is a percentage.
type Threshold struct {
	Min float64 `json:"min"`
	Tag string  `json:"tag"`
}

// CompletenessRules buckets the share of populated required fields. The
// highest threshold reached wins.
type CompletenessRules struct {
	Enabled        bool        `json:"enabled"`
	RequiredFields []string    `json:"required_fields"`
	Thresholds     []Threshold `json:"thresholds"`
}

// RuleSet groups every independent tag group.
type RuleSet struct {
	Version        string            `json:"version"`
	Exclusivity    ExclusivityRules  `json:"exclusivity"`
	Score          RangeRules        `json:"score"`
	Cost           RangeRules        `json:"cost"`
	CompanySize    KeywordRules      `json:"company_size"`
	Geographic     GeoRules          `json:"geographic"`
	Industry       KeywordRules      `json:"industry"`
	ContactQuality QualityRules      `json:"contact_quality"`
	Completeness   CompletenessRules `json:"completeness"`
	Custom         KeywordRules      `json:"custom"`
}

// Default returns the built-in tagging rules.
func Default() *RuleSet {
	return &RuleSet{
		Version: Version,
		Exclusivity: ExclusivityRules{
			Enabled:  true,
			Tag:      "exclusive",
			Keywords: []string{"exclusive", "exclusivity"},
			Fields:   []string{string(lead.ExclusivityNotes), string(lead.LeadSource)},
		},
		Score: RangeRules{Enabled: true, Ranges: []Range{
			{Min: 80, Max: 100, Tag: "hot-lead"},
			{Min: 50, Max: 79.99, Tag: "warm-lead"},
			{Min: 0, Max: 49.99, Tag: "cold-lead"},
		}},
		Cost: RangeRules{Enabled: true, Ranges: []Range{
			{Min: 0, Max: 49.99, Tag: "budget-lead"},
			{Min: 50, Max: 99.99, Tag: "standard-lead"},
			{Min: 100, Max: 1e9, Tag: "premium-lead"},
		}},
		CompanySize: KeywordRules{
			Enabled: true,
			Fields:  []string{string(lead.CompanyName), string(lead.ExclusivityNotes)},
			Categories: []KeywordTag{
				{Tag: "enterprise", Keywords: []string{"corporation", "corp", "international", "global", "holdings", "group", "enterprises"}},
				{Tag: "small-business", Keywords: []string{"llc", "shop", "studio", "boutique", "family", "local"}},
				{Tag: "startup", Keywords: []string{"labs", "startup", ".io", "ventures"}},
			},
		},
		Geographic: GeoRules{
			Enabled: true,
			States: map[string][]string{
				"CA": {"west-coast"}, "OR": {"west-coast"}, "WA": {"west-coast"},
				"NY": {"east-coast", "northeast"}, "NJ": {"east-coast", "northeast"},
				"MA": {"east-coast", "northeast"}, "CT": {"east-coast", "northeast"},
				"FL": {"east-coast", "southeast"}, "GA": {"southeast"},
				"TX": {"southwest"}, "AZ": {"southwest"}, "NM": {"southwest"},
				"IL": {"midwest"}, "OH": {"midwest"}, "MI": {"midwest"}, "MN": {"midwest"},
			},
			Cities: []KeywordTag{
				{Tag: "major-metro", Keywords: []string{"new york", "los angeles", "chicago", "houston", "phoenix", "philadelphia", "san antonio", "san diego", "dallas", "san jose"}},
			},
		},
		Industry: KeywordRules{
			Enabled: true,
			Fields:  []string{string(lead.CompanyName), string(lead.LeadSource), string(lead.ExclusivityNotes)},
			Categories: []KeywordTag{
				{Tag: "healthcare", Keywords: []string{"health", "medical", "clinic", "dental", "pharma", "hospital"}},
				{Tag: "technology", Keywords: []string{"tech", "software", "digital", "data", "cloud", "systems"}},
				{Tag: "finance", Keywords: []string{"bank", "financial", "capital", "insurance", "credit", "invest"}},
				{Tag: "real-estate", Keywords: []string{"realty", "real estate", "properties", "homes", "mortgage"}},
				{Tag: "construction", Keywords: []string{"construction", "builders", "roofing", "contracting", "plumbing"}},
				{Tag: "retail", Keywords: []string{"retail", "store", "shop", "market", "boutique"}},
			},
		},
		ContactQuality: QualityRules{Enabled: true, Rules: []QualityRule{
			{Condition: "has_both", Tag: "complete-contact"},
			{Condition: "email_only", Tag: "email-only"},
			{Condition: "phone_only", Tag: "phone-only"},
			{Condition: "no_contact", Tag: "no-contact"},
			{Condition: "has_company", Tag: "b2b"},
			{Condition: "full_address", Tag: "mailable"},
		}},
		Completeness: CompletenessRules{
			Enabled: true,
			RequiredFields: []string{
				string(lead.FirstName), string(lead.LastName), string(lead.Email), string(lead.Phone),
				string(lead.CompanyName), string(lead.Address), string(lead.City), string(lead.State), string(lead.ZipCode),
			},
			Thresholds: []Threshold{
				{Min: 90, Tag: "complete-profile"},
				{Min: 70, Tag: "mostly-complete"},
				{Min: 50, Tag: "partial-profile"},
				{Min: 0, Tag: "incomplete-profile"},
			},
		},
		Custom: KeywordRules{
			Enabled: false,
			Fields:  []string{string(lead.ExclusivityNotes), string(lead.LeadSource), string(lead.LeadStatus)},
		},
	}
}

// Merge returns a copy of rs with per-group overrides shallow-merged over it.
func (rs *RuleSet) Merge(overrides map[string]config.Options) (*RuleSet, error) {
	out := *rs
	if err := config.MergeSections(&out, overrides); err != nil {
		return nil, fmt.Errorf("tagging: %w", err)
	}
	if err := config.FirstError(out.Validate()); err != nil {
		return nil, fmt.Errorf("tagging: %w", err)
	}
	return &out, nil
}

// Validate reports malformed bands and thresholds. Overlapping bands are a
// warning: the first declared band still wins.
func (rs *RuleSet) Validate() []config.Issue {
	var issues []config.Issue
	issues = append(issues, validateRanges("tagging.score", rs.Score.Ranges)...)
	issues = append(issues, validateRanges("tagging.cost", rs.Cost.Ranges)...)

	known := map[string]bool{
		"has_email": true, "has_phone": true, "has_both": true, "email_only": true,
		"phone_only": true, "no_contact": true, "has_company": true,
		"has_address": true, "full_address": true,
	}
	for i, r := range rs.ContactQuality.Rules {
		if !known[r.Condition] {
			issues = append(issues, config.Issue{
				Severity: config.SeverityError,
				Path:     fmt.Sprintf("tagging.contact_quality.rules[%d]", i),
				Message:  fmt.Sprintf("unknown condition %q", r.Condition),
			})
		}
	}
	if rs.Completeness.Enabled && len(rs.Completeness.RequiredFields) == 0 {
		issues = append(issues, config.Issue{
			Severity: config.SeverityError,
			Path:     "tagging.completeness.required_fields",
			Message:  "completeness needs at least one required field",
		})
	}
	return issues
}

func validateRanges(path string, ranges []Range) []config.Issue {
	var issues []config.Issue
	for i, r := range ranges {
		if r.Min > r.Max {
			issues = append(issues, config.Issue{
				Severity: config.SeverityError,
				Path:     fmt.Sprintf("%s.ranges[%d]", path, i),
				Message:  fmt.Sprintf("min %v exceeds max %v", r.Min, r.Max),
			})
		}
		if r.Tag == "" {
			issues = append(issues, config.Issue{
				Severity: config.SeverityError,
				Path:     fmt.Sprintf("%s.ranges[%d]", path, i),
				Message:  "range has no tag",
			})
		}
	}

	sorted := append([]Range(nil), ranges...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Min < sorted[b].Min })
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		switch {
		case cur.Min <= prev.Max:
			issues = append(issues, config.Issue{
				Severity: config.SeverityWarning,
				Path:     path + ".ranges",
				Message:  fmt.Sprintf("%q [%v,%v] overlaps %q [%v,%v]; first declared wins", prev.Tag, prev.Min, prev.Max, cur.Tag, cur.Min, cur.Max),
			})
		case cur.Min-prev.Max > gapTolerance:
			issues = append(issues, config.Issue{
				Severity: config.SeverityWarning,
				Path:     path + ".ranges",
				Message:  fmt.Sprintf("values between %v and %v match no band", prev.Max, cur.Min),
			})
		}
	}
	return issues
}
