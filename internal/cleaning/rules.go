package cleaning

import (
	"fmt"
	"regexp"
	"sync"

	"leadetl/internal/config"
	"leadetl/internal/lead"
)

// Category selects the cleaning rules applied to a field.
type Category string

const (
	CategoryText    Category = "text"
	CategoryEmail   Category = "email"
	CategoryPhone   Category = "phone"
	CategoryName    Category = "name"
	CategoryAddress Category = "address"
	CategoryCompany Category = "company"
	CategoryNumeric Category = "numeric"
	CategoryDate    Category = "date"
	CategoryBoolean Category = "boolean"
)

// Version identifies the built-in rule set.
const Version = "2024.1"

// TextRules is the common string pipeline. Steps run in this order: trim,
// collapse whitespace, strip disallowed characters, case-fold, length cap,
// null-if-empty.
type TextRules struct {
	Trim               bool   `json:"trim"`
	CollapseWhitespace bool   `json:"collapse_whitespace"`
	StripHTML          bool   `json:"strip_html"`
	StripPattern       string `json:"strip_pattern"`
	// Case is "", "lower", "upper" or "title".
	Case        string `json:"case"`
	MaxLength   int    `json:"max_length"`
	NullIfEmpty bool   `json:"null_if_empty"`
}

// EmailRules adds validation and domain typo correction.
type EmailRules struct {
	TextRules
	FixTypos      bool              `json:"fix_typos"`
	Typos         map[string]string `json:"typos"`
	Validate      bool              `json:"validate"`
	Pattern       string            `json:"pattern"`
	RemoveInvalid bool              `json:"remove_invalid"`
}

// PhoneRules bounds the digit count and optionally formats US numbers.
type PhoneRules struct {
	TextRules
	MinDigits int  `json:"min_digits"`
	MaxDigits int  `json:"max_digits"`
	Format    bool `json:"format"`
}

// CompanyRules optionally upper-cases legal suffixes (LLC, INC, ...).
type CompanyRules struct {
	TextRules
	UppercaseSuffixes bool     `json:"uppercase_suffixes"`
	Suffixes          []string `json:"suffixes"`
}

// NumericRules keeps digits, '.' and '-', then parses and rounds.
type NumericRules struct {
	Precision int `json:"precision"`
	// KeepPercent cleans "85 %" to the string "85%" instead of the number 85,
	// leaving the fraction conversion to normalization.
	KeepPercent bool `json:"keep_percent"`
}

// DateRules parses any of Layouts and renders Output.
type DateRules struct {
	Layouts       []string `json:"layouts"`
	Output        string   `json:"output"`
	NullIfInvalid bool     `json:"null_if_invalid"`
}

// FieldRules overrides the field → category assignment.
type FieldRules struct {
	Categories map[string]Category `json:"categories"`
}

// RuleSet is the complete, read-only cleaning configuration. Use Default and
// Merge; never mutate a RuleSet shared across goroutines.
type RuleSet struct {
	Version string       `json:"version"`
	Text    TextRules    `json:"text"`
	Email   EmailRules   `json:"email"`
	Phone   PhoneRules   `json:"phone"`
	Name    TextRules    `json:"name"`
	Address TextRules    `json:"address"`
	Company CompanyRules `json:"company"`
	Numeric NumericRules `json:"numeric"`
	Date    DateRules    `json:"date"`
	Boolean TextRules    `json:"boolean"`
	Fields  FieldRules   `json:"fields"`

	once     sync.Once
	compiled *compiled
	cerr     error
}

type compiled struct {
	strip map[Category]*regexp.Regexp
	email *regexp.Regexp
}

// Default returns the built-in rules.
func Default() *RuleSet {
	return &RuleSet{
		Version: Version,
		Text: TextRules{
			Trim: true, CollapseWhitespace: true,
			StripPattern: `[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`,
			MaxLength:    500, NullIfEmpty: true,
		},
		Email: EmailRules{
			TextRules: TextRules{
				Trim: true, StripPattern: `\s`, Case: "lower",
				MaxLength: 254, NullIfEmpty: true,
			},
			FixTypos: true,
			Typos: map[string]string{
				"gmial.com":   "gmail.com",
				"gamil.com":   "gmail.com",
				"gmal.com":    "gmail.com",
				"gmail.co":    "gmail.com",
				"yaho.com":    "yahoo.com",
				"yahooo.com":  "yahoo.com",
				"yahoo.co":    "yahoo.com",
				"hotmial.com": "hotmail.com",
				"hotmal.com":  "hotmail.com",
				"hotmail.co":  "hotmail.com",
				"outlok.com":  "outlook.com",
				"outlook.co":  "outlook.com",
			},
			Validate:      true,
			Pattern:       `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`,
			RemoveInvalid: true,
		},
		Phone: PhoneRules{
			TextRules: TextRules{Trim: true, CollapseWhitespace: true, MaxLength: 40, NullIfEmpty: true},
			MinDigits: 10,
			MaxDigits: 15,
			Format:    true,
		},
		Name: TextRules{
			Trim: true, CollapseWhitespace: true,
			StripPattern: `[^\p{L}\s'’.\-]`,
			Case:         "title", MaxLength: 50, NullIfEmpty: true,
		},
		Address: TextRules{
			Trim: true, CollapseWhitespace: true,
			StripPattern: `[^\p{L}\p{N}\s#,.'/\-]`,
			MaxLength:    200, NullIfEmpty: true,
		},
		Company: CompanyRules{
			TextRules: TextRules{
				Trim: true, CollapseWhitespace: true, StripHTML: true,
				MaxLength: 200, NullIfEmpty: true,
			},
			UppercaseSuffixes: true,
			Suffixes:          []string{"llc", "inc", "corp", "ltd", "co", "lp", "llp", "pllc", "plc"},
		},
		Numeric: NumericRules{Precision: 2, KeepPercent: true},
		Date: DateRules{
			Layouts: []string{
				"2006-01-02", "01/02/2006", "1/2/2006", "01-02-2006",
				"2006/01/02", "Jan 2, 2006", "January 2, 2006", "02 Jan 2006",
				"2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05",
			},
			Output:        "2006-01-02",
			NullIfInvalid: true,
		},
		Boolean: TextRules{Trim: true, CollapseWhitespace: true, Case: "lower", NullIfEmpty: true},
		Fields:  FieldRules{Categories: map[string]Category{}},
	}
}

// Merge returns a copy of rs with per-category overrides shallow-merged over
// it. Each key in overrides is a category name ("email", "phone", ...); the
// keys inside replace the matching rules wholesale. The result is compiled
// eagerly so bad patterns fail here rather than mid-batch.
func (rs *RuleSet) Merge(overrides map[string]config.Options) (*RuleSet, error) {
	out := rs.clone()
	if err := config.MergeSections(out, overrides); err != nil {
		return nil, fmt.Errorf("cleaning: %w", err)
	}
	if _, err := out.compile(); err != nil {
		return nil, err
	}
	return out, nil
}

// clone copies the exported configuration only; compiled state is rebuilt.
func (rs *RuleSet) clone() *RuleSet {
	return &RuleSet{
		Version: rs.Version,
		Text:    rs.Text,
		Email:   rs.Email,
		Phone:   rs.Phone,
		Name:    rs.Name,
		Address: rs.Address,
		Company: rs.Company,
		Numeric: rs.Numeric,
		Date:    rs.Date,
		Boolean: rs.Boolean,
		Fields:  rs.Fields,
	}
}

// Validate compiles every pattern and checks numeric bounds.
func (rs *RuleSet) Validate() []config.Issue {
	var issues []config.Issue
	if _, err := rs.compile(); err != nil {
		issues = append(issues, config.Issue{Severity: config.SeverityError, Path: "cleaning", Message: err.Error()})
	}
	if rs.Phone.MinDigits > rs.Phone.MaxDigits {
		issues = append(issues, config.Issue{
			Severity: config.SeverityError,
			Path:     "cleaning.phone",
			Message:  fmt.Sprintf("min_digits %d exceeds max_digits %d", rs.Phone.MinDigits, rs.Phone.MaxDigits),
		})
	}
	if rs.Numeric.Precision < 0 || rs.Numeric.Precision > 10 {
		issues = append(issues, config.Issue{
			Severity: config.SeverityError,
			Path:     "cleaning.numeric.precision",
			Message:  "precision must be between 0 and 10",
		})
	}
	for f, c := range rs.Fields.Categories {
		if !lead.IsField(f) {
			issues = append(issues, config.Issue{
				Severity: config.SeverityWarning,
				Path:     "cleaning.fields.categories." + f,
				Message:  "not a canonical field",
			})
		}
		if _, ok := rs.textRules(c); !ok && c != CategoryNumeric && c != CategoryDate {
			issues = append(issues, config.Issue{
				Severity: config.SeverityError,
				Path:     "cleaning.fields.categories." + f,
				Message:  fmt.Sprintf("unknown category %q", c),
			})
		}
	}
	return issues
}

func (rs *RuleSet) compile() (*compiled, error) {
	rs.once.Do(func() {
		c := &compiled{strip: map[Category]*regexp.Regexp{}}
		for _, cat := range []Category{CategoryText, CategoryEmail, CategoryPhone, CategoryName, CategoryAddress, CategoryCompany, CategoryBoolean} {
			tr, _ := rs.textRules(cat)
			if tr.StripPattern == "" {
				continue
			}
			re, err := regexp.Compile(tr.StripPattern)
			if err != nil {
				rs.cerr = fmt.Errorf("cleaning: %s.strip_pattern: %w", cat, err)
				return
			}
			c.strip[cat] = re
		}
		if rs.Email.Pattern != "" {
			re, err := regexp.Compile(rs.Email.Pattern)
			if err != nil {
				rs.cerr = fmt.Errorf("cleaning: email.pattern: %w", err)
				return
			}
			c.email = re
		}
		rs.compiled = c
	})
	return rs.compiled, rs.cerr
}

func (rs *RuleSet) textRules(c Category) (TextRules, bool) {
	switch c {
	case CategoryText:
		return rs.Text, true
	case CategoryEmail:
		return rs.Email.TextRules, true
	case CategoryPhone:
		return rs.Phone.TextRules, true
	case CategoryName:
		return rs.Name, true
	case CategoryAddress:
		return rs.Address, true
	case CategoryCompany:
		return rs.Company.TextRules, true
	case CategoryBoolean:
		return rs.Boolean, true
	}
	return TextRules{}, false
}

// CategoryFor returns the category used for field.
func (rs *RuleSet) CategoryFor(field string) Category {
	if c, ok := rs.Fields.Categories[field]; ok {
		return c
	}
	switch lead.Field(field) {
	case lead.Email:
		return CategoryEmail
	case lead.Phone:
		return CategoryPhone
	case lead.FirstName, lead.LastName:
		return CategoryName
	case lead.Address, lead.City:
		return CategoryAddress
	case lead.CompanyName:
		return CategoryCompany
	case lead.LeadScore, lead.LeadCost:
		return CategoryNumeric
	case lead.Exclusivity:
		return CategoryBoolean
	}
	return CategoryText
}
