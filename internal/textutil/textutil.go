// Package textutil provides small, allocation-conscious string helpers shared
// by the mapping, cleaning and normalization stages:
//
//   - CollapseWhitespace: reduce runs of whitespace to a single space.
//   - StripHTML: remove <...> tag sequences.
//   - FoldKey: accent-insensitive, punctuation-free comparison key.
//   - Digits: keep only ASCII digits.
//   - TitleCase: word capitalization aware of hyphens, apostrophes and "Mc".
//
// All helpers are pure and idempotent.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StripHTML removes simplistic markup tags of the form <...> from s. It is a
// lightweight heuristic, not a parser.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	inTag := false
	for _, r := range s {
		switch r {
		case '<':
			inTag = true
		case '>':
			inTag = false
		default:
			if !inTag {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// CollapseWhitespace replaces consecutive whitespace with a single ASCII
// space and trims both ends. Non-breaking spaces count as whitespace because
// spreadsheet exports are full of them.
func CollapseWhitespace(s string) string {
	if s == "" {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))

	seenSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) || r == ' ' {
			if !seenSpace {
				b.WriteByte(' ')
				seenSpace = true
			}
			continue
		}
		b.WriteRune(r)
		seenSpace = false
	}

	return strings.TrimSpace(b.String())
}

// FoldKey lowercases s, removes diacritics and drops everything that is not
// an ASCII letter or digit. "E-Mail Adresse" and "e_mail adresse" fold to the
// same key.
func FoldKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))

	// Decompose → remove nonspacing marks (accents) → recompose.
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, err := transform.String(t, s)
	if err != nil {
		ascii = s
	}

	var b strings.Builder
	b.Grow(len(ascii))
	for _, r := range ascii {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// TitleCase capitalizes the first letter of every space separated word and
// lowercases the rest. Letters following a hyphen or apostrophe are also
// capitalized ("o'brien-smith" → "O'Brien-Smith"); the apostrophe only counts
// after a single leading letter so "don't" stays "Don't". A leading "mc" keeps
// the next letter upper case ("mcdonald" → "McDonald").
func TitleCase(s string) string {
	if s == "" {
		return s
	}
	words := strings.Split(s, " ")
	for i, w := range words {
		words[i] = titleWord(w)
	}
	return strings.Join(words, " ")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	rs := []rune(strings.ToLower(w))
	upperNext := true
	for i, r := range rs {
		if upperNext && unicode.IsLetter(r) {
			rs[i] = unicode.ToUpper(r)
			upperNext = false
			continue
		}
		if r == '-' || (i == 1 && (r == '\'' || r == '’')) {
			upperNext = true
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			upperNext = false
		}
	}
	if len(rs) > 2 && rs[0] == 'M' && rs[1] == 'c' && unicode.IsLetter(rs[2]) {
		rs[2] = unicode.ToUpper(rs[2])
	}
	return string(rs)
}
