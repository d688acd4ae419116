package dnc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"leadetl/internal/dedupe"
	"leadetl/internal/storage"
)

// Registry is the write side of the do-not-contact list.
type Registry interface {
	AddDNC(ctx context.Context, kind, value, reason string) error
}

// ListStats counts the entries of an imported list.
type ListStats struct {
	Emails  int `json:"emails"`
	Phones  int `json:"phones"`
	Skipped int `json:"skipped"`
}

// LoadList registers one email or phone per line of r. Only the first
// comma-separated field of a line is read; blank lines and lines starting with
// '#' are ignored, and values that normalize to nothing are skipped.
func LoadList(ctx context.Context, reg Registry, r io.Reader, reason string) (ListStats, error) {
	var st ListStats
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		v := strings.TrimSpace(sc.Text())
		if line == 1 {
			v = strings.TrimPrefix(v, "\uFEFF")
		}
		if v == "" || strings.HasPrefix(v, "#") {
			continue
		}
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = strings.TrimSpace(v[:i])
		}

		kind, key := storage.DNCPhone, dedupe.NormalizePhone(v)
		if strings.Contains(v, "@") {
			kind, key = storage.DNCEmail, dedupe.NormalizeEmail(v)
		}
		if key == "" {
			st.Skipped++
			continue
		}
		if err := reg.AddDNC(ctx, kind, key, reason); err != nil {
			return st, fmt.Errorf("dnc: line %d: %w", line, err)
		}
		if kind == storage.DNCEmail {
			st.Emails++
		} else {
			st.Phones++
		}
	}
	if err := sc.Err(); err != nil {
		return st, fmt.Errorf("dnc: read list: %w", err)
	}
	return st, nil
}
