package intake

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const utf8BOM = "\uFEFF"

// Candidate delimiters in preference order for ties.
var delimiters = []rune{',', ';', '\t', '|'}

// SniffDelimiter returns the candidate delimiter occurring most often in the
// first line, outside quotes. Ties and lines without any candidate yield ','.
func SniffDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		line = data[:i]
	}
	counts := map[rune]int{}
	quoted := false
	for _, r := range string(line) {
		if r == '"' {
			quoted = !quoted
			continue
		}
		if !quoted {
			counts[r]++
		}
	}
	best := ','
	for _, d := range delimiters {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return best
}

func parseCSV(data []byte, f *File) ([]string, [][]any, error) {
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	f.Encoding = "utf-8"
	if !utf8.Valid(data) {
		dec, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, nil, fmt.Errorf("intake: csv: decode windows-1252: %w", err)
		}
		data = dec
		f.Encoding = "windows-1252"
	}

	delim := SniffDelimiter(data)
	f.Delimiter = string(delim)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delim
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrNoHeaders
	}
	if err != nil {
		return nil, nil, fmt.Errorf("intake: csv: header: %w", err)
	}

	var rows [][]any
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			line, _ := r.FieldPos(0)
			return nil, nil, fmt.Errorf("intake: csv: line %d: %w", line, err)
		}
		rows = append(rows, stringsToCells(rec))
	}
	return headers, rows, nil
}
