package intake

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// parseJSON reads an array of flat objects. Headers are the union of object
// keys in first-seen order, so the column order of the export survives.
func parseJSON(data []byte) ([]string, [][]any, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimPrefix(data, []byte(utf8BOM))))

	if err := expectDelim(dec, '['); err != nil {
		return nil, nil, err
	}

	var (
		headers []string
		index   = map[string]int{}
		rows    [][]any
	)
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, nil, err
		}
		row := make([]any, len(headers))
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, nil, fmt.Errorf("intake: json: %w", err)
			}
			key, _ := tok.(string)
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, nil, fmt.Errorf("intake: json: value for %q: %w", key, err)
			}
			j, ok := index[key]
			if !ok {
				j = len(headers)
				index[key] = j
				headers = append(headers, key)
			}
			for len(row) <= j {
				row = append(row, nil)
			}
			row[j] = v
		}
		if _, err := dec.Token(); err != nil {
			return nil, nil, fmt.Errorf("intake: json: %w", err)
		}
		rows = append(rows, row)
	}
	if len(headers) == 0 {
		if len(rows) == 0 {
			return nil, nil, ErrNoDataRows
		}
		return nil, nil, ErrNoHeaders
	}
	return headers, rows, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return ErrEmptyFile
	}
	if err != nil {
		return fmt.Errorf("intake: json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: json: expected %q, got %v", ErrUnsupportedType, want, tok)
	}
	return nil
}
