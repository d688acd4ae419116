// Package intake turns an uploaded file into header-ordered raw rows.
//
// Supported inputs are delimited text (comma, semicolon, tab or pipe, UTF-8
// with or without BOM, Windows-1252 fallback), xlsx workbooks, the HTML-table
// ".xls" files many lead vendors export, and JSON arrays of objects. Input
// errors are returned as sentinel errors before any pipeline stage runs.
package intake

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"leadetl/internal/lead"
)

var (
	ErrEmptyFile       = errors.New("intake: file is empty")
	ErrNoHeaders       = errors.New("intake: no header row")
	ErrNoDataRows      = errors.New("intake: no data rows")
	ErrUnsupportedType = errors.New("intake: unsupported file type")
)

// Format is a detected input format.
type Format string

const (
	CSV  Format = "csv"
	XLSX Format = "xlsx"
	HTML Format = "html"
	JSON Format = "json"
)

// File is a parsed upload.
type File struct {
	Name    string           `json:"name"`
	Format  Format           `json:"format"`
	Headers []string         `json:"headers"`
	Rows    []lead.RawRecord `json:"-"`
	// Delimiter is set for delimited text.
	Delimiter string `json:"delimiter,omitempty"`
	// Sheet is the worksheet read from an xlsx workbook.
	Sheet string `json:"sheet,omitempty"`
	// Encoding is "utf-8" or "windows-1252".
	Encoding string `json:"encoding,omitempty"`
}

// Parse detects the format of data and parses it.
func Parse(name string, data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyFile
	}
	format, err := DetectFormat(name, data)
	if err != nil {
		return nil, err
	}

	var (
		headers []string
		rows    [][]any
		f       = &File{Name: name, Format: format}
	)
	switch format {
	case CSV:
		headers, rows, err = parseCSV(data, f)
	case XLSX:
		headers, rows, err = parseXLSX(data, f)
	case HTML:
		headers, rows, err = parseHTML(data)
	case JSON:
		headers, rows, err = parseJSON(data)
	}
	if err != nil {
		return nil, err
	}
	f.Headers, f.Rows, err = build(headers, rows)
	if err != nil {
		return nil, err
	}
	return f, nil
}

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

// DetectFormat picks a format from the file extension, falling back to
// content sniffing. Legacy binary .xls workbooks are rejected.
func DetectFormat(name string, data []byte) (Format, error) {
	head := bytes.TrimSpace(data[:min(len(data), 512)])
	head = bytes.TrimPrefix(head, []byte(utf8BOM))
	lower := bytes.ToLower(head)
	looksHTML := bytes.HasPrefix(lower, []byte("<")) && (bytes.Contains(lower, []byte("<table")) || bytes.Contains(lower, []byte("<html")))

	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".tsv", ".txt":
		return CSV, nil
	case ".xlsx", ".xlsm":
		return XLSX, nil
	case ".json":
		return JSON, nil
	case ".htm", ".html":
		return HTML, nil
	case ".xls":
		switch {
		case bytes.HasPrefix(data, zipMagic):
			return XLSX, nil
		case looksHTML:
			return HTML, nil
		}
		return "", fmt.Errorf("%w: binary .xls workbooks are not supported; save as .xlsx or .csv", ErrUnsupportedType)
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return XLSX, nil
	case bytes.HasPrefix(data, oleMagic):
		return "", fmt.Errorf("%w: binary office document", ErrUnsupportedType)
	case bytes.HasPrefix(head, []byte("[")):
		return JSON, nil
	case looksHTML:
		return HTML, nil
	case utf8.Valid(head) && !bytes.ContainsRune(head, 0):
		return CSV, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, name)
}

// build names blank and surplus columns, drops blank rows and pairs every
// cell with its header. Empty cells become nil. Headers keep their source
// text apart from trimming.
func build(headers []string, rows [][]any) ([]string, []lead.RawRecord, error) {
	named := false
	for i, h := range headers {
		h = strings.TrimSpace(h)
		if h == "" {
			h = columnName(i)
		} else {
			named = true
		}
		headers[i] = h
	}
	if !named {
		return nil, nil, ErrNoHeaders
	}

	var out []lead.RawRecord
	for _, row := range rows {
		if blankRow(row) {
			continue
		}
		for len(headers) < len(row) {
			headers = append(headers, columnName(len(headers)))
		}
		rec := make(lead.RawRecord, len(headers))
		for j, h := range headers {
			var v any
			if j < len(row) {
				v = row[j]
			}
			if s, ok := v.(string); ok && s == "" {
				v = nil
			}
			rec[j] = lead.Cell{Header: h, Value: v}
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return nil, nil, ErrNoDataRows
	}
	// Rows read before a wider row gained columns are padded.
	for i, rec := range out {
		for len(rec) < len(headers) {
			rec = append(rec, lead.Cell{Header: headers[len(rec)]})
		}
		out[i] = rec
	}
	return headers, out, nil
}

func columnName(i int) string { return fmt.Sprintf("column_%d", i+1) }

func blankRow(row []any) bool {
	for _, v := range row {
		if strings.TrimSpace(lead.ToString(v)) != "" {
			return false
		}
	}
	return true
}

func stringsToCells(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
