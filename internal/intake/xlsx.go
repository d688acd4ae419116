package intake

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// parseXLSX reads the active worksheet, or the first one when the active
// sheet is empty. The first non-blank row is the header row.
func parseXLSX(data []byte, f *File) ([]string, [][]any, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: xlsx: %v", ErrUnsupportedType, err)
	}
	defer wb.Close()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrNoHeaders
	}
	candidates := append([]string{wb.GetSheetName(wb.GetActiveSheetIndex())}, sheets...)

	var grid [][]string
	for _, name := range candidates {
		if name == "" {
			continue
		}
		rows, err := wb.GetRows(name)
		if err != nil {
			return nil, nil, fmt.Errorf("intake: xlsx: read sheet %q: %w", name, err)
		}
		if len(rows) > 0 {
			grid, f.Sheet = rows, name
			break
		}
	}

	for len(grid) > 0 && blankRow(stringsToCells(grid[0])) {
		grid = grid[1:]
	}
	if len(grid) == 0 {
		return nil, nil, ErrNoHeaders
	}
	rows := make([][]any, 0, len(grid)-1)
	for _, r := range grid[1:] {
		rows = append(rows, stringsToCells(r))
	}
	return grid[0], rows, nil
}
