package intake

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// parseHTML reads the first <table>. The first row is the header row whether
// it uses <th> or <td> cells.
func parseHTML(data []byte) ([]string, [][]any, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("intake: parse html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, nil, ErrNoHeaders
	}

	var grid [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// Rows of nested tables belong to the inner table.
		if tr.Closest("table").Get(0) != table.Get(0) {
			return
		}
		var cells []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, c *goquery.Selection) {
			cells = append(cells, strings.Join(strings.Fields(c.Text()), " "))
		})
		grid = append(grid, cells)
	})
	if len(grid) == 0 {
		return nil, nil, ErrNoHeaders
	}
	rows := make([][]any, 0, len(grid)-1)
	for _, r := range grid[1:] {
		rows = append(rows, stringsToCells(r))
	}
	return grid[0], rows, nil
}
