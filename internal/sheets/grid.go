package sheets

import (
	"fmt"
	"strings"

	"dronecoord/internal/records"
)

// cellUpdate is a single-cell write. Previous holds the value it replaces.
type cellUpdate struct {
	SpreadsheetID string
	Range         string
	Value         string
	Previous      string
}

func revert(ups []cellUpdate) []cellUpdate {
	out := make([]cellUpdate, len(ups))
	for i, up := range ups {
		out[i] = cellUpdate{SpreadsheetID: up.SpreadsheetID, Range: up.Range, Value: up.Previous, Previous: up.Value}
	}
	return out
}

// grid is a worksheet's cell values; the first row is the header.
type grid struct {
	ws    worksheet
	cells [][]string
}

func (g grid) rows() []records.Row {
	if len(g.cells) == 0 {
		return nil
	}
	return records.FromCells(g.cells[0], g.cells[1:])
}

// column returns the index of the first header matching any of names
// after normalization, or -1.
func (g grid) column(names ...string) int {
	if len(g.cells) == 0 {
		return -1
	}
	for _, name := range names {
		for i, h := range g.cells[0] {
			if records.NormalizeHeader(h) == name {
				return i
			}
		}
	}
	return -1
}

func (g grid) value(row, col int) string {
	if row >= len(g.cells) || col >= len(g.cells[row]) {
		return ""
	}
	return g.cells[row][col]
}

// find returns the row index holding id in the id column.
func (g grid) find(id string, idCols ...string) (int, bool) {
	col := g.column(idCols...)
	if col < 0 {
		return 0, false
	}
	want := strings.TrimSpace(id)
	for r := 1; r < len(g.cells); r++ {
		if strings.EqualFold(strings.TrimSpace(g.value(r, col)), want) {
			return r, true
		}
	}
	return 0, false
}

func (g grid) cell(row, col int, value string) cellUpdate {
	return cellUpdate{
		SpreadsheetID: g.ws.spreadsheetID,
		Range:         fmt.Sprintf("%s!%s%d", quoteTab(g.ws.tab), columnName(col), row+1),
		Value:         value,
		Previous:      g.value(row, col),
	}
}

func (g grid) set(kind, id string, idCols []string, field, value string) (cellUpdate, error) {
	row, ok := g.find(id, idCols...)
	if !ok {
		return cellUpdate{}, NotFoundError{Kind: kind, ID: id}
	}
	col := g.column(field)
	if col < 0 {
		return cellUpdate{}, fmt.Errorf("worksheet %s has no %s column", g.ws.tab, field)
	}
	return g.cell(row, col, value), nil
}

// bind plans the status and current_assignment cells for one resource.
func (g grid) bind(kind, id string, idCols []string, status, current string) ([]cellUpdate, error) {
	st, err := g.set(kind, id, idCols, "status", status)
	if err != nil {
		return nil, err
	}
	cur, err := g.set(kind, id, idCols, "current_assignment", current)
	if err != nil {
		return nil, err
	}
	return []cellUpdate{st, cur}, nil
}

// release blanks the cells of an assignments worksheet naming id in field.
func (g grid) release(field, id string) []cellUpdate {
	if id == "" {
		return nil
	}
	col := g.column(field)
	if col < 0 {
		return nil
	}
	var out []cellUpdate
	for r := 1; r < len(g.cells); r++ {
		if strings.EqualFold(strings.TrimSpace(g.value(r, col)), id) {
			out = append(out, g.cell(r, col, ""))
		}
	}
	return out
}

// columnName converts a zero-based index to A1 column letters.
func columnName(i int) string {
	name := ""
	for i >= 0 {
		name = string(rune('A'+i%26)) + name
		i = i/26 - 1
	}
	return name
}
