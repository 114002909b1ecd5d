package google

import (
	"fmt"
	"strconv"
	"strings"

	"budgetly/internal/core"
)

// Row layout: A id, B month, C category, D amount, E note, F type, G user id.
const lastColumn = "G"

func transactionRow(t core.Transaction) []any {
	t = t.Normalize()
	return []any{string(t.ID), t.Month, t.Category, t.Amount, t.Note, string(t.Type), string(t.UserID)}
}

// parseTransactionRow reverses transactionRow. Header rows and rows with an
// unreadable amount are rejected.
func parseTransactionRow(row []any) (core.Transaction, bool) {
	cols := toStrings(row)
	if len(cols) < 4 || cols[0] == "" {
		return core.Transaction{}, false
	}
	if _, err := core.ParseMonth(cols[1]); err != nil {
		return core.Transaction{}, false
	}
	amount, err := strconv.ParseInt(cols[3], 10, 64)
	if err != nil {
		return core.Transaction{}, false
	}
	t := core.Transaction{
		ID:       core.ID(cols[0]),
		Month:    cols[1],
		Category: cols[2],
		Amount:   amount,
		Note:     safeGet(cols, 4),
		Type:     core.TransactionType(safeGet(cols, 5)),
		UserID:   core.ID(safeGet(cols, 6)),
	}
	return t.Normalize(), true
}

// findRow returns the 1-based row whose first cell is id, or 0.
func findRow(values [][]any, id core.ID) int {
	for i, row := range values {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == string(id) {
			return i + 1
		}
	}
	return 0
}

func rowRef(sheet string, row int) string {
	return fmt.Sprintf("%s!A%d:%s%d", sheet, row, lastColumn, row)
}

// sheetName returns "<year> <base>" for the year of month, unless base
// already starts with a year.
func sheetName(base, month string) (string, error) {
	m, err := core.ParseMonth(month)
	if err != nil {
		return "", fmt.Errorf("sheet for month %q: %w", month, err)
	}
	return yearPrefixedName(base, m.Year()), nil
}

func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
