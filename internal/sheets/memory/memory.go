package memory

import (
	"context"
	"fmt"
	"sync"

	"budgetly/internal/core"
	"budgetly/internal/sheets"
)

// Exporter keeps exported rows in process. It backs the worker when no
// spreadsheet is configured and doubles as a test fake.
type Exporter struct {
	mu   sync.Mutex
	rows []core.Transaction
	refs map[core.ID]string
}

var _ sheets.Exporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{refs: make(map[core.ID]string)}
}

func (e *Exporter) Append(_ context.Context, t core.Transaction) (string, error) {
	if t.ID.IsZero() {
		return "", fmt.Errorf("export transaction: missing id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if ref, ok := e.refs[t.ID]; ok {
		return ref, nil
	}
	e.rows = append(e.rows, t)
	ref := fmt.Sprintf("mem:%d", len(e.rows))
	e.refs[t.ID] = ref
	return ref, nil
}

// ListTransactions returns the rows of month in export order; an empty
// month returns every row.
func (e *Exporter) ListTransactions(_ context.Context, month string) ([]core.Transaction, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Transaction, 0, len(e.rows))
	for _, t := range e.rows {
		if month == "" || t.Month == month {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Exporter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rows)
}
