package sheets

import (
	"context"

	"budgetly/internal/core"
)

// Ports for outbound spreadsheet adapters.
type (
	// TransactionExporter appends a transaction as one spreadsheet row.
	// Appending a transaction already exported returns its existing row.
	TransactionExporter interface {
		Append(ctx context.Context, t core.Transaction) (rowRef string, err error)
	}

	// TransactionLister reads exported transactions back for one month.
	TransactionLister interface {
		ListTransactions(ctx context.Context, month string) ([]core.Transaction, error)
	}

	Exporter interface {
		TransactionExporter
		TransactionLister
	}
)
