package services

import (
	"context"

	"budgetly/internal/core"
)

// Publisher hands domain events to the background worker. A nil Publisher
// means no broker is configured and the work runs inline.
type Publisher interface {
	PublishCategoryCreated(ctx context.Context, c core.Category) error
	PublishTransactionCreated(ctx context.Context, t core.Transaction) error
}
