package services

import (
	"context"
	"errors"
	"fmt"

	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

var ErrUnknownCategory = errors.New("category not in this month")

// TransactionService backs the history page.
type TransactionService struct {
	store     store.TransactionStore
	monthly   *MonthlyResolver
	publisher Publisher
	logger    *log.Logger
}

func NewTransactionService(st store.TransactionStore, monthly *MonthlyResolver, publisher Publisher, logger *log.Logger) *TransactionService {
	return &TransactionService{
		store:     st,
		monthly:   monthly,
		publisher: publisher,
		logger:    log.OrDiscard(logger).WithComponent(log.ComponentApp),
	}
}

// HistoryQuery is the base query of a user's history for one month.
func HistoryQuery(userID core.ID, month string) store.Query {
	q := store.Query{}.Where("userId", string(userID))
	if month != "" {
		q = q.Where("month", month)
	}
	return q
}

func (s *TransactionService) List(ctx context.Context, q store.Query) (store.Page[core.Transaction], error) {
	page, err := s.store.ListTransactions(ctx, q)
	if err != nil {
		return store.Page[core.Transaction]{}, fmt.Errorf("list transactions: %w", err)
	}
	return page, nil
}

// Create records a transaction for userID. When the month has a category
// list the category must be on it.
func (s *TransactionService) Create(ctx context.Context, userID core.ID, t core.Transaction) (core.Transaction, error) {
	t = t.Normalize()
	t.ID = ""
	t.UserID = userID
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}
	if s.monthly != nil {
		doc, err := s.monthly.Get(ctx, userID, t.Month)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return core.Transaction{}, err
		case len(doc.Categories) > 0 && !doc.HasCategory(t.Category):
			return core.Transaction{}, core.NewFieldError(ErrUnknownCategory, "category",
				"Choose a category from this month's list.")
		}
	}

	created, err := s.store.CreateTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Transaction created",
		log.FieldUserID, userID.String(), log.FieldMonth, created.Month,
		log.FieldCategory, created.Category, log.FieldAmount, created.Amount)

	if s.publisher != nil {
		if err := s.publisher.PublishTransactionCreated(ctx, created); err != nil {
			// The record is stored; only the export lags behind.
			s.logger.ErrorContext(ctx, "Failed to publish transaction event",
				log.FieldDocumentID, created.ID.String(), log.FieldError, err)
		}
	}
	return created, nil
}

// Delete removes one of userID's transactions.
func (s *TransactionService) Delete(ctx context.Context, userID, id core.ID) error {
	page, err := s.store.ListTransactions(ctx, store.Query{}.Where("id", string(id)).Where("userId", string(userID)))
	if err != nil {
		return fmt.Errorf("find transaction %s: %w", id, err)
	}
	if len(page.Items) == 0 {
		return fmt.Errorf("transaction %s: %w", id, store.ErrNotFound)
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	return nil
}

// Months lists the months offered by the history filter.
func (s *TransactionService) Months(ctx context.Context, userID core.ID) ([]string, error) {
	return s.monthly.Months(ctx, userID)
}

// Categories lists the category names of userID's month, empty when the
// month has no document.
func (s *TransactionService) Categories(ctx context.Context, userID core.ID, month string) ([]string, error) {
	doc, err := s.monthly.Get(ctx, userID, month)
	if errors.Is(err, store.ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return doc.CategoryNames(), nil
}
