// Package store declares the outbound ports to the backing data store and
// the query model shared by its adapters.
package store

import (
	"context"
	"errors"
	"fmt"

	"budgetly/internal/core"
)

// Collection names as exposed by the REST data store.
const (
	CollectionUsers        = "users"
	CollectionCategories   = "category"
	CollectionMonthly      = "monthlyCategories"
	CollectionTransactions = "transaction"
)

const (
	Asc  = "asc"
	Desc = "desc"
)

var ErrNotFound = errors.New("record not found")

// StatusError reports an unexpected HTTP status from the store.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

// Is lets a 404 from the store match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == 404
}

// Query selects one page of a collection. Zero values mean "no constraint":
// Page 0 or Limit 0 returns every match.
type Query struct {
	Page  int
	Limit int
	Sort  string
	Order string
	// Search is a free-text term matched against the collection's text fields.
	Search string
	// Like maps a field to a case-insensitive substring.
	Like map[string]string
	// Filters maps a field to an exact value.
	Filters map[string]string
}

// Paged reports whether the query asks for a single page.
func (q Query) Paged() bool { return q.Page > 0 && q.Limit > 0 }

// Offset is the index of the first record of the requested page.
func (q Query) Offset() int {
	if !q.Paged() {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// Where returns a copy of q with an exact filter added.
func (q Query) Where(field, value string) Query {
	next := make(map[string]string, len(q.Filters)+1)
	for k, v := range q.Filters {
		next[k] = v
	}
	next[field] = value
	q.Filters = next
	return q
}

// Page is one page of records plus the total number of matches.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// TotalPages is ceil(Total/limit), and at least 1.
func TotalPages(total, limit int) int {
	if limit <= 0 || total <= 0 {
		return 1
	}
	return (total + limit - 1) / limit
}

// Ports for outbound adapters.
type (
	UserStore interface {
		ListUsers(ctx context.Context, q Query) (Page[core.User], error)
		GetUser(ctx context.Context, id core.ID) (core.User, error)
		CreateUser(ctx context.Context, u core.User) (core.User, error)
		// UpdateUser replaces the whole record.
		UpdateUser(ctx context.Context, u core.User) (core.User, error)
		SetUserStatus(ctx context.Context, id core.ID, active bool) (core.User, error)
		SetUserPassword(ctx context.Context, id core.ID, password string) error
	}

	CategoryStore interface {
		ListCategories(ctx context.Context, q Query) (Page[core.Category], error)
		GetCategory(ctx context.Context, id core.ID) (core.Category, error)
		CreateCategory(ctx context.Context, c core.Category) (core.Category, error)
		UpdateCategory(ctx context.Context, c core.Category) (core.Category, error)
		SetCategoryActive(ctx context.Context, id core.ID, active bool) (core.Category, error)
	}

	MonthlyStore interface {
		ListMonthly(ctx context.Context, q Query) (Page[core.MonthlyDocument], error)
		GetMonthly(ctx context.Context, id core.ID) (core.MonthlyDocument, error)
		CreateMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error)
		// ReplaceMonthly writes the whole document, category list included.
		ReplaceMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error)
		SetMonthlyAmount(ctx context.Context, id core.ID, amount int64, updatedAt string) (core.MonthlyDocument, error)
	}

	TransactionStore interface {
		ListTransactions(ctx context.Context, q Query) (Page[core.Transaction], error)
		CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
		DeleteTransaction(ctx context.Context, id core.ID) error
	}

	// Store groups every collection together with lifecycle hooks.
	Store interface {
		UserStore
		CategoryStore
		MonthlyStore
		TransactionStore
		Ping(ctx context.Context) error
		Close() error
	}
)
