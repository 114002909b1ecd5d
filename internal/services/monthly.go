package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

var ErrDuplicateCategory = errors.New("category already in this month")

// MonthlyResolver owns the per-user, per-month budget documents.
//
// The store offers no transactions, so every mutation of a document's
// category list re-fetches the document by id right before writing it back.
// That narrows the lost-update window against other writers without
// closing it.
type MonthlyResolver struct {
	store  store.MonthlyStore
	group  singleflight.Group
	now    func() time.Time
	logger *log.Logger
}

func NewMonthlyResolver(st store.MonthlyStore, logger *log.Logger) *MonthlyResolver {
	return &MonthlyResolver{
		store:  st,
		now:    time.Now,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentMonthly),
	}
}

// Get returns the document for (userID, month) or store.ErrNotFound.
func (r *MonthlyResolver) Get(ctx context.Context, userID core.ID, month string) (core.MonthlyDocument, error) {
	if _, err := core.ParseMonth(month); err != nil {
		return core.MonthlyDocument{}, err
	}
	doc, found, err := r.find(ctx, userID, month)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	if !found {
		return core.MonthlyDocument{}, store.ErrNotFound
	}
	return doc, nil
}

// FindOrCreate returns the first document for (userID, month), creating one
// with fallbackAmount and no categories when there is none. Concurrent calls
// for the same key in this process share one lookup.
func (r *MonthlyResolver) FindOrCreate(ctx context.Context, userID core.ID, month string, fallbackAmount int64) (core.MonthlyDocument, error) {
	if _, err := core.ParseMonth(month); err != nil {
		return core.MonthlyDocument{}, err
	}
	key := string(userID) + "|" + month
	v, err, _ := r.group.Do(key, func() (any, error) {
		doc, found, err := r.find(ctx, userID, month)
		if err != nil {
			return nil, err
		}
		if found {
			return doc, nil
		}
		created, err := r.store.CreateMonthly(ctx, core.MonthlyDocument{
			UserID:     userID,
			Month:      month,
			Amount:     fallbackAmount,
			Categories: []core.CategoryEntry{},
			UpdatedAt:  r.stamp(),
		})
		if err != nil {
			return nil, fmt.Errorf("create monthly document: %w", err)
		}
		r.logger.InfoContext(ctx, "Monthly document created",
			log.NewFields().WithMonthly(created.ID.String(), userID.String(), month).ToSlice()...)
		return created, nil
	})
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	return cloneDoc(v.(core.MonthlyDocument)), nil
}

// AddCategoryLimit puts a new {name, amount} entry at the front of the
// month's category list.
func (r *MonthlyResolver) AddCategoryLimit(ctx context.Context, userID core.ID, month, name string, amount, fallbackAmount int64) (core.MonthlyDocument, error) {
	entry := core.CategoryEntry{Name: strings.TrimSpace(name), Amount: amount}
	if err := entry.Validate(); err != nil {
		return core.MonthlyDocument{}, err
	}
	base, err := r.FindOrCreate(ctx, userID, month, fallbackAmount)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	fresh, err := r.store.GetMonthly(ctx, base.ID)
	if err != nil {
		return core.MonthlyDocument{}, fmt.Errorf("re-fetch monthly document %s: %w", base.ID, err)
	}
	if fresh.HasCategory(entry.Name) {
		return core.MonthlyDocument{}, duplicateCategory(entry.Name)
	}
	entry.ID = freshEntryID(fresh, r.now())
	next := fresh.PrependCategory(entry)
	next.UpdatedAt = r.stamp()
	return r.write(ctx, next, "add category limit")
}

// UpdateCategoryLimit renames or re-prices the entry with entryID.
func (r *MonthlyResolver) UpdateCategoryLimit(ctx context.Context, userID core.ID, month string, entryID core.ID, name string, amount int64) (core.MonthlyDocument, error) {
	entry := core.CategoryEntry{ID: entryID, Name: strings.TrimSpace(name), Amount: amount}
	if err := entry.Validate(); err != nil {
		return core.MonthlyDocument{}, err
	}
	fresh, err := r.fresh(ctx, userID, month)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	idx := entryIndex(fresh, entryID)
	if idx < 0 {
		return core.MonthlyDocument{}, fmt.Errorf("category entry %s: %w", entryID, store.ErrNotFound)
	}
	if other := fresh.CategoryIndex(entry.Name); other >= 0 && other != idx {
		return core.MonthlyDocument{}, duplicateCategory(entry.Name)
	}
	next := cloneDoc(fresh)
	next.Categories[idx] = entry
	next.UpdatedAt = r.stamp()
	return r.write(ctx, next, "update category limit")
}

// RemoveCategoryLimit deletes the entry with entryID from the month.
func (r *MonthlyResolver) RemoveCategoryLimit(ctx context.Context, userID core.ID, month string, entryID core.ID) (core.MonthlyDocument, error) {
	fresh, err := r.fresh(ctx, userID, month)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	idx := entryIndex(fresh, entryID)
	if idx < 0 {
		return core.MonthlyDocument{}, fmt.Errorf("category entry %s: %w", entryID, store.ErrNotFound)
	}
	next := fresh
	next.Categories = make([]core.CategoryEntry, 0, len(fresh.Categories)-1)
	next.Categories = append(next.Categories, fresh.Categories[:idx]...)
	next.Categories = append(next.Categories, fresh.Categories[idx+1:]...)
	next.UpdatedAt = r.stamp()
	return r.write(ctx, next, "remove category limit")
}

// SetAmount sets the month's budget: a partial update when the document
// exists, otherwise a new document with an empty category list.
func (r *MonthlyResolver) SetAmount(ctx context.Context, userID core.ID, month string, amount int64) (core.MonthlyDocument, error) {
	if amount < 0 {
		return core.MonthlyDocument{}, core.FieldErrors{"amount": "Amount cannot be negative."}
	}
	if _, err := core.ParseMonth(month); err != nil {
		return core.MonthlyDocument{}, core.FieldErrors{"month": "Month must use the YYYY-MM format."}
	}
	doc, found, err := r.find(ctx, userID, month)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	if found {
		updated, err := r.store.SetMonthlyAmount(ctx, doc.ID, amount, r.stamp())
		if err != nil {
			return core.MonthlyDocument{}, fmt.Errorf("set monthly amount: %w", err)
		}
		return updated, nil
	}
	return r.FindOrCreate(ctx, userID, month, amount)
}

// Months lists the months the user has documents for, newest first.
func (r *MonthlyResolver) Months(ctx context.Context, userID core.ID) ([]string, error) {
	page, err := r.store.ListMonthly(ctx, store.Query{Filters: map[string]string{"userId": string(userID)}})
	if err != nil {
		return nil, fmt.Errorf("list monthly documents: %w", err)
	}
	seen := map[string]struct{}{}
	months := make([]string, 0, len(page.Items))
	for _, d := range page.Items {
		if _, ok := seen[d.Month]; ok || d.Month == "" {
			continue
		}
		seen[d.Month] = struct{}{}
		months = append(months, d.Month)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(months)))
	return months, nil
}

func (r *MonthlyResolver) find(ctx context.Context, userID core.ID, month string) (core.MonthlyDocument, bool, error) {
	q := store.Query{Filters: map[string]string{"userId": string(userID), "month": month}}
	page, err := r.store.ListMonthly(ctx, q)
	if err != nil {
		return core.MonthlyDocument{}, false, fmt.Errorf("find monthly document: %w", err)
	}
	if len(page.Items) == 0 {
		return core.MonthlyDocument{}, false, nil
	}
	if len(page.Items) > 1 {
		r.logger.WarnContext(ctx, "Duplicate monthly documents, using the first",
			log.FieldUserID, userID.String(), log.FieldMonth, month, "count", len(page.Items))
	}
	return page.Items[0], true, nil
}

// fresh looks the document up and re-reads it by id.
func (r *MonthlyResolver) fresh(ctx context.Context, userID core.ID, month string) (core.MonthlyDocument, error) {
	doc, err := r.Get(ctx, userID, month)
	if err != nil {
		return core.MonthlyDocument{}, err
	}
	fresh, err := r.store.GetMonthly(ctx, doc.ID)
	if err != nil {
		return core.MonthlyDocument{}, fmt.Errorf("re-fetch monthly document %s: %w", doc.ID, err)
	}
	return fresh, nil
}

func (r *MonthlyResolver) write(ctx context.Context, doc core.MonthlyDocument, op string) (core.MonthlyDocument, error) {
	saved, err := r.store.ReplaceMonthly(ctx, doc)
	if err != nil {
		return core.MonthlyDocument{}, fmt.Errorf("%s: %w", op, err)
	}
	r.logger.InfoContext(ctx, "Monthly document updated",
		log.NewFields().WithMonthly(doc.ID.String(), doc.UserID.String(), doc.Month).WithOperation(op).ToSlice()...)
	return saved, nil
}

func (r *MonthlyResolver) stamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func duplicateCategory(name string) error {
	return core.NewFieldError(ErrDuplicateCategory, "name", fmt.Sprintf("%q is already in this month.", name))
}

// freshEntryID returns a millisecond id not yet used in d. Entries added
// within the same millisecond get the following ones.
func freshEntryID(d core.MonthlyDocument, now time.Time) core.ID {
	id := core.NewEntryID(now)
	for entryIndex(d, id) >= 0 {
		now = now.Add(time.Millisecond)
		id = core.NewEntryID(now)
	}
	return id
}

func entryIndex(d core.MonthlyDocument, id core.ID) int {
	for i, c := range d.Categories {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func cloneDoc(d core.MonthlyDocument) core.MonthlyDocument {
	cats := make([]core.CategoryEntry, len(d.Categories))
	copy(cats, d.Categories)
	d.Categories = cats
	return d
}
