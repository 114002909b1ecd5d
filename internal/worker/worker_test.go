package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"budgetly/internal/amqp"
	"budgetly/internal/core"
	"budgetly/internal/services"
	"budgetly/internal/sheets"
	sheetsmem "budgetly/internal/sheets/memory"
	"budgetly/internal/store"
	"budgetly/internal/store/memory"
)

func fixture() *memory.Store {
	return memory.NewFromSnapshot(memory.Snapshot{
		Categories: []core.Category{
			{ID: "1", Name: "Food", Active: core.Bool(true)},
			{ID: "2", Name: "Retired", Active: core.Bool(false)},
		},
		Monthly: []core.MonthlyDocument{
			{ID: "10", UserID: "5", Month: "2025-10"},
			{ID: "11", UserID: "6", Month: "2025-10", Categories: []core.CategoryEntry{{ID: "1", Name: "Food"}}},
		},
		Transactions: []core.Transaction{
			{ID: "20", UserID: "5", Category: "Food", Amount: 10, Month: "2025-10"},
			{ID: "21", UserID: "5", Category: "Food", Amount: 15, Month: "2025-09"},
		},
	})
}

func newWorker(st *memory.Store, exp *sheetsmem.Exporter) *Worker {
	now := func() time.Time { return time.Date(2025, 10, 17, 9, 0, 0, 0, time.UTC) }
	var exporter sheets.TransactionExporter
	if exp != nil {
		exporter = exp
	}
	return New(services.NewSeeder(st, nil), st, st, exporter, Options{Now: now})
}

func TestHandleCategoryCreated(t *testing.T) {
	ctx := context.Background()
	st := fixture()
	w := newWorker(st, nil)

	err := w.HandleEvent(ctx, amqp.NewCategoryCreated(core.Category{ID: "3", Name: "Travel"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	for _, id := range []core.ID{"10", "11"} {
		doc, _ := st.GetMonthly(ctx, id)
		if !doc.HasCategory("Travel") {
			t.Fatalf("document %s not seeded: %+v", id, doc.Categories)
		}
	}
}

func TestHandleTransactionCreated(t *testing.T) {
	ctx := context.Background()
	exp := sheetsmem.New()
	w := newWorker(fixture(), exp)

	e := amqp.NewTransactionCreated(core.Transaction{ID: "20", Category: "Food", Amount: 10, Month: "2025-10"})
	for i := 0; i < 2; i++ {
		if err := w.HandleEvent(ctx, e); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if exp.Len() != 1 {
		t.Fatalf("redelivery exported twice: %d rows", exp.Len())
	}

	if err := newWorker(fixture(), nil).HandleEvent(ctx, e); err != nil {
		t.Fatalf("without exporter the event is acknowledged, got %v", err)
	}
}

func TestHandleUnknownEvent(t *testing.T) {
	err := newWorker(fixture(), nil).HandleEvent(context.Background(), amqp.Event{Type: "budget.sync"})
	if !errors.Is(err, amqp.ErrUnknownEvent) {
		t.Fatalf("want ErrUnknownEvent, got %v", err)
	}
}

func TestCatchUp(t *testing.T) {
	ctx := context.Background()
	st := fixture()
	exp := sheetsmem.New()
	w := newWorker(st, exp)

	if err := w.CatchUp(ctx); err != nil {
		t.Fatalf("catch up: %v", err)
	}
	doc, _ := st.GetMonthly(ctx, "10")
	if !doc.HasCategory("Food") || doc.HasCategory("Retired") {
		t.Fatalf("only active categories should be seeded: %+v", doc.Categories)
	}
	rows, _ := exp.ListTransactions(ctx, "")
	if len(rows) != 1 || rows[0].ID != "20" {
		t.Fatalf("only the current month should be exported: %+v", rows)
	}

	if err := w.CatchUp(ctx); err != nil {
		t.Fatalf("second catch up: %v", err)
	}
	doc, _ = st.GetMonthly(ctx, "10")
	if len(doc.Categories) != 1 || exp.Len() != 1 {
		t.Fatalf("catch-up is not idempotent: %+v, %d rows", doc.Categories, exp.Len())
	}
}

type failingCategories struct {
	store.CategoryStore
}

func (failingCategories) ListCategories(context.Context, store.Query) (store.Page[core.Category], error) {
	return store.Page[core.Category]{}, errors.New("store down")
}

func TestCatchUpReportsStoreFailure(t *testing.T) {
	st := fixture()
	w := New(services.NewSeeder(st, nil), failingCategories{}, st, nil, Options{})
	if err := w.CatchUp(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
}

type fakeConsumer struct {
	events []amqp.Event
	errs   []error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler amqp.Handler) error {
	for _, e := range f.events {
		f.errs = append(f.errs, handler(ctx, e))
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunStopsOnCancel(t *testing.T) {
	st := fixture()
	w := newWorker(st, nil)
	consumer := &fakeConsumer{events: []amqp.Event{amqp.NewCategoryCreated(core.Category{ID: "4", Name: "Gifts"})}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, consumer) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		doc, _ := st.GetMonthly(context.Background(), "10")
		if doc.HasCategory("Gifts") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event not handled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
