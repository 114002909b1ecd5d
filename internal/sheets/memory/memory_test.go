package memory

import (
	"context"
	"testing"

	"budgetly/internal/core"
)

func TestAppendIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	e := New()

	ref, err := e.Append(ctx, core.Transaction{ID: "1", Category: "Food", Amount: 10, Month: "2025-10"})
	if err != nil || ref != "mem:1" {
		t.Fatalf("unexpected append: ref=%q err=%v", ref, err)
	}
	again, err := e.Append(ctx, core.Transaction{ID: "1", Category: "Food", Amount: 10, Month: "2025-10"})
	if err != nil || again != ref {
		t.Fatalf("redelivery should return the existing row, got %q (%v)", again, err)
	}
	if _, err := e.Append(ctx, core.Transaction{ID: "2", Category: "Rent", Amount: 400, Month: "2025-11"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", e.Len())
	}

	oct, _ := e.ListTransactions(ctx, "2025-10")
	if len(oct) != 1 || oct[0].ID != "1" {
		t.Fatalf("unexpected month rows: %+v", oct)
	}
	all, _ := e.ListTransactions(ctx, "")
	if len(all) != 2 {
		t.Fatalf("unexpected rows: %+v", all)
	}
}

func TestAppendRequiresID(t *testing.T) {
	if _, err := New().Append(context.Background(), core.Transaction{Category: "Food"}); err == nil {
		t.Fatal("transaction without id accepted")
	}
}
