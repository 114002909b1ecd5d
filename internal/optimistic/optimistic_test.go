package optimistic

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"budgetly/internal/core"
	"budgetly/internal/listing"
	"budgetly/internal/store"
)

type account struct {
	ID     core.ID
	Active bool
}

func flip(a account) account { a.Active = !a.Active; return a }

func newList(t *testing.T, rows ...account) *listing.Controller[account] {
	t.Helper()
	fetch := func(context.Context, store.Query) (store.Page[account], error) {
		return store.Page[account]{Items: append([]account(nil), rows...), Total: len(rows)}, nil
	}
	c := listing.New[account](fetch, func(a account) core.ID { return a.ID }, listing.Options{})
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return c
}

func TestDoRestoresOnFailure(t *testing.T) {
	state := 1
	err := Do(context.Background(), Mutation[int]{
		Snapshot: func() int { return state },
		Apply:    func() { state = 2 },
		Run:      func(context.Context) error { return errors.New("boom") },
		Restore:  func(s int) { state = s },
	})
	if err == nil || state != 1 {
		t.Fatalf("expected rollback to 1, got %d (err=%v)", state, err)
	}

	err = Do(context.Background(), Mutation[int]{
		Snapshot: func() int { return state },
		Apply:    func() { state = 3 },
		Run:      func(context.Context) error { return nil },
		Restore:  func(s int) { state = s },
	})
	if err != nil || state != 3 {
		t.Fatalf("expected applied state 3, got %d (err=%v)", state, err)
	}
}

func TestToggleRollsBackOnSaveFailure(t *testing.T) {
	list := newList(t, account{ID: "1", Active: true}, account{ID: "2", Active: true})
	before := list.State().Items

	var sawFlipped bool
	_, err := Toggle(context.Background(), NewToggler(), list, "1", flip, func(ctx context.Context, next account) error {
		cur, _ := list.Find("1")
		sawFlipped = !cur.Active && !next.Active
		return errors.New("network down")
	})
	if err == nil {
		t.Fatal("expected save error")
	}
	if !sawFlipped {
		t.Fatal("list should show the flipped value while the save runs")
	}
	after := list.State().Items
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("rollback law violated: before=%v after=%v", before, after)
		}
	}
}

func TestToggleKeepsChangeOnSuccess(t *testing.T) {
	list := newList(t, account{ID: "1", Active: true})
	next, err := Toggle(context.Background(), NewToggler(), list, "1", flip, func(context.Context, account) error { return nil })
	if err != nil || next.Active {
		t.Fatalf("unexpected result %+v err=%v", next, err)
	}
	if cur, _ := list.Find("1"); cur.Active {
		t.Fatal("toggle should stick after success")
	}
}

func TestToggleRejectsReentry(t *testing.T) {
	list := newList(t, account{ID: "1", Active: true})
	tg := NewToggler()

	var inner error
	_, err := Toggle(context.Background(), tg, list, "1", flip, func(ctx context.Context, _ account) error {
		_, inner = Toggle(ctx, tg, list, "1", flip, func(context.Context, account) error { return nil })
		return nil
	})
	if err != nil {
		t.Fatalf("outer toggle: %v", err)
	}
	if !errors.Is(inner, ErrInFlight) {
		t.Fatalf("expected ErrInFlight, got %v", inner)
	}
	if busy := tg.Busy(); len(busy) != 0 {
		t.Fatalf("marker should be released after the toggle, busy = %v", busy)
	}
}

func TestTogglerMarkersAreIndependent(t *testing.T) {
	tg := NewToggler()
	var releases []func()
	for i := 1; i <= 3; i++ {
		rel, err := tg.Acquire(core.ID(strconv.Itoa(i)))
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		releases = append(releases, rel)
	}
	if busy := tg.Busy(); len(busy) != 3 || busy[0] != "1" || busy[2] != "3" {
		t.Fatalf("expected busy ids 1..3 in order, got %v", busy)
	}
	releases[0]()
	releases[0]()
	if _, err := tg.Acquire("1"); err != nil {
		t.Fatalf("id 1 should be free again: %v", err)
	}
}
