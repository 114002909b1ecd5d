// Package optimistic applies a change to local view state before the store
// confirms it and rolls the change back if the store rejects it.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"budgetly/internal/core"
	"budgetly/internal/listing"
)

// ErrInFlight is returned when a record already has an update running.
var ErrInFlight = errors.New("update already in progress")

// Mutation describes one optimistic change over state of type S.
type Mutation[S any] struct {
	Snapshot func() S
	Apply    func()
	Run      func(ctx context.Context) error
	Restore  func(S)
}

// Do snapshots, applies, runs, and restores the snapshot when Run fails.
// Success is a no-op beyond Apply.
func Do[S any](ctx context.Context, m Mutation[S]) error {
	snap := m.Snapshot()
	m.Apply()
	if err := m.Run(ctx); err != nil {
		m.Restore(snap)
		return err
	}
	return nil
}

// Toggler tracks which records have an update in flight.
type Toggler struct {
	mu       sync.Mutex
	inflight map[core.ID]struct{}
}

func NewToggler() *Toggler {
	return &Toggler{inflight: make(map[core.ID]struct{})}
}

// Acquire marks id as busy. The returned release must be called once the
// update finishes.
func (t *Toggler) Acquire(id core.ID) (release func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.inflight[id]; busy {
		return nil, ErrInFlight
	}
	t.inflight[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.inflight, id)
			t.mu.Unlock()
		})
	}, nil
}

// Busy lists the ids with an update in flight, sorted.
func (t *Toggler) Busy() []core.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]core.ID, 0, len(t.inflight))
	for id := range t.inflight {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Toggle flips record id in list, persists the flipped record with save
// and undoes the flip if save fails. Only one toggle per record runs at a
// time.
func Toggle[T any](ctx context.Context, t *Toggler, list *listing.Controller[T], id core.ID, flip func(T) T, save func(ctx context.Context, next T) error) (T, error) {
	var zero T
	release, err := t.Acquire(id)
	if err != nil {
		return zero, err
	}
	defer release()

	current, ok := list.Find(id)
	if !ok {
		return zero, fmt.Errorf("toggle %s: not on the current page", id)
	}
	next := flip(current)

	err = Do(ctx, Mutation[listing.Snapshot[T]]{
		Snapshot: list.Snapshot,
		Apply:    func() { list.Patch(id, func(T) T { return next }) },
		Run:      func(ctx context.Context) error { return save(ctx, next) },
		Restore:  func(s listing.Snapshot[T]) { list.Restore(s, id) },
	})
	if err != nil {
		return current, err
	}
	return next, nil
}
