// Package form holds the add/edit modal state shared by the entity views:
// a draft record, inline field errors and the create-or-update submission.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"budgetly/internal/core"
)

type Mode string

const (
	ModeClosed Mode = ""
	ModeAdd    Mode = "add"
	ModeEdit   Mode = "edit"
)

// SaveErrorMessage is the inline error shown when the store rejects a save.
const SaveErrorMessage = "Could not save. Please try again."

var (
	ErrClosed     = errors.New("form is not open")
	ErrSubmitting = errors.New("form is already being submitted")
)

// Validator returns core.FieldErrors (or nil) for a draft.
type Validator[T any] func(T) error

type Saver[T any] interface {
	Create(ctx context.Context, v T) (T, error)
	Update(ctx context.Context, v T) (T, error)
}

// SaverFuncs adapts two functions to a Saver.
type SaverFuncs[T any] struct {
	CreateFunc func(ctx context.Context, v T) (T, error)
	UpdateFunc func(ctx context.Context, v T) (T, error)
}

func (s SaverFuncs[T]) Create(ctx context.Context, v T) (T, error) { return s.CreateFunc(ctx, v) }
func (s SaverFuncs[T]) Update(ctx context.Context, v T) (T, error) { return s.UpdateFunc(ctx, v) }

type State[T any] struct {
	Open   bool             `json:"open"`
	Mode   Mode             `json:"mode,omitempty"`
	Draft  T                `json:"draft"`
	Errors core.FieldErrors `json:"errors,omitempty"`
}

type Modal[T any] struct {
	saver    Saver[T]
	validate Validator[T]
	// OnSaved runs after a successful submit, typically to refresh a list.
	OnSaved func(ctx context.Context, saved T, mode Mode)

	mu         sync.Mutex
	mode       Mode
	draft      T
	errs       core.FieldErrors
	submitting bool
}

func NewModal[T any](saver Saver[T], validate Validator[T]) *Modal[T] {
	return &Modal[T]{saver: saver, validate: validate}
}

func (m *Modal[T]) OpenAdd(empty T) { m.open(ModeAdd, empty) }

func (m *Modal[T]) OpenEdit(existing T) { m.open(ModeEdit, existing) }

func (m *Modal[T]) open(mode Mode, draft T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = mode
	m.draft = draft
	m.errs = nil
}

func (m *Modal[T]) SetDraft(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draft = v
}

// State is a copy of the modal for the response body.
func (m *Modal[T]) State() State[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State[T]{Open: m.mode != ModeClosed, Mode: m.mode, Draft: m.draft, Errors: copyErrors(m.errs)}
}

// Submit validates the draft and saves it. Validation failures never reach
// the store. On a store failure the modal stays open with a form-level
// error; on success it closes and OnSaved runs.
func (m *Modal[T]) Submit(ctx context.Context) (T, error) {
	var zero T
	m.mu.Lock()
	if m.mode == ModeClosed {
		m.mu.Unlock()
		return zero, ErrClosed
	}
	if m.submitting {
		m.mu.Unlock()
		return zero, ErrSubmitting
	}
	mode, draft := m.mode, m.draft
	m.submitting = true
	m.errs = nil
	m.mu.Unlock()

	saved, err := m.save(ctx, mode, draft)

	m.mu.Lock()
	m.submitting = false
	if err != nil {
		var fe core.FieldErrors
		if errors.As(err, &fe) {
			m.errs = copyErrors(fe)
		} else {
			m.errs = core.FieldErrors{core.FieldForm: SaveErrorMessage}
		}
		m.mu.Unlock()
		return zero, err
	}
	m.mode = ModeClosed
	m.draft = zero
	m.mu.Unlock()

	if m.OnSaved != nil {
		m.OnSaved(ctx, saved, mode)
	}
	return saved, nil
}

func (m *Modal[T]) save(ctx context.Context, mode Mode, draft T) (T, error) {
	var zero T
	if m.validate != nil {
		if err := m.validate(draft); err != nil {
			return zero, err
		}
	}
	var (
		saved T
		err   error
	)
	if mode == ModeEdit {
		saved, err = m.saver.Update(ctx, draft)
	} else {
		saved, err = m.saver.Create(ctx, draft)
	}
	if err != nil {
		return zero, fmt.Errorf("save %s: %w", mode, err)
	}
	return saved, nil
}

func copyErrors(in core.FieldErrors) core.FieldErrors {
	if len(in) == 0 {
		return nil
	}
	out := make(core.FieldErrors, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
