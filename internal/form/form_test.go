package form

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"budgetly/internal/core"
)

type recordingSaver struct {
	created, updated int
	fail             error
}

func (r *recordingSaver) Create(_ context.Context, c core.Category) (core.Category, error) {
	r.created++
	if r.fail != nil {
		return core.Category{}, r.fail
	}
	c.ID = "1"
	return c, nil
}

func (r *recordingSaver) Update(_ context.Context, c core.Category) (core.Category, error) {
	r.updated++
	return c, r.fail
}

func validateCategory(c core.Category) error { return c.Validate() }

func TestSubmitValidationStopsBeforeSave(t *testing.T) {
	saver := &recordingSaver{}
	m := NewModal[core.Category](saver, validateCategory)
	m.OpenAdd(core.Category{})
	m.SetDraft(core.Category{Name: "   "})

	if _, err := m.Submit(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if saver.created != 0 {
		t.Fatal("store must not be called for an invalid draft")
	}
	if st := m.State(); !st.Open || st.Errors["name"] == "" {
		t.Fatalf("modal should stay open with a name error: %+v", m.State())
	}
}

func TestSubmitCreateClosesAndNotifies(t *testing.T) {
	saver := &recordingSaver{}
	m := NewModal[core.Category](saver, validateCategory)
	var refreshed core.Category
	m.OnSaved = func(_ context.Context, c core.Category, mode Mode) {
		if mode == ModeAdd {
			refreshed = c
		}
	}
	m.OpenAdd(core.Category{})
	m.SetDraft(core.Category{Name: "Food"})

	saved, err := m.Submit(context.Background())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if saved.ID != "1" || refreshed.ID != "1" || saver.created != 1 {
		t.Fatalf("unexpected save: %+v refreshed=%+v", saved, refreshed)
	}
	if st := m.State(); st.Open || st.Draft.Name != "" {
		t.Fatal("modal should close and clear the draft")
	}
}

func TestSubmitEditFailureKeepsModalOpen(t *testing.T) {
	saver := &recordingSaver{fail: errors.New("503")}
	m := NewModal[core.Category](saver, validateCategory)
	m.OpenEdit(core.Category{ID: "4", Name: "Rent"})

	if _, err := m.Submit(context.Background()); err == nil {
		t.Fatal("expected store error")
	}
	if saver.updated != 1 || saver.created != 0 {
		t.Fatalf("edit mode should update: %+v", saver)
	}
	st := m.State()
	if !st.Open || st.Mode != ModeEdit || st.Errors[core.FieldForm] != SaveErrorMessage || st.Draft.Name != "Rent" {
		t.Fatalf("unexpected state: %+v", st)
	}

	saver.fail = nil
	if _, err := m.Submit(context.Background()); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.State().Open {
		t.Fatal("retry should close the modal")
	}
}

func TestSubmitClosed(t *testing.T) {
	m := NewModal[core.Category](&recordingSaver{}, nil)
	if _, err := m.Submit(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestImageDataURI(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
	uri, err := ImageDataURI(bytes.NewReader(png))
	if err != nil {
		t.Fatalf("data uri: %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Fatalf("unexpected prefix: %s", uri[:30])
	}

	uri, _ = ImageDataURI(strings.NewReader("plain text"))
	if !strings.HasPrefix(uri, "data:text/plain;base64,") {
		t.Fatalf("parameters should be stripped: %s", uri)
	}

	big := bytes.Repeat([]byte{0}, MaxImageBytes+1)
	if _, err := ImageDataURI(bytes.NewReader(big)); !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}
}
