package core

import (
	"sort"
	"strings"
)

// FieldErrors maps a form field to its inline message. It is returned by
// the Validate methods and surfaces to clients as a 422 body.
type FieldErrors map[string]string

// FieldForm is the key for errors that belong to the form as a whole.
const FieldForm = "form"

func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "no validation errors"
	}
	keys := make([]string, 0, len(fe))
	for k := range fe {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+fe[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records msg for field unless the field already has a message.
func (fe FieldErrors) Add(field, msg string) {
	if _, ok := fe[field]; !ok {
		fe[field] = msg
	}
}

// Err returns nil when there are no errors, so callers can write
// `return errs.Err()`.
func (fe FieldErrors) Err() error {
	if len(fe) == 0 {
		return nil
	}
	return fe
}

func (c Category) Validate() error {
	errs := FieldErrors{}
	name := strings.TrimSpace(c.Name)
	if name == "" {
		errs.Add("name", "Category name is required.")
	} else if len(name) > 100 {
		errs.Add("name", "Category name is too long (max 100 characters).")
	}
	return errs.Err()
}

func (e CategoryEntry) Validate() error {
	errs := FieldErrors{}
	if strings.TrimSpace(e.Name) == "" {
		errs.Add("name", "Category name is required.")
	}
	if e.Amount <= 0 {
		errs.Add("amount", "Amount must be greater than zero.")
	}
	return errs.Err()
}

func (t Transaction) Validate() error {
	errs := FieldErrors{}
	if strings.TrimSpace(t.Category) == "" {
		errs.Add("category", "Category is required.")
	}
	if t.Amount <= 0 {
		errs.Add("amount", "Amount must be greater than zero.")
	}
	if _, err := ParseMonth(t.Month); err != nil {
		errs.Add("month", "Month must use the YYYY-MM format.")
	}
	if len(t.Note) > 200 {
		errs.Add("note", "Note is too long (max 200 characters).")
	}
	switch t.Type {
	case "", Expense, Income:
	default:
		errs.Add("type", "Type must be expense or income.")
	}
	return errs.Err()
}

// ValidateProfile checks the fields the profile form marks as required.
func (u User) ValidateProfile() error {
	errs := FieldErrors{}
	if strings.TrimSpace(u.Name) == "" {
		errs.Add("name", "Name is required.")
	}
	if strings.TrimSpace(u.Email) == "" {
		errs.Add("email", "Email is required.")
	}
	if strings.TrimSpace(u.Phone) == "" {
		errs.Add("phone", "Phone is required.")
	}
	return errs.Err()
}

// fieldError is a sentinel error that also renders as inline form errors:
// errors.Is matches the sentinel, errors.As yields FieldErrors.
type fieldError struct {
	sentinel error
	fields   FieldErrors
}

// NewFieldError wraps sentinel so it surfaces as msg on field.
func NewFieldError(sentinel error, field, msg string) error {
	return fieldError{sentinel: sentinel, fields: FieldErrors{field: msg}}
}

func (e fieldError) Error() string { return e.sentinel.Error() }

func (e fieldError) Is(target error) bool { return target == e.sentinel }

func (e fieldError) As(target any) bool {
	if p, ok := target.(*FieldErrors); ok {
		*p = e.fields
		return true
	}
	return false
}
