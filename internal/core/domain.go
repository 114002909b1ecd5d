package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Expense TransactionType = "expense"
	Income  TransactionType = "income"
)

// MonthLayout is the canonical month key used by monthly documents.
const MonthLayout = "2006-01"

type (
	TransactionType string

	// ID is a store-assigned identifier. The backing store may hand out
	// numbers or strings; numeric ids are written back as numbers.
	ID string

	User struct {
		ID       ID     `json:"id,omitempty"`
		Name     string `json:"name,omitempty"`
		Email    string `json:"email"`
		Phone    string `json:"phone,omitempty"`
		Gender   string `json:"gender,omitempty"`
		Password string `json:"password,omitempty"`
		Status   *bool  `json:"status,omitempty"`
	}

	Category struct {
		ID     ID     `json:"id,omitempty"`
		Name   string `json:"name"`
		Image  string `json:"image,omitempty"`
		Active *bool  `json:"active,omitempty"`
	}

	// CategoryEntry is the denormalized copy of a category stored inside
	// a monthly document, carrying the user's limit for that month.
	CategoryEntry struct {
		ID     ID     `json:"id"`
		Name   string `json:"name"`
		Amount int64  `json:"amount"`
	}

	MonthlyDocument struct {
		ID         ID              `json:"id,omitempty"`
		UserID     ID              `json:"userId"`
		Month      string          `json:"month"`
		Amount     int64           `json:"amount"`
		Categories []CategoryEntry `json:"categories"`
		UpdatedAt  string          `json:"updatedAt,omitempty"`
	}

	Transaction struct {
		ID       ID              `json:"id,omitempty"`
		UserID   ID              `json:"userId,omitempty"`
		Category string          `json:"category"`
		Amount   int64           `json:"amount"`
		Note     string          `json:"note"`
		Month    string          `json:"month"`
		Type     TransactionType `json:"type,omitempty"`
	}
)

var (
	ErrEmptyName     = errors.New("empty name")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidMonth  = errors.New("invalid month")
)

func (id ID) String() string { return string(id) }

func (id ID) IsZero() bool { return id == "" }

// MarshalJSON writes canonical decimal ids as numbers and everything else,
// including "0123" or "+5", as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte(`null`), nil
	}
	if id.isCanonicalInt() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) isCanonicalInt() bool {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// NewEntryID derives an id for a category entry the way the store would
// assign one for a fresh record: milliseconds since epoch.
func NewEntryID(now time.Time) ID {
	return ID(strconv.FormatInt(now.UnixMilli(), 10))
}

// Bool returns a pointer to v, for the optional flags on User and Category.
func Bool(v bool) *bool { return &v }

// IsActive reports the user's status flag. A missing flag counts as active.
func (u User) IsActive() bool { return u.Status == nil || *u.Status }

// IsActive reports the category's active flag. A missing flag counts as active.
func (c Category) IsActive() bool { return c.Active == nil || *c.Active }

// HasCategory reports whether the document already lists a category with
// the given name, ignoring case and surrounding whitespace.
func (d MonthlyDocument) HasCategory(name string) bool {
	return d.CategoryIndex(name) >= 0
}

// CategoryIndex returns the position of the named category or -1.
func (d MonthlyDocument) CategoryIndex(name string) int {
	key := NormalizeName(name)
	for i, c := range d.Categories {
		if NormalizeName(c.Name) == key {
			return i
		}
	}
	return -1
}

// PrependCategory returns a copy of the document with entry placed first.
// The receiver's slice is never modified.
func (d MonthlyDocument) PrependCategory(entry CategoryEntry) MonthlyDocument {
	next := make([]CategoryEntry, 0, len(d.Categories)+1)
	next = append(next, entry)
	next = append(next, d.Categories...)
	d.Categories = next
	return d
}

// CategoryNames returns the de-duplicated category names in list order.
func (d MonthlyDocument) CategoryNames() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(d.Categories))
	for _, c := range d.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		key := NormalizeName(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out
}

// LimitTotal sums the per-category limits of the document.
func (d MonthlyDocument) LimitTotal() int64 {
	var total int64
	for _, c := range d.Categories {
		total += c.Amount
	}
	return total
}

// NormalizeName is the comparison key for category names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ParseMonth validates a "YYYY-MM" month key.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidMonth
	}
	return t, nil
}

// CurrentMonth returns the month key for now.
func CurrentMonth(now time.Time) string {
	return now.Format(MonthLayout)
}

// Normalize fills defaults that the store leaves empty.
func (t Transaction) Normalize() Transaction {
	t.Category = strings.TrimSpace(t.Category)
	t.Note = strings.TrimSpace(t.Note)
	t.Month = strings.TrimSpace(t.Month)
	if t.Type == "" {
		t.Type = Expense
	}
	return t
}
