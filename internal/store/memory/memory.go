package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"budgetly/internal/core"
	"budgetly/internal/store"
)

// Store is an in-process implementation of every store port. It follows the
// query semantics of the REST data store closely enough to stand in for it
// in tests and local runs.
type Store struct {
	mu      sync.Mutex
	lastID  int64
	users   []core.User
	cats    []core.Category
	monthly []core.MonthlyDocument
	txs     []core.Transaction
}

var _ store.Store = (*Store)(nil)

// Snapshot is the on-disk layout of a json-server database file.
type Snapshot struct {
	Users        []core.User            `json:"users"`
	Categories   []core.Category        `json:"category"`
	Monthly      []core.MonthlyDocument `json:"monthlyCategories"`
	Transactions []core.Transaction     `json:"transaction"`
}

func New() *Store { return &Store{} }

// NewFromSnapshot copies the records of snap into a fresh store. Records
// without an id get one.
func NewFromSnapshot(snap Snapshot) *Store {
	s := &Store{}
	for _, u := range snap.Users {
		u.ID = s.ensureID(u.ID)
		s.users = append(s.users, u)
	}
	for _, c := range snap.Categories {
		c.ID = s.ensureID(c.ID)
		s.cats = append(s.cats, c)
	}
	for _, d := range snap.Monthly {
		d.ID = s.ensureID(d.ID)
		d.Categories = cloneEntries(d.Categories)
		s.monthly = append(s.monthly, d)
	}
	for _, t := range snap.Transactions {
		t.ID = s.ensureID(t.ID)
		s.txs = append(s.txs, t)
	}
	return s
}

// NewFromFile loads a json-server db.json file. A missing file yields an
// empty store.
func NewFromFile(path string) (*Store, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode seed file: %w", err)
	}
	return NewFromSnapshot(snap), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// ensureID must be called with s.mu held or before the store is shared.
func (s *Store) ensureID(id core.ID) core.ID {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && n > s.lastID {
		s.lastID = n
	}
	if id != "" {
		return id
	}
	s.lastID++
	return core.ID(strconv.FormatInt(s.lastID, 10))
}

// Users

func userFields(u core.User) map[string]string {
	return map[string]string{
		"id":     string(u.ID),
		"name":   u.Name,
		"email":  u.Email,
		"phone":  u.Phone,
		"gender": u.Gender,
		"status": strconv.FormatBool(u.IsActive()),
	}
}

func (s *Store) ListUsers(_ context.Context, q store.Query) (store.Page[core.User], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return find(s.users, q, userFields, "name", "email", "phone"), nil
}

func (s *Store) GetUser(_ context.Context, id core.ID) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.users, id, func(u core.User) core.ID { return u.ID })
	if i < 0 {
		return core.User{}, store.ErrNotFound
	}
	return s.users[i], nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = ""
	u.ID = s.ensureID(u.ID)
	s.users = append(s.users, u)
	return u, nil
}

func (s *Store) UpdateUser(_ context.Context, u core.User) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.users, u.ID, func(u core.User) core.ID { return u.ID })
	if i < 0 {
		return core.User{}, store.ErrNotFound
	}
	s.users[i] = u
	return u, nil
}

func (s *Store) SetUserStatus(_ context.Context, id core.ID, active bool) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.users, id, func(u core.User) core.ID { return u.ID })
	if i < 0 {
		return core.User{}, store.ErrNotFound
	}
	s.users[i].Status = core.Bool(active)
	return s.users[i], nil
}

func (s *Store) SetUserPassword(_ context.Context, id core.ID, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.users, id, func(u core.User) core.ID { return u.ID })
	if i < 0 {
		return store.ErrNotFound
	}
	s.users[i].Password = password
	return nil
}

// Categories

func categoryFields(c core.Category) map[string]string {
	return map[string]string{
		"id":     string(c.ID),
		"name":   c.Name,
		"image":  c.Image,
		"active": strconv.FormatBool(c.IsActive()),
	}
}

func (s *Store) ListCategories(_ context.Context, q store.Query) (store.Page[core.Category], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return find(s.cats, q, categoryFields, "name"), nil
}

func (s *Store) GetCategory(_ context.Context, id core.ID) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.cats, id, func(c core.Category) core.ID { return c.ID })
	if i < 0 {
		return core.Category{}, store.ErrNotFound
	}
	return s.cats[i], nil
}

func (s *Store) CreateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = ""
	c.ID = s.ensureID(c.ID)
	s.cats = append(s.cats, c)
	return c, nil
}

func (s *Store) UpdateCategory(_ context.Context, c core.Category) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.cats, c.ID, func(c core.Category) core.ID { return c.ID })
	if i < 0 {
		return core.Category{}, store.ErrNotFound
	}
	s.cats[i] = c
	return c, nil
}

func (s *Store) SetCategoryActive(_ context.Context, id core.ID, active bool) (core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.cats, id, func(c core.Category) core.ID { return c.ID })
	if i < 0 {
		return core.Category{}, store.ErrNotFound
	}
	s.cats[i].Active = core.Bool(active)
	return s.cats[i], nil
}

// Monthly documents

func monthlyFields(d core.MonthlyDocument) map[string]string {
	return map[string]string{
		"id":        string(d.ID),
		"userId":    string(d.UserID),
		"month":     d.Month,
		"amount":    strconv.FormatInt(d.Amount, 10),
		"updatedAt": d.UpdatedAt,
	}
}

func (s *Store) ListMonthly(_ context.Context, q store.Query) (store.Page[core.MonthlyDocument], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	page := find(s.monthly, q, monthlyFields, "month")
	for i := range page.Items {
		page.Items[i].Categories = cloneEntries(page.Items[i].Categories)
	}
	return page, nil
}

func (s *Store) GetMonthly(_ context.Context, id core.ID) (core.MonthlyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.monthly, id, func(d core.MonthlyDocument) core.ID { return d.ID })
	if i < 0 {
		return core.MonthlyDocument{}, store.ErrNotFound
	}
	d := s.monthly[i]
	d.Categories = cloneEntries(d.Categories)
	return d, nil
}

func (s *Store) CreateMonthly(_ context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = ""
	d.ID = s.ensureID(d.ID)
	d.Categories = cloneEntries(d.Categories)
	s.monthly = append(s.monthly, d)
	d.Categories = cloneEntries(d.Categories)
	return d, nil
}

func (s *Store) ReplaceMonthly(_ context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.monthly, d.ID, func(d core.MonthlyDocument) core.ID { return d.ID })
	if i < 0 {
		return core.MonthlyDocument{}, store.ErrNotFound
	}
	d.Categories = cloneEntries(d.Categories)
	s.monthly[i] = d
	d.Categories = cloneEntries(d.Categories)
	return d, nil
}

func (s *Store) SetMonthlyAmount(_ context.Context, id core.ID, amount int64, updatedAt string) (core.MonthlyDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.monthly, id, func(d core.MonthlyDocument) core.ID { return d.ID })
	if i < 0 {
		return core.MonthlyDocument{}, store.ErrNotFound
	}
	s.monthly[i].Amount = amount
	s.monthly[i].UpdatedAt = updatedAt
	d := s.monthly[i]
	d.Categories = cloneEntries(d.Categories)
	return d, nil
}

// Transactions

func transactionFields(t core.Transaction) map[string]string {
	return map[string]string{
		"id":       string(t.ID),
		"userId":   string(t.UserID),
		"category": t.Category,
		"amount":   strconv.FormatInt(t.Amount, 10),
		"note":     t.Note,
		"month":    t.Month,
		"type":     string(t.Type),
	}
}

func (s *Store) ListTransactions(_ context.Context, q store.Query) (store.Page[core.Transaction], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return find(s.txs, q, transactionFields, "category", "note"), nil
}

func (s *Store) CreateTransaction(_ context.Context, t core.Transaction) (core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = ""
	t.ID = s.ensureID(t.ID)
	s.txs = append(s.txs, t)
	return t, nil
}

func (s *Store) DeleteTransaction(_ context.Context, id core.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := indexOf(s.txs, id, func(t core.Transaction) core.ID { return t.ID })
	if i < 0 {
		return store.ErrNotFound
	}
	s.txs = append(s.txs[:i], s.txs[i+1:]...)
	return nil
}

// find applies filters, search, sort and pagination the way json-server does.
func find[T any](items []T, q store.Query, fields func(T) map[string]string, text ...string) store.Page[T] {
	matched := make([]T, 0, len(items))
	var keys []map[string]string
	search := strings.ToLower(strings.TrimSpace(q.Search))
	for _, it := range items {
		f := fields(it)
		if !matches(f, q, search, text) {
			continue
		}
		matched = append(matched, it)
		keys = append(keys, f)
	}

	if q.Sort != "" {
		idx := make([]int, len(matched))
		for i := range idx {
			idx[i] = i
		}
		desc := strings.EqualFold(q.Order, store.Desc)
		sort.SliceStable(idx, func(a, b int) bool {
			c := compare(keys[idx[a]][q.Sort], keys[idx[b]][q.Sort])
			if desc {
				return c > 0
			}
			return c < 0
		})
		sorted := make([]T, len(matched))
		for i, j := range idx {
			sorted[i] = matched[j]
		}
		matched = sorted
	}

	total := len(matched)
	if q.Paged() {
		start := q.Offset()
		if start > total {
			start = total
		}
		end := start + q.Limit
		if end > total {
			end = total
		}
		matched = matched[start:end]
	}
	out := make([]T, len(matched))
	copy(out, matched)
	return store.Page[T]{Items: out, Total: total}
}

func matches(f map[string]string, q store.Query, search string, text []string) bool {
	for k, v := range q.Filters {
		if f[k] != v {
			return false
		}
	}
	for k, v := range q.Like {
		if !strings.Contains(strings.ToLower(f[k]), strings.ToLower(v)) {
			return false
		}
	}
	if search == "" {
		return true
	}
	for _, k := range text {
		if strings.Contains(strings.ToLower(f[k]), search) {
			return true
		}
	}
	return false
}

// compare orders numerically when both values are integers.
func compare(a, b string) int {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func indexOf[T any](items []T, id core.ID, key func(T) core.ID) int {
	if id == "" {
		return -1
	}
	for i, it := range items {
		if key(it) == id {
			return i
		}
	}
	return -1
}

func cloneEntries(in []core.CategoryEntry) []core.CategoryEntry {
	out := make([]core.CategoryEntry, len(in))
	copy(out, in)
	return out
}
