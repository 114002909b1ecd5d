// Package listing implements the paged, searchable list behind every table
// view: a debounced search term, the current page, one page of records with
// the total count, and explicit loading and error states.
//
// Every fetch is tagged with a sequence number. A response is applied only
// if its sequence is still the latest one issued, so a slow response can
// never overwrite the result of a newer request.
package listing

import (
	"context"
	"errors"
	"sync"
	"time"

	"budgetly/internal/core"
	"budgetly/internal/log"
	"budgetly/internal/store"
)

const (
	DefaultPageSize = 5
	DefaultDebounce = 300 * time.Millisecond
	DefaultTimeout  = 10 * time.Second
)

// LoadErrorMessage is the banner shown when a page cannot be fetched.
const LoadErrorMessage = "Could not load data. Please try again."

// Fetcher loads one page of records.
type Fetcher[T any] func(ctx context.Context, q store.Query) (store.Page[T], error)

type Options struct {
	PageSize int
	Debounce time.Duration
	// Timeout bounds each fetch; zero means DefaultTimeout, negative means none.
	Timeout time.Duration
	// SearchField sends the term as a `<field>_like` filter. Empty uses the
	// store's free-text search.
	SearchField string
	// Base holds the filters and sort every request starts from.
	Base   store.Query
	Logger *log.Logger
}

// State is a point-in-time view of the controller, shaped for JSON.
type State[T any] struct {
	Items         []T    `json:"items"`
	Page          int    `json:"page"`
	PageSize      int    `json:"pageSize"`
	TotalPages    int    `json:"totalPages"`
	Total         int    `json:"total"`
	Search        string `json:"search"`
	PendingSearch string `json:"pendingSearch,omitempty"`
	Loading       bool   `json:"loading"`
	Error         string `json:"error,omitempty"`
}

// Snapshot captures the visible records for a later Restore.
type Snapshot[T any] struct {
	items   []T
	seq     uint64
	version uint64
}

type Controller[T any] struct {
	fetch  Fetcher[T]
	key    func(T) core.ID
	opts   Options
	logger *log.Logger

	mu      sync.Mutex
	page    int
	search  string
	pending *string
	timer   *time.Timer
	timerID uint64
	filters map[string]string
	sort    string
	order   string

	items []T
	total int
	err   string

	seq      uint64 // last issued
	applied  uint64 // last response applied
	inflight int
	version  uint64 // bumped by local edits
	changed  chan struct{}
	closed   bool
}

// New builds a controller. key identifies a record for local edits.
func New[T any](fetch Fetcher[T], key func(T) core.ID, opts Options) *Controller[T] {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	filters := make(map[string]string, len(opts.Base.Filters))
	for k, v := range opts.Base.Filters {
		filters[k] = v
	}
	return &Controller[T]{
		fetch:   fetch,
		key:     key,
		opts:    opts,
		logger:  log.OrDiscard(opts.Logger).WithComponent(log.ComponentListing),
		page:    1,
		filters: filters,
		sort:    opts.Base.Sort,
		order:   opts.Base.Order,
		items:   []T{},
		changed: make(chan struct{}),
	}
}

// Load fetches the current page.
func (c *Controller[T]) Load(ctx context.Context) error {
	return c.load(ctx, false)
}

// SetPage moves to page n (at least 1) and loads it.
func (c *Controller[T]) SetPage(ctx context.Context, n int) error {
	if n < 1 {
		n = 1
	}
	c.mu.Lock()
	c.page = n
	c.mu.Unlock()
	return c.load(ctx, false)
}

// SetSearch records a new term. It is applied, with the page reset to 1,
// once no further SetSearch call arrives for the debounce window.
func (c *Controller[T]) SetSearch(term string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.stopTimerLocked()
	if term == c.search {
		c.pending = nil
		c.notifyLocked()
		return
	}
	c.pending = &term
	c.timerID++
	id := c.timerID
	c.timer = time.AfterFunc(c.opts.Debounce, func() {
		c.fireSearch(id)
	})
	c.notifyLocked()
}

// FlushSearch applies a pending search term immediately.
func (c *Controller[T]) FlushSearch(ctx context.Context) error {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return nil
	}
	c.stopTimerLocked()
	c.applySearchLocked()
	seq, q := c.beginLocked()
	c.mu.Unlock()
	return c.run(ctx, seq, q, false)
}

// Loaded reports whether any fetch has completed.
func (c *Controller[T]) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applied > 0
}

// HasPendingSearch reports whether a search term waits for its debounce.
func (c *Controller[T]) HasPendingSearch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// SetFilter sets an exact-match filter (empty value removes it), resets
// to page 1 and reloads.
func (c *Controller[T]) SetFilter(ctx context.Context, field, value string) error {
	c.mu.Lock()
	if value == "" {
		delete(c.filters, field)
	} else {
		c.filters[field] = value
	}
	c.page = 1
	c.mu.Unlock()
	return c.load(ctx, false)
}

// SetSort changes the sort key and direction; an empty field clears it.
func (c *Controller[T]) SetSort(ctx context.Context, field, order string) error {
	c.mu.Lock()
	c.sort = field
	c.order = order
	if field == "" {
		c.order = ""
	}
	c.page = 1
	c.mu.Unlock()
	return c.load(ctx, false)
}

// Settle blocks until no search is pending and no fetch is in flight.
func (c *Controller[T]) Settle(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.pending == nil && c.inflight == 0 {
			c.mu.Unlock()
			return nil
		}
		ch := c.changed
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]T, len(c.items))
	copy(items, c.items)
	st := State[T]{
		Items:      items,
		Page:       c.page,
		PageSize:   c.opts.PageSize,
		TotalPages: store.TotalPages(c.total, c.opts.PageSize),
		Total:      c.total,
		Search:     c.search,
		Loading:    c.applied < c.seq,
		Error:      c.err,
	}
	if c.pending != nil {
		st.PendingSearch = *c.pending
	}
	return st
}

// Snapshot copies the visible records.
func (c *Controller[T]) Snapshot() Snapshot[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]T, len(c.items))
	copy(items, c.items)
	return Snapshot[T]{items: items, seq: c.applied, version: c.version}
}

// Find returns the visible record with the given id.
func (c *Controller[T]) Find(id core.ID) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i := c.indexLocked(c.items, id); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Patch replaces the visible record with id by fn(record). It reports
// whether the record was on the current page.
func (c *Controller[T]) Patch(id core.ID, fn func(T) T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexLocked(c.items, id)
	if i < 0 {
		return false
	}
	c.items[i] = fn(c.items[i])
	c.version++
	return true
}

// Restore undoes a local edit of record id made after snap was taken. If
// nothing else touched the list since, the whole snapshot comes back;
// otherwise only record id is reverted, so newer data is kept.
func (c *Controller[T]) Restore(snap Snapshot[T], id core.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.applied == snap.seq && c.version <= snap.version+1 {
		c.items = snap.items
		c.version++
		return
	}
	old := c.indexLocked(snap.items, id)
	cur := c.indexLocked(c.items, id)
	if old >= 0 && cur >= 0 {
		c.items[cur] = snap.items[old]
		c.version++
	}
}

// Remove drops a record locally and reloads, which clamps the page when
// the record was the last one on it.
func (c *Controller[T]) Remove(ctx context.Context, id core.ID) error {
	c.mu.Lock()
	if i := c.indexLocked(c.items, id); i >= 0 {
		c.items = append(c.items[:i:i], c.items[i+1:]...)
		if c.total > 0 {
			c.total--
		}
		c.version++
	}
	c.mu.Unlock()
	return c.load(ctx, false)
}

// Close cancels a pending search. Responses arriving later are dropped.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopTimerLocked()
	c.pending = nil
	c.closed = true
	c.seq++
	c.applied = c.seq
	c.notifyLocked()
}

func (c *Controller[T]) fireSearch(id uint64) {
	c.mu.Lock()
	if c.timerID != id || c.pending == nil || c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.applySearchLocked()
	seq, q := c.beginLocked()
	c.mu.Unlock()
	// Errors already land in the banner.
	_ = c.run(context.Background(), seq, q, false)
}

func (c *Controller[T]) applySearchLocked() {
	c.search = *c.pending
	c.pending = nil
	c.page = 1
}

func (c *Controller[T]) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerID++
}

func (c *Controller[T]) queryLocked() store.Query {
	q := store.Query{
		Page:  c.page,
		Limit: c.opts.PageSize,
		Sort:  c.sort,
		Order: c.order,
	}
	if len(c.filters) > 0 {
		q.Filters = make(map[string]string, len(c.filters))
		for k, v := range c.filters {
			q.Filters[k] = v
		}
	}
	if len(c.opts.Base.Like) > 0 {
		q.Like = make(map[string]string, len(c.opts.Base.Like)+1)
		for k, v := range c.opts.Base.Like {
			q.Like[k] = v
		}
	}
	if c.search != "" {
		if c.opts.SearchField == "" {
			q.Search = c.search
		} else {
			if q.Like == nil {
				q.Like = map[string]string{}
			}
			q.Like[c.opts.SearchField] = c.search
		}
	}
	return q
}

func (c *Controller[T]) load(ctx context.Context, followUp bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	seq, q := c.beginLocked()
	c.mu.Unlock()
	return c.run(ctx, seq, q, followUp)
}

// beginLocked issues a new sequence number and counts the fetch as in
// flight before the lock is released, so Settle never sees a gap.
func (c *Controller[T]) beginLocked() (uint64, store.Query) {
	c.seq++
	c.inflight++
	c.notifyLocked()
	return c.seq, c.queryLocked()
}

func (c *Controller[T]) run(ctx context.Context, seq uint64, q store.Query, followUp bool) error {
	fctx, cancel := ctx, context.CancelFunc(func() {})
	if c.opts.Timeout > 0 {
		fctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
	}
	page, err := c.fetch(fctx, q)
	cancel()

	c.mu.Lock()
	c.inflight--
	c.notifyLocked()

	if seq != c.seq {
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "Discarded stale list response", log.FieldSeq, seq, log.FieldPage, q.Page)
		return nil
	}
	c.applied = seq

	if err != nil {
		c.err = LoadErrorMessage
		c.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.WarnContext(ctx, "List request timed out", log.FieldPage, q.Page, log.FieldError, err)
		} else {
			c.logger.ErrorContext(ctx, "List request failed", log.FieldPage, q.Page, log.FieldError, err)
		}
		return err
	}
	c.err = ""
	c.total = page.Total

	if last := store.TotalPages(page.Total, c.opts.PageSize); q.Page > last {
		c.page = last
		if page.Total > 0 && !followUp {
			nextSeq, nextQ := c.beginLocked()
			c.mu.Unlock()
			c.logger.DebugContext(ctx, "Page out of range, clamping", log.FieldPage, q.Page, "last_page", last)
			return c.run(ctx, nextSeq, nextQ, true)
		}
		c.items = []T{}
		c.mu.Unlock()
		return nil
	}

	items := page.Items
	if items == nil {
		items = []T{}
	}
	c.items = items
	c.mu.Unlock()
	return nil
}

func (c *Controller[T]) indexLocked(items []T, id core.ID) int {
	if id == "" {
		return -1
	}
	for i, it := range items {
		if c.key(it) == id {
			return i
		}
	}
	return -1
}

// must hold c.mu
func (c *Controller[T]) notifyLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
