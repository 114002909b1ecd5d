// Package rest implements the store ports against a json-server style REST
// data store: conventional collection/id URLs, `_page`/`_limit` paging,
// `_sort`/`_order`, `q` full-text search, `<field>_like` filters and the
// `X-Total-Count` response header.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"budgetly/internal/core"
	"budgetly/internal/store"
)

const maxErrorBody = 512

type Client struct {
	base *url.URL
	http *http.Client
}

var _ store.Store = (*Client)(nil)

type Option func(*Client)

// WithHTTPClient replaces the default instrumented client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for the store at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("store url must be http or https, got %q", baseURL)
	}
	c := &Client{
		base: u,
		http: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Ping checks that the store answers on the users collection.
func (c *Client) Ping(ctx context.Context) error {
	_, err := list[core.User](ctx, c, store.CollectionUsers, store.Query{Page: 1, Limit: 1})
	return err
}

// Users

func (c *Client) ListUsers(ctx context.Context, q store.Query) (store.Page[core.User], error) {
	return list[core.User](ctx, c, store.CollectionUsers, q)
}

func (c *Client) GetUser(ctx context.Context, id core.ID) (core.User, error) {
	var u core.User
	err := c.do(ctx, http.MethodGet, itemPath(store.CollectionUsers, id), nil, &u, nil)
	return u, err
}

func (c *Client) CreateUser(ctx context.Context, u core.User) (core.User, error) {
	u.ID = ""
	var out core.User
	err := c.do(ctx, http.MethodPost, "/"+store.CollectionUsers, u, &out, nil)
	return out, err
}

func (c *Client) UpdateUser(ctx context.Context, u core.User) (core.User, error) {
	var out core.User
	err := c.do(ctx, http.MethodPut, itemPath(store.CollectionUsers, u.ID), u, &out, nil)
	return out, err
}

func (c *Client) SetUserStatus(ctx context.Context, id core.ID, active bool) (core.User, error) {
	var out core.User
	err := c.do(ctx, http.MethodPatch, itemPath(store.CollectionUsers, id), map[string]any{"status": active}, &out, nil)
	return out, err
}

func (c *Client) SetUserPassword(ctx context.Context, id core.ID, password string) error {
	return c.do(ctx, http.MethodPatch, itemPath(store.CollectionUsers, id), map[string]any{"password": password}, nil, nil)
}

// Categories

func (c *Client) ListCategories(ctx context.Context, q store.Query) (store.Page[core.Category], error) {
	return list[core.Category](ctx, c, store.CollectionCategories, q)
}

func (c *Client) GetCategory(ctx context.Context, id core.ID) (core.Category, error) {
	var out core.Category
	err := c.do(ctx, http.MethodGet, itemPath(store.CollectionCategories, id), nil, &out, nil)
	return out, err
}

func (c *Client) CreateCategory(ctx context.Context, cat core.Category) (core.Category, error) {
	cat.ID = ""
	var out core.Category
	err := c.do(ctx, http.MethodPost, "/"+store.CollectionCategories, cat, &out, nil)
	return out, err
}

func (c *Client) UpdateCategory(ctx context.Context, cat core.Category) (core.Category, error) {
	var out core.Category
	err := c.do(ctx, http.MethodPut, itemPath(store.CollectionCategories, cat.ID), cat, &out, nil)
	return out, err
}

func (c *Client) SetCategoryActive(ctx context.Context, id core.ID, active bool) (core.Category, error) {
	var out core.Category
	err := c.do(ctx, http.MethodPatch, itemPath(store.CollectionCategories, id), map[string]any{"active": active}, &out, nil)
	return out, err
}

// Monthly documents

func (c *Client) ListMonthly(ctx context.Context, q store.Query) (store.Page[core.MonthlyDocument], error) {
	return list[core.MonthlyDocument](ctx, c, store.CollectionMonthly, q)
}

func (c *Client) GetMonthly(ctx context.Context, id core.ID) (core.MonthlyDocument, error) {
	var out core.MonthlyDocument
	err := c.do(ctx, http.MethodGet, itemPath(store.CollectionMonthly, id), nil, &out, nil)
	return out, err
}

func (c *Client) CreateMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	d.ID = ""
	if d.Categories == nil {
		d.Categories = []core.CategoryEntry{}
	}
	var out core.MonthlyDocument
	err := c.do(ctx, http.MethodPost, "/"+store.CollectionMonthly, d, &out, nil)
	return out, err
}

func (c *Client) ReplaceMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	if d.Categories == nil {
		d.Categories = []core.CategoryEntry{}
	}
	var out core.MonthlyDocument
	err := c.do(ctx, http.MethodPut, itemPath(store.CollectionMonthly, d.ID), d, &out, nil)
	return out, err
}

func (c *Client) SetMonthlyAmount(ctx context.Context, id core.ID, amount int64, updatedAt string) (core.MonthlyDocument, error) {
	var out core.MonthlyDocument
	body := map[string]any{"amount": amount, "updatedAt": updatedAt}
	err := c.do(ctx, http.MethodPatch, itemPath(store.CollectionMonthly, id), body, &out, nil)
	return out, err
}

// Transactions

func (c *Client) ListTransactions(ctx context.Context, q store.Query) (store.Page[core.Transaction], error) {
	return list[core.Transaction](ctx, c, store.CollectionTransactions, q)
}

func (c *Client) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	t.ID = ""
	var out core.Transaction
	err := c.do(ctx, http.MethodPost, "/"+store.CollectionTransactions, t, &out, nil)
	return out, err
}

func (c *Client) DeleteTransaction(ctx context.Context, id core.ID) error {
	return c.do(ctx, http.MethodDelete, itemPath(store.CollectionTransactions, id), nil, nil, nil)
}

func list[T any](ctx context.Context, c *Client, collection string, q store.Query) (store.Page[T], error) {
	var items []T
	var hdr http.Header
	if err := c.do(ctx, http.MethodGet, "/"+collection+"?"+encodeQuery(q).Encode(), nil, &items, &hdr); err != nil {
		return store.Page[T]{}, err
	}
	total := len(items)
	if raw := hdr.Get("X-Total-Count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return store.Page[T]{}, fmt.Errorf("list %s: bad X-Total-Count %q", collection, raw)
		}
		total = n
	}
	if items == nil {
		items = []T{}
	}
	return store.Page[T]{Items: items, Total: total}, nil
}

func encodeQuery(q store.Query) url.Values {
	v := url.Values{}
	if q.Paged() {
		v.Set("_page", strconv.Itoa(q.Page))
		v.Set("_limit", strconv.Itoa(q.Limit))
	}
	if q.Sort != "" {
		v.Set("_sort", q.Sort)
		if q.Order != "" {
			v.Set("_order", strings.ToLower(q.Order))
		}
	}
	if s := strings.TrimSpace(q.Search); s != "" {
		v.Set("q", s)
	}
	for field, val := range q.Like {
		if val != "" {
			v.Set(field+"_like", val)
		}
	}
	for field, val := range q.Filters {
		v.Set(field, val)
	}
	return v
}

func itemPath(collection string, id core.ID) string {
	return "/" + collection + "/" + url.PathEscape(string(id))
}

// do sends one request. body is JSON-encoded when non-nil, out is decoded
// from a 2xx response when non-nil, and hdr receives the response headers.
func (c *Client) do(ctx context.Context, method, path string, body, out any, hdr *http.Header) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rdr)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, store.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &store.StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if hdr != nil {
		*hdr = resp.Header
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
