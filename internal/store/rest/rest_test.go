package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"budgetly/internal/core"
	"budgetly/internal/store"
)

// fakeServer emulates the subset of json-server used by the client for the
// users and monthlyCategories collections.
type fakeServer struct {
	mu       sync.Mutex
	users    []map[string]any
	monthly  []map[string]any
	lastURL  string
	lastBody map[string]any
	fail     int
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastURL = r.URL.String()
	f.lastBody = nil
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
	}
	if f.fail != 0 {
		http.Error(w, "boom", f.fail)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	var coll *[]map[string]any
	switch parts[0] {
	case "users":
		coll = &f.users
	case "monthlyCategories":
		coll = &f.monthly
	default:
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			f.list(w, r, *coll)
		case http.MethodPost:
			rec := f.lastBody
			rec["id"] = len(*coll) + 1
			*coll = append(*coll, rec)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(rec)
		}
		return
	}

	for i, rec := range *coll {
		if strconv.Itoa(int(toFloat(rec["id"]))) != parts[1] {
			continue
		}
		switch r.Method {
		case http.MethodGet:
		case http.MethodPut:
			f.lastBody["id"] = rec["id"]
			(*coll)[i] = f.lastBody
		case http.MethodPatch:
			for k, v := range f.lastBody {
				rec[k] = v
			}
		case http.MethodDelete:
			*coll = append((*coll)[:i], (*coll)[i+1:]...)
			_, _ = w.Write([]byte("{}"))
			return
		}
		_ = json.NewEncoder(w).Encode((*coll)[i])
		return
	}
	http.NotFound(w, r)
}

func (f *fakeServer) list(w http.ResponseWriter, r *http.Request, coll []map[string]any) {
	q := r.URL.Query()
	var out []map[string]any
	for _, rec := range coll {
		ok := true
		for k, vals := range q {
			if strings.HasPrefix(k, "_") {
				continue
			}
			if field, found := strings.CutSuffix(k, "_like"); found {
				s, _ := rec[field].(string)
				ok = ok && strings.Contains(strings.ToLower(s), strings.ToLower(vals[0]))
				continue
			}
			ok = ok && toString(rec[k]) == vals[0]
		}
		if ok {
			out = append(out, rec)
		}
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(len(out)))
	page, _ := strconv.Atoi(q.Get("_page"))
	limit, _ := strconv.Atoi(q.Get("_limit"))
	if page > 0 && limit > 0 {
		start := min((page-1)*limit, len(out))
		end := min(start+limit, len(out))
		out = out[start:end]
	}
	if out == nil {
		out = []map[string]any{}
	}
	_ = json.NewEncoder(w).Encode(out)
}

func toFloat(v any) float64 {
	f, _ := v.(float64)
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return f
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	default:
		return strconv.Itoa(int(toFloat(v)))
	}
}

func newTestClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL, WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, fake
}

func TestListUsersSendsPagingAndReadsTotal(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	for _, name := range []string{"Ann", "Bob", "Anna"} {
		if _, err := c.CreateUser(ctx, core.User{Name: name, Email: strings.ToLower(name) + "@x.io"}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	page, err := c.ListUsers(ctx, store.Query{Page: 1, Limit: 1, Like: map[string]string{"name": "an"}})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 2 || len(page.Items) != 1 || page.Items[0].Name != "Ann" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if !strings.Contains(fake.lastURL, "_page=1") || !strings.Contains(fake.lastURL, "_limit=1") || !strings.Contains(fake.lastURL, "name_like=an") {
		t.Fatalf("unexpected query: %s", fake.lastURL)
	}
	if page.Items[0].ID != "1" {
		t.Fatalf("numeric id should decode, got %q", page.Items[0].ID)
	}
}

func TestPatchSendsOnlyChangedField(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	u, _ := c.CreateUser(ctx, core.User{Name: "Ann", Email: "ann@x.io", Status: core.Bool(true)})

	got, err := c.SetUserStatus(ctx, u.ID, false)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if len(fake.lastBody) != 1 || fake.lastBody["status"] != false {
		t.Fatalf("expected status-only body, got %v", fake.lastBody)
	}
	if got.IsActive() || got.Name != "Ann" {
		t.Fatalf("unexpected user after patch: %+v", got)
	}
}

func TestMonthlyRoundTrip(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	d, err := c.CreateMonthly(ctx, core.MonthlyDocument{UserID: "1", Month: "2025-10", Amount: 100})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cats, ok := fake.lastBody["categories"].([]any); !ok || len(cats) != 0 {
		t.Fatalf("new documents must carry an empty category list, got %v", fake.lastBody["categories"])
	}

	d = d.PrependCategory(core.CategoryEntry{ID: "9", Name: "Food", Amount: 50})
	if _, err := c.ReplaceMonthly(ctx, d); err != nil {
		t.Fatalf("replace: %v", err)
	}

	page, err := c.ListMonthly(ctx, store.Query{Filters: map[string]string{"userId": "1", "month": "2025-10"}})
	if err != nil || page.Total != 1 {
		t.Fatalf("list: %+v err=%v", page, err)
	}
	if got := page.Items[0]; len(got.Categories) != 1 || got.Categories[0].Name != "Food" {
		t.Fatalf("unexpected categories: %+v", got.Categories)
	}
}

func TestErrorsMapToStoreErrors(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	if _, err := c.GetUser(ctx, "404"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	fake.fail = http.StatusInternalServerError
	_, err := c.ListUsers(ctx, store.Query{})
	var se *store.StatusError
	if !errors.As(err, &se) || se.Code != 500 || se.Body != "boom" {
		t.Fatalf("expected StatusError 500, got %v", err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New("ftp://example.com"); err == nil {
		t.Fatal("expected error for non-http scheme")
	}
}

func TestEncodeQuery(t *testing.T) {
	v := encodeQuery(store.Query{Page: 2, Limit: 3, Sort: "amount", Order: "DESC", Search: " food ", Filters: map[string]string{"month": "2025-10"}})
	want := map[string]string{"_page": "2", "_limit": "3", "_sort": "amount", "_order": "desc", "q": "food", "month": "2025-10"}
	for k, val := range want {
		if v.Get(k) != val {
			t.Fatalf("%s = %q, want %q", k, v.Get(k), val)
		}
	}
	if encodeQuery(store.Query{}).Encode() != "" {
		t.Fatal("empty query should encode to nothing")
	}
}
