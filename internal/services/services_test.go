package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"budgetly/internal/core"
	"budgetly/internal/store"
	"budgetly/internal/store/memory"
	"budgetly/internal/store/rest"
)

// failingStore rejects writes to selected monthly documents.
type failingStore struct {
	*memory.Store
	failOn map[core.ID]bool
}

func (f *failingStore) ReplaceMonthly(ctx context.Context, d core.MonthlyDocument) (core.MonthlyDocument, error) {
	if f.failOn[d.ID] {
		return core.MonthlyDocument{}, &store.StatusError{Method: "PUT", Path: "/monthlyCategories/" + string(d.ID), Code: 500}
	}
	return f.Store.ReplaceMonthly(ctx, d)
}

type recordingPublisher struct {
	mu         sync.Mutex
	categories []core.Category
	txs        []core.Transaction
	err        error
}

func (p *recordingPublisher) PublishCategoryCreated(_ context.Context, c core.Category) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.categories = append(p.categories, c)
	return nil
}

func (p *recordingPublisher) PublishTransactionCreated(_ context.Context, t core.Transaction) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.txs = append(p.txs, t)
	return nil
}

func groceriesFixture() *memory.Store {
	return memory.NewFromSnapshot(memory.Snapshot{
		Monthly: []core.MonthlyDocument{
			{ID: "1", UserID: "10", Month: "2025-09", Amount: 1000, Categories: []core.CategoryEntry{{ID: "100", Name: "Rent", Amount: 500}}},
			{ID: "2", UserID: "11", Month: "2025-09", Amount: 800, Categories: []core.CategoryEntry{{ID: "101", Name: "groceries ", Amount: 200}}},
		},
	})
}

func TestSeedGroceries(t *testing.T) {
	ctx := context.Background()
	st := groceriesFixture()
	seeder := NewSeeder(st, nil)

	res := seeder.Seed(ctx, core.CategoryEntry{ID: "7", Name: "Groceries"})
	if res.Total != 2 || res.Seeded != 1 || res.Skipped != 1 || res.Failed != 0 || !res.OK() {
		t.Fatalf("unexpected tally: %+v", res)
	}

	doc, err := st.GetMonthly(ctx, "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(doc.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %+v", doc.Categories)
	}
	first := doc.Categories[0]
	if first.Name != "Groceries" || first.Amount != 0 || first.ID != "7" {
		t.Fatalf("seeded entry should be first with amount 0, got %+v", first)
	}
	if doc.Categories[1].Name != "Rent" || doc.Categories[1].Amount != 500 {
		t.Fatalf("existing entry changed: %+v", doc.Categories[1])
	}

	other, _ := st.GetMonthly(ctx, "2")
	if len(other.Categories) != 1 || other.Categories[0].Amount != 200 {
		t.Fatalf("document with the category must be untouched, got %+v", other.Categories)
	}
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := groceriesFixture()
	seeder := NewSeeder(st, nil)

	seeder.Seed(ctx, core.CategoryEntry{ID: "7", Name: "Groceries"})
	res := seeder.Seed(ctx, core.CategoryEntry{ID: "7", Name: "GROCERIES"})
	if res.Seeded != 0 || res.Skipped != 2 {
		t.Fatalf("second run should skip everything, got %+v", res)
	}
	doc, _ := st.GetMonthly(ctx, "1")
	if len(doc.Categories) != 2 {
		t.Fatalf("duplicate entry written: %+v", doc.Categories)
	}
}

func TestSeedTalliesFailuresAndContinues(t *testing.T) {
	ctx := context.Background()
	st := &failingStore{
		Store: memory.NewFromSnapshot(memory.Snapshot{
			Monthly: []core.MonthlyDocument{
				{ID: "1", UserID: "10", Month: "2025-08"},
				{ID: "2", UserID: "10", Month: "2025-09"},
				{ID: "3", UserID: "11", Month: "2025-09"},
			},
		}),
		failOn: map[core.ID]bool{"2": true},
	}

	res := NewSeeder(st, nil).Seed(ctx, core.CategoryEntry{ID: "9", Name: "Travel"})
	if res.Seeded != 2 || res.Failed != 1 || res.OK() {
		t.Fatalf("unexpected tally: %+v", res)
	}
	if _, ok := res.Errors["2"]; !ok {
		t.Fatalf("failure for document 2 not recorded: %+v", res.Errors)
	}
	doc, _ := st.GetMonthly(ctx, "3")
	if !doc.HasCategory("Travel") {
		t.Fatal("a failed document must not stop the walk")
	}
}

func TestSeedEmptyName(t *testing.T) {
	res := NewSeeder(memory.New(), nil).Seed(context.Background(), core.CategoryEntry{Name: "  "})
	if res.ListError == "" || res.OK() {
		t.Fatalf("expected a refusal, got %+v", res)
	}
}

func TestFindOrCreate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	r := NewMonthlyResolver(st, nil)

	if _, err := r.Get(ctx, "1", "2025-10"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Get on a missing month: want ErrNotFound, got %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.FindOrCreate(ctx, "1", "2025-10", 300); err != nil {
				t.Errorf("find or create: %v", err)
			}
		}()
	}
	wg.Wait()

	page, _ := st.ListMonthly(ctx, store.Query{})
	if page.Total != 1 {
		t.Fatalf("concurrent calls created %d documents", page.Total)
	}
	doc := page.Items[0]
	if doc.Amount != 300 || doc.Categories == nil || len(doc.Categories) != 0 {
		t.Fatalf("unexpected new document: %+v", doc)
	}

	if _, err := r.FindOrCreate(ctx, "1", "10/2025", 0); !errors.Is(err, core.ErrInvalidMonth) {
		t.Fatalf("want ErrInvalidMonth, got %v", err)
	}
}

func TestAddCategoryLimit(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	r := NewMonthlyResolver(st, nil)

	if _, err := r.AddCategoryLimit(ctx, "1", "2025-10", "Food", 200, 0); err != nil {
		t.Fatalf("add: %v", err)
	}
	doc, err := r.AddCategoryLimit(ctx, "1", "2025-10", "Rent", 500, 0)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if names := doc.CategoryNames(); len(names) != 2 || names[0] != "Rent" {
		t.Fatalf("new entry should come first, got %v", names)
	}
	if doc.UpdatedAt == "" {
		t.Fatal("updatedAt not set")
	}

	_, err = r.AddCategoryLimit(ctx, "1", "2025-10", " food", 100, 0)
	if !errors.Is(err, ErrDuplicateCategory) {
		t.Fatalf("want ErrDuplicateCategory, got %v", err)
	}
	var fe core.FieldErrors
	if !errors.As(err, &fe) || fe["name"] == "" {
		t.Fatalf("duplicate should surface on the name field, got %v", err)
	}

	_, err = r.AddCategoryLimit(ctx, "1", "2025-10", "Travel", 0, 0)
	if !errors.As(err, &fe) || fe["amount"] == "" {
		t.Fatalf("zero amount should fail validation, got %v", err)
	}
}

func TestAddCategoryLimitInSameMillisecond(t *testing.T) {
	ctx := context.Background()
	r := NewMonthlyResolver(memory.New(), nil)
	frozen := time.Date(2025, time.October, 3, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return frozen }

	var doc core.MonthlyDocument
	for _, name := range []string{"Food", "Rent", "Travel"} {
		var err error
		if doc, err = r.AddCategoryLimit(ctx, "1", "2025-10", name, 100, 0); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	seen := map[core.ID]bool{}
	for _, c := range doc.Categories {
		if seen[c.ID] {
			t.Fatalf("duplicate entry id %s in %+v", c.ID, doc.Categories)
		}
		seen[c.ID] = true
	}

	// Categories are newest first: Travel, Rent, Food.
	rent := doc.Categories[1]
	doc, err := r.UpdateCategoryLimit(ctx, "1", "2025-10", rent.ID, "Rent", 900)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if doc.Categories[1].Amount != 900 || doc.Categories[0].Amount != 100 || doc.Categories[2].Amount != 100 {
		t.Fatalf("update touched the wrong entry: %+v", doc.Categories)
	}
	doc, err = r.RemoveCategoryLimit(ctx, "1", "2025-10", rent.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if names := doc.CategoryNames(); len(names) != 2 || names[0] != "Travel" || names[1] != "Food" {
		t.Fatalf("remaining entries = %v", names)
	}
}

func TestUpdateAndRemoveCategoryLimit(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{
		Monthly: []core.MonthlyDocument{{ID: "1", UserID: "5", Month: "2025-10", Amount: 900, Categories: []core.CategoryEntry{
			{ID: "a", Name: "Food", Amount: 100},
			{ID: "b", Name: "Rent", Amount: 400},
		}}},
	})
	r := NewMonthlyResolver(st, nil)

	doc, err := r.UpdateCategoryLimit(ctx, "5", "2025-10", "a", "Groceries", 150)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if doc.Categories[0] != (core.CategoryEntry{ID: "a", Name: "Groceries", Amount: 150}) {
		t.Fatalf("unexpected entry: %+v", doc.Categories[0])
	}
	if _, err := r.UpdateCategoryLimit(ctx, "5", "2025-10", "a", "rent", 150); !errors.Is(err, ErrDuplicateCategory) {
		t.Fatalf("renaming onto another entry: want ErrDuplicateCategory, got %v", err)
	}
	if _, err := r.UpdateCategoryLimit(ctx, "5", "2025-10", "zz", "X", 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown entry: want ErrNotFound, got %v", err)
	}

	doc, err = r.RemoveCategoryLimit(ctx, "5", "2025-10", "b")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(doc.Categories) != 1 || doc.Categories[0].ID != "a" {
		t.Fatalf("unexpected categories: %+v", doc.Categories)
	}
	if doc.Amount != 900 {
		t.Fatalf("amount changed: %d", doc.Amount)
	}
}

func TestSetAmount(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	r := NewMonthlyResolver(st, nil)

	doc, err := r.SetAmount(ctx, "3", "2025-11", 700)
	if err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if doc.Amount != 700 || len(doc.Categories) != 0 {
		t.Fatalf("unexpected created document: %+v", doc)
	}
	if _, err := r.AddCategoryLimit(ctx, "3", "2025-11", "Food", 100, 0); err != nil {
		t.Fatalf("add: %v", err)
	}

	doc, err = r.SetAmount(ctx, "3", "2025-11", 950)
	if err != nil {
		t.Fatalf("set amount: %v", err)
	}
	if doc.Amount != 950 || !doc.HasCategory("Food") {
		t.Fatalf("patch must keep categories: %+v", doc)
	}
	page, _ := st.ListMonthly(ctx, store.Query{})
	if page.Total != 1 {
		t.Fatalf("expected one document, got %d", page.Total)
	}

	var fe core.FieldErrors
	if _, err := r.SetAmount(ctx, "3", "2025-11", -1); !errors.As(err, &fe) {
		t.Fatalf("negative amount: want field errors, got %v", err)
	}
}

func TestMonthsNewestFirst(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{Monthly: []core.MonthlyDocument{
		{UserID: "1", Month: "2025-01"},
		{UserID: "1", Month: "2025-03"},
		{UserID: "2", Month: "2025-02"},
		{UserID: "1", Month: "2025-03"},
	}})
	months, err := NewMonthlyResolver(st, nil).Months(ctx, "1")
	if err != nil {
		t.Fatalf("months: %v", err)
	}
	if len(months) != 2 || months[0] != "2025-03" || months[1] != "2025-01" {
		t.Fatalf("unexpected months: %v", months)
	}
}

func TestCategoryCreateSeedsInline(t *testing.T) {
	ctx := context.Background()
	st := groceriesFixture()
	svc := NewCategoryService(st, NewSeeder(st, nil), nil, nil)

	created, res, err := svc.Create(ctx, core.Category{Name: "Groceries", Active: core.Bool(false)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.IsActive() {
		t.Fatal("new categories start active")
	}
	if res == nil || res.Seeded != 1 || res.Skipped != 1 {
		t.Fatalf("unexpected tally: %+v", res)
	}
	doc, _ := st.GetMonthly(ctx, "1")
	if doc.Categories[0].ID != created.ID {
		t.Fatalf("entry id should be the category id, got %+v", doc.Categories[0])
	}
}

func TestCategoryCreatePublishes(t *testing.T) {
	ctx := context.Background()
	st := groceriesFixture()
	pub := &recordingPublisher{}
	svc := NewCategoryService(st, NewSeeder(st, nil), pub, nil)

	_, res, err := svc.Create(ctx, core.Category{Name: "Travel"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res != nil || len(pub.categories) != 1 {
		t.Fatalf("expected a published event and no inline run, got %+v / %d", res, len(pub.categories))
	}
	doc, _ := st.GetMonthly(ctx, "1")
	if doc.HasCategory("Travel") {
		t.Fatal("seeding should be left to the worker")
	}

	pub.err = errors.New("broker down")
	_, res, err = svc.Create(ctx, core.Category{Name: "Fuel"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res == nil || res.Seeded != 2 {
		t.Fatalf("publish failure should fall back to inline seeding, got %+v", res)
	}
}

func TestCategoryActiveAndUpdate(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{Categories: []core.Category{
		{ID: "1", Name: "Food"},
		{ID: "2", Name: "Old", Active: core.Bool(false)},
		{ID: "3", Name: "Rent", Active: core.Bool(true)},
	}})
	svc := NewCategoryService(st, nil, nil, nil)

	active, err := svc.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 || active[0].ID != "3" || active[1].ID != "1" {
		t.Fatalf("want [3 1], got %+v", active)
	}

	updated, err := svc.Update(ctx, core.Category{ID: "2", Name: "Older"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Older" || updated.IsActive() {
		t.Fatalf("update must keep the stored active flag: %+v", updated)
	}

	if _, err := svc.Update(ctx, core.Category{ID: "2", Name: " "}); err == nil {
		t.Fatal("blank name accepted")
	}
}

func TestTransactionCreate(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{Monthly: []core.MonthlyDocument{
		{ID: "1", UserID: "5", Month: "2025-10", Categories: []core.CategoryEntry{{ID: "a", Name: "Food", Amount: 100}}},
	}})
	pub := &recordingPublisher{}
	svc := NewTransactionService(st, NewMonthlyResolver(st, nil), pub, nil)

	tx, err := svc.Create(ctx, "5", core.Transaction{Category: " Food ", Amount: 40, Month: "2025-10", UserID: "99"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.UserID != "5" || tx.Type != core.Expense || tx.Category != "Food" {
		t.Fatalf("unexpected transaction: %+v", tx)
	}
	if len(pub.txs) != 1 {
		t.Fatalf("expected one published transaction, got %d", len(pub.txs))
	}

	_, err = svc.Create(ctx, "5", core.Transaction{Category: "Cinema", Amount: 40, Month: "2025-10"})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("want ErrUnknownCategory, got %v", err)
	}

	// A month without a document accepts any category.
	if _, err := svc.Create(ctx, "5", core.Transaction{Category: "Cinema", Amount: 40, Month: "2025-11"}); err != nil {
		t.Fatalf("create in an empty month: %v", err)
	}

	var fe core.FieldErrors
	_, err = svc.Create(ctx, "5", core.Transaction{Category: "Food", Month: "2025-10"})
	if !errors.As(err, &fe) || fe["amount"] == "" {
		t.Fatalf("zero amount: want field error, got %v", err)
	}
}

func TestTransactionDeleteChecksOwner(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{Transactions: []core.Transaction{
		{ID: "1", UserID: "5", Category: "Food", Amount: 10, Month: "2025-10"},
	}})
	svc := NewTransactionService(st, NewMonthlyResolver(st, nil), nil, nil)

	if err := svc.Delete(ctx, "6", "1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign delete: want ErrNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "5", "1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	page, _ := st.ListTransactions(ctx, store.Query{})
	if page.Total != 0 {
		t.Fatalf("transaction still stored: %+v", page.Items)
	}
}

func TestTransactionCategoriesOfMonth(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{Monthly: []core.MonthlyDocument{
		{UserID: "5", Month: "2025-10", Categories: []core.CategoryEntry{{Name: "Food"}, {Name: "food"}, {Name: "Rent"}}},
	}})
	svc := NewTransactionService(st, NewMonthlyResolver(st, nil), nil, nil)

	names, err := svc.Categories(ctx, "5", "2025-10")
	if err != nil || len(names) != 2 {
		t.Fatalf("want 2 names, got %v (%v)", names, err)
	}
	names, err = svc.Categories(ctx, "5", "2025-12")
	if err != nil || len(names) != 0 {
		t.Fatalf("missing month: want empty, got %v (%v)", names, err)
	}
}

func TestUserListStripsPasswords(t *testing.T) {
	ctx := context.Background()
	st := memory.NewFromSnapshot(memory.Snapshot{Users: []core.User{{ID: "1", Email: "a@b.io", Password: "secret"}}})
	svc := NewUserService(st)

	page, err := svc.List(ctx, store.Query{})
	if err != nil || page.Items[0].Password != "" {
		t.Fatalf("password leaked: %+v (%v)", page.Items, err)
	}
	u, err := svc.SetStatus(ctx, "1", false)
	if err != nil || u.IsActive() {
		t.Fatalf("status not applied: %+v (%v)", u, err)
	}
}

// TestSeedStringIDsOverREST runs the seeder against a json-server that hands
// out string ids, some of them all digits with a leading zero.
func TestSeedStringIDsOverREST(t *testing.T) {
	var mu sync.Mutex
	docs := map[string]json.RawMessage{
		"0123": json.RawMessage(`{"id":"0123","userId":"007","month":"2025-10","amount":0,"categories":[]}`),
		"a7f3": json.RawMessage(`{"id":"a7f3","userId":"1","month":"2025-10","amount":0,"categories":[]}`),
	}
	order := []string{"0123", "a7f3"}
	puts := map[string]map[string]any{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		id := strings.TrimPrefix(r.URL.Path, "/monthlyCategories")
		id = strings.TrimPrefix(id, "/")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && id == "":
			w.Header().Set("X-Total-Count", "2")
			list := make([]json.RawMessage, 0, len(order))
			for _, k := range order {
				list = append(list, docs[k])
			}
			_ = json.NewEncoder(w).Encode(list)
		case r.Method == http.MethodGet:
			doc, ok := docs[id]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(doc)
		case r.Method == http.MethodPut:
			raw, err := readBody(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			puts[id] = body
			docs[id] = raw
			_, _ = w.Write(raw)
		default:
			http.Error(w, "unexpected", http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	client, err := rest.New(srv.URL, rest.WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("rest.New: %v", err)
	}
	res := NewSeeder(client, nil).Seed(context.Background(), core.CategoryEntry{ID: "0042", Name: "Groceries"})
	if res.Seeded != 2 || res.Failed != 0 {
		t.Fatalf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	body, ok := puts["0123"]
	if !ok {
		t.Fatal("document 0123 was not written back")
	}
	if body["id"] != "0123" || body["userId"] != "007" {
		t.Fatalf("ids changed on write back: id=%v userId=%v", body["id"], body["userId"])
	}
	cats, _ := body["categories"].([]any)
	if len(cats) != 1 {
		t.Fatalf("categories = %v", body["categories"])
	}
	entry, _ := cats[0].(map[string]any)
	if entry["id"] != "0042" || entry["name"] != "Groceries" || entry["amount"] != float64(0) {
		t.Fatalf("seeded entry = %v", entry)
	}
}

func readBody(r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
