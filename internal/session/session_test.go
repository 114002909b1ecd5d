package session

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"budgetly/internal/core"
	"budgetly/internal/log"
)

type closer struct{ closed bool }

func (c *closer) Close() { c.closed = true }

func cookieFrom(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == CookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestGuardsRequireMatchingMarker(t *testing.T) {
	m := NewManager(Options{})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, found := FromContext(r.Context()); !found {
			t.Error("guard should attach the session")
		}
		w.WriteHeader(http.StatusNoContent)
	})
	userOnly := m.RequireUser(ok)
	adminOnly := m.RequireAdmin(ok)

	rec := httptest.NewRecorder()
	userOnly.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), UserLoginPath) {
		t.Fatalf("expected 401 pointing at the user login, got %d %s", rec.Code, rec.Body.String())
	}

	start := httptest.NewRecorder()
	s := m.Start(start, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	s.SetUser(core.User{ID: "1", Email: "a@b.c", Password: "secret"})
	cookie := cookieFrom(t, start)
	if !cookie.HttpOnly || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie flags: %+v", cookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	userOnly.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("user marker should pass the user guard, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	adminOnly.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), AdminLoginPath) {
		t.Fatalf("user marker must not open admin views, got %d", rec.Code)
	}

	if u, _ := s.User(); u.Password != "" {
		t.Fatal("password must not be kept in the session")
	}
}

func TestRenewMovesStateToNewID(t *testing.T) {
	m := NewManager(Options{})
	rec := httptest.NewRecorder()
	s := m.Start(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	v := UserView(s, "history", func() *closer { return &closer{} })
	s.SetAdmin("admin")

	rec2 := httptest.NewRecorder()
	next := m.Renew(rec2, s)
	if next.ID() == s.ID() {
		t.Fatal("renew should change the id")
	}
	if _, ok := m.Sessions().Get(s.ID()); ok {
		t.Fatal("old id should be gone")
	}
	if got := UserView(next, "history", func() *closer { return &closer{} }); got != v {
		t.Fatal("views should move with the session")
	}
	if v.closed {
		t.Fatal("moved views must stay open")
	}
	if name, ok := next.Admin(); !ok || name != "admin" {
		t.Fatal("admin marker should move with the session")
	}
	if cookieFrom(t, rec2).Value != next.ID() {
		t.Fatal("cookie should carry the new id")
	}
}

func TestClearMarkersCloseTheirViews(t *testing.T) {
	s := newSession("x", time.Now())
	s.SetUser(core.User{ID: "1"})
	s.SetAdmin("admin")
	uv := UserView(s, "budget", func() *closer { return &closer{} })
	av := AdminView(s, "users", func() *closer { return &closer{} })

	s.ClearUser()
	if !uv.closed || av.closed {
		t.Fatalf("only user views should close: user=%v admin=%v", uv.closed, av.closed)
	}
	if s.Anonymous() {
		t.Fatal("admin marker is still set")
	}
	s.ClearAdmin()
	if !av.closed || !s.Anonymous() {
		t.Fatal("admin views should close and session become anonymous")
	}
}

func TestSessionsExpireAndCloseViews(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(0, 0)
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }
	m := NewManager(Options{TTL: time.Minute, Now: clock})

	rec := httptest.NewRecorder()
	s := m.Start(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	s.SetUser(core.User{ID: "1"})
	v := UserView(s, "history", func() *closer { return &closer{} })

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	if n := m.Sessions().CleanExpired(); n != 1 {
		t.Fatalf("expected 1 expired session, got %d", n)
	}
	if !v.closed {
		t.Fatal("views of an expired session should be closed")
	}
}

func TestEndKeepsSessionWithRemainingMarker(t *testing.T) {
	m := NewManager(Options{})
	s := m.Start(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	s.SetUser(core.User{ID: "1"})
	s.SetAdmin("admin")

	s.ClearUser()
	m.End(httptest.NewRecorder(), s)
	if _, ok := m.Sessions().Get(s.ID()); !ok {
		t.Fatal("session with an admin marker should survive user logout")
	}
	s.ClearAdmin()
	rec := httptest.NewRecorder()
	m.End(rec, s)
	if _, ok := m.Sessions().Get(s.ID()); ok {
		t.Fatal("anonymous session should be removed")
	}
	if c := cookieFrom(t, rec); c.MaxAge >= 0 {
		t.Fatalf("cookie should be cleared, got %+v", c)
	}
}

func TestEndLogsSessionAgeAcrossRenew(t *testing.T) {
	var buf bytes.Buffer
	now := time.Date(2026, time.October, 17, 9, 0, 0, 0, time.UTC)
	m := NewManager(Options{
		Logger: log.New(log.Config{Writer: &buf, Level: log.ParseLevel("debug")}),
		Now:    func() time.Time { return now },
	})

	s := m.Start(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	now = now.Add(30 * time.Minute)
	s.SetUser(core.User{ID: "1"})
	renewed := m.Renew(httptest.NewRecorder(), s)
	if !renewed.CreatedAt().Equal(s.CreatedAt()) {
		t.Fatalf("renew should keep the start time: %v vs %v", renewed.CreatedAt(), s.CreatedAt())
	}

	now = now.Add(time.Hour)
	renewed.ClearUser()
	m.End(httptest.NewRecorder(), renewed)
	if out := buf.String(); !strings.Contains(out, "Session ended") || !strings.Contains(out, "age=1h30m0s") {
		t.Fatalf("end of session not logged with its age:\n%s", out)
	}
}
