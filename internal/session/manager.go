package session

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"budgetly/internal/cache"
	"budgetly/internal/log"
)

const CookieName = "budgetly_session"

// Paths of the login views the guards point unauthenticated callers to.
const (
	UserLoginPath  = "/user/login"
	AdminLoginPath = "/admin/login"
)

type Manager struct {
	sessions *cache.LRU[*Session]
	ttl      time.Duration
	secure   bool
	now      func() time.Time
	logger   *log.Logger
}

type Options struct {
	Capacity int
	TTL      time.Duration
	// Secure marks the cookie Secure; set it when served over HTTPS.
	Secure bool
	Logger *log.Logger
	Now    func() time.Time
}

func NewManager(opts Options) *Manager {
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		ttl:    opts.TTL,
		secure: opts.Secure,
		now:    opts.Now,
		logger: log.OrDiscard(opts.Logger).WithComponent(log.ComponentSession),
	}
	m.sessions = cache.NewLRU[*Session](opts.Capacity, opts.TTL,
		cache.Sliding[*Session](),
		cache.WithClock[*Session](opts.Now),
		cache.OnEvict(func(_ string, s *Session) { s.close() }),
	)
	return m
}

// Sessions exposes the store so a cache janitor can sweep it.
func (m *Manager) Sessions() *cache.LRU[*Session] { return m.sessions }

// Load returns the session named by the request cookie.
func (m *Manager) Load(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return m.sessions.Get(c.Value)
}

// Start returns the caller's session, creating one when absent.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request) *Session {
	if s, ok := m.Load(r); ok {
		return s
	}
	s := newSession(uuid.NewString(), m.now())
	m.sessions.Set(s.id, s)
	m.setCookie(w, s.id)
	m.logger.DebugContext(r.Context(), "Session started", log.FieldSessionID, shortID(s.id))
	return s
}

// Renew moves s to a fresh id. Called on login so an id handed out before
// authentication cannot be reused after it.
func (m *Manager) Renew(w http.ResponseWriter, s *Session) *Session {
	next := newSession(uuid.NewString(), s.createdAt)
	s.mu.Lock()
	next.user, next.admin = s.user, s.admin
	for k, v := range s.views {
		next.views[k] = v
	}
	s.views = make(map[string]any)
	s.mu.Unlock()

	m.sessions.Set(next.id, next)
	m.sessions.Delete(s.id)
	m.setCookie(w, next.id)
	return next
}

// End removes the session when no marker is left on it.
func (m *Manager) End(w http.ResponseWriter, s *Session) {
	if !s.Anonymous() {
		return
	}
	m.sessions.Delete(s.id)
	m.logger.Debug("Session ended",
		log.FieldSessionID, shortID(s.id),
		"age", m.now().Sub(s.CreatedAt()).Round(time.Second))
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) setCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

type ctxKey struct{}

// NewContext returns ctx carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// Middleware attaches an existing session to the request context. It never
// creates one; login handlers call Start.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := m.Load(r); ok {
			r = r.WithContext(NewContext(r.Context(), s))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser answers 401 unless the session carries the user marker.
func (m *Manager) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := m.Load(r)
		if ok {
			if _, signedIn := s.User(); signedIn {
				next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
				return
			}
		}
		unauthorized(w, UserLoginPath)
	})
}

// RequireAdmin answers 401 unless the session carries the admin marker.
func (m *Manager) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := m.Load(r)
		if ok {
			if _, signedIn := s.Admin(); signedIn {
				next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), s)))
				return
			}
		}
		unauthorized(w, AdminLoginPath)
	})
}

func unauthorized(w http.ResponseWriter, login string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": "authentication required",
		"login": login,
	})
}

// shortID keeps session ids out of logs.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
