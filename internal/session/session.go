// Package session replaces the browser-local login flags with server-side
// sessions. A session carries two independent markers, one for the user
// views and one for the admin views, plus the per-session view controllers.
package session

import (
	"sync"
	"time"

	"budgetly/internal/core"
)

type Session struct {
	id        string
	createdAt time.Time

	mu    sync.Mutex
	user  *core.User
	admin string
	views map[string]any
}

func newSession(id string, now time.Time) *Session {
	return &Session{id: id, createdAt: now, views: make(map[string]any)}
}

func (s *Session) ID() string { return s.id }

func (s *Session) CreatedAt() time.Time { return s.createdAt }

// User returns the signed-in user, if any.
func (s *Session) User() (core.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return core.User{}, false
	}
	return *s.user, true
}

// Admin returns the signed-in admin name, if any.
func (s *Session) Admin() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin, s.admin != ""
}

// SetUser sets the user marker. The password is never kept.
func (s *Session) SetUser(u core.User) {
	u.Password = ""
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
}

func (s *Session) SetAdmin(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admin = name
}

// ClearUser drops the user marker and the views built for it.
func (s *Session) ClearUser() {
	s.mu.Lock()
	s.user = nil
	views := s.takeViewsLocked(userScope)
	s.mu.Unlock()
	closeAll(views)
}

// ClearAdmin drops the admin marker and the admin views.
func (s *Session) ClearAdmin() {
	s.mu.Lock()
	s.admin = ""
	views := s.takeViewsLocked(adminScope)
	s.mu.Unlock()
	closeAll(views)
}

// Anonymous reports whether neither marker is set.
func (s *Session) Anonymous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user == nil && s.admin == ""
}

type Scope string

const (
	userScope  Scope = "user"
	adminScope Scope = "admin"
)

// UserView and AdminView return the named view for the session, building
// it on first use. Views are dropped when the matching marker is cleared
// or the session ends; a view with a Close method is closed then.
func UserView[T any](s *Session, name string, build func() T) T {
	return view(s, userScope, name, build)
}

func AdminView[T any](s *Session, name string, build func() T) T {
	return view(s, adminScope, name, build)
}

func view[T any](s *Session, scope Scope, name string, build func() T) T {
	key := string(scope) + ":" + name
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.views[key].(T); ok {
		return v
	}
	v := build()
	s.views[key] = v
	return v
}

func (s *Session) takeViewsLocked(scope Scope) []any {
	prefix := string(scope) + ":"
	var out []any
	for k, v := range s.views {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, v)
			delete(s.views, k)
		}
	}
	return out
}

func (s *Session) close() {
	s.mu.Lock()
	views := make([]any, 0, len(s.views))
	for _, v := range s.views {
		views = append(views, v)
	}
	s.views = make(map[string]any)
	s.mu.Unlock()
	closeAll(views)
}

func closeAll(views []any) {
	for _, v := range views {
		if c, ok := v.(interface{ Close() }); ok {
			c.Close()
		}
	}
}
