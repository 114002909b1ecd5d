package http

import (
	"net/http"
	"strings"

	"budgetly/internal/core"
	"budgetly/internal/session"
)

// sanitizeInput removes control characters except tab, newline and
// carriage return, and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}

// pathID returns the {id} wildcard of the matched route.
func pathID(r *http.Request) (core.ID, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	return core.ID(id), id != ""
}

// signedInUser returns the session and user of a request that passed
// RequireUser.
func signedInUser(r *http.Request) (*session.Session, core.User) {
	s, _ := session.FromContext(r.Context())
	if s == nil {
		return nil, core.User{}
	}
	u, _ := s.User()
	return s, u
}

func adminSession(r *http.Request) *session.Session {
	s, _ := session.FromContext(r.Context())
	return s
}
