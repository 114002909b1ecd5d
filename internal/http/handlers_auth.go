package http

import (
	"net/http"

	"budgetly/internal/auth"
	"budgetly/internal/log"
	"budgetly/internal/session"
)

// beginSession returns the caller's session under a fresh id, so an id
// handed out before sign-in is never valid after it.
func (s *Server) beginSession(w http.ResponseWriter, r *http.Request) *session.Session {
	if existing, ok := s.sessions.Load(r); ok {
		return s.sessions.Renew(w, existing)
	}
	return s.sessions.Start(w, r)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		writeError(w, r, "decode", err)
		return
	}
	u, err := s.deps.Auth.Register(r.Context(), auth.RegisterInput{
		Email:    p.Get("email"),
		Password: p.GetSecret("password"),
		Confirm:  p.GetSecret("confirm"),
	})
	if err != nil {
		writeError(w, r, "register", err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(map[string]any{"user": u}).Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		writeError(w, r, "decode", err)
		return
	}
	u, err := s.deps.Auth.Login(r.Context(), p.Get("email"), p.GetSecret("password"))
	if err != nil {
		writeError(w, r, log.OpLogin, err)
		return
	}
	u.Password = ""
	sess := s.beginSession(w, r)
	sess.SetUser(u)
	log.FromContext(r.Context()).InfoContext(r.Context(), "User signed in", log.FieldUserID, u.ID.String())
	NewJSONResponse().Body(map[string]any{"user": u}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, u := signedInUser(r)
	sess.ClearUser()
	s.sessions.End(w, sess)
	log.FromContext(r.Context()).InfoContext(r.Context(), "User signed out",
		log.FieldUserID, u.ID.String(), log.FieldOperation, log.OpLogout)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleAdminLogin accepts the pair as username/password; the admin form
// labels the username field "email", so that key is accepted too.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		writeError(w, r, "decode", err)
		return
	}
	username := p.Get("username")
	if username == "" {
		username = p.Get("email")
	}
	if err := s.deps.Auth.AdminLogin(username, p.GetSecret("password")); err != nil {
		log.FromContext(r.Context()).WithComponent(log.ComponentSecurity).WarnContext(r.Context(),
			"Admin sign-in rejected", log.FieldClientIP, r.RemoteAddr)
		writeError(w, r, log.OpLogin, err)
		return
	}
	sess := s.beginSession(w, r)
	sess.SetAdmin(username)
	log.FromContext(r.Context()).InfoContext(r.Context(), "Admin signed in")
	NewJSONResponse().Body(map[string]any{"admin": username}).Write(w)
}

func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	sess := adminSession(r)
	sess.ClearAdmin()
	s.sessions.End(w, sess)
	log.FromContext(r.Context()).InfoContext(r.Context(), "Admin signed out", log.FieldOperation, log.OpLogout)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
