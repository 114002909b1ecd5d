package http

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"budgetly/internal/auth"
	"budgetly/internal/cache"
	"budgetly/internal/listing"
	"budgetly/internal/log"
	"budgetly/internal/middleware/ratelimit"
	"budgetly/internal/middleware/security"
	"budgetly/internal/middleware/trace"
	"budgetly/internal/services"
	"budgetly/internal/session"
)

// DefaultHistoryPageSize is the page size of the transaction history.
const DefaultHistoryPageSize = 3

// Pinger reports whether the backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services the handlers call.
type Deps struct {
	Auth         *auth.Service
	Users        *services.UserService
	Categories   *services.CategoryService
	Monthly      *services.MonthlyResolver
	Transactions *services.TransactionService
	Store        Pinger
}

type Options struct {
	Sessions *session.Manager
	// PageSize applies to the admin tables, HistoryPageSize to the history.
	PageSize        int
	HistoryPageSize int
	Debounce        time.Duration
	// RequestTimeout bounds every list fetch and the readiness probe.
	RequestTimeout time.Duration
	// LoginRateLimit is the number of login/register attempts per client
	// and minute.
	LoginRateLimit int
	TrustedProxies []string
	Headers        *security.HeadersConfig
	// CacheSweepInterval is how often expired sessions are dropped.
	CacheSweepInterval time.Duration
	Logger             *log.Logger
	Now                func() time.Time
}

type Server struct {
	http.Server
	deps     Deps
	opts     Options
	sessions *session.Manager
	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	janitor  *cache.Janitor
	logger   *log.Logger
	started  time.Time

	stopJanitor  context.CancelFunc
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. Call Shutdown to stop it and its background sweeps.
func NewServer(addr string, deps Deps, opts Options) (*Server, error) {
	if opts.PageSize <= 0 {
		opts.PageSize = listing.DefaultPageSize
	}
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = DefaultHistoryPageSize
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = listing.DefaultTimeout
	}
	if opts.CacheSweepInterval <= 0 {
		opts.CacheSweepInterval = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := log.OrDiscard(opts.Logger)
	if opts.Sessions == nil {
		opts.Sessions = session.NewManager(session.Options{Logger: logger})
	}
	headers := security.DefaultHeadersConfig()
	if opts.Headers != nil {
		headers = *opts.Headers
	}

	ips, err := security.NewIPResolver(opts.TrustedProxies...)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	s := &Server{
		deps:     deps,
		opts:     opts,
		sessions: opts.Sessions,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.LoginRateLimit}),
		tracer:   trace.NewMiddleware(logger, ips.ClientIP),
		janitor:  cache.NewJanitor(logger),
		logger:   logger.WithComponent(log.ComponentHTTP),
		started:  opts.Now(),
	}
	s.janitor.Register("sessions", s.sessions.Sessions())

	mux := http.NewServeMux()
	s.routes(mux, s.limiter.Middleware(ips.ClientIP))

	var handler http.Handler = mux
	handler = s.sessions.Middleware(handler)
	handler = security.NewHeadersMiddleware(headers).Middleware(handler)
	handler = s.tracer.Middleware(handler)
	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stopJanitor = cancel
	go s.janitor.Run(ctx, opts.CacheSweepInterval)

	return s, nil
}

func (s *Server) routes(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	user := func(h http.HandlerFunc) http.Handler { return s.sessions.RequireUser(h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.sessions.RequireAdmin(h) }

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.Handle("POST /api/auth/register", limit(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/auth/login", limit(http.HandlerFunc(s.handleLogin)))
	mux.Handle("POST /api/auth/logout", user(s.handleLogout))
	mux.Handle("POST /api/admin/login", limit(http.HandlerFunc(s.handleAdminLogin)))
	mux.Handle("POST /api/admin/logout", admin(s.handleAdminLogout))

	mux.Handle("GET /api/admin/users", admin(s.handleListUsers))
	mux.Handle("POST /api/admin/users/{id}/toggle", admin(s.handleToggleUser))
	mux.Handle("GET /api/admin/categories", admin(s.handleListCategories))
	mux.Handle("POST /api/admin/categories", admin(s.handleCreateCategory))
	mux.Handle("PUT /api/admin/categories/{id}", admin(s.handleUpdateCategory))
	mux.Handle("POST /api/admin/categories/{id}/toggle", admin(s.handleToggleCategory))

	mux.Handle("GET /api/me", user(s.handleProfile))
	mux.Handle("PUT /api/me", user(s.handleUpdateProfile))
	mux.Handle("POST /api/me/password", user(s.handleChangePassword))

	mux.Handle("GET /api/budget", user(s.handleBudget))
	mux.Handle("PUT /api/budget", user(s.handleSetBudget))
	mux.Handle("POST /api/budget/categories", user(s.handleAddLimit))
	mux.Handle("PUT /api/budget/categories/{id}", user(s.handleUpdateLimit))
	mux.Handle("DELETE /api/budget/categories/{id}", user(s.handleRemoveLimit))
	mux.Handle("GET /api/categories/active", user(s.handleActiveCategories))

	mux.Handle("GET /api/history", user(s.handleHistory))
	mux.Handle("POST /api/history", user(s.handleCreateTransaction))
	mux.Handle("DELETE /api/history/{id}", user(s.handleDeleteTransaction))
}

// Shutdown stops the background sweeps and the HTTP server. Safe to call
// more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.stopJanitor != nil {
			s.stopJanitor()
		}
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": s.opts.Now().Format(time.RFC3339),
		"uptime":    s.opts.Now().Sub(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady reports 503 until the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()

	status, code := "ready", http.StatusOK
	checks := map[string]any{
		"sessions":     map[string]any{"active": s.sessions.Sessions().Size(), "status": "ok"},
		"rate_limiter": map[string]any{"active_clients": s.limiter.ActiveClients(), "status": "ok"},
	}
	switch {
	case s.deps.Store == nil:
		checks["store"] = "not_configured"
		status, code = "not_ready", http.StatusServiceUnavailable
	default:
		if err := s.deps.Store.Ping(ctx); err != nil {
			checks["store"] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
		} else {
			checks["store"] = "ok"
		}
	}

	NewJSONResponse().Status(code).Body(map[string]any{
		"status":    status,
		"timestamp": s.opts.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics writes counters in the Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	tm := s.tracer.GetMetrics()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", tm.TotalRequests)

	fmt.Fprintf(w, "# HELP http_response_time_avg_seconds Smoothed average response time\n")
	fmt.Fprintf(w, "# TYPE http_response_time_avg_seconds gauge\n")
	fmt.Fprintf(w, "http_response_time_avg_seconds %.6f\n\n", tm.AverageResponseTime.Seconds())

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Login attempts rejected by the rate limiter\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", s.limiter.Hits())

	fmt.Fprintf(w, "# HELP sessions_active Sessions held in memory\n")
	fmt.Fprintf(w, "# TYPE sessions_active gauge\n")
	fmt.Fprintf(w, "sessions_active %d\n\n", s.sessions.Sessions().Size())

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", s.opts.Now().Sub(s.started).Seconds())
}
