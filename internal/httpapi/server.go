// Package httpapi serves the dashboard snapshot, manual refresh and a
// websocket snapshot stream over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	apperrors "watchlist-dashboard/internal/errors"
	"watchlist-dashboard/internal/logging"
	"watchlist-dashboard/internal/models"
	"watchlist-dashboard/internal/resilience"
	"watchlist-dashboard/internal/store"
	"watchlist-dashboard/internal/stream"
)

const (
	defaultCycleLimit = 50
	maxCycleLimit     = 500
	shutdownTimeout   = 5 * time.Second
)

// Dashboard is the poller surface the server needs.
type Dashboard interface {
	Instance() string
	Snapshot() models.Snapshot
	Entries() []models.WatchlistEntry
	Refresh(ctx context.Context) error
}

// CycleLog reads the poll-cycle log.
type CycleLog interface {
	RecentCycles(ctx context.Context, filter store.CycleFilter) ([]models.CycleRecord, error)
}

// ProviderHealth reports the quote provider's circuit breaker.
type ProviderHealth interface {
	Stats() resilience.BreakerStats
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithCycleLog enables GET /api/cycles.
func WithCycleLog(log CycleLog) Option {
	return func(s *Server) {
		s.cycles = log
	}
}

// WithProviderHealth adds the provider breaker to GET /healthz.
func WithProviderHealth(p ProviderHealth) Option {
	return func(s *Server) {
		s.provider = p
	}
}

// WithAllowedOrigin sets the origin allowed by CORS and websocket upgrades.
// "*" allows any origin; empty allows same-origin requests only.
func WithAllowedOrigin(origin string) Option {
	return func(s *Server) {
		s.allowedOrigin = strings.TrimRight(origin, "/")
	}
}

// WithRefreshLimit caps manual refreshes to perMinute across HTTP and
// websocket clients. Zero disables the cap.
func WithRefreshLimit(perMinute int) Option {
	return func(s *Server) {
		if perMinute <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}
}

// Server serves the dashboard HTTP API.
type Server struct {
	dash          Dashboard
	hub           *stream.Hub
	cycles        CycleLog
	provider      ProviderHealth
	limiter       *rate.Limiter
	allowedOrigin string
	logger        zerolog.Logger
	upgrader      websocket.Upgrader
	started       time.Time
}

// NewServer creates a new dashboard HTTP server.
func NewServer(dash Dashboard, hub *stream.Hub, opts ...Option) *Server {
	s := &Server{
		dash:    dash,
		hub:     hub,
		logger:  zerolog.Nop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:       s.checkOrigin,
		EnableCompression: true,
	}
	return s
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/dashboard", s.logRequests(s.handleDashboard))
	mux.Handle("POST /api/refresh", s.logRequests(s.handleRefresh))
	mux.Handle("GET /api/watchlist", s.logRequests(s.handleWatchlist))
	mux.Handle("GET /api/cycles", s.logRequests(s.handleCycles))
	mux.Handle("GET /api/ws", s.logRequests(s.handleWebSocket))
	mux.Handle("GET /healthz", s.logRequests(s.handleHealth))
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.corsMiddleware(mux)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return apperrors.Wrapf(err, "listening on %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("HTTP API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(err, "shutting down HTTP API")
	}
	return nil
}

// logRequests gives each request a logger carrying its method and path,
// reachable through logging.FromContext.
func (s *Server) logRequests(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		next(w, r.WithContext(logging.WithLogger(r.Context(), logger)))
		logger.Debug().Dur("duration", time.Since(start)).Msg("Request served")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", s.allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin allows requests without an Origin header, requests from the
// configured origin, and same-host requests.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowedOrigin == "*" {
		return true
	}
	if s.allowedOrigin != "" && strings.EqualFold(strings.TrimRight(origin, "/"), s.allowedOrigin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// allowRefresh reports whether a manual refresh may run now.
func (s *Server) allowRefresh() bool {
	return s.limiter == nil || s.limiter.Allow()
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	snap := s.dash.Snapshot()
	writeJSON(w, http.StatusOK, DashboardResponse{
		Snapshot: snap,
		Counts:   countsOf(snap),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.allowRefresh() {
		writeError(w, http.StatusTooManyRequests, "refresh rate limit exceeded")
		return
	}

	err := s.dash.Refresh(r.Context())
	switch {
	case errors.Is(err, apperrors.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "dashboard is not running")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Client went away; the cycle completes on its own.
		return
	case err != nil:
		logger := logging.FromContext(r.Context())
		logger.Debug().Err(err).Msg("Manual refresh failed")
	}

	snap := s.dash.Snapshot()
	writeJSON(w, http.StatusOK, DashboardResponse{
		Snapshot: snap,
		Counts:   countsOf(snap),
	})
}

func (s *Server) handleWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, WatchlistResponse{Stocks: s.dash.Entries()})
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	if s.cycles == nil {
		writeError(w, http.StatusNotFound, "cycle log not configured")
		return
	}

	q := r.URL.Query()
	filter := store.CycleFilter{
		Instance: s.dash.Instance(),
		Limit:    defaultCycleLimit,
	}
	if q.Get("instance") == "all" {
		filter.Instance = ""
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxCycleLimit)
	}
	if v := q.Get("outcome"); v != "" {
		switch o := models.CycleOutcome(v); o {
		case models.OutcomeSuccess, models.OutcomeError, models.OutcomeDiscarded:
			filter.Outcome = o
		default:
			writeError(w, http.StatusBadRequest, "unknown outcome")
			return
		}
	}

	records, err := s.cycles.RecentCycles(r.Context(), filter)
	if err != nil {
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("Reading cycle log")
		writeError(w, http.StatusInternalServerError, "cycle log unavailable")
		return
	}
	if records == nil {
		records = []models.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, CyclesResponse{Cycles: records})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.dash.Snapshot()
	resp := HealthResponse{
		Status:   "ok",
		State:    snap.State,
		Instance: snap.Instance,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
	}
	if !snap.UpdatedAt.IsZero() {
		resp.LastSuccess = &snap.UpdatedAt
	}
	if s.provider != nil {
		stats := s.provider.Stats()
		resp.Provider = &stats
		if stats.State != resilience.StateClosed {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func countsOf(snap models.Snapshot) map[models.Status]int {
	counts := snap.Counts()
	for _, st := range []models.Status{models.StatusBuy, models.StatusAlert, models.StatusNear, models.StatusHold} {
		if _, ok := counts[st]; !ok {
			counts[st] = 0
		}
	}
	return counts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
