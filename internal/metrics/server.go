package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// ServerConfig configures the status server.
type ServerConfig struct {
	Addr      string
	Status    *Status
	Collector *MetricsCollector
	// StaleAfter marks /healthz unhealthy when neither a heartbeat nor the
	// end of a run was seen for this long outside a run. Zero disables the
	// check.
	StaleAfter time.Duration
	Logger     *slog.Logger
}

// Server exposes /metrics and /healthz.
type Server struct {
	cfg    ServerConfig
	router *chi.Mux
	logger *slog.Logger
	now    func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Status == nil {
		cfg.Status = Board
	}
	if cfg.Collector == nil {
		cfg.Collector = Collector
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger, now: time.Now}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/metrics", s.cfg.Collector.Handler())
	r.Get("/healthz", s.health)
	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on cfg.Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status server listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	snap := s.cfg.Status.Snapshot()

	code := http.StatusOK
	status := "ok"
	switch {
	case snap.State == "stopped":
		code, status = http.StatusServiceUnavailable, "stopped"
	case s.cfg.StaleAfter > 0 && snap.State != "running" && stale(snap, s.now(), s.cfg.StaleAfter):
		code, status = http.StatusServiceUnavailable, "stale"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(struct {
		Status string `json:"status"`
		Snapshot
	}{status, snap})
}

// stale reports whether neither a heartbeat nor the end of a run has been
// seen within after. Beats pause during runs, so a long run counts as
// activity until it ends.
func stale(snap Snapshot, now time.Time, after time.Duration) bool {
	last := snap.LastHeartbeat
	if snap.LastRun != nil {
		if end := snap.LastRun.Started.Add(snap.LastRun.Duration); end.After(last) {
			last = end
		}
	}
	if last.IsZero() {
		return false
	}
	return now.Sub(last) > after
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("status request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
