package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/swdedup/internal/clock/system"
	"github.com/JakeFAU/swdedup/internal/logging"
	"github.com/JakeFAU/swdedup/internal/metrics"
)

const (
	requestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Check reports whether a dependency is usable. A nil error means ready.
type Check func(ctx context.Context) error

// StageStatus is the latest recorded state of one pipeline stage.
type StageStatus struct {
	Stage      string         `json:"stage"`
	State      string         `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
}

// Stage states.
const (
	StateRunning   = "running"
	StateSucceeded = "succeeded"
	StateFailed    = "failed"
)

// Clock supplies stage timestamps.
type Clock interface {
	Now() time.Time
}

// StageBoard records stage progress for the /v1/stages route. It is safe for
// concurrent use.
type StageBoard struct {
	mu     sync.RWMutex
	stages map[string]StageStatus
	clock  Clock
}

// NewStageBoard returns an empty board. A nil clock uses the system clock.
func NewStageBoard(clock Clock) *StageBoard {
	if clock == nil {
		clock = system.New()
	}
	return &StageBoard{stages: make(map[string]StageStatus), clock: clock}
}

// Start marks stage as running, discarding its previous status.
func (b *StageBoard) Start(stage string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stages[stage] = StageStatus{Stage: stage, State: StateRunning, StartedAt: b.clock.Now().UTC()}
}

// Finish records the outcome of stage. err == nil marks it succeeded.
func (b *StageBoard) Finish(stage string, summary map[string]any, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.stages[stage]
	if !ok {
		st = StageStatus{Stage: stage, StartedAt: b.clock.Now().UTC()}
	}
	finished := b.clock.Now().UTC()
	st.FinishedAt = &finished
	st.Summary = summary
	st.State = StateSucceeded
	st.Error = ""
	if err != nil {
		st.State = StateFailed
		st.Error = err.Error()
	}
	b.stages[stage] = st
}

// Snapshot returns every stage ordered by name.
func (b *StageBoard) Snapshot() []StageStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]StageStatus, 0, len(b.stages))
	for _, st := range b.stages {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Server wires the operator routes.
type Server struct {
	router chi.Router
	board  *StageBoard
	checks map[string]Check
	logger *zap.Logger

	mu   sync.Mutex
	http *http.Server
}

// NewServer constructs a Server with middleware and routes. board and checks
// may be nil.
func NewServer(board *StageBoard, checks map[string]Check, logger *zap.Logger) *Server {
	if board == nil {
		board = NewStageBoard(nil)
	}
	s := &Server{
		board:  board,
		checks: checks,
		logger: logging.OrNop(logger),
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stages", s.listStages)
		r.Get("/stages/{stage}", s.getStage)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Board returns the stage board the server reports from.
func (s *Server) Board() *StageBoard {
	return s.board
}

// Start listens on addr and serves in the background. It returns the bound
// address, which differs from addr when addr uses port 0.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("operator server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("operator server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Shutdown stops a server started with Start. It is a no-op otherwise.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown operator server: %w", err)
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := make(map[string]string)
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "checks": failures})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listStages(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"stages": s.board.Snapshot()})
}

func (s *Server) getStage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "stage")
	for _, st := range s.board.Snapshot() {
		if st.Stage == name {
			s.writeJSON(w, http.StatusOK, st)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "stage not found")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (rw *statusWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
