// Package server exposes the guard over HTTP for platform services that
// run outside the process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/gzhole/eduguard/internal/access"
	"github.com/gzhole/eduguard/internal/audit"
	"github.com/gzhole/eduguard/internal/guard"
)

const (
	DefaultMaxBodyBytes = 1 << 20
	DefaultRecent       = 50
	maxRecent           = 1000
)

// Checker is the subset of *guard.Guard the handlers call.
type Checker interface {
	CheckInput(ctx context.Context, userID, content string, req guard.Request) guard.CheckResult
	CheckOutput(ctx context.Context, userID, content string, req guard.Request) guard.CheckResult
	AccessSummary(userID string, role access.Role, tier access.Tier) map[access.Feature]access.Decision
}

// EventSource serves the recent-events view. *audit.Logger satisfies it.
type EventSource interface {
	Recent(n int) []audit.Event
}

// Config tunes the HTTP surface.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	// Metrics serves the default Prometheus registry when non-nil.
	Metrics http.Handler
	// AuditAPI serves GET /v1/audit/recent. Events carry request context
	// and metadata, so keep it off on listeners learners can reach.
	AuditAPI bool
}

// Server routes requests to the guard.
type Server struct {
	guard  Checker
	events EventSource
	cfg    Config
	log    zerolog.Logger
	router *mux.Router
}

// CheckRequest is the body of both check endpoints.
type CheckRequest struct {
	UserID   string            `json:"user_id"`
	Content  string            `json:"content"`
	Role     access.Role       `json:"role"`
	Tier     access.Tier       `json:"tier"`
	Feature  access.Feature    `json:"feature"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

// New builds the router. The recent events endpoint answers 404 unless
// events is non-nil and cfg.AuditAPI is set.
func New(g Checker, events EventSource, cfg Config, log zerolog.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	s := &Server{guard: g, events: events, cfg: cfg, log: log, router: mux.NewRouter()}
	s.routes()
	return s
}

// DefaultMetrics is the handler for the process-wide registry.
func DefaultMetrics() http.Handler { return promhttp.Handler() }

func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/v1/check/input", s.handleCheck(s.guard.CheckInput)).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/check/output", s.handleCheck(s.guard.CheckOutput)).Methods(http.MethodPost)
	s.router.HandleFunc("/v1/access/{userID}", s.handleAccess).Methods(http.MethodGet)
	if s.events != nil && s.cfg.AuditAPI {
		s.router.HandleFunc("/v1/audit/recent", s.handleRecent).Methods(http.MethodGet)
	}
	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics).Methods(http.MethodGet)
	}
}

// Router returns the root handler.
func (s *Server) Router() http.Handler { return s.router }

// ListenAndServe blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type checkFunc func(ctx context.Context, userID, content string, req guard.Request) guard.CheckResult

// handleCheck answers 200 with the CheckResult for every decision,
// including rejections. Only malformed requests get 4xx.
func (s *Server) handleCheck(check checkFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		var body CheckRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
			return
		}
		if body.UserID == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "user_id is required"})
			return
		}

		res := check(r.Context(), body.UserID, body.Content, guard.Request{
			Role:     body.Role,
			Tier:     body.Tier,
			Feature:  body.Feature,
			Metadata: body.Metadata,
		})
		if res.Err != nil {
			s.log.Warn().Err(res.Err).Str("event_id", res.EventID).Str("path", r.URL.Path).Msg("check completed with faults")
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleAccess(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	q := r.URL.Query()
	role, tier := access.Role(q.Get("role")), access.Tier(q.Get("tier"))
	if !role.Valid() || !tier.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "role and tier must be known values"})
		return
	}
	writeJSON(w, http.StatusOK, s.guard.AccessSummary(userID, role, tier))
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	n := DefaultRecent
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "n must be a positive integer"})
			return
		}
		n = min(v, maxRecent)
	}
	events := s.events.Recent(n)
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
