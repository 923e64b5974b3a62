package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rahul/robots/internal/agent"
	"github.com/rahul/robots/internal/observability"
	"github.com/rahul/robots/internal/store"
)

// MaxRequestBodySize bounds act requests (1MB).
const MaxRequestBodySize = 1 << 20

// maxLimiters caps the per-session limiter table.
const maxLimiters = 1024

// HTTPServer exposes the executor over HTTP:
//   - POST /robots/instance/plan/act  run the next step of a plan
//   - GET  /robots/instance/plan      plan, steps and progress
//   - GET  /healthz                   liveness
type HTTPServer struct {
	Addr   string
	Runner agent.StepRunner
	Plans  PlanReader

	router *http.ServeMux
	server *http.Server

	limit    rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*sessionLimiter
}

type sessionLimiter struct {
	*rate.Limiter
	seen time.Time
}

// NewHTTPServer builds the server. rps <= 0 disables per-session rate limiting.
func NewHTTPServer(addr string, runner agent.StepRunner, plans PlanReader, rps float64, burst int) *HTTPServer {
	if burst <= 0 {
		burst = 1
	}
	s := &HTTPServer{
		Addr:     addr,
		Runner:   runner,
		Plans:    plans,
		router:   http.NewServeMux(),
		limit:    rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*sessionLimiter),
	}
	s.setupRoutes()
	return s
}

func (s *HTTPServer) setupRoutes() {
	s.router.HandleFunc("POST /robots/instance/plan/act", s.handleAct)
	s.router.HandleFunc("GET /robots/instance/plan", s.handlePlan)
	s.router.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. No write timeout: an act call may run for the
// whole step budget.
func (s *HTTPServer) Start() error {
	s.server = &http.Server{
		Addr:        s.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	log.Printf("HTTP API listening on %s", s.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) allow(sessionID string) bool {
	if s.limit <= 0 {
		return true
	}
	now := time.Now()
	s.mu.Lock()
	limiter, ok := s.limiters[sessionID]
	if !ok {
		if len(s.limiters) >= maxLimiters {
			s.evictLimiters(now)
		}
		limiter = &sessionLimiter{Limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[sessionID] = limiter
	}
	limiter.seen = now
	s.mu.Unlock()
	return limiter.AllowN(now, 1)
}

// evictLimiters drops limiters whose bucket has refilled, or the least
// recently used one when none has. Callers hold s.mu.
func (s *HTTPServer) evictLimiters(now time.Time) {
	oldest := ""
	for id, l := range s.limiters {
		if l.TokensAt(now) >= float64(s.burst) {
			delete(s.limiters, id)
			continue
		}
		if oldest == "" || l.seen.Before(s.limiters[oldest].seen) {
			oldest = id
		}
	}
	if len(s.limiters) >= maxLimiters {
		delete(s.limiters, oldest)
	}
}

// limited reports whether the act call should count against a session's
// limiter. Unknown sessions are left to the executor, which rejects them.
func (s *HTTPServer) limited(ctx context.Context, sessionID string) bool {
	if s.limit <= 0 || sessionID == "" {
		return false
	}
	if s.Plans == nil {
		return true
	}
	_, err := s.Plans.GetSession(ctx, sessionID)
	return err == nil
}

func (s *HTTPServer) handleAct(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if sessionID := strings.TrimSpace(req.SessionID); s.limited(r.Context(), sessionID) && !s.allow(sessionID) {
		writeError(w, http.StatusTooManyRequests, "too many requests for this session")
		return
	}

	res, err := s.Runner.ExecuteNextStep(r.Context(), req)
	if err != nil {
		log.Printf("act session=%s plan=%s: %v", req.SessionID, req.PlanID, err)
		status := statusFor(err)
		if res != nil {
			res.Error = err.Error()
			writeJSON(w, status, res)
			return
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PlanView is the response of GET /robots/instance/plan.
type PlanView struct {
	Plan     *store.Plan    `json:"plan"`
	Steps    []store.Step   `json:"steps"`
	Progress store.Progress `json:"progress"`
}

func (s *HTTPServer) handlePlan(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	planID := strings.TrimSpace(r.URL.Query().Get("plan_id"))
	if sessionID == "" || planID == "" {
		writeError(w, http.StatusBadRequest, "session_id and plan_id are required")
		return
	}

	plan, steps, err := loadPlan(r.Context(), s.Plans, sessionID, planID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if steps == nil {
		steps = []store.Step{}
	}
	writeJSON(w, http.StatusOK, PlanView{Plan: plan, Steps: steps, Progress: store.ComputeProgress(steps)})
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := observability.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"running":        stats.Running,
		"outcomes":       stats.Outcomes,
		"polling":        stats.Polling,
		"last_heartbeat": stats.LastHeartbeat,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, agent.ErrInvalidParameter):
		return http.StatusBadRequest
	case errors.Is(err, agent.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrSessionInactive), errors.Is(err, agent.ErrStepClaimed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
