// Package webui serves the Mission Control control API.
package webui

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"missioncontrol/pkg/approve"
	"missioncontrol/pkg/executor"
	"missioncontrol/pkg/intake"
	"missioncontrol/pkg/logx"
	"missioncontrol/pkg/loopctl"
	"missioncontrol/pkg/persistence"
	"missioncontrol/pkg/queue"
)

// DefaultUser is the basic auth username when none is configured.
const DefaultUser = "missioncontrol"

// Queue is the queue controller surface.
type Queue interface {
	Start(ctx context.Context) (queue.Reply, error)
	Stop(ctx context.Context) (queue.Reply, error)
	Status(ctx context.Context) (*queue.Status, error)
}

// Executor runs a task synchronously.
type Executor interface {
	Execute(ctx context.Context, taskID string, override *persistence.ProviderConfig) (*executor.Result, error)
}

// Reviewer applies human review actions.
type Reviewer interface {
	Act(ctx context.Context, taskID string, action approve.Action, feedback string) (*approve.Outcome, error)
}

// Creator admits tasks and fans out Producer batches.
type Creator interface {
	Create(ctx context.Context, t *persistence.Task) (*intake.Outcome, error)
	Produce(ctx context.Context, producerTaskID string) (*intake.BatchResult, error)
	ProduceSpecs(ctx context.Context, specs []intake.Spec, sourceTaskID string) (*intake.BatchResult, error)
}

// Store is the read side the API needs.
type Store interface {
	loopctl.HealthStore
	GetTask(ctx context.Context, id string) (*persistence.Task, error)
	ListMessages(ctx context.Context, since time.Time, limit int) ([]*persistence.Message, error)
	ListAgents(ctx context.Context) ([]*persistence.Agent, error)
}

// Deps wires the server.
type Deps struct {
	Store    Store
	Queue    Queue
	Executor Executor
	Reviewer Reviewer
	Creator  Creator
	Gatherer prometheus.Gatherer
	// Password returns the expected basic auth password; empty denies all.
	Password func() string
	User     string
	Version  string
}

// Server is the control API.
type Server struct {
	deps   Deps
	logger *logx.Logger
}

// NewServer creates a server.
func NewServer(d Deps) *Server {
	if d.User == "" {
		d.User = DefaultUser
	}
	if d.Password == nil {
		d.Password = func() string { return "" }
	}
	return &Server{deps: d, logger: logx.NewLogger("webui")}
}

// requireAuth wraps next with basic auth.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expected := s.deps.Password()
		if expected == "" {
			s.logger.Error("Control API password not set - denying access")
			unauthorized(w)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok {
			unauthorized(w)
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.deps.User)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(expected)) == 1
		if !userOK || !passOK {
			s.logger.Warn("Failed authentication attempt from %s (username: %s)", r.RemoteAddr, user)
			unauthorized(w)
			return
		}
		next(w, r)
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Mission Control"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RegisterRoutes sets up the API routes. Everything requires auth.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/queue", s.requireAuth(s.handleQueue))
	mux.HandleFunc("/api/tasks", s.requireAuth(s.handleCreateTask))
	mux.HandleFunc("/api/tasks/{id}/review", s.requireAuth(s.handleReview))
	mux.HandleFunc("/api/produce", s.requireAuth(s.handleProduce))
	mux.HandleFunc("/api/execute", s.requireAuth(s.handleExecute))
	mux.HandleFunc("/api/loop-controls", s.requireAuth(s.handleLoopControls))
	mux.HandleFunc("/api/loop-health", s.requireAuth(s.handleLoopHealth))
	mux.HandleFunc("/api/messages", s.requireAuth(s.handleMessages))
	mux.HandleFunc("/api/agents", s.requireAuth(s.handleAgents))
	mux.HandleFunc("/api/secrets", s.requireAuth(s.handleSecrets))
	mux.HandleFunc("/api/healthz", s.requireAuth(s.handleHealth))

	if s.deps.Gatherer != nil {
		mux.Handle("/metrics", s.requireAuth(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}).ServeHTTP))
	}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting control API on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down control API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed: %v", err)
		return err
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
