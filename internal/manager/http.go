package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumenarc/voicegateway/internal/infra"
)

// maxBroadcastBody caps the size of a broadcast request body, mirroring
// the teacher's general instinct to bound anything read off the wire
// before it reaches application code.
const maxBroadcastBody = 64 * 1024

// HTTPServer serves the §6 companion endpoints over chi, grounded on
// the teacher's internal/gateway/http_server.go lifecycle (net.Listen
// + http.Server with a bounded ReadHeaderTimeout, graceful Shutdown),
// adapted from its stdlib ServeMux to chi's router.
type HTTPServer struct {
	*infra.BaseComponent

	manager *Manager
	addr    string
	health  *infra.HealthCheckRegistry

	srv      *http.Server
	listener net.Listener
}

// NewHTTPServer builds the companion server for m, listening on addr.
// It registers the session manager's own liveness under a health check
// registry so /health reports an aggregated infra.HealthReport rather
// than a single component's state, the same "registry of named checks"
// shape the teacher's service entrypoints use for readiness probes.
func NewHTTPServer(m *Manager, addr string, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		BaseComponent: infra.NewBaseComponent("manager-http", logger),
		manager:       m,
		addr:          addr,
		health:        infra.NewHealthCheckRegistry(),
	}
	s.health.Register(infra.HealthCheckConfig{
		Name:     "session-manager",
		Critical: true,
		Checker: func(ctx context.Context) infra.HealthCheckResult {
			h := m.Health(ctx)
			status := infra.ServiceHealthUnhealthy
			if h.State == infra.ServiceHealthHealthy {
				status = infra.ServiceHealthHealthy
			}
			return infra.HealthCheckResult{Name: "session-manager", Status: status, Message: h.Message}
		},
	})
	return s
}

func (s *HTTPServer) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/sessions/stats", s.handleStats)
	r.Post("/sessions/{subject}/broadcast", s.handleBroadcast)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start transitions the component to running and begins serving.
func (s *HTTPServer) Start(ctx context.Context) error {
	if !s.TransitionTo(infra.ComponentStateNew, infra.ComponentStateStarting) {
		return fmt.Errorf("manager http server: invalid start transition from %s", s.State())
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("manager http listen: %w", err)
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger().Error("manager http server error", "err", err)
		}
	}()

	s.MarkStarted()
	s.Logger().Info("manager http server listening", "addr", s.addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if !s.TransitionTo(s.State(), infra.ComponentStateStopping) {
		return nil
	}
	defer s.MarkStopped()
	if s.srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Health reports the server as healthy once it is running.
func (s *HTTPServer) Health(_ context.Context) infra.ComponentHealth {
	if !s.IsRunning() {
		return infra.ComponentHealth{State: infra.ServiceHealthUnhealthy, Message: s.State().String()}
	}
	return infra.ComponentHealth{State: infra.ServiceHealthHealthy, Message: "serving", Details: map[string]string{"addr": s.addr}}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.CheckAll(r.Context())
	status := http.StatusOK
	if !report.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.manager.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions":    stats.TotalSessions,
		"unique_subjects":   stats.UniqueSubjects,
		"sessions_by_agent": stats.SessionsByAgent,
	})
}

func (s *HTTPServer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	if subject == "" {
		http.Error(w, "subject is required", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBroadcastBody+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if len(body) > maxBroadcastBody {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be a JSON frame", http.StatusBadRequest)
		return
	}

	s.manager.BroadcastToSubject(subject, body)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "broadcast_accepted", "subject_id": subject})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
