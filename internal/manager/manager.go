// Package manager implements the Session Manager (C6): accepts new
// client sockets, assigns ids, drives the agent-initialization and
// bridge lifecycle, and triggers the conversation logger on teardown.
// It embeds infra.BaseComponent the same way the teacher's ToolManager
// (internal/gateway/tool_manager.go) does, gating Start/Stop through
// the shared ComponentState machine in internal/infra/lifecycle.go.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumenarc/voicegateway/internal/agent"
	"github.com/lumenarc/voicegateway/internal/bridge"
	"github.com/lumenarc/voicegateway/internal/convlog"
	"github.com/lumenarc/voicegateway/internal/gatewayerr"
	"github.com/lumenarc/voicegateway/internal/infra"
	"github.com/lumenarc/voicegateway/internal/metrics"
	"github.com/lumenarc/voicegateway/internal/session"
	"github.com/lumenarc/voicegateway/internal/upstream"
)

// UpstreamDialer is the subset of upstream.Client the manager needs,
// narrowed to an interface so tests can fake it.
type UpstreamDialer interface {
	Connect(ctx context.Context) (*websocket.Conn, error)
}

// SubjectProvisioner installs subject-specific agents/tools the first
// time a subject is seen in the current process (§4.6's
// ensure_initialized).
type SubjectProvisioner func(ctx context.Context, registry *agent.Registry, subjectID string) error

// Manager implements C6.
type Manager struct {
	*infra.BaseComponent

	Registry   *agent.Registry
	Dispatcher *agent.Dispatcher
	Upstream   UpstreamDialer
	Logger_    *convlog.Logger
	Provision  SubjectProvisioner

	mu                  sync.RWMutex
	sessionsByID        map[string]*session.Session
	sessionsBySubject   map[string]map[string]*session.Session
	initializedSubjects map[string]struct{}
}

// New builds a Manager.
func New(registry *agent.Registry, dispatcher *agent.Dispatcher, up UpstreamDialer, logger *convlog.Logger, provision SubjectProvisioner, slogger *slog.Logger) *Manager {
	return &Manager{
		BaseComponent:       infra.NewBaseComponent("session-manager", slogger),
		Registry:            registry,
		Dispatcher:          dispatcher,
		Upstream:            up,
		Logger_:             logger,
		Provision:           provision,
		sessionsByID:        make(map[string]*session.Session),
		sessionsBySubject:   make(map[string]map[string]*session.Session),
		initializedSubjects: make(map[string]struct{}),
	}
}

// Start transitions the manager into the running state. There is no
// background work to launch; sessions are driven per-connection by
// Accept.
func (m *Manager) Start(ctx context.Context) error {
	if !m.TransitionTo(infra.ComponentStateNew, infra.ComponentStateStarting) {
		return fmt.Errorf("session manager: invalid start transition from %s", m.State())
	}
	m.MarkStarted()
	return nil
}

// Stop tears down every active session.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.TransitionTo(m.State(), infra.ComponentStateStopping) {
		return nil
	}
	m.mu.RLock()
	sessions := make([]*session.Session, 0, len(m.sessionsByID))
	for _, s := range m.sessionsByID {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()
	for _, s := range sessions {
		m.Teardown(ctx, s)
	}
	m.MarkStopped()
	return nil
}

// Accept implements §4.6's accept operation: generates a session id,
// registers the session, sends connection.established, dials
// upstream, and launches the two bridge tasks. It blocks until the
// bridge exits, then tears down.
func (m *Manager) Accept(ctx context.Context, clientSocket *websocket.Conn, subjectID string) {
	id := uuid.NewString()
	sess := session.New(id, subjectID)
	sess.AttachClientSocket(clientSocket)

	m.register(sess)
	defer m.Teardown(ctx, sess)

	if err := sess.ClientWriter.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection.established"}`)); err != nil {
		sess.End(session.ReasonInternalError, false)
		return
	}

	upstreamConn, err := m.Upstream.Connect(ctx)
	if err != nil {
		reason := session.ReasonInternalError
		dialFailureReason := "handshake_failed"
		if errors.Is(err, gatewayerr.ErrAuthFailed) {
			reason = session.ReasonAuthFailed
			dialFailureReason = "auth_failed"
			_ = sess.ClientWriter.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","error":"auth"}`))
		}
		metrics.UpstreamDialFailures.WithLabelValues(dialFailureReason).Inc()
		sess.End(reason, false)
		return
	}
	sess.AttachUpstreamSocket(upstreamConn)

	b := &bridge.Bridge{
		Session:    sess,
		Registry:   m.Registry,
		Dispatcher: m.Dispatcher,
		EnsureInit: m.ensureInitialized,
		Logger:     m.Logger(),
	}
	_ = b.Run(ctx)
}

func (m *Manager) register(sess *session.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionsByID[sess.ID] = sess
	if sess.SubjectID != "" {
		if m.sessionsBySubject[sess.SubjectID] == nil {
			m.sessionsBySubject[sess.SubjectID] = make(map[string]*session.Session)
		}
		m.sessionsBySubject[sess.SubjectID][sess.ID] = sess
	}
	metrics.SessionsActive.Inc()
}

// ensureInitialized idempotently provisions subject-specific agents.
func (m *Manager) ensureInitialized(ctx context.Context, subjectID string) error {
	m.mu.Lock()
	if _, done := m.initializedSubjects[subjectID]; done {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.Provision != nil {
		if err := m.Provision(ctx, m.Registry, subjectID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.initializedSubjects[subjectID] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Teardown implements §4.6's teardown operation: stamps end_at if not
// already set, closes sockets, removes the session from the index, and
// fires the conversation logger without letting its failure propagate.
// A repeated call for a session already removed from the index only
// closes its sockets again; metrics and the logger run once.
func (m *Manager) Teardown(ctx context.Context, sess *session.Session) {
	sess.End(session.ReasonInternalError, false) // no-op if already ended

	upstream.Close(sess.UpstreamSocket)
	if sess.ClientSocket != nil {
		_ = sess.ClientSocket.Close()
	}

	m.mu.Lock()
	if _, present := m.sessionsByID[sess.ID]; !present {
		m.mu.Unlock()
		return
	}
	delete(m.sessionsByID, sess.ID)
	if sess.SubjectID != "" {
		if bucket, ok := m.sessionsBySubject[sess.SubjectID]; ok {
			delete(bucket, sess.ID)
			if len(bucket) == 0 {
				delete(m.sessionsBySubject, sess.SubjectID)
			}
		}
	}
	m.mu.Unlock()
	metrics.SessionsActive.Dec()
	metrics.SessionsTotal.WithLabelValues(string(sess.DisconnectReason)).Inc()
	metrics.SessionDuration.Observe(sess.Duration().Seconds())

	if m.Logger_ != nil {
		// Fire-and-forget per §4.6/§4.7: logger failures never
		// propagate to the teardown path.
		go m.Logger_.Log(context.Background(), sess)
	}
}

// Health implements infra.ComponentHealthChecker.
func (m *Manager) Health(_ context.Context) infra.ComponentHealth {
	m.mu.RLock()
	active := len(m.sessionsByID)
	m.mu.RUnlock()

	if !m.IsRunning() {
		return infra.ComponentHealth{State: infra.ServiceHealthUnhealthy, Message: m.State().String()}
	}
	return infra.ComponentHealth{
		State:   infra.ServiceHealthHealthy,
		Message: "running",
		Details: map[string]string{"active_sessions": fmt.Sprintf("%d", active)},
	}
}

// Stats implements §4.6's stats operation.
type Stats struct {
	TotalSessions   int
	UniqueSubjects  int
	SessionsByAgent map[string]int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byAgent := make(map[string]int)
	for _, s := range m.sessionsByID {
		byAgent[s.ActiveAgentID]++
	}
	return Stats{
		TotalSessions:   len(m.sessionsByID),
		UniqueSubjects:  len(m.sessionsBySubject),
		SessionsByAgent: byAgent,
	}
}

// BroadcastToSubject implements §4.6's broadcast_to_subject operation:
// best-effort, errors on individual sends are logged and do not stop
// the broadcast to remaining sessions.
func (m *Manager) BroadcastToSubject(subjectID string, message []byte) {
	m.mu.RLock()
	targets := make([]*session.Session, 0, len(m.sessionsBySubject[subjectID]))
	for _, s := range m.sessionsBySubject[subjectID] {
		targets = append(targets, s)
	}
	m.mu.RUnlock()

	for _, s := range targets {
		if s.ClientWriter == nil {
			continue
		}
		if err := s.ClientWriter.WriteMessage(websocket.TextMessage, message); err != nil {
			m.Logger().Warn("broadcast send failed", "session_id", s.ID, "err", err)
		}
	}
}
