// Package session implements Session State (C4): the per-connection
// record mutated only by the owning bridge's two tasks. No
// cross-session locking is required (§4.4) — the two directions own
// disjoint fields, so Session itself exposes narrow, ownership-scoped
// mutators instead of a general-purpose mutex, in the same spirit as
// the teacher's internal/infra.ActivityTracker keeping its update path
// narrow rather than exposing its map directly.
package session

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenarc/voicegateway/internal/wsutil"
)

// Sender identifies who produced a CapturedMessage.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// CapturedMessage is one turn of the conversation transcript.
// Append-only; insertion order is conversational order.
type CapturedMessage struct {
	Sender      Sender
	Text        string
	Interrupted bool
}

// DisconnectReason classifies why a session ended.
type DisconnectReason string

const (
	ReasonClientClosed   DisconnectReason = "client_closed"
	ReasonUpstreamClosed DisconnectReason = "upstream_closed"
	ReasonAuthFailed     DisconnectReason = "auth_failed"
	ReasonInternalError  DisconnectReason = "internal_error"
	ReasonCompleted      DisconnectReason = "completed"
)

// Session is the per-connection record described in §3. ClientSocket
// and UpstreamSocket are exported for the bridge's direct use; every
// other field should be mutated only through the methods below so
// ownership stays legible even though both bridge goroutines hold the
// same pointer.
type Session struct {
	ID        string
	SubjectID string

	ClientSocket   *websocket.Conn
	UpstreamSocket *websocket.Conn

	// ClientWriter and UpstreamWriter serialize writes to their
	// respective sockets. Exactly one instance each is shared by every
	// writer of that socket (the bridge's two tasks, and the manager's
	// broadcast path for ClientWriter) so concurrent sends never race
	// on the underlying *websocket.Conn.
	ClientWriter   *wsutil.SafeConn
	UpstreamWriter *wsutil.SafeConn

	ActiveAgentID   string
	ComposedSession map[string]any

	Messages    []CapturedMessage
	ToolsCalled map[string]struct{}
	AgentsUsed  map[string]struct{}

	StartAt time.Time
	EndAt   time.Time

	DisconnectReason DisconnectReason
	Graceful         bool
}

// New creates a Session in its initial state: active_agent_id = "root",
// agents_used = {"root"}, empty transcript.
func New(id, subjectID string) *Session {
	return &Session{
		ID:            id,
		SubjectID:     subjectID,
		ActiveAgentID: "root",
		ToolsCalled:   make(map[string]struct{}),
		AgentsUsed:    map[string]struct{}{"root": {}},
		StartAt:       time.Now(),
	}
}

// AttachClientSocket installs the client connection and its shared
// safe writer.
func (s *Session) AttachClientSocket(conn *websocket.Conn) {
	s.ClientSocket = conn
	s.ClientWriter = wsutil.Wrap(conn)
}

// AttachUpstreamSocket installs the upstream connection and its shared
// safe writer.
func (s *Session) AttachUpstreamSocket(conn *websocket.Conn) {
	s.UpstreamSocket = conn
	s.UpstreamWriter = wsutil.Wrap(conn)
}

// SetComposedSession records the authoritative composed upstream
// session options. Owned by the client→upstream task (§4.4).
func (s *Session) SetComposedSession(composed map[string]any) {
	s.ComposedSession = composed
}

// SwitchAgent updates active_agent_id and records it in agents_used.
// Owned by the upstream→client task when handling tool-call
// completion, per the §4.4 ordering rule.
func (s *Session) SwitchAgent(agentID string) {
	s.ActiveAgentID = agentID
	s.AgentsUsed[agentID] = struct{}{}
}

// RecordToolCall records a tool name in tools_called.
func (s *Session) RecordToolCall(name string) {
	s.ToolsCalled[name] = struct{}{}
}

// AppendMessage appends a CapturedMessage to the transcript. Owned by
// the upstream→client task.
func (s *Session) AppendMessage(msg CapturedMessage) {
	s.Messages = append(s.Messages, msg)
}

// MarkLastAssistantInterrupted marks the most recent assistant message
// as interrupted, if one exists.
func (s *Session) MarkLastAssistantInterrupted() {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Sender == SenderAssistant {
			s.Messages[i].Interrupted = true
			return
		}
	}
}

// End stamps end_at and the disconnect outcome. Only the first call
// takes effect (Bridge.Run, or the manager's Accept/Teardown paths);
// later calls are no-ops.
func (s *Session) End(reason DisconnectReason, graceful bool) {
	if !s.EndAt.IsZero() {
		return
	}
	s.EndAt = time.Now()
	s.DisconnectReason = reason
	s.Graceful = graceful
}

// Duration returns the session's wall-clock length. Zero if the
// session has not ended.
func (s *Session) Duration() time.Duration {
	if s.EndAt.IsZero() {
		return 0
	}
	return s.EndAt.Sub(s.StartAt)
}

// AgentsUsedList returns agents_used as a deterministic, sorted slice
// for serialization.
func (s *Session) AgentsUsedList() []string {
	return setToSortedSlice(s.AgentsUsed)
}

// ToolsCalledList returns tools_called as a deterministic, sorted
// slice for serialization.
func (s *Session) ToolsCalledList() []string {
	return setToSortedSlice(s.ToolsCalled)
}

func setToSortedSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	// Small sets (agent/tool cardinality per session is tiny); an
	// insertion sort keeps this dependency-free and allocation-light.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
