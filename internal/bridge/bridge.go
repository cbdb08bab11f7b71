// Package bridge implements the Message Bridge (C5): two cooperative
// tasks per session, client→upstream and upstream→client, each with a
// single suspension point on its socket read — grounded on the
// teacher's split read-loop/write-loop pattern in
// internal/gateway/ws_control_plane.go, adapted from one socket pair
// (client only) to two (client and upstream).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumenarc/voicegateway/internal/agent"
	"github.com/lumenarc/voicegateway/internal/gatewayerr"
	"github.com/lumenarc/voicegateway/internal/session"
	"github.com/lumenarc/voicegateway/internal/upstream"
)

// tracer is resolved against whatever global TracerProvider the host
// process installs; with none installed (the common case here, since
// no exporter backend is in scope) it yields a no-op tracer, matching
// the teacher's fallback-to-no-op behavior when tracing isn't
// configured.
var tracer = otel.Tracer("voicegateway/bridge")

// maxConsecutiveProtocolViolations is the "small budget" from §4.5.3 /
// §7: more than this many consecutive unparseable frames in a single
// direction ends the session with disconnect_reason=internal_error.
const maxConsecutiveProtocolViolations = 3

// SubjectInitializer mirrors C6's ensure_initialized(subject_id)
// operation; the bridge calls it the first time it sees a
// session.update carrying a subject it hasn't seen initialized yet.
type SubjectInitializer func(ctx context.Context, subjectID string) error

// Bridge wires one session's two directions together.
type Bridge struct {
	Session    *session.Session
	Registry   *agent.Registry
	Dispatcher *agent.Dispatcher
	EnsureInit SubjectInitializer
	Logger     *slog.Logger

	subjectInitialized bool
}

// Run drives both directions until either terminates, then cancels the
// other and closes both sockets. It returns the terminal error (nil on
// a graceful client/upstream close).
func (b *Bridge) Run(ctx context.Context) error {
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Unblocks whichever direction is parked in a socket read once the
	// session is cancelled, per §5's cancellation-via-closed-sockets
	// rule.
	go func() {
		<-ctx.Done()
		upstream.Close(b.Session.UpstreamSocket)
		_ = b.Session.ClientSocket.Close()
	}()

	type loopResult struct {
		err    error
		origin string
	}
	results := make(chan loopResult, 2)
	go func() { results <- loopResult{b.runClientToUpstream(ctx), "client"} }()
	go func() { results <- loopResult{b.runUpstreamToClient(ctx), "upstream"} }()

	first := <-results
	cancel()
	<-results // wait for the other task to observe cancellation and exit

	reason, graceful := classifyTermination(first.err, first.origin)
	b.Session.End(reason, graceful)
	return first.err
}

// classifyTermination maps a terminated loop's error (and which
// direction produced it) onto the §3 disconnect_reason vocabulary and
// the §4.5.3 graceful flag.
func classifyTermination(err error, origin string) (session.DisconnectReason, bool) {
	switch {
	case err == nil:
		if origin == "client" {
			return session.ReasonClientClosed, true
		}
		return session.ReasonUpstreamClosed, true
	case errors.Is(err, gatewayerr.ErrAuthFailed):
		return session.ReasonAuthFailed, false
	default:
		return session.ReasonInternalError, false
	}
}

// runClientToUpstream implements §4.5.1.
func (b *Bridge) runClientToUpstream(ctx context.Context) error {
	violations := 0
	for {
		_, raw, err := b.Session.ClientSocket.ReadMessage()
		if err != nil {
			return b.classifyClose(err)
		}

		t, decoded, err := frameType(raw)
		if err != nil {
			violations++
			b.Logger.Warn("dropping non-JSON client frame", "session_id", b.Session.ID)
			if violations > maxConsecutiveProtocolViolations {
				return gatewayerr.ErrProtocolViolation
			}
			continue
		}
		violations = 0

		out := raw
		switch t {
		case typeSessionUpdate:
			modified, err := b.handleClientSessionUpdate(ctx, decoded)
			if err != nil {
				b.Logger.Warn("session.update handling failed", "err", err)
			} else {
				out = mustJSON(modified)
			}
		case typeConversationItemCreate:
			// Forward unchanged. Hook for future subject-context
			// injection; intentionally inert (see design notes).
		default:
			// Forward unchanged.
		}

		if err := upstream.Send(b.Session.UpstreamWriter, out); err != nil {
			return err
		}
	}
}

func (b *Bridge) handleClientSessionUpdate(ctx context.Context, decoded map[string]any) (map[string]any, error) {
	subjectID, _ := decoded["subject_id"].(string)
	if subjectID == "" {
		subjectID = b.Session.SubjectID
	}
	if subjectID != "" && !b.subjectInitialized && b.EnsureInit != nil {
		if err := b.EnsureInit(ctx, subjectID); err != nil {
			return nil, err
		}
		b.subjectInitialized = true
	}

	clientSession, _ := decoded["session"].(map[string]any)
	if clientSession == nil {
		clientSession = map[string]any{}
	}

	var rootInstructions string
	var rootTools []session.LLMToolLike
	if root, err := b.Registry.Get("root"); err == nil {
		rootInstructions = root.SystemMessage
		if tools, err := b.Registry.ToolsFor("root"); err == nil {
			rootTools = toLLMToolLike(tools)
		}
	}

	composed := session.Compose(b.Session.ComposedSession, clientSession, rootInstructions, rootTools)
	b.Session.SetComposedSession(composed)

	decoded["session"] = composed
	return decoded, nil
}

// runUpstreamToClient implements §4.5.2.
func (b *Bridge) runUpstreamToClient(ctx context.Context) error {
	violations := 0
	for {
		raw, ok, err := upstream.Recv(b.Session.UpstreamSocket)
		if err != nil {
			return b.classifyClose(err)
		}
		if !ok {
			// Binary frame: logged and dropped (forward-compatibility
			// hook, §4.3).
			continue
		}

		t, decoded, err := frameType(raw)
		if err != nil {
			violations++
			b.Logger.Warn("dropping unparseable upstream frame", "session_id", b.Session.ID)
			if violations > maxConsecutiveProtocolViolations {
				return gatewayerr.ErrProtocolViolation
			}
			continue
		}
		violations = 0

		switch t {
		case typeFunctionCallArgsDone:
			if err := b.handleFunctionCall(ctx, decoded); err != nil {
				return err
			}
		case typeUserTranscriptDone:
			if text, ok := decoded["transcript"].(string); ok {
				b.Session.AppendMessage(session.CapturedMessage{Sender: session.SenderUser, Text: text})
			}
		case typeAssistantTranscriptDone:
			if text, ok := decoded["transcript"].(string); ok {
				b.Session.AppendMessage(session.CapturedMessage{Sender: session.SenderAssistant, Text: text})
			}
		case typeSpeechStarted:
			b.Session.MarkLastAssistantInterrupted()
		case typeError:
			if isAuthErrorFrame(decoded) {
				return gatewayerr.ErrAuthFailed
			}
		}

		if err := b.Session.ClientWriter.WriteMessage(websocket.TextMessage, raw); err != nil {
			return err
		}
	}
}

func (b *Bridge) handleFunctionCall(ctx context.Context, decoded map[string]any) error {
	callID, _ := decoded["call_id"].(string)
	name, _ := decoded["name"].(string)
	argsRaw, _ := decoded["arguments"].(string)

	ctx, span := tracer.Start(ctx, "bridge.handle_function_call", trace.WithAttributes(
		attribute.String("session_id", b.Session.ID),
		attribute.String("tool_name", name),
		attribute.String("call_id", callID),
	))
	defer span.End()

	if name == "" {
		if err := upstream.Send(b.Session.UpstreamWriter, mustJSON(functionOutputFrame(callID, `{"error":"Tool name missing"}`))); err != nil {
			return err
		}
		return upstream.Send(b.Session.UpstreamWriter, mustJSON(map[string]any{"type": typeResponseCreate}))
	}

	var params json.RawMessage
	if argsRaw == "" {
		params = json.RawMessage("{}")
	} else if json.Valid([]byte(argsRaw)) {
		params = json.RawMessage(argsRaw)
	} else {
		params = json.RawMessage("{}")
	}

	env := b.Dispatcher.Invoke(ctx, name, params, callID)

	switch {
	case env.SessionUpdate != nil:
		su := env.SessionUpdate
		b.Session.SwitchAgent(su.AgentID)
		composed := session.ApplySessionUpdate(b.Session.ComposedSession, su.Instructions, toLLMToolLike(su.Tools), su.TurnDetection)
		b.Session.SetComposedSession(composed)
		if err := upstream.Send(b.Session.UpstreamWriter, mustJSON(map[string]any{"type": typeSessionUpdate, "session": composed})); err != nil {
			return err
		}
	case env.FunctionOutput != nil:
		fo := env.FunctionOutput
		if fo.ToolName != "" {
			b.Session.RecordToolCall(fo.ToolName)
		}
		output := fo.Body
		if err := upstream.Send(b.Session.UpstreamWriter, mustJSON(functionOutputFrame(fo.CallID, output))); err != nil {
			return err
		}
	}

	return upstream.Send(b.Session.UpstreamWriter, mustJSON(map[string]any{"type": typeResponseCreate}))
}

func functionOutputFrame(callID, output string) map[string]any {
	return map[string]any{
		"type": typeConversationItemCreate,
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	}
}

func isAuthErrorFrame(decoded map[string]any) bool {
	errObj, ok := decoded["error"].(map[string]any)
	if !ok {
		return false
	}
	code, _ := errObj["code"].(string)
	typ, _ := errObj["type"].(string)
	switch code {
	case "invalid_api_key", "unauthorized", "401", "403":
		return true
	}
	switch typ {
	case "auth_error", "invalid_request_error":
		return code == "invalid_api_key"
	}
	return false
}

func (b *Bridge) classifyClose(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return nil
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return nil
	}
	return err
}

func toLLMToolLike(tools []agent.LLMTool) []session.LLMToolLike {
	out := make([]session.LLMToolLike, len(tools))
	for i, t := range tools {
		out[i] = t
	}
	return out
}
