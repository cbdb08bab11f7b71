package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenarc/voicegateway/internal/gatewayerr"
	"github.com/lumenarc/voicegateway/internal/metrics"
)

// DefaultToolCallTimeout is used when the dispatcher is constructed
// without an explicit override (spec default: 15s).
const DefaultToolCallTimeout = 15 * time.Second

// Envelope is the tagged record the dispatcher returns to the bridge,
// telling it what to send upstream. Exactly one of SessionUpdate or
// FunctionOutput is populated.
type Envelope struct {
	SessionUpdate *SessionUpdateEnvelope
	FunctionOutput *FunctionOutputEnvelope
}

// SessionUpdateEnvelope carries the fields needed to reconfigure the
// upstream session after an agent switch.
type SessionUpdateEnvelope struct {
	AgentID       string
	Instructions  string
	Tools         []LLMTool
	TurnDetection map[string]any
}

// FunctionOutputEnvelope carries a tool's serialized result (or error)
// back to the bridge for delivery upstream.
type FunctionOutputEnvelope struct {
	CallID  string
	Body    string
	ToolName string
}

// Dispatcher implements the Tool Dispatcher (C2): executes a named
// tool and returns a structured Envelope, bounding sync/async handlers
// with a per-call timeout exactly like the teacher's ToolExecutor
// (internal/agent/tool_exec.go) distinguishes timeout from
// cancellation via errors.Is(ctx.Err(), context.DeadlineExceeded).
type Dispatcher struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher bound to registry. timeout <= 0
// falls back to DefaultToolCallTimeout.
func NewDispatcher(registry *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultToolCallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, timeout: timeout, logger: logger}
}

// Invoke runs the named tool against the given raw JSON parameters,
// implementing §4.2's six-step contract.
func (d *Dispatcher) Invoke(ctx context.Context, name string, params json.RawMessage, callID string) Envelope {
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}

	if tool, ok := d.registry.FindTool(name); ok {
		if tool.Kind == HandlerAgentSwitch {
			return d.switchEnvelope(tool.SwitchToID)
		}
		return d.executeEnvelope(ctx, tool, params, callID)
	}

	if IsSwitchName(name) {
		if _, err := d.registry.Get(name); err == nil {
			return d.switchEnvelope(name)
		}
	}

	return Envelope{FunctionOutput: &FunctionOutputEnvelope{
		CallID:   callID,
		ToolName: name,
		Body:     fmt.Sprintf(`{"error":"Tool %s is not available"}`, name),
	}}
}

func (d *Dispatcher) switchEnvelope(targetID string) Envelope {
	target, err := d.registry.Get(targetID)
	if err != nil {
		return Envelope{FunctionOutput: &FunctionOutputEnvelope{
			Body: fmt.Sprintf(`{"error":"Tool %s is not available"}`, targetID),
		}}
	}
	tools, _ := d.registry.ToolsFor(targetID)
	metrics.AgentSwitches.WithLabelValues(targetID).Inc()
	return Envelope{SessionUpdate: &SessionUpdateEnvelope{
		AgentID:       targetID,
		Instructions:  target.SystemMessage,
		Tools:         tools,
		TurnDetection: map[string]any{"type": "server_vad"},
	}}
}

func (d *Dispatcher) executeEnvelope(ctx context.Context, tool ToolDefinition, params json.RawMessage, callID string) Envelope {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	record := func(outcome string) {
		metrics.ToolExecutions.WithLabelValues(tool.Name, outcome).Inc()
		metrics.ToolExecutionDuration.WithLabelValues(tool.Name).Observe(time.Since(start).Seconds())
	}

	type result struct {
		val any
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: fmt.Errorf("%v: %w", r, gatewayerr.ErrToolHandlerError)}
			}
		}()
		val, err := tool.Handler(ctx, params)
		resultCh <- result{val: val, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			record("error")
			d.logger.Warn("tool handler error", "tool", tool.Name, "err", res.err)
			return Envelope{FunctionOutput: &FunctionOutputEnvelope{
				CallID:   callID,
				ToolName: tool.Name,
				Body:     fmt.Sprintf(`{"error":%q}`, res.err.Error()),
			}}
		}
		record("success")
		return Envelope{FunctionOutput: &FunctionOutputEnvelope{
			CallID:   callID,
			ToolName: tool.Name,
			Body:     serializeResult(tool.Name, res.val, d.logger),
		}}
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			record("timeout")
			return Envelope{FunctionOutput: &FunctionOutputEnvelope{
				CallID:   callID,
				ToolName: tool.Name,
				Body:     fmt.Sprintf(`{"error":"Tool %s timed out."}`, tool.Name),
			}}
		}
		// Parent context cancelled (session ending): abandon the
		// in-flight call with no rollback, per §5 cancellation policy.
		record("cancelled")
		return Envelope{FunctionOutput: &FunctionOutputEnvelope{
			CallID:   callID,
			ToolName: tool.Name,
			Body:     fmt.Sprintf(`{"error":"Tool %s cancelled."}`, tool.Name),
		}}
	}
}

// serializeResult implements §4.2 step 5: strings pass through as-is,
// everything else is JSON-encoded, falling back to a debug string form
// (and a log line) if encoding fails.
func serializeResult(toolName string, val any, logger *slog.Logger) string {
	if s, ok := val.(string); ok {
		return s
	}
	b, err := json.Marshal(val)
	if err != nil {
		logger.Warn("tool result serialization failed, falling back to debug string", "tool", toolName, "err", err)
		return fmt.Sprintf("%+v", val)
	}
	return string(b)
}
