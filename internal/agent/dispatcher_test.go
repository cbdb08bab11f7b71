package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func dispatcherFixture(t *testing.T) (*Registry, *Dispatcher) {
	t.Helper()
	r := NewRegistry("")
	if err := r.Register(AgentDefinition{
		ID:          "Assistant_Database_Agent",
		SystemMessage: "db agent",
		Description: "db",
		Tools: []ToolDefinition{
			{
				Name: "get_customer_record",
				Kind: HandlerSync,
				Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
					return map[string]string{"id": "c42", "name": "Ada"}, nil
				},
			},
			{
				Name: "slow_tool",
				Kind: HandlerAsync,
				Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
					select {
					case <-time.After(50 * time.Millisecond):
						return "done", nil
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				},
			},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterRoot(AgentDefinition{ID: "root", SystemMessage: "root agent", Description: "root"}); err != nil {
		t.Fatal(err)
	}
	return r, NewDispatcher(r, 10*time.Millisecond, nil)
}

func TestInvokeToolSuccess(t *testing.T) {
	_, d := dispatcherFixture(t)
	env := d.Invoke(context.Background(), "get_customer_record", json.RawMessage(`{}`), "x1")
	if env.FunctionOutput == nil {
		t.Fatal("expected FunctionOutput envelope")
	}
	if !strings.Contains(env.FunctionOutput.Body, `"id":"c42"`) {
		t.Fatalf("unexpected body: %s", env.FunctionOutput.Body)
	}
}

func TestInvokeToolTimeout(t *testing.T) {
	_, d := dispatcherFixture(t)
	env := d.Invoke(context.Background(), "slow_tool", json.RawMessage(`{}`), "x2")
	if env.FunctionOutput == nil {
		t.Fatal("expected FunctionOutput envelope")
	}
	if !strings.Contains(env.FunctionOutput.Body, "timed out") {
		t.Fatalf("expected timeout body, got %s", env.FunctionOutput.Body)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	_, d := dispatcherFixture(t)
	env := d.Invoke(context.Background(), "does_not_exist", json.RawMessage(`{}`), "x3")
	if env.FunctionOutput == nil {
		t.Fatal("expected FunctionOutput envelope")
	}
	if !strings.HasPrefix(strip(env.FunctionOutput.Body), `{"error":"Tool does_not_exist is not available`) {
		t.Fatalf("unexpected body: %s", env.FunctionOutput.Body)
	}
}

func TestInvokeAgentSwitch(t *testing.T) {
	_, d := dispatcherFixture(t)
	env := d.Invoke(context.Background(), "Assistant_Database_Agent", json.RawMessage(`{}`), "x4")
	if env.SessionUpdate == nil {
		t.Fatal("expected SessionUpdate envelope")
	}
	if env.SessionUpdate.AgentID != "Assistant_Database_Agent" {
		t.Fatalf("unexpected agent id: %s", env.SessionUpdate.AgentID)
	}
	if env.SessionUpdate.TurnDetection["type"] != "server_vad" {
		t.Fatal("expected server_vad turn detection default")
	}
}

func TestSwitchNameWithoutTargetBehavesAsUnavailableTool(t *testing.T) {
	_, d := dispatcherFixture(t)
	env := d.Invoke(context.Background(), "Assistant_Ghost_Agent", json.RawMessage(`{}`), "x5")
	if env.FunctionOutput == nil {
		t.Fatal("expected FunctionOutput envelope for switch-shaped name with no target")
	}
	if !strings.Contains(env.FunctionOutput.Body, "is not available") {
		t.Fatalf("unexpected body: %s", env.FunctionOutput.Body)
	}
}

func strip(s string) string { return s }
