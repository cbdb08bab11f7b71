package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/lumenarc/voicegateway/internal/agent"
	"github.com/lumenarc/voicegateway/internal/session"
)

// wsHarness (built by newWSHarness) wraps a local WebSocket echo-free
// server: a client-side *websocket.Conn, a channel of raw frames the
// server received, and a func to send a frame from the "server" side.
type wsHarness struct {
	conn     *websocket.Conn
	received chan []byte
	send     func([]byte) error
	close    func()
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 16)
	var serverConn *websocket.Conn
	connected := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConn = c
		close(connected)
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	<-connected

	return &wsHarness{
		conn:     clientConn,
		received: received,
		send: func(b []byte) error {
			return serverConn.WriteMessage(websocket.TextMessage, b)
		},
		close: func() { clientConn.Close() },
	}
}

func buildTestRegistry(t *testing.T) *agent.Registry {
	t.Helper()
	r := agent.NewRegistry("")
	if err := r.Register(agent.AgentDefinition{
		ID:          "Assistant_Database_Agent",
		SystemMessage: "db agent instructions",
		Description: "db",
		Tools: []agent.ToolDefinition{
			{
				Name: "get_customer_record",
				Kind: agent.HandlerSync,
				Handler: func(ctx context.Context, params json.RawMessage) (any, error) {
					return map[string]string{"id": "c42", "name": "Ada"}, nil
				},
			},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterRoot(agent.AgentDefinition{ID: "root", SystemMessage: "root instructions", Description: "root"}); err != nil {
		t.Fatal(err)
	}
	return r
}

// readFrameType reads the next raw frame from ch and returns its type.
func readFrameType(t *testing.T, ch chan []byte) (string, map[string]any) {
	t.Helper()
	select {
	case raw := <-ch:
		var decoded map[string]any
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("invalid json frame: %v", err)
		}
		typ, _ := decoded["type"].(string)
		return typ, decoded
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return "", nil
	}
}

func TestScenarioS1HandshakeDefaults(t *testing.T) {
	client := newWSHarness(t)
	up := newWSHarness(t)
	defer client.close()
	defer up.close()

	sess := session.New("sess-1", "c42")
	sess.AttachClientSocket(client.conn)
	sess.AttachUpstreamSocket(up.conn)

	registry := buildTestRegistry(t)
	b := &Bridge{Session: sess, Registry: registry, Dispatcher: agent.NewDispatcher(registry, time.Second, nil)}

	go b.Run(context.Background())

	require.NoError(t, client.send([]byte(`{"type":"session.update","session":{}}`)))

	typ, decoded := readFrameType(t, up.received)
	require.Equal(t, "session.update", typ)
	composed, _ := decoded["session"].(map[string]any)
	require.Equal(t, "root instructions", composed["instructions"])
	require.Equal(t, "shimmer", composed["voice"])
}

func TestScenarioS2AgentSwitch(t *testing.T) {
	client := newWSHarness(t)
	up := newWSHarness(t)
	defer client.close()
	defer up.close()

	sess := session.New("sess-2", "c42")
	sess.AttachClientSocket(client.conn)
	sess.AttachUpstreamSocket(up.conn)

	registry := buildTestRegistry(t)
	b := &Bridge{Session: sess, Registry: registry, Dispatcher: agent.NewDispatcher(registry, time.Second, nil)}

	go b.Run(context.Background())

	require.NoError(t, up.send([]byte(`{"type":"response.function_call_arguments.done","call_id":"x1","name":"Assistant_Database_Agent","arguments":"{}"}`)))

	typ, decoded := readFrameType(t, up.received)
	require.Equal(t, "session.update", typ)
	composed := decoded["session"].(map[string]any)
	require.Equal(t, "db agent instructions", composed["instructions"])

	typ2, _ := readFrameType(t, up.received)
	require.Equal(t, "response.create", typ2)

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, "Assistant_Database_Agent", sess.ActiveAgentID)
	require.Contains(t, sess.AgentsUsed, "Assistant_Database_Agent")
}

func TestScenarioS3ToolSuccess(t *testing.T) {
	client := newWSHarness(t)
	up := newWSHarness(t)
	defer client.close()
	defer up.close()

	sess := session.New("sess-3", "c42")
	sess.AttachClientSocket(client.conn)
	sess.AttachUpstreamSocket(up.conn)

	registry := buildTestRegistry(t)
	b := &Bridge{Session: sess, Registry: registry, Dispatcher: agent.NewDispatcher(registry, time.Second, nil)}

	go b.Run(context.Background())

	require.NoError(t, up.send([]byte(`{"type":"response.function_call_arguments.done","call_id":"call1","name":"get_customer_record","arguments":"{}"}`)))

	typ, decoded := readFrameType(t, up.received)
	require.Equal(t, "conversation.item.create", typ)
	item := decoded["item"].(map[string]any)
	require.Equal(t, "call1", item["call_id"])
	output, _ := item["output"].(string)
	require.Contains(t, output, `"id":"c42"`)

	typ2, _ := readFrameType(t, up.received)
	require.Equal(t, "response.create", typ2)

	time.Sleep(50 * time.Millisecond)
	require.Contains(t, sess.ToolsCalled, "get_customer_record")
}

func TestScenarioS5UnknownTool(t *testing.T) {
	client := newWSHarness(t)
	up := newWSHarness(t)
	defer client.close()
	defer up.close()

	sess := session.New("sess-5", "c42")
	sess.AttachClientSocket(client.conn)
	sess.AttachUpstreamSocket(up.conn)

	registry := buildTestRegistry(t)
	b := &Bridge{Session: sess, Registry: registry, Dispatcher: agent.NewDispatcher(registry, time.Second, nil)}

	go b.Run(context.Background())

	require.NoError(t, up.send([]byte(`{"type":"response.function_call_arguments.done","call_id":"call2","name":"does_not_exist","arguments":"{}"}`)))

	_, decoded := readFrameType(t, up.received)
	item := decoded["item"].(map[string]any)
	output, _ := item["output"].(string)
	require.True(t, strings.HasPrefix(output, `{"error":"Tool does_not_exist is not available`))
}
