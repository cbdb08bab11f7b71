package manager

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumenarc/voicegateway/internal/agent"
	"github.com/lumenarc/voicegateway/internal/gatewayerr"
)

func TestRealtimeHandlerUpgradesAndSendsHandshake(t *testing.T) {
	up := newWSHarness(t)
	defer up.close()

	registry := testRegistry(t)
	dispatcher := agent.NewDispatcher(registry, time.Second, nil)
	m := New(registry, dispatcher, fakeDialer{conn: up.conn}, nil, nil, slog.Default())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	h := NewRealtimeHandler(m, func(origin string) bool { return origin == "https://allowed.example.com" })
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime?customer_id=cust-9"
	header := http.Header{"Origin": {"https://allowed.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial failed: %v (status %v)", err, resp)
	}
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), "connection.established") {
		t.Fatalf("expected connection.established, got %s", data)
	}
}

func TestRealtimeHandlerRejectsDisallowedOrigin(t *testing.T) {
	registry := testRegistry(t)
	m := New(registry, agent.NewDispatcher(registry, time.Second, nil), fakeDialer{err: gatewayerr.ErrHandshakeFailed}, nil, nil, slog.Default())

	h := NewRealtimeHandler(m, func(origin string) bool { return false })
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example.com"}})
	if err == nil {
		t.Fatal("expected dial to fail for disallowed origin")
	}
	if resp != nil && resp.StatusCode == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to be rejected")
	}
}
