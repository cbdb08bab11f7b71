// Package upstream implements the Upstream Client (C3): it opens and
// owns the WebSocket to the upstream realtime provider. It is
// deliberately unaware of session semantics — a pure transport, per
// §4.3 — grounded on gorilla/websocket the same way the teacher's
// client-facing control plane (internal/gateway/ws_control_plane.go)
// uses it, but as a Dialer rather than an Upgrader since this leg is
// outbound.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lumenarc/voicegateway/internal/credential"
	"github.com/lumenarc/voicegateway/internal/gatewayerr"
	"github.com/lumenarc/voicegateway/internal/infra"
	"github.com/lumenarc/voicegateway/internal/wsutil"
)

// Config identifies the upstream deployment to dial.
type Config struct {
	Endpoint   string // URL base, e.g. "myresource.openai.azure.com"
	APIVersion string
	Deployment string
	Scope      string // bearer-token scope, e.g. CREDENTIAL_SCOPE

	// Scheme overrides the dial scheme; defaults to "wss". Tests use
	// "ws" against a plaintext httptest server.
	Scheme string

	HandshakeTimeout time.Duration

	// DialRetry governs retries of the outbound handshake itself (not
	// the token fetch). Defaults to three attempts of exponential
	// backoff when nil; transient network blips during the handshake
	// shouldn't cost a session before it even starts.
	DialRetry *infra.RetryConfig
}

const defaultHandshakeTimeout = 30 * time.Second

// Client dials and frames the upstream realtime WebSocket.
type Client struct {
	cfg       Config
	creds     credential.TokenSource
	dial      *websocket.Dialer
	dialRetry *infra.RetryConfig
}

func defaultDialRetry() *infra.RetryConfig {
	return &infra.RetryConfig{
		MaxAttempts:    2,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       2 * time.Second,
		Strategy:       infra.BackoffExponential,
		JitterFraction: 0.2,
		RetryIf:        func(err error) bool { return !errors.Is(err, gatewayerr.ErrAuthFailed) },
	}
}

// New builds a Client. creds supplies bearer tokens for cfg.Scope.
func New(cfg Config, creds credential.TokenSource) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	retryCfg := cfg.DialRetry
	if retryCfg == nil {
		retryCfg = defaultDialRetry()
	}
	return &Client{
		cfg:       cfg,
		creds:     creds,
		dial:      &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		dialRetry: retryCfg,
	}
}

// Connect builds the upstream URL, attaches auth headers, and performs
// the WebSocket handshake. Returns gatewayerr.ErrAuthFailed on 401/403,
// gatewayerr.ErrHandshakeFailed otherwise.
func (c *Client) Connect(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.creds.Token(ctx, c.cfg.Scope)
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w: %v", gatewayerr.ErrAuthFailed, err)
	}

	scheme := c.cfg.Scheme
	if scheme == "" {
		scheme = "wss"
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     c.cfg.Endpoint,
		Path:     "/openai/realtime",
		RawQuery: url.Values{"api-version": {c.cfg.APIVersion}, "deployment": {c.cfg.Deployment}}.Encode(),
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	header.Set("x-client-request-id", uuid.NewString())
	header.Set("x-useragent", "voicegateway/1")

	conn, result := infra.Retry(ctx, c.dialRetry, func(ctx context.Context) (*websocket.Conn, error) {
		conn, resp, err := c.dial.DialContext(ctx, u.String(), header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return nil, fmt.Errorf("upstream rejected credentials: %w", gatewayerr.ErrAuthFailed)
			}
			return nil, fmt.Errorf("upstream handshake: %w: %v", gatewayerr.ErrHandshakeFailed, err)
		}
		return conn, nil
	})
	if result.LastError != nil {
		return nil, result.LastError
	}
	return conn, nil
}

// Send writes a text JSON frame through the connection's shared safe
// writer, since both bridge tasks may send upstream.
func Send(w *wsutil.SafeConn, frame []byte) error {
	return w.WriteMessage(websocket.TextMessage, frame)
}

// Recv reads one frame. Binary frames are returned with ok=false so
// callers can log-and-drop them per §4.3's forward-compatibility hook.
func Recv(conn *websocket.Conn) (frame []byte, ok bool, err error) {
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return nil, false, err
	}
	if kind != websocket.TextMessage {
		return nil, false, nil
	}
	return data, true, nil
}

// Close idempotently closes the connection.
func Close(conn *websocket.Conn) error {
	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
