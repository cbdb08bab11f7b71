// Package gatewayerr defines the gateway's error taxonomy as sentinel
// kinds rather than a language-level exception hierarchy. Handlers
// recover locally wherever possible; only a small set of kinds ever
// reach the client.
package gatewayerr

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w", Kind) to add
// context while preserving errors.Is matching.
var (
	// ErrConfigMissing means a required environment value was absent.
	// Fatal at startup.
	ErrConfigMissing = errors.New("config value missing")

	// ErrAuthFailed means the credential provider rejected a token
	// request, or upstream returned 401/403 during handshake.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrHandshakeFailed means the upstream WebSocket could not be
	// established for a non-auth reason.
	ErrHandshakeFailed = errors.New("upstream handshake failed")

	// ErrProtocolViolation means a frame could not be parsed or
	// carried an unexpected shape. Counted against a small budget.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrToolNotFound means no registered tool matches the requested
	// name. Carried inside a function-output body, never escalated.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout means a tool handler did not complete within its
	// configured bound.
	ErrToolTimeout = errors.New("tool timed out")

	// ErrToolHandlerError means a tool handler itself failed.
	ErrToolHandlerError = errors.New("tool handler error")

	// ErrLoggerFailed means the conversation logger could not persist
	// a document. Always swallowed after logging.
	ErrLoggerFailed = errors.New("conversation logger failed")

	// ErrDuplicateAgent means an agent id collided during registration
	// in a way the registry does not treat as idempotent-overwrite.
	ErrDuplicateAgent = errors.New("duplicate agent")

	// ErrAgentNotFound means no agent is registered under the
	// requested id.
	ErrAgentNotFound = errors.New("agent not found")
)

// Kind classifies an error for logging and metrics without requiring
// callers to compare against every sentinel individually.
type Kind string

const (
	KindConfigMissing     Kind = "config_missing"
	KindAuthFailed        Kind = "auth_failed"
	KindHandshakeFailed   Kind = "handshake_failed"
	KindProtocolViolation Kind = "protocol_violation"
	KindToolNotFound      Kind = "tool_not_found"
	KindToolTimeout       Kind = "tool_timeout"
	KindToolHandlerError  Kind = "tool_handler_error"
	KindLoggerFailed      Kind = "logger_failed"
	KindInternal          Kind = "internal_error"
)

// ClassifyDisconnect maps an error to the disconnect_reason vocabulary
// used by Session (see internal/session).
func ClassifyDisconnect(err error) string {
	switch {
	case err == nil:
		return "completed"
	case errors.Is(err, ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, ErrHandshakeFailed), errors.Is(err, ErrProtocolViolation):
		return "internal_error"
	default:
		return "internal_error"
	}
}
