// Package config loads the gateway's flat environment-variable
// configuration surface into a typed struct, in the same
// "typed Config struct, Load returns (*Config, error)" shape the rest
// of the codebase's components follow, without the YAML/$include tree
// the wider platform uses elsewhere — the gateway's configuration
// surface is a short enumerated list of env vars, not a nested document.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/lumenarc/voicegateway/internal/gatewayerr"
)

// Config holds every environment-derived setting the gateway reads.
type Config struct {
	// Upstream realtime provider.
	UpstreamEndpoint   string
	UpstreamAPIVersion string
	UpstreamDeployment string
	CredentialScope    string

	// Credential provider (oauth2 client-credentials grant).
	CredentialClientID     string
	CredentialClientSecret string
	CredentialTokenURL     string

	// Tool dispatch.
	ToolCallTimeout time.Duration

	// Conversation logger / document store.
	DocstoreEndpoint                 string
	DocstoreDatabase                 string
	DocstoreAIConversationsContainer string
	TitleModelDeployment             string
	PostgresDSN                      string

	// Client-facing HTTP/WebSocket surface.
	FrontendOrigins []string

	// HTTPAddr is the bind address for the §6 companion HTTP server
	// (/health, /sessions/stats, /sessions/{subject}/broadcast,
	// /metrics). Not part of the spec's enumerated env vars; defaulted
	// here since some bind address is required to run the process at
	// all.
	HTTPAddr string

	// RealtimeAddr is the bind address for the client-facing /realtime
	// WebSocket endpoint (§6). Kept on its own listener so the
	// companion HTTP surface and the voice traffic can be scaled or
	// firewalled independently.
	RealtimeAddr string
}

// required env var names, kept together so ConfigMissing errors name
// the exact variable a deployer needs to set.
const (
	envUpstreamEndpoint   = "UPSTREAM_ENDPOINT"
	envUpstreamAPIVersion = "UPSTREAM_API_VERSION"
	envUpstreamDeployment = "UPSTREAM_DEPLOYMENT"
	envCredentialScope    = "CREDENTIAL_SCOPE"

	envCredentialClientID     = "CREDENTIAL_CLIENT_ID"
	envCredentialClientSecret = "CREDENTIAL_CLIENT_SECRET"
	envCredentialTokenURL     = "CREDENTIAL_TOKEN_URL"

	envToolCallTimeoutSeconds = "TOOL_CALL_TIMEOUT_SECONDS"

	envDocstoreEndpoint                 = "DOCSTORE_ENDPOINT"
	envDocstoreDatabase                 = "DOCSTORE_DATABASE"
	envDocstoreAIConversationsContainer = "DOCSTORE_AI_CONVERSATIONS_CONTAINER"
	envTitleModelDeployment             = "TITLE_MODEL_DEPLOYMENT"
	envPostgresDSN                      = "POSTGRES_DSN"

	envFrontendOrigins = "FRONTEND_ORIGINS"
	envHTTPAddr        = "GATEWAY_HTTP_ADDR"
	envRealtimeAddr    = "GATEWAY_REALTIME_ADDR"
)

const defaultToolCallTimeoutSeconds = 15

// Load reads the process environment and returns a validated Config.
// Missing required values are reported together as a single
// gatewayerr.ErrConfigMissing-wrapped error so a deployer sees every
// gap in one pass rather than fixing them one at a time.
func Load() (*Config, error) {
	cfg := &Config{
		UpstreamEndpoint:   os.Getenv(envUpstreamEndpoint),
		UpstreamAPIVersion: os.Getenv(envUpstreamAPIVersion),
		UpstreamDeployment: os.Getenv(envUpstreamDeployment),
		CredentialScope:    os.Getenv(envCredentialScope),

		CredentialClientID:     os.Getenv(envCredentialClientID),
		CredentialClientSecret: os.Getenv(envCredentialClientSecret),
		CredentialTokenURL:     os.Getenv(envCredentialTokenURL),

		DocstoreEndpoint:                 os.Getenv(envDocstoreEndpoint),
		DocstoreDatabase:                 os.Getenv(envDocstoreDatabase),
		DocstoreAIConversationsContainer: os.Getenv(envDocstoreAIConversationsContainer),
		TitleModelDeployment:             os.Getenv(envTitleModelDeployment),
		PostgresDSN:                      os.Getenv(envPostgresDSN),

		HTTPAddr:     os.Getenv(envHTTPAddr),
		RealtimeAddr: os.Getenv(envRealtimeAddr),
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.RealtimeAddr == "" {
		cfg.RealtimeAddr = ":8081"
	}

	timeoutSeconds := defaultToolCallTimeoutSeconds
	if raw := os.Getenv(envToolCallTimeoutSeconds); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s=%q: %w", envToolCallTimeoutSeconds, raw, gatewayerr.ErrConfigMissing)
		}
		timeoutSeconds = v
	}
	cfg.ToolCallTimeout = time.Duration(timeoutSeconds) * time.Second

	if raw := os.Getenv(envFrontendOrigins); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.FrontendOrigins = append(cfg.FrontendOrigins, o)
			}
		}
	}

	var missing []string
	for name, val := range map[string]string{
		envUpstreamEndpoint:       cfg.UpstreamEndpoint,
		envUpstreamAPIVersion:     cfg.UpstreamAPIVersion,
		envUpstreamDeployment:     cfg.UpstreamDeployment,
		envCredentialScope:        cfg.CredentialScope,
		envCredentialClientID:     cfg.CredentialClientID,
		envCredentialClientSecret: cfg.CredentialClientSecret,
		envCredentialTokenURL:     cfg.CredentialTokenURL,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w", strings.Join(missing, ", "), gatewayerr.ErrConfigMissing)
	}

	return cfg, nil
}

// TitleDerivationEnabled reports whether C7 should attempt a
// summarizing-completion title instead of going straight to the
// fallback truncation rule.
func (c *Config) TitleDerivationEnabled() bool {
	return c.TitleModelDeployment != ""
}

// OriginAllowed reports whether origin is in the configured allow
// list. An empty allow list permits every origin (matches the
// teacher's permissive dev-mode default elsewhere in the stack).
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.FrontendOrigins) == 0 {
		return true
	}
	for _, o := range c.FrontendOrigins {
		if o == origin {
			return true
		}
	}
	return false
}
