package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		envUpstreamEndpoint, envUpstreamAPIVersion, envUpstreamDeployment,
		envCredentialScope, envCredentialClientID, envCredentialClientSecret,
		envCredentialTokenURL, envToolCallTimeoutSeconds, envDocstoreEndpoint,
		envDocstoreDatabase, envDocstoreAIConversationsContainer,
		envTitleModelDeployment, envPostgresDSN, envFrontendOrigins, envHTTPAddr,
		envRealtimeAddr,
	} {
		t.Setenv(k, "")
	}
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(envUpstreamEndpoint, "realtime.example.com")
	t.Setenv(envUpstreamAPIVersion, "2024-10-01")
	t.Setenv(envUpstreamDeployment, "gpt-realtime")
	t.Setenv(envCredentialScope, "https://cognitiveservices.azure.com/.default")
	t.Setenv(envCredentialClientID, "client-id")
	t.Setenv(envCredentialClientSecret, "client-secret")
	t.Setenv(envCredentialTokenURL, "https://login.example.com/oauth2/token")
}

func TestLoadMissingRequired(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	if err == nil {
		t.Fatal("expected error for missing required env vars")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ToolCallTimeout != 15*time.Second {
		t.Fatalf("expected default 15s timeout, got %v", cfg.ToolCallTimeout)
	}
	if !cfg.OriginAllowed("https://anything.example.com") {
		t.Fatal("empty allow list should permit any origin")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.TitleDerivationEnabled() {
		t.Fatal("expected title derivation disabled without TITLE_MODEL_DEPLOYMENT")
	}
}

func TestLoadFrontendOrigins(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)
	t.Setenv(envFrontendOrigins, "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.OriginAllowed("https://a.example.com") {
		t.Fatal("expected https://a.example.com to be allowed")
	}
	if cfg.OriginAllowed("https://evil.example.com") {
		t.Fatal("expected https://evil.example.com to be rejected")
	}
}

func TestLoadInvalidToolCallTimeout(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)
	t.Setenv(envToolCallTimeoutSeconds, "not-a-number")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric tool call timeout")
	}
}

func TestTitleDerivationEnabledWhenDeploymentSet(t *testing.T) {
	clearEnv(t)
	setRequiredEnv(t)
	t.Setenv(envTitleModelDeployment, "gpt-4o-mini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.TitleDerivationEnabled() {
		t.Fatal("expected title derivation enabled")
	}
}
