package session

import "testing"

func TestComposeEmptyClientGetsDefaultsPlusRoot(t *testing.T) {
	out := Compose(nil, map[string]any{}, "root instructions", []LLMToolLike{"tool-a"})
	if out["instructions"] != "root instructions" {
		t.Fatalf("expected root instructions injected, got %v", out["instructions"])
	}
	if out["voice"] != "shimmer" {
		t.Fatalf("expected default voice, got %v", out["voice"])
	}
	tools, ok := out["tools"].([]LLMToolLike)
	if !ok || len(tools) != 1 {
		t.Fatalf("expected injected root tools, got %v", out["tools"])
	}
}

func TestComposeClientOverridesWin(t *testing.T) {
	out := Compose(nil, map[string]any{"voice": "alloy", "instructions": "custom"}, "root instructions", nil)
	if out["voice"] != "alloy" {
		t.Fatalf("expected client override to win, got %v", out["voice"])
	}
	if out["instructions"] != "custom" {
		t.Fatalf("expected client instructions to win over root injection, got %v", out["instructions"])
	}
}

func TestComposeNeverRegressesKeys(t *testing.T) {
	prev := map[string]any{"instructions": "db agent instructions", "voice": "shimmer"}
	out := Compose(prev, map[string]any{}, "root instructions", nil)
	if out["instructions"] != "db agent instructions" {
		t.Fatalf("expected prior composed instructions to survive, got %v", out["instructions"])
	}
}

func TestApplySessionUpdateOverlaysDispatcherFields(t *testing.T) {
	current := map[string]any{"voice": "shimmer", "instructions": "root"}
	out := ApplySessionUpdate(current, "db agent instructions", []LLMToolLike{"tool-b"}, map[string]any{"type": "server_vad"})
	if out["instructions"] != "db agent instructions" {
		t.Fatalf("expected dispatcher instructions to win, got %v", out["instructions"])
	}
	if out["voice"] != "shimmer" {
		t.Fatalf("expected unrelated keys preserved, got %v", out["voice"])
	}
}
