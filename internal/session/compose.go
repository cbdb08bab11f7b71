package session

// Defaults returns the gateway's default upstream session options
// (§4.5.1.b). Returned fresh each call so callers can safely mutate
// the result.
func Defaults() map[string]any {
	return map[string]any{
		"modalities":                 []any{"text", "audio"},
		"voice":                      "shimmer",
		"input_audio_format":         "pcm16",
		"output_audio_format":        "pcm16",
		"input_audio_transcription":  map[string]any{"model": "whisper-1"},
		"turn_detection":             map[string]any{"type": "server_vad"},
		"tools":                      []any{},
		"tool_choice":                "auto",
		"temperature":                0.8,
		"max_response_output_tokens": 4096,
	}
}

// Compose layers previous over Defaults() and client over both, so no
// key of an earlier composing goes missing (testable property 5). If
// client does not supply instructions, rootInstructions is injected
// only when neither client nor previous has any, so instructions set
// by a prior dispatcher SessionUpdate survive. If client does not
// supply tools, a non-nil rootTools replaces whatever tools previous
// carried. This implements §4.5.1 steps b–e.
func Compose(previous, client map[string]any, rootInstructions string, rootTools []LLMToolLike) map[string]any {
	out := Defaults()
	for k, v := range previous {
		out[k] = v
	}
	for k, v := range client {
		out[k] = v
	}

	if _, ok := client["instructions"]; !ok {
		if _, hadBefore := out["instructions"]; !hadBefore && rootInstructions != "" {
			out["instructions"] = rootInstructions
		}
	}
	if _, ok := client["tools"]; !ok {
		if rootTools != nil {
			out["tools"] = rootTools
		}
	}
	return out
}

// LLMToolLike is satisfied by agent.LLMTool without importing the
// agent package here, keeping session free of an agent dependency
// (session is a lower layer than agent in the component order).
type LLMToolLike any

// ApplySessionUpdate layers a dispatcher SessionUpdate envelope's
// fields over the current composed session (§4.5.2: "Compose the new
// upstream session by layering dispatcher fields over composed_session").
func ApplySessionUpdate(current map[string]any, instructions string, tools []LLMToolLike, turnDetection map[string]any) map[string]any {
	out := make(map[string]any, len(current)+3)
	for k, v := range current {
		out[k] = v
	}
	out["instructions"] = instructions
	out["tools"] = tools
	if turnDetection != nil {
		out["turn_detection"] = turnDetection
	}
	return out
}
