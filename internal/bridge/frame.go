package bridge

import "encoding/json"

// frameType extracts the "type" discriminator from a raw JSON frame.
func frameType(raw []byte) (string, map[string]any, error) {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", nil, err
	}
	t, _ := decoded["type"].(string)
	return t, decoded, nil
}

// Upstream frame type discriminators the gateway inspects (§6).
const (
	typeSessionUpdate           = "session.update"
	typeConversationItemCreate  = "conversation.item.create"
	typeResponseCreate          = "response.create"
	typeFunctionCallArgsDone    = "response.function_call_arguments.done"
	typeUserTranscriptDone      = "conversation.item.input_audio_transcription.completed"
	typeAssistantTranscriptDone = "response.audio_transcript.done"
	typeSpeechStarted           = "input_audio_buffer.speech_started"
	typeError                   = "error"
)

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// v is always a literal map built by this package; a marshal
		// failure here means a programming error, not bad input.
		panic(err)
	}
	return b
}
