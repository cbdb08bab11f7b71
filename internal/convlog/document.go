package convlog

import "github.com/lumenarc/voicegateway/internal/session"

// MessageRecord is one transcript turn as persisted in a Document.
type MessageRecord struct {
	Sender      string `json:"sender"`
	Text        string `json:"text"`
	Interrupted bool   `json:"interrupted"`
}

// Metadata summarizes a session's transcript for quick querying without
// re-reading the full messages array.
type Metadata struct {
	TotalMessages     int      `json:"total_messages"`
	UserMessages      int      `json:"user_messages"`
	AssistantMessages int      `json:"assistant_messages"`
	Interruptions     int      `json:"interruptions"`
	AgentsUsed        []string `json:"agents_used"`
	ToolsCalled       []string `json:"tools_called"`
	InitialAgent      string   `json:"initial_agent"`
}

// Document is the single record written per completed session, per
// §4.7. One document per session; the logger never updates an existing
// one.
type Document struct {
	ID               string          `json:"id"`
	SubjectID        string          `json:"subject_id"`
	SessionStart     string          `json:"session_start"`
	SessionEnd       string          `json:"session_end"`
	DurationSeconds  float64         `json:"duration_seconds"`
	DisconnectReason string          `json:"disconnect_reason"`
	Graceful         bool            `json:"graceful"`
	Messages         []MessageRecord `json:"messages"`
	Metadata         Metadata        `json:"metadata"`
	Title            string          `json:"title"`
}

func buildMetadata(sess *session.Session) Metadata {
	m := Metadata{
		AgentsUsed:   sess.AgentsUsedList(),
		ToolsCalled:  sess.ToolsCalledList(),
		InitialAgent: "root",
	}
	for _, msg := range sess.Messages {
		m.TotalMessages++
		switch msg.Sender {
		case session.SenderUser:
			m.UserMessages++
		case session.SenderAssistant:
			m.AssistantMessages++
		}
		if msg.Interrupted {
			m.Interruptions++
		}
	}
	return m
}

func toMessageRecords(messages []session.CapturedMessage) []MessageRecord {
	out := make([]MessageRecord, len(messages))
	for i, msg := range messages {
		out[i] = MessageRecord{Sender: string(msg.Sender), Text: msg.Text, Interrupted: msg.Interrupted}
	}
	return out
}
