// Package convlog implements the Conversation Logger (C7): on session
// end, builds one document from the session's captured state and
// writes it to a document store, deriving a best-effort title along
// the way. Grounded on the teacher's sessions.CockroachStore write
// path for the persistence half, and on the teacher's
// agent/summarizer-style "best-effort, fall back on error" pattern for
// title derivation.
package convlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumenarc/voicegateway/internal/convlog/store"
	"github.com/lumenarc/voicegateway/internal/metrics"
	"github.com/lumenarc/voicegateway/internal/session"
)

// maxTitleMessages bounds how much transcript is sent to the
// summarizer, per §4.7's "first up-to-10 messages".
const maxTitleMessages = 10

// maxFallbackTitleLen is the truncation length for the no-summarizer
// fallback title. Per the open-question resolution: truncate to this
// length first, then append the ellipsis.
const maxFallbackTitleLen = 40

// TitleSummarizer derives a short conversation title from its opening
// messages. Summarize may call out to a completion endpoint; any error
// triggers the logger's truncation fallback instead of failing the
// write.
type TitleSummarizer interface {
	Summarize(ctx context.Context, messages []session.CapturedMessage) (string, error)
}

// Logger implements C7.
type Logger struct {
	Store      store.DocumentStore
	Summarizer TitleSummarizer
	Logger     *slog.Logger
}

// Log builds and persists the document for sess, per §4.7. Errors are
// logged and swallowed — Log never returns an error to its caller
// because the manager invokes it fire-and-forget from the teardown
// path.
func (l *Logger) Log(ctx context.Context, sess *session.Session) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if len(sess.Messages) == 0 {
		return
	}

	doc := Document{
		ID:               fmt.Sprintf("ai_conv_%s_%d", sess.ID, sess.EndAt.UnixMilli()),
		SubjectID:        nonEmptyOr(sess.SubjectID, "anonymous"),
		SessionStart:     sess.StartAt.Format(time.RFC3339),
		SessionEnd:       sess.EndAt.Format(time.RFC3339),
		DurationSeconds:  sess.Duration().Seconds(),
		DisconnectReason: string(sess.DisconnectReason),
		Graceful:         sess.Graceful,
		Messages:         toMessageRecords(sess.Messages),
		Metadata:         buildMetadata(sess),
	}
	doc.Title = l.deriveTitle(ctx, sess.Messages)

	raw, err := json.Marshal(doc)
	if err != nil {
		logger.Warn("marshaling conversation document failed", "session_id", sess.ID, "err", err)
		metrics.ConversationLogWrites.WithLabelValues("marshal_error").Inc()
		return
	}

	if l.Store == nil {
		metrics.ConversationLogWrites.WithLabelValues("no_store").Inc()
		return
	}
	if err := l.Store.CreateOne(ctx, doc.ID, doc.SubjectID, raw); err != nil {
		logger.Warn("persisting conversation document failed", "session_id", sess.ID, "err", err)
		metrics.ConversationLogWrites.WithLabelValues("store_error").Inc()
		return
	}
	metrics.ConversationLogWrites.WithLabelValues("success").Inc()
}

func (l *Logger) deriveTitle(ctx context.Context, messages []session.CapturedMessage) string {
	if l.Summarizer != nil {
		head := messages
		if len(head) > maxTitleMessages {
			head = head[:maxTitleMessages]
		}
		if title, err := l.Summarizer.Summarize(ctx, head); err == nil && title != "" {
			return title
		}
	}
	return fallbackTitle(messages)
}

// fallbackTitle truncates the first user message to maxFallbackTitleLen
// characters, then appends an ellipsis if anything was cut.
func fallbackTitle(messages []session.CapturedMessage) string {
	for _, msg := range messages {
		if msg.Sender != session.SenderUser {
			continue
		}
		runes := []rune(msg.Text)
		if len(runes) <= maxFallbackTitleLen {
			return msg.Text
		}
		return string(runes[:maxFallbackTitleLen]) + "..."
	}
	return ""
}

func nonEmptyOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
