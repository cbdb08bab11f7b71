package convlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lumenarc/voicegateway/internal/session"
)

type fakeStore struct {
	calls []call
	err   error
}

type call struct {
	id        string
	subjectID string
	doc       []byte
}

func (f *fakeStore) CreateOne(ctx context.Context, id, subjectID string, doc []byte) error {
	f.calls = append(f.calls, call{id: id, subjectID: subjectID, doc: doc})
	return f.err
}

func newEndedSession(t *testing.T) *session.Session {
	t.Helper()
	sess := session.New("sess-1", "cust-1")
	sess.AppendMessage(session.CapturedMessage{Sender: session.SenderUser, Text: "hello there, I need help with my account"})
	sess.AppendMessage(session.CapturedMessage{Sender: session.SenderAssistant, Text: "sure, what's going on?"})
	sess.RecordToolCall("get_customer_record")
	sess.SwitchAgent("Assistant_Database_Agent")
	time.Sleep(time.Millisecond)
	sess.End(session.ReasonClientClosed, true)
	return sess
}

func TestLogSkipsEmptyTranscript(t *testing.T) {
	store := &fakeStore{}
	sess := session.New("sess-empty", "")
	sess.End(session.ReasonClientClosed, true)

	l := &Logger{Store: store}
	l.Log(context.Background(), sess)

	if len(store.calls) != 0 {
		t.Fatalf("expected no write for empty transcript, got %d", len(store.calls))
	}
}

func TestLogBuildsDocumentAndWritesOnce(t *testing.T) {
	store := &fakeStore{}
	sess := newEndedSession(t)

	l := &Logger{Store: store}
	l.Log(context.Background(), sess)

	if len(store.calls) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(store.calls))
	}
	got := store.calls[0]
	if !strings.HasPrefix(got.id, "ai_conv_sess-1_") {
		t.Fatalf("unexpected document id: %s", got.id)
	}
	if got.subjectID != "cust-1" {
		t.Fatalf("unexpected subject id: %s", got.subjectID)
	}

	var doc Document
	if err := json.Unmarshal(got.doc, &doc); err != nil {
		t.Fatalf("invalid document json: %v", err)
	}
	if doc.DisconnectReason != "client_closed" || !doc.Graceful {
		t.Fatalf("unexpected disconnect fields: %+v", doc)
	}
	if doc.Metadata.TotalMessages != 2 || doc.Metadata.UserMessages != 1 || doc.Metadata.AssistantMessages != 1 {
		t.Fatalf("unexpected metadata: %+v", doc.Metadata)
	}
	if doc.Metadata.InitialAgent != "root" {
		t.Fatalf("expected initial_agent root, got %s", doc.Metadata.InitialAgent)
	}
	found := false
	for _, a := range doc.Metadata.AgentsUsed {
		if a == "Assistant_Database_Agent" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Assistant_Database_Agent in agents_used: %v", doc.Metadata.AgentsUsed)
	}
}

func TestLogAnonymousSubject(t *testing.T) {
	store := &fakeStore{}
	sess := session.New("sess-2", "")
	sess.AppendMessage(session.CapturedMessage{Sender: session.SenderUser, Text: "hi"})
	sess.End(session.ReasonUpstreamClosed, true)

	l := &Logger{Store: store}
	l.Log(context.Background(), sess)

	if len(store.calls) != 1 || store.calls[0].subjectID != "anonymous" {
		t.Fatalf("expected anonymous subject_id, got calls=%+v", store.calls)
	}
}

func TestLogSwallowsStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("db unavailable")}
	sess := newEndedSession(t)

	l := &Logger{Store: store}
	l.Log(context.Background(), sess) // must not panic or propagate
}

type fakeSummarizer struct {
	title string
	err   error
}

func (f fakeSummarizer) Summarize(ctx context.Context, messages []session.CapturedMessage) (string, error) {
	return f.title, f.err
}

func TestDeriveTitleUsesSummarizerWhenAvailable(t *testing.T) {
	store := &fakeStore{}
	sess := newEndedSession(t)

	l := &Logger{Store: store, Summarizer: fakeSummarizer{title: "Account help request"}}
	l.Log(context.Background(), sess)

	var doc Document
	if err := json.Unmarshal(store.calls[0].doc, &doc); err != nil {
		t.Fatalf("invalid document json: %v", err)
	}
	if doc.Title != "Account help request" {
		t.Fatalf("expected summarizer title, got %q", doc.Title)
	}
}

func TestDeriveTitleFallsBackOnSummarizerError(t *testing.T) {
	store := &fakeStore{}
	sess := newEndedSession(t)

	l := &Logger{Store: store, Summarizer: fakeSummarizer{err: errors.New("endpoint down")}}
	l.Log(context.Background(), sess)

	var doc Document
	if err := json.Unmarshal(store.calls[0].doc, &doc); err != nil {
		t.Fatalf("invalid document json: %v", err)
	}
	if doc.Title != "hello there, I need help with my account" {
		t.Fatalf("expected fallback to first user message, got %q", doc.Title)
	}
}

func TestFallbackTitleTruncatesThenAddsEllipsis(t *testing.T) {
	long := "this is a user message that is definitely longer than forty characters for sure"
	messages := []session.CapturedMessage{{Sender: session.SenderUser, Text: long}}

	got := fallbackTitle(messages)
	wantPrefix := string([]rune(long)[:maxFallbackTitleLen])
	if got != wantPrefix+"..." {
		t.Fatalf("unexpected fallback title: %q", got)
	}
	if len([]rune(got)) != maxFallbackTitleLen+3 {
		t.Fatalf("expected truncate-then-ellipsis length, got %d: %q", len([]rune(got)), got)
	}
}
