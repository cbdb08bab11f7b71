package convlog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/lumenarc/voicegateway/internal/credential"
	"github.com/lumenarc/voicegateway/internal/session"
)

// summarizePrompt instructs the completion model to produce a short
// title rather than a full response, per §4.7.
const summarizePrompt = "Summarize this conversation opening in five words or fewer, suitable as a title. Reply with only the title, no punctuation at the end."

// maxSummaryTokens bounds the completion; a title has no business
// costing more than a couple dozen tokens.
const maxSummaryTokens = 16

// AzureSummarizer implements TitleSummarizer against the same
// Azure-deployed completion surface the upstream realtime provider
// authenticates against (internal/upstream.Client.Connect), reusing
// its credential.TokenSource instead of a separate API key so the
// gateway carries one credential path for both legs.
type AzureSummarizer struct {
	client     *openai.Client
	deployment string
}

// NewAzureSummarizer builds a summarizer targeting deployment on the
// given Azure OpenAI endpoint/apiVersion, authenticating every request
// with a bearer token fetched from creds for scope.
func NewAzureSummarizer(endpoint, apiVersion, deployment, scope string, creds credential.TokenSource) *AzureSummarizer {
	base := endpoint
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	cfg := openai.DefaultAzureConfig("", base)
	cfg.APIVersion = apiVersion
	cfg.APIType = openai.APITypeAzureAD
	cfg.HTTPClient = &http.Client{Transport: &bearerTransport{creds: creds, scope: scope}}

	return &AzureSummarizer{
		client:     openai.NewClientWithConfig(cfg),
		deployment: deployment,
	}
}

// Summarize implements TitleSummarizer. messages is already bounded to
// maxTitleMessages by the caller.
func (s *AzureSummarizer) Summarize(ctx context.Context, messages []session.CapturedMessage) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("title summarizer: no messages")
	}

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	chatMessages = append(chatMessages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: summarizePrompt,
	})
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Sender == session.SenderAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.deployment,
		Messages:  chatMessages,
		MaxTokens: maxSummaryTokens,
	})
	if err != nil {
		return "", fmt.Errorf("title summarizer: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("title summarizer: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// bearerTransport attaches a freshly fetched bearer token to every
// request, mirroring the header attachment in upstream.Client.Connect
// for the same credential provider.
type bearerTransport struct {
	creds credential.TokenSource
	scope string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.creds.Token(req.Context(), t.scope)
	if err != nil {
		return nil, fmt.Errorf("title summarizer: acquiring token: %w", err)
	}
	req = req.Clone(req.Context())
	req.Header.Set("Authorization", "Bearer "+token)
	return http.DefaultTransport.RoundTrip(req)
}
