// Package credential implements the "fetch a bearer token for scope S"
// capability the gateway's external interfaces treat as a given,
// grounded on golang.org/x/oauth2/clientcredentials the same way
// internal/auth/oauth.go elsewhere in the stack builds provider tokens
// on top of golang.org/x/oauth2 — here for service-to-service
// client-credentials rather than a user login flow.
package credential

import (
	"context"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource fetches a bearer token for a given scope. Implementations
// must be safe for concurrent use and are expected to cache tokens
// until they near expiry (§5: "Credential provider is shared; callers
// treat it as thread-safe and allow it to cache tokens.").
type TokenSource interface {
	Token(ctx context.Context, scope string) (string, error)
}

// ClientCredentialsProvider caches one oauth2.TokenSource per scope,
// each backed by the client-credentials grant.
type ClientCredentialsProvider struct {
	clientID     string
	clientSecret string
	tokenURL     string

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewClientCredentialsProvider builds a provider using a single OAuth2
// client-credentials app registration, issuing scoped tokens on demand.
func NewClientCredentialsProvider(clientID, clientSecret, tokenURL string) *ClientCredentialsProvider {
	return &ClientCredentialsProvider{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     tokenURL,
		sources:      make(map[string]oauth2.TokenSource),
	}
}

// Token returns a bearer token valid for scope, reusing a cached,
// auto-refreshing oauth2.TokenSource when one already exists for that
// scope.
func (p *ClientCredentialsProvider) Token(ctx context.Context, scope string) (string, error) {
	src := p.sourceFor(scope)
	tok, err := src.Token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (p *ClientCredentialsProvider) sourceFor(scope string) oauth2.TokenSource {
	p.mu.Lock()
	defer p.mu.Unlock()

	if src, ok := p.sources[scope]; ok {
		return src
	}

	cfg := clientcredentials.Config{
		ClientID:     p.clientID,
		ClientSecret: p.clientSecret,
		TokenURL:     p.tokenURL,
		Scopes:       []string{scope},
	}
	// oauth2.ReuseTokenSource wraps the raw client-credentials source
	// with the standard "refresh only once expired" cache so repeated
	// Token() calls within a lease window are free.
	src := oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.Background()))
	p.sources[scope] = src
	return src
}

// Static is a TokenSource that always returns a fixed token, useful in
// tests and for deployments where a token is injected out-of-band.
type Static string

func (s Static) Token(context.Context, string) (string, error) {
	return string(s), nil
}
