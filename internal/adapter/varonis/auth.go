package varonis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hive-corporation/varonis-dsp/internal/adapter/transport"
)

// tokenSkew renews the token a little before the server expires it.
const tokenSkew = 30 * time.Second

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Authenticator exchanges Windows credentials for a bearer token on
// /auth/win and caches it until shortly before expiry.
type Authenticator struct {
	baseURL  string
	username string
	password string
	http     *transport.ResilientClient
	logger   zerolog.Logger
	now      func() time.Time

	mu        sync.Mutex
	header    string
	expiresAt time.Time
}

func NewAuthenticator(baseURL, username, password string, client *transport.ResilientClient, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		baseURL:  strings.TrimRight(baseURL, "/"),
		username: username,
		password: password,
		http:     client,
		logger:   logger,
		now:      time.Now,
	}
}

// Header returns the Authorization header value, authenticating first when
// no valid token is cached.
func (a *Authenticator) Header(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.header != "" && a.now().Before(a.expiresAt) {
		return a.header, nil
	}

	tok, err := a.requestToken(ctx)
	if err != nil {
		return "", err
	}

	a.header = tok.TokenType + " " + tok.AccessToken
	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenSkew
	if ttl <= 0 {
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	}
	a.expiresAt = a.now().Add(ttl)
	a.logger.Debug().Time("expires_at", a.expiresAt).Msg("obtained Varonis access token")
	return a.header, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (a *Authenticator) Invalidate() {
	a.mu.Lock()
	a.header = ""
	a.mu.Unlock()
}

func (a *Authenticator) requestToken(ctx context.Context) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/auth/win",
		strings.NewReader("grant_type=client_credentials"))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(a.username, a.password)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", classify(err))
	}
	defer resp.Body.Close()

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrUnauthorized)
	}
	if tok.TokenType == "" {
		tok.TokenType = "bearer"
	}
	return &tok, nil
}
