package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// tokenManager handles bearer token acquisition and expiry-based refresh.
// It is safe for concurrent use.
type tokenManager struct {
	baseURL  string
	apiKey   string
	username string
	password string
	client   *http.Client
	margin   time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(baseURL string, cfg Config, client *http.Client) *tokenManager {
	return &tokenManager{
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
		margin:   30 * time.Second,
	}
}

func (tm *tokenManager) getToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && time.Now().Before(tm.expiresAt.Add(-tm.margin)) {
		return tm.token, nil
	}

	if err := tm.refresh(ctx); err != nil {
		return "", err
	}
	return tm.token, nil
}

type authRequest struct {
	APIKey   string `json:"api_key,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type authResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (tm *tokenManager) refresh(ctx context.Context) error {
	body, err := json.Marshal(authRequest{
		APIKey:   tm.apiKey,
		Username: tm.username,
		Password: tm.password,
	})
	if err != nil {
		return goerr.Wrap(err, "failed to marshal auth request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+"/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return goerr.Wrap(err, "failed to create auth request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return goerr.Wrap(err, "auth request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return goerr.New("auth failed", goerr.V("status", resp.StatusCode))
	}

	var decoded authResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return goerr.Wrap(err, "failed to decode auth response")
	}

	tm.token = decoded.AccessToken
	tm.expiresAt = decoded.ExpiresAt
	return nil
}
