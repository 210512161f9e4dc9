package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TokenManagerConfig carries the OAuth application credentials.
type TokenManagerConfig struct {
	OAuthURL       string
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	ClientEndpoint string
	Timeout        time.Duration
}

// TokenManager holds the portal OAuth tokens and refreshes them when
// the API reports expiry. Safe for concurrent use.
type TokenManager struct {
	mu             sync.RWMutex
	accessToken    string
	refreshToken   string
	clientEndpoint string

	oauthURL     string
	clientID     string
	clientSecret string

	httpClient *http.Client
	logger     *zap.Logger
}

// NewTokenManager creates a token manager. The first API call triggers
// a refresh because no access token is held yet.
func NewTokenManager(cfg TokenManagerConfig, logger *zap.Logger) *TokenManager {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 25 * time.Second
	}
	endpoint := strings.TrimSpace(cfg.ClientEndpoint)
	if endpoint != "" && !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return &TokenManager{
		refreshToken:   cfg.RefreshToken,
		clientEndpoint: endpoint,
		oauthURL:       cfg.OAuthURL,
		clientID:       cfg.ClientID,
		clientSecret:   cfg.ClientSecret,
		httpClient:     &http.Client{Timeout: timeout},
		logger:         logger,
	}
}

// AccessToken returns the current access token, which may be empty
// before the first refresh.
func (m *TokenManager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accessToken
}

// ClientEndpoint returns the portal REST endpoint, trailing slash
// included.
func (m *TokenManager) ClientEndpoint() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clientEndpoint
}

type tokenResponse struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	ClientEndpoint string `json:"client_endpoint"`
	ExpiresIn      int    `json:"expires_in"`
	Error          string `json:"error"`
	ErrorDesc      string `json:"error_description"`
}

// Refresh exchanges the refresh token for a new token pair. Bitrix
// rotates the refresh token on every exchange, so the stored one is
// replaced too.
func (m *TokenManager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("refresh_token", m.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read token response: %w", err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(raw, &tr); err != nil {
		return fmt.Errorf("unmarshal token response: %w", err)
	}
	if tr.Error != "" {
		return fmt.Errorf("token refresh rejected: %s (%s)", tr.Error, tr.ErrorDesc)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("token refresh http status %d: %s", resp.StatusCode, string(raw))
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("token refresh returned empty access token")
	}

	m.accessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		m.refreshToken = tr.RefreshToken
	}
	if tr.ClientEndpoint != "" {
		endpoint := tr.ClientEndpoint
		if !strings.HasSuffix(endpoint, "/") {
			endpoint += "/"
		}
		m.clientEndpoint = endpoint
	}

	m.logger.Info("bitrix tokens refreshed",
		zap.Int("expires_in", tr.ExpiresIn))
	return nil
}
