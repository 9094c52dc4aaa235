// Package oauth2 manages the access/refresh token pair obtained through the
// authorization-code flow.
//
// The Manager owns exactly one TokenState. ExchangeCode fills it from an
// authorization code, Refresh replaces it using the refresh token, and
// EnsureAccessToken hands the access token to callers, refreshing only when
// no access token is held at all. There is no expiry clock: a stale but
// present access token is returned as is.
package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sendmail-oauth2/internal/common/errors"
	commonhttp "sendmail-oauth2/internal/common/http"
	"sendmail-oauth2/internal/common/logging"
)

const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"

	// maxErrorBody bounds how much of a non-JSON error body is kept
	maxErrorBody = 4096
)

// TokenResponse is the subset of the token endpoint response the manager reads
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ProviderError is the error body returned by the token endpoint
type ProviderError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// Config describes the app registration used against the identity provider
type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	RedirectURL  string
	Scopes       []string
}

// Manager holds the token pair and talks to the token endpoint
type Manager struct {
	config     Config
	store      TokenStore
	httpClient *http.Client
	logger     logging.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithHTTPClient sets the client used for token endpoint calls
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithStore sets the TokenStore; the default is a MemoryTokenStore
func WithStore(store TokenStore) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager with an empty TokenState
func NewManager(config Config, opts ...Option) (*Manager, error) {
	if config.ClientID == "" {
		return nil, errors.ValidationError("client_id is required")
	}
	if config.ClientSecret == "" {
		return nil, errors.ValidationError("client_secret is required")
	}
	if config.TokenURL == "" {
		return nil, errors.ValidationError("token_url is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.ValidationError("redirect_url is required")
	}

	m := &Manager{
		config:     config,
		store:      NewMemoryTokenStore(),
		httpClient: commonhttp.NewHTTPClientWithTimeout(30 * time.Second),
		logger:     logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithFields(logging.Field{Key: "component", Value: "oauth2"})

	return m, nil
}

// Tokens returns a snapshot of the held token pair
func (m *Manager) Tokens() TokenState {
	return m.store.Load()
}

// ExchangeCode trades an authorization code for a token pair and stores it.
// An empty code fails before any request is made. Failures leave the held
// pair untouched and are never retried.
func (m *Manager) ExchangeCode(ctx context.Context, code string) (TokenState, error) {
	if strings.TrimSpace(code) == "" {
		return TokenState{}, errors.AuthError("authorization code is required", nil)
	}

	data := m.baseForm(grantAuthorizationCode)
	data.Set("code", code)
	data.Set("redirect_uri", m.config.RedirectURL)

	resp, err := m.requestToken(ctx, data)
	if err != nil {
		return TokenState{}, err
	}

	state := TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	m.store.Save(state)

	m.logger.Info("Authorization code exchanged",
		logging.Field{Key: "account", Value: AccountName(state.AccessToken)},
		logging.Field{Key: "has_refresh_token", Value: state.HasRefreshToken()},
		logging.Field{Key: "expires_in", Value: resp.ExpiresIn},
	)

	return state, nil
}

// Refresh obtains a new token pair with the held refresh token. Without a
// refresh token it fails with no request made. A refresh token returned by
// the provider overwrites the held one; when the provider returns none, the
// held refresh token is kept.
func (m *Manager) Refresh(ctx context.Context) (TokenState, error) {
	current := m.store.Load()
	if !current.HasRefreshToken() {
		return TokenState{}, errors.AuthError("no refresh token", nil)
	}

	data := m.baseForm(grantRefreshToken)
	data.Set("refresh_token", current.RefreshToken)

	resp, err := m.requestToken(ctx, data)
	if err != nil {
		return TokenState{}, err
	}

	state := TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if state.RefreshToken == "" {
		state.RefreshToken = current.RefreshToken
	}
	m.store.Save(state)

	m.logger.Info("Access token refreshed",
		logging.Field{Key: "refresh_token_rotated", Value: resp.RefreshToken != "" && resp.RefreshToken != current.RefreshToken},
		logging.Field{Key: "expires_in", Value: resp.ExpiresIn},
	)

	return state, nil
}

// EnsureAccessToken returns the held access token, calling Refresh once when
// none is held.
func (m *Manager) EnsureAccessToken(ctx context.Context) (string, error) {
	if state := m.store.Load(); state.HasAccessToken() {
		return state.AccessToken, nil
	}

	m.logger.Debug("No access token held, refreshing")

	state, err := m.Refresh(ctx)
	if err != nil {
		return "", err
	}
	return state.AccessToken, nil
}

func (m *Manager) baseForm(grantType string) url.Values {
	data := url.Values{}
	data.Set("client_id", m.config.ClientID)
	data.Set("client_secret", m.config.ClientSecret)
	data.Set("grant_type", grantType)
	if len(m.config.Scopes) > 0 {
		data.Set("scope", strings.Join(m.config.Scopes, " "))
	}
	return data
}

// requestToken makes one form-encoded POST to the token endpoint
func (m *Manager) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	grantType := data.Get("grant_type")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.AuthError("failed to create token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, errors.AuthError("token request failed", err).WithContext("grant_type", grantType)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.AuthError("failed to read token response", err).WithContext("grant_type", grantType)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providerError(resp.StatusCode, body).WithContext("grant_type", grantType)
	}

	var tokenResp TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, errors.AuthError("failed to decode token response", err).WithContext("grant_type", grantType)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.AuthError("token response did not contain an access_token", nil).WithContext("grant_type", grantType)
	}

	return &tokenResp, nil
}

// providerError turns a non-200 token response into an auth error carrying
// the provider's payload when one is present.
func providerError(status int, body []byte) *errors.AppError {
	var perr ProviderError
	if err := json.Unmarshal(body, &perr); err == nil && perr.Error != "" {
		msg := perr.Error
		if perr.Description != "" {
			msg = fmt.Sprintf("%s - %s", perr.Error, perr.Description)
		}
		return errors.AuthError(fmt.Sprintf("token request rejected: %s", msg), nil).
			WithCode(perr.Error).
			WithContext("status", status)
	}

	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	if text == "" {
		return errors.AuthError(fmt.Sprintf("token request failed with status %d", status), nil).
			WithContext("status", status)
	}
	return errors.AuthError(fmt.Sprintf("token request failed with status %d: %s", status, text), nil).
		WithContext("status", status)
}
