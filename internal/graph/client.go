// Package graph sends mail as the signed-in user through the Microsoft Graph
// sendMail endpoint.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sendmail-oauth2/internal/common/errors"
	commonhttp "sendmail-oauth2/internal/common/http"
	"sendmail-oauth2/internal/common/logging"
)

// DefaultBaseURL is the Graph v1.0 root
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

const maxErrorBody = 4096

// apiError is the error envelope Graph returns on failure
type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client posts messages to {baseURL}/me/sendMail
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: commonhttp.NewHTTPClientWithTimeout(30 * time.Second),
		logger:     logging.GetGlobalLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.Field{Key: "component", Value: "graph"})
	return c
}

// SendMail makes one sendMail call with the given bearer token. Any non-2xx
// status is returned as a send error carrying the Graph error code and
// message, or the raw body when it is not a Graph error.
func (c *Client) SendMail(ctx context.Context, accessToken string, msg Message) error {
	if accessToken == "" {
		return errors.AuthError("access token is required", nil)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.InternalError("failed to encode message", err)
	}

	endpoint := c.baseURL + "/me/sendMail"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.SendError("failed to create send request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.SendError("send request failed", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	c.logger.Debug("sendMail responded",
		logging.Field{Key: "status", Value: resp.StatusCode},
		logging.Field{Key: "duration", Value: time.Since(start).String()},
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return sendFailure(resp.StatusCode, body)
	}
	return nil
}

func sendFailure(status int, body []byte) *errors.AppError {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Code != "" {
		return errors.SendError(fmt.Sprintf("sendMail failed with status %d: %s: %s", status, apiErr.Error.Code, apiErr.Error.Message), nil).
			WithCode(apiErr.Error.Code).
			WithContext("status", status)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return errors.SendError(fmt.Sprintf("sendMail failed with status %d", status), nil).
			WithContext("status", status)
	}
	return errors.SendError(fmt.Sprintf("sendMail failed with status %d: %s", status, text), nil).
		WithContext("status", status)
}
