package composio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/broker"
	"github.com/harun/toolgate/pkg/session"
)

const (
	DefaultBaseURL = "https://backend.composio.dev/api/v3/"
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 4 << 20
)

// DefaultAllowedToolkits are requested for every new session.
var DefaultAllowedToolkits = []string{"twilio", "gmail", "tavily", "google"}

var (
	_ broker.SessionProvisioner = (*Client)(nil)
	_ broker.ToolInvoker        = (*Client)(nil)
)

// Config configures a Client.
type Config struct {
	APIKey          string
	BaseURL         string
	Timeout         time.Duration
	AllowedToolkits []string
}

// Client talks to the upstream over HTTP.
type Client struct {
	apiKey          string
	baseURL         *url.URL
	allowedToolkits []string
	httpClient      *http.Client
	sessionSchema   *gojsonschema.Schema
	logger          zerolog.Logger
	now             func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client. Its Timeout is kept as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock replaces time.Now for OAuth status timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client. An API key is required.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("composio: api key is required")
	}

	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("composio: invalid base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("composio: base url must be http or https: %s", base)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	toolkits := cfg.AllowedToolkits
	if len(toolkits) == 0 {
		toolkits = DefaultAllowedToolkits
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(sessionResponseSchema))
	if err != nil {
		return nil, fmt.Errorf("composio: compile session schema: %w", err)
	}

	c := &Client{
		apiKey:          cfg.APIKey,
		baseURL:         u,
		allowedToolkits: append([]string(nil), toolkits...),
		httpClient:      &http.Client{Timeout: timeout},
		sessionSchema:   schema,
		logger:          log.Logger,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := tracing.GetCorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-Id", id)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

// CreateSession provisions a new upstream session for userID.
func (c *Client) CreateSession(ctx context.Context, userID string) (*session.Provisioned, error) {
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("user_id", userID).Logger()

	req, err := c.newRequest(ctx, http.MethodPost, c.baseURL.JoinPath("sessions").String(), createSessionRequest{
		UserID:          userID,
		AllowedToolkits: c.allowedToolkits,
	})
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logger.Debug().Msg("Creating upstream session")
	status, body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if status < 200 || status > 299 {
		logger.Error().Int("status", status).Str("body", truncate(body, 512)).Msg("Upstream session creation failed")
		return nil, &StatusError{Op: "create session", StatusCode: status, Body: truncate(body, 512)}
	}

	result, err := c.sessionSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("create session: invalid response: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return nil, fmt.Errorf("create session: unexpected response shape: %s", strings.Join(problems, "; "))
	}

	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("create session: decode response: %w", err)
	}

	logger.Info().
		Str("session_id", sr.SessionID).
		Str("transport", sr.MCP.Transport).
		Msg("Upstream session created")

	return &session.Provisioned{
		SessionID: sr.SessionID,
		Endpoint:  sr.MCP.URL,
		Headers:   sr.MCP.Headers,
	}, nil
}

// Invoke runs action on the session endpoint and classifies the response.
func (c *Client) Invoke(ctx context.Context, endpoint string, headers map[string]string, action string, params map[string]interface{}) broker.InvokeOutcome {
	logger := tracing.LoggerFromContext(ctx, c.logger).With().Str("action", action).Logger()

	if params == nil {
		params = map[string]interface{}{}
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, executeRequest{Tool: action, Parameters: params})
	if err != nil {
		return broker.InvokeOutcome{Kind: broker.OutcomeFailure, Message: "invalid tool request", Err: err}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	status, body, err := c.do(req)
	if err != nil {
		if ctx.Err() != nil {
			return broker.InvokeOutcome{Kind: broker.OutcomeCancelled, Message: "request cancelled", Err: ctx.Err()}
		}
		logger.Warn().Err(err).Msg("Upstream tool request failed")
		return broker.InvokeOutcome{Kind: broker.OutcomeFailure, Message: "upstream request failed", Err: err}
	}

	if status >= 200 && status <= 299 {
		if len(bytes.TrimSpace(body)) == 0 {
			return broker.InvokeOutcome{Kind: broker.OutcomeSuccess, Result: json.RawMessage("null"), StatusCode: status}
		}
		if !json.Valid(body) {
			return broker.InvokeOutcome{
				Kind:       broker.OutcomeFailure,
				Message:    "upstream returned invalid JSON",
				StatusCode: status,
				Err:        &StatusError{Op: "execute " + action, StatusCode: status, Body: truncate(body, 512)},
			}
		}
		logger.Debug().Int("status", status).Msg("Upstream tool executed")
		return broker.InvokeOutcome{Kind: broker.OutcomeSuccess, Result: json.RawMessage(body), StatusCode: status}
	}

	statusErr := &StatusError{Op: "execute " + action, StatusCode: status, Body: truncate(body, 512)}
	logger.Warn().Int("status", status).Str("body", statusErr.Body).Msg("Upstream tool execution failed")

	var er errorResponse
	_ = json.Unmarshal(body, &er)

	if er.Error.OAuthURL != "" {
		return broker.InvokeOutcome{
			Kind:       broker.OutcomeOAuthRequired,
			OAuthURL:   er.Error.OAuthURL,
			Provider:   er.Error.Provider,
			Message:    er.Error.Message,
			StatusCode: status,
		}
	}

	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return broker.InvokeOutcome{Kind: broker.OutcomeAuthFailure, Message: "session rejected", StatusCode: status, Err: statusErr}
	}

	msg := er.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("tool execution failed with status %d", status)
	}
	return broker.InvokeOutcome{Kind: broker.OutcomeFailure, Message: msg, StatusCode: status, Err: statusErr}
}

// CheckOAuth reports whether userID has a connection for provider. Any 2xx
// response counts as connected; other statuses are reported as not
// connected. Transport errors are returned.
func (c *Client) CheckOAuth(ctx context.Context, userID, provider string) (session.OAuthStatus, error) {
	u := c.baseURL.JoinPath("connections")
	q := u.Query()
	q.Set("user_id", userID)
	q.Set("provider", provider)
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return session.OAuthStatus{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	status, _, err := c.do(req)
	if err != nil {
		return session.OAuthStatus{}, fmt.Errorf("check connection: %w", err)
	}

	authenticated := status >= 200 && status <= 299
	if !authenticated {
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Warn().
			Str("provider", provider).
			Int("status", status).
			Msg("Connection check returned non-success status")
	}

	return session.OAuthStatus{
		IsAuthenticated: authenticated,
		Provider:        provider,
		LastChecked:     c.now(),
	}, nil
}

// StatusError is a non-success HTTP response from the upstream.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Op, e.StatusCode)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
