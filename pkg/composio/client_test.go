package composio

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/broker"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.New(os.Stdout).Level(zerolog.Disabled))}, opts...)
	c, err := New(Config{APIKey: "test-key", BaseURL: baseURL}, opts...)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Run("should require an api key", func(t *testing.T) {
		_, err := New(Config{})
		assert.Error(t, err)
	})

	t.Run("should reject non-http base urls", func(t *testing.T) {
		_, err := New(Config{APIKey: "k", BaseURL: "ftp://example.com"})
		assert.Error(t, err)
	})

	t.Run("should apply defaults", func(t *testing.T) {
		c, err := New(Config{APIKey: "k"})
		require.NoError(t, err)
		assert.Equal(t, DefaultBaseURL, c.baseURL.String())
		assert.Equal(t, DefaultTimeout, c.httpClient.Timeout)
		assert.Equal(t, DefaultAllowedToolkits, c.allowedToolkits)
	})
}

func TestClient_CreateSession(t *testing.T) {
	t.Run("should post and decode a session", func(t *testing.T) {
		var got createSessionRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/v3/sessions", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			assert.Equal(t, "corr-1", r.Header.Get("X-Correlation-Id"))
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, `{
				"session_id": "sess_123",
				"user_id": "alice",
				"mcp": {"url": "https://mcp.example.com/s/123", "headers": {"x-api-key": "abc"}, "transport": "sse"},
				"created_at": "2026-01-01T00:00:00Z"
			}`)
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL+"/api/v3/")
		ctx := tracing.WithCorrelationID(context.Background(), "corr-1")

		p, err := c.CreateSession(ctx, "alice")
		require.NoError(t, err)

		assert.Equal(t, "alice", got.UserID)
		assert.Equal(t, []string{"twilio", "gmail", "tavily", "google"}, got.AllowedToolkits)
		assert.Equal(t, "sess_123", p.SessionID)
		assert.Equal(t, "https://mcp.example.com/s/123", p.Endpoint)
		assert.Equal(t, map[string]string{"x-api-key": "abc"}, p.Headers)
	})

	t.Run("should fail on non-success status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).CreateSession(context.Background(), "alice")

		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.StatusCode)
	})

	t.Run("should reject a response without an endpoint", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"session_id": "s", "mcp": {}}`)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv.URL).CreateSession(context.Background(), "alice")
		assert.Error(t, err)
	})
}

func TestClient_Invoke(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		kind     broker.OutcomeKind
		oauthURL string
		provider string
	}{
		{"success", http.StatusOK, `{"temp":72}`, broker.OutcomeSuccess, "", ""},
		{"empty success", http.StatusNoContent, ``, broker.OutcomeSuccess, "", ""},
		{"unauthorized", http.StatusUnauthorized, `{"error":{"code":"unauthorized","message":"expired"}}`, broker.OutcomeAuthFailure, "", ""},
		{"forbidden", http.StatusForbidden, `nope`, broker.OutcomeAuthFailure, "", ""},
		{
			"oauth required",
			http.StatusForbidden,
			`{"error":{"code":"oauth_required","message":"Connect Gmail","oauth_url":"https://auth/gmail","provider":"gmail"}}`,
			broker.OutcomeOAuthRequired, "https://auth/gmail", "gmail",
		},
		{"server error", http.StatusInternalServerError, `{"error":{"code":"internal","message":"broken"}}`, broker.OutcomeFailure, "", ""},
		{"invalid json", http.StatusOK, `not json`, broker.OutcomeFailure, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got executeRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "abc", r.Header.Get("x-api-key"))
				assert.Empty(t, r.Header.Get("Authorization"))
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := newTestClient(t, "https://unused.example.com")
			out := c.Invoke(context.Background(), srv.URL+"/mcp", map[string]string{"x-api-key": "abc"},
				"TAVILY_SEARCH", map[string]interface{}{"query": "weather"})

			assert.Equal(t, tt.kind, out.Kind, out.Message)
			assert.Equal(t, "TAVILY_SEARCH", got.Tool)
			assert.Equal(t, "weather", got.Parameters["query"])
			assert.Equal(t, tt.oauthURL, out.OAuthURL)
			assert.Equal(t, tt.provider, out.Provider)
			if tt.kind == broker.OutcomeSuccess && tt.body != "" {
				assert.JSONEq(t, tt.body, string(out.Result))
			}
		})
	}

	t.Run("should report cancellation", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.Copy(io.Discard, r.Body)
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(block)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		out := newTestClient(t, srv.URL).Invoke(ctx, srv.URL, nil, "TAVILY_SEARCH", nil)
		assert.Equal(t, broker.OutcomeCancelled, out.Kind)
	})

	t.Run("should treat a client timeout as a failure", func(t *testing.T) {
		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-block:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(block)

		c := newTestClient(t, srv.URL, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
		out := c.Invoke(context.Background(), srv.URL, nil, "TAVILY_SEARCH", nil)
		assert.Equal(t, broker.OutcomeFailure, out.Kind)
	})
}

func TestClient_CheckOAuth(t *testing.T) {
	fixed := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	t.Run("should report connected on success", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/connections", r.URL.Path)
			assert.Equal(t, "alice", r.URL.Query().Get("user_id"))
			assert.Equal(t, "gmail", r.URL.Query().Get("provider"))
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"items":[]}`)
		}))
		defer srv.Close()

		st, err := newTestClient(t, srv.URL, WithClock(func() time.Time { return fixed })).
			CheckOAuth(context.Background(), "alice", "gmail")
		require.NoError(t, err)
		assert.True(t, st.IsAuthenticated)
		assert.Equal(t, "gmail", st.Provider)
		assert.Equal(t, fixed, st.LastChecked)
	})

	t.Run("should report not connected on error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		st, err := newTestClient(t, srv.URL).CheckOAuth(context.Background(), "alice", "gmail")
		require.NoError(t, err)
		assert.False(t, st.IsAuthenticated)
	})

	t.Run("should return transport errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		_, err := newTestClient(t, url).CheckOAuth(context.Background(), "alice", "gmail")
		assert.Error(t, err)
	})
}
