package gateway

import (
	"encoding/json"
	"time"

	"github.com/harun/toolgate/pkg/session"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// Request headers
const (
	HeaderUserID        = "X-User-Id"
	HeaderUserSignature = "X-User-Signature"
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderRequestID     = "X-Request-Id"
)

// StatusClientClosedRequest is returned when the caller went away mid-call
const StatusClientClosedRequest = 499

// Error codes produced by the gateway itself, alongside the broker kinds
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not_found"
	CodeBadRequest   = "bad_request"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal_error"
)

// InvokeResponse is the success body of POST /api/tools/:tool
type InvokeResponse struct {
	Success          bool            `json:"success"`
	Result           json.RawMessage `json:"result"`
	CorrelationID    string          `json:"correlation_id"`
	ApprovalRequired bool            `json:"approval_required"`
}

// ErrorBody describes a failed request
type ErrorBody struct {
	Code          string   `json:"code"`
	Message       string   `json:"message"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Fields        []string `json:"fields,omitempty"`
	OAuthURL      string   `json:"oauth_url,omitempty"`
	Provider      string   `json:"provider,omitempty"`
}

// ErrorResponse wraps ErrorBody
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ToolInfo is one catalog entry of GET /api/tools
type ToolInfo struct {
	Name             string                       `json:"name"`
	Description      string                       `json:"description"`
	Provider         string                       `json:"provider"`
	Category         toolregistry.ToolCategory    `json:"category"`
	ApprovalRequired bool                         `json:"approval_required"`
	Parameters       []toolregistry.ToolParameter `json:"parameters"`
	InputSchema      map[string]interface{}       `json:"input_schema,omitempty"`
}

// ToolsResponse is the body of GET /api/tools
type ToolsResponse struct {
	Tools []ToolInfo `json:"tools"`
	Count int        `json:"count"`
}

// SessionResponse describes the caller's cached session without the
// upstream endpoint and headers.
type SessionResponse struct {
	UserID         string                         `json:"user_id"`
	SessionID      string                         `json:"session_id"`
	CreatedAt      time.Time                      `json:"created_at"`
	ExpiresAt      time.Time                      `json:"expires_at"`
	ToolAuthStatus map[string]session.OAuthStatus `json:"tool_auth_status,omitempty"`
}

// LogoutResponse is the body of DELETE /api/session
type LogoutResponse struct {
	Success       bool   `json:"success"`
	CorrelationID string `json:"correlation_id"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Uptime    float64 `json:"uptime"`
	Timestamp int64   `json:"timestamp"`
}
