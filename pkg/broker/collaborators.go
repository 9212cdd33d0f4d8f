package broker

import (
	"context"
	"encoding/json"

	"github.com/harun/toolgate/pkg/session"
	"github.com/harun/toolgate/pkg/toolregistry"
)

// SessionProvisioner creates upstream sessions and answers OAuth status
// queries for a user and provider.
type SessionProvisioner interface {
	session.Provisioner
	CheckOAuth(ctx context.Context, userID, provider string) (session.OAuthStatus, error)
}

// OutcomeKind discriminates the result of a single upstream call.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	// OutcomeAuthFailure means the upstream rejected the session credentials.
	OutcomeAuthFailure
	// OutcomeOAuthRequired means the end user must authorize a provider.
	OutcomeOAuthRequired
	OutcomeFailure
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeOAuthRequired:
		return "oauth_required"
	case OutcomeFailure:
		return "failure"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// InvokeOutcome is the result of one ToolInvoker call.
type InvokeOutcome struct {
	Kind OutcomeKind
	// Result is the upstream payload for OutcomeSuccess.
	Result json.RawMessage
	// OAuthURL and Provider are set for OutcomeOAuthRequired.
	OAuthURL string
	Provider string
	// Message describes the failure for the other kinds.
	Message    string
	StatusCode int
	Err        error
}

// ToolInvoker executes one upstream action against a session endpoint.
type ToolInvoker interface {
	Invoke(ctx context.Context, endpoint string, headers map[string]string, action string, params map[string]interface{}) InvokeOutcome
}

// Registry describes and validates tools.
type Registry interface {
	Describe(name string) (toolregistry.ToolDescriptor, error)
	Validate(name string, params map[string]interface{}) ([]toolregistry.FieldError, error)
}
