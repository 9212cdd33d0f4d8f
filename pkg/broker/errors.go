package broker

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failed invocation. The values are stable wire codes.
type Kind string

const (
	KindInvalidParameters         Kind = "invalid_parameters"
	KindRateLimitExceeded         Kind = "rate_limit_exceeded"
	KindSessionProvisioningFailed Kind = "session_provisioning_failed"
	KindOAuthRequired             Kind = "oauth_required"
	KindToolExecutionFailed       Kind = "tool_execution_failed"
	KindCancelled                 Kind = "cancelled"
)

// Error is the terminal error of an invocation.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	Tool          string

	// Fields lists the offending parameters for KindInvalidParameters.
	Fields []string
	// OAuthURL and Provider are set for KindOAuthRequired.
	OAuthURL string
	Provider string

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, if it is or wraps an *Error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return "", false
}

// IsKind reports whether err is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	kind, ok := KindOf(err)
	return ok && kind == k
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
