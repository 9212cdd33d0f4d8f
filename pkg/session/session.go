package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/toolgate/internal/observability"
)

// DefaultTTL is the fixed lifetime of a provisioned session.
const DefaultTTL = 60 * time.Minute

// sharedProvisionTimeout bounds a coalesced provisioning call. The call is
// detached from whichever caller started it, so it needs its own deadline.
const sharedProvisionTimeout = 60 * time.Second

// detach keeps ctx's values (correlation id, span) but not its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sharedProvisionTimeout)
}

var (
	// ErrNoSession is returned by Peek when the user has no live session.
	ErrNoSession = errors.New("no active session")
	// ErrEmptyUserID is returned for operations without a user.
	ErrEmptyUserID = errors.New("user id cannot be empty")
)

// OAuthStatus is the last known authorization state of a downstream provider.
type OAuthStatus struct {
	IsAuthenticated bool      `json:"is_authenticated"`
	AuthURL         string    `json:"auth_url,omitempty"`
	LastChecked     time.Time `json:"last_checked"`
	Provider        string    `json:"provider"`
}

// UserSession is a cached upstream session for one user.
type UserSession struct {
	UserID    string            `json:"user_id"`
	SessionID string            `json:"session_id"`
	Endpoint  string            `json:"endpoint"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
	// ToolAuthStatus is keyed by provider.
	ToolAuthStatus map[string]OAuthStatus `json:"tool_auth_status,omitempty"`
}

// Expired reports whether the session is past ExpiresAt at now.
func (s *UserSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// withOAuthStatus returns a copy of s with status recorded.
func (s *UserSession) withOAuthStatus(status OAuthStatus) *UserSession {
	cp := *s
	cp.ToolAuthStatus = make(map[string]OAuthStatus, len(s.ToolAuthStatus)+1)
	for k, v := range s.ToolAuthStatus {
		cp.ToolAuthStatus[k] = v
	}
	cp.ToolAuthStatus[status.Provider] = status
	return &cp
}

// Provisioned is what the upstream returns for a new session.
type Provisioned struct {
	SessionID string
	Endpoint  string
	Headers   map[string]string
}

// Provisioner creates upstream sessions.
type Provisioner interface {
	CreateSession(ctx context.Context, userID string) (*Provisioned, error)
}

// Store caches sessions by user.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (*UserSession, error)
	Invalidate(ctx context.Context, userID string) error
	Peek(ctx context.Context, userID string) (*UserSession, error)
	RecordOAuthStatus(ctx context.Context, userID string, status OAuthStatus) error
}

// ProvisionError wraps a failure from the upstream provisioner.
type ProvisionError struct {
	UserID string
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision session for user %s: %v", e.UserID, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// provision calls p and wraps the result with a fixed expiry. It holds no locks.
func provision(ctx context.Context, p Provisioner, userID string, now func() time.Time, ttl time.Duration, logger zerolog.Logger) (*UserSession, error) {
	start := now()
	res, err := p.CreateSession(ctx, userID)
	observability.RecordSessionProvision(now().Sub(start), err == nil)
	if err != nil {
		return nil, &ProvisionError{UserID: userID, Err: err}
	}
	if res == nil {
		return nil, &ProvisionError{UserID: userID, Err: errors.New("provisioner returned no session")}
	}

	created := now()
	headers := make(map[string]string, len(res.Headers))
	for k, v := range res.Headers {
		headers[k] = v
	}

	sess := &UserSession{
		UserID:    userID,
		SessionID: res.SessionID,
		Endpoint:  res.Endpoint,
		Headers:   headers,
		CreatedAt: created,
		ExpiresAt: created.Add(ttl),
	}

	logger.Info().
		Str("session_id", sess.SessionID).
		Time("expires_at", sess.ExpiresAt).
		Msg("Session provisioned")

	return sess, nil
}
