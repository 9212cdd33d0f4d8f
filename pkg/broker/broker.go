package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/tracing"
	"github.com/harun/toolgate/pkg/ratelimit"
	"github.com/harun/toolgate/pkg/session"
	"github.com/harun/toolgate/pkg/toolregistry"
)

const tracerName = "toolgate.broker"

// State is a step of an invocation.
type State string

const (
	StateValidating       State = "validating"
	StateRateChecking     State = "rate_checking"
	StateSessionResolving State = "session_resolving"
	StateInvoking         State = "invoking"
	StateRetrying         State = "retrying"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Request is one tool invocation on behalf of a user.
type Request struct {
	UserID        string
	Tool          string
	Params        map[string]interface{}
	CorrelationID string
}

// Result is a successful invocation.
type Result struct {
	Tool             string          `json:"tool"`
	Output           json.RawMessage `json:"result"`
	CorrelationID    string          `json:"correlation_id"`
	ApprovalRequired bool            `json:"approval_required"`
	// Attempts is 2 when the session was rotated.
	Attempts int `json:"-"`
}

// Config wires a Broker to its collaborators.
type Config struct {
	Registry    Registry
	Limiter     ratelimit.Limiter
	Store       session.Store
	Provisioner SessionProvisioner
	Invoker     ToolInvoker

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Broker runs tool invocations.
type Broker struct {
	registry    Registry
	limiter     ratelimit.Limiter
	store       session.Store
	provisioner SessionProvisioner
	invoker     ToolInvoker
	logger      zerolog.Logger
	now         func() time.Time
}

// New creates a Broker.
func New(cfg Config) (*Broker, error) {
	switch {
	case cfg.Registry == nil:
		return nil, errors.New("broker: registry is required")
	case cfg.Limiter == nil:
		return nil, errors.New("broker: rate limiter is required")
	case cfg.Store == nil:
		return nil, errors.New("broker: session store is required")
	case cfg.Provisioner == nil:
		return nil, errors.New("broker: session provisioner is required")
	case cfg.Invoker == nil:
		return nil, errors.New("broker: tool invoker is required")
	}

	b := &Broker{
		registry:    cfg.Registry,
		limiter:     cfg.Limiter,
		store:       cfg.Store,
		provisioner: cfg.Provisioner,
		invoker:     cfg.Invoker,
		logger:      log.Logger,
		now:         cfg.Now,
	}
	if cfg.Logger != nil {
		b.logger = *cfg.Logger
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

// invocation tracks one request through the state machine.
type invocation struct {
	req      Request
	desc     toolregistry.ToolDescriptor
	state    State
	attempts int
	logger   zerolog.Logger
}

func (inv *invocation) advance(s State) {
	inv.logger.Debug().Str("from", string(inv.state)).Str("to", string(s)).Msg("Invocation state change")
	inv.state = s
}

func (inv *invocation) fail(kind Kind, msg string, err error) *Error {
	inv.advance(StateFailed)
	return &Error{
		Kind:          kind,
		Message:       msg,
		CorrelationID: inv.req.CorrelationID,
		Tool:          inv.req.Tool,
		Err:           err,
	}
}

// Invoke validates req, charges the user's rate budget, resolves a session and
// executes the tool. Errors are always *Error.
func (b *Broker) Invoke(ctx context.Context, req Request) (*Result, error) {
	if req.CorrelationID == "" {
		req.CorrelationID = tracing.GetCorrelationID(ctx)
	}
	if req.CorrelationID == "" {
		req.CorrelationID = tracing.NewCorrelationID()
	}

	ctx = tracing.WithCorrelationID(ctx, req.CorrelationID)
	ctx = tracing.WithUserID(ctx, req.UserID)
	ctx = tracing.WithTool(ctx, req.Tool)
	ctx, span := tracing.StartSpan(ctx, tracerName, "broker.invoke",
		attribute.String("tool", req.Tool),
		attribute.String("user_id", req.UserID),
		attribute.String("correlation_id", req.CorrelationID),
	)
	defer span.End()

	inv := &invocation{
		req:    req,
		state:  StateValidating,
		logger: tracing.LoggerFromContext(ctx, b.logger),
	}

	start := b.now()
	res, berr := b.run(ctx, inv)
	duration := b.now().Sub(start)

	outcome := "success"
	if berr != nil {
		outcome = string(berr.Kind)
		span.RecordError(berr)
		span.SetStatus(codes.Error, berr.Message)
	}
	span.SetAttributes(attribute.String("outcome", outcome), attribute.Int("attempts", inv.attempts))
	observability.RecordToolInvocation(req.Tool, outcome, duration)

	if inv.desc.ApprovalRequired {
		observability.RecordToolAudit(ctx, req.Tool, req.UserID, req.CorrelationID, outcome, map[string]interface{}{
			"attempts":    inv.attempts,
			"duration_ms": duration.Milliseconds(),
		})
	}

	if berr != nil {
		ev := inv.logger.Warn()
		if berr.Kind == KindToolExecutionFailed || berr.Kind == KindSessionProvisioningFailed {
			ev = inv.logger.Error()
		}
		ev.Err(berr.Err).
			Str("code", string(berr.Kind)).
			Int("attempts", inv.attempts).
			Dur("duration", duration).
			Msg(berr.Message)
		return nil, berr
	}

	inv.logger.Info().
		Int("attempts", inv.attempts).
		Dur("duration", duration).
		Msg("Tool executed")
	return res, nil
}

func (b *Broker) run(ctx context.Context, inv *invocation) (*Result, *Error) {
	req := inv.req

	// Validating
	if strings.TrimSpace(req.UserID) == "" {
		return nil, inv.fail(KindInvalidParameters, "user id is required", nil)
	}
	desc, err := b.registry.Describe(req.Tool)
	if err != nil {
		return nil, inv.fail(KindInvalidParameters, fmt.Sprintf("unknown tool: %s", req.Tool), err)
	}
	inv.desc = desc

	problems, err := b.registry.Validate(req.Tool, req.Params)
	if err != nil {
		return nil, inv.fail(KindInvalidParameters, "parameter validation failed", err)
	}
	if len(problems) > 0 {
		fields := toolregistry.Fields(problems)
		e := inv.fail(KindInvalidParameters, "missing required parameters: "+strings.Join(fields, ", "), nil)
		e.Fields = fields
		return nil, e
	}

	// RateChecking
	inv.advance(StateRateChecking)
	if ctx.Err() != nil {
		return nil, inv.fail(KindCancelled, "request cancelled", ctx.Err())
	}
	if !b.limiter.Admit(ctx, req.UserID) {
		return nil, inv.fail(KindRateLimitExceeded, "rate limit exceeded, try again later", nil)
	}

	// SessionResolving
	inv.advance(StateSessionResolving)
	sess, berr := b.resolveSession(ctx, inv)
	if berr != nil {
		return nil, berr
	}

	// Invoking
	inv.advance(StateInvoking)
	outcome := b.invoke(ctx, inv, sess)

	if outcome.Kind == OutcomeAuthFailure {
		inv.advance(StateRetrying)
		inv.logger.Info().
			Str("session_id", sess.SessionID).
			Int("status", outcome.StatusCode).
			Msg("Upstream rejected session, rotating")

		// A session still cached here would come back from the next resolve.
		if err := b.store.Invalidate(ctx, req.UserID); err != nil {
			if ctx.Err() != nil || isContextErr(err) {
				return nil, inv.fail(KindCancelled, "request cancelled", err)
			}
			return nil, inv.fail(KindSessionProvisioningFailed, "failed to discard rejected session", err)
		}
		observability.RecordSessionRotation()

		sess, berr = b.resolveSession(ctx, inv)
		if berr != nil {
			return nil, berr
		}
		outcome = b.invoke(ctx, inv, sess)
		if outcome.Kind == OutcomeAuthFailure {
			return nil, inv.fail(KindToolExecutionFailed, "upstream rejected credentials after session rotation", outcome.Err)
		}
	}

	switch outcome.Kind {
	case OutcomeSuccess:
		inv.advance(StateDone)
		b.recordProviderAuthenticated(ctx, inv, sess)
		return &Result{
			Tool:             req.Tool,
			Output:           outcome.Result,
			CorrelationID:    req.CorrelationID,
			ApprovalRequired: desc.ApprovalRequired,
			Attempts:         inv.attempts,
		}, nil

	case OutcomeOAuthRequired:
		provider := outcome.Provider
		if provider == "" {
			provider = desc.Provider
		}
		b.recordStatus(ctx, inv, session.OAuthStatus{
			IsAuthenticated: false,
			AuthURL:         outcome.OAuthURL,
			LastChecked:     b.now(),
			Provider:        provider,
		})
		msg := outcome.Message
		if msg == "" {
			msg = fmt.Sprintf("authorization required for %s", provider)
		}
		e := inv.fail(KindOAuthRequired, msg, nil)
		e.OAuthURL = outcome.OAuthURL
		e.Provider = provider
		return nil, e

	case OutcomeCancelled:
		return nil, inv.fail(KindCancelled, "request cancelled", outcome.Err)

	default:
		if ctx.Err() != nil {
			return nil, inv.fail(KindCancelled, "request cancelled", ctx.Err())
		}
		msg := outcome.Message
		if msg == "" {
			msg = "tool execution failed"
		}
		return nil, inv.fail(KindToolExecutionFailed, msg, outcome.Err)
	}
}

func (b *Broker) resolveSession(ctx context.Context, inv *invocation) (*session.UserSession, *Error) {
	sess, err := b.store.GetOrCreate(ctx, inv.req.UserID)
	if err == nil {
		return sess, nil
	}
	if ctx.Err() != nil || isContextErr(err) {
		return nil, inv.fail(KindCancelled, "request cancelled", err)
	}
	return nil, inv.fail(KindSessionProvisioningFailed, "failed to create upstream session", err)
}

func (b *Broker) invoke(ctx context.Context, inv *invocation, sess *session.UserSession) InvokeOutcome {
	inv.attempts++
	return b.invoker.Invoke(ctx, sess.Endpoint, sess.Headers, inv.desc.UpstreamAction, inv.req.Params)
}

func (b *Broker) recordProviderAuthenticated(ctx context.Context, inv *invocation, sess *session.UserSession) {
	provider := inv.desc.Provider
	if provider == "" {
		return
	}
	if st, ok := sess.ToolAuthStatus[provider]; ok && st.IsAuthenticated {
		return
	}
	b.recordStatus(ctx, inv, session.OAuthStatus{
		IsAuthenticated: true,
		LastChecked:     b.now(),
		Provider:        provider,
	})
}

func (b *Broker) recordStatus(ctx context.Context, inv *invocation, status session.OAuthStatus) {
	if err := b.store.RecordOAuthStatus(ctx, inv.req.UserID, status); err != nil {
		inv.logger.Warn().Err(err).Str("provider", status.Provider).Msg("Failed to record OAuth status")
	}
}

// CheckOAuthStatus asks the upstream whether userID has authorized provider.
// It never fails: any error yields an unauthenticated status.
func (b *Broker) CheckOAuthStatus(ctx context.Context, userID, provider string) session.OAuthStatus {
	logger := tracing.LoggerFromContext(ctx, b.logger).With().Str("provider", provider).Logger()

	status, err := b.provisioner.CheckOAuth(ctx, userID, provider)
	if err != nil {
		logger.Warn().Err(err).Msg("OAuth status check failed")
		status = session.OAuthStatus{IsAuthenticated: false}
	}
	status.Provider = provider
	if status.LastChecked.IsZero() {
		status.LastChecked = b.now()
	}

	observability.RecordOAuthCheck(provider, status.IsAuthenticated)
	if userID != "" {
		if err := b.store.RecordOAuthStatus(ctx, userID, status); err != nil {
			logger.Warn().Err(err).Msg("Failed to record OAuth status")
		}
	}
	return status
}

// Logout drops the user's cached session.
func (b *Broker) Logout(ctx context.Context, userID string) error {
	if err := b.store.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	observability.RecordSessionAudit(ctx, "logout", userID, tracing.GetCorrelationID(ctx))
	return nil
}

// Session returns the user's live session without provisioning one.
func (b *Broker) Session(ctx context.Context, userID string) (*session.UserSession, error) {
	return b.store.Peek(ctx, userID)
}
