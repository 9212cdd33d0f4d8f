package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/harun/toolgate/internal/observability"
	"github.com/harun/toolgate/internal/tracing"
)

const tracerName = "toolgate.session"

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	provisioner  Provisioner
	ttl          time.Duration
	now          func() time.Time
	logger       zerolog.Logger
	singleFlight bool

	mu       sync.RWMutex
	sessions map[string]*UserSession

	group singleflight.Group
}

// Option configures a store.
type Option func(*options)

type options struct {
	ttl          time.Duration
	now          func() time.Time
	logger       zerolog.Logger
	singleFlight bool
	keyPrefix    string
}

func defaultOptions() options {
	return options{
		ttl:       DefaultTTL,
		now:       time.Now,
		logger:    log.Logger,
		keyPrefix: "toolgate:",
	}
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the store logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithSingleFlight coalesces concurrent provisioning for the same user.
func WithSingleFlight(enabled bool) Option {
	return func(o *options) { o.singleFlight = enabled }
}

// WithKeyPrefix sets the Redis key prefix. Ignored by MemoryStore.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// NewMemoryStore creates an in-memory store backed by provisioner.
func NewMemoryStore(provisioner Provisioner, opts ...Option) *MemoryStore {
	observability.EnsureRegistered()

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryStore{
		provisioner:  provisioner,
		ttl:          o.ttl,
		now:          o.now,
		logger:       o.logger,
		singleFlight: o.singleFlight,
		sessions:     make(map[string]*UserSession),
	}
}

// GetOrCreate returns the user's live session, provisioning a new one when
// the cached session is missing or expired.
func (m *MemoryStore) GetOrCreate(ctx context.Context, userID string) (*UserSession, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.get_or_create", attribute.String("user_id", userID))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, m.logger)

	if sess := m.lookup(userID, logger); sess != nil {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return sess, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	var (
		sess *UserSession
		err  error
	)
	if m.singleFlight {
		sess, err = m.provisionShared(ctx, userID, logger)
	} else {
		sess, err = m.provisionAndStore(ctx, userID, logger)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sess, nil
}

// lookup returns a live cached session, dropping it if expired.
func (m *MemoryStore) lookup(userID string, logger zerolog.Logger) *UserSession {
	m.mu.RLock()
	sess, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if !sess.Expired(m.now()) {
		logger.Debug().Str("session_id", sess.SessionID).Msg("Session cache hit")
		return sess
	}

	m.mu.Lock()
	if m.sessions[userID] == sess {
		delete(m.sessions, userID)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(n)

	logger.Info().Str("session_id", sess.SessionID).Msg("Session expired")
	return nil
}

func (m *MemoryStore) provisionAndStore(ctx context.Context, userID string, logger zerolog.Logger) (*UserSession, error) {
	sess, err := provision(ctx, m.provisioner, userID, m.now, m.ttl, logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[userID] = sess
	n := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(n)

	return sess, nil
}

// provisionShared runs one provisioning per user at a time. The shared call
// does not inherit any caller's cancellation; each caller stops waiting when
// its own ctx is done.
func (m *MemoryStore) provisionShared(ctx context.Context, userID string, logger zerolog.Logger) (*UserSession, error) {
	ch := m.group.DoChan(userID, func() (interface{}, error) {
		if sess := m.lookup(userID, logger); sess != nil {
			return sess, nil
		}
		shared, cancel := detach(ctx)
		defer cancel()
		return m.provisionAndStore(shared, userID, logger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*UserSession), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate removes the user's cached session. It is idempotent.
func (m *MemoryStore) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	m.mu.Lock()
	sess, ok := m.sessions[userID]
	delete(m.sessions, userID)
	n := len(m.sessions)
	m.mu.Unlock()
	observability.SetActiveSessions(n)

	if ok {
		logger := tracing.LoggerFromContext(ctx, m.logger)
		logger.Info().
			Str("user_id", userID).
			Str("session_id", sess.SessionID).
			Msg("Session invalidated")
	}
	return nil
}

// Peek returns the live session without provisioning.
func (m *MemoryStore) Peek(_ context.Context, userID string) (*UserSession, error) {
	m.mu.RLock()
	sess, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok || sess.Expired(m.now()) {
		return nil, ErrNoSession
	}
	return sess, nil
}

// RecordOAuthStatus stores status on the user's live session by replacing it
// with an updated copy. It does nothing when there is no live session.
func (m *MemoryStore) RecordOAuthStatus(_ context.Context, userID string, status OAuthStatus) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok || sess.Expired(m.now()) {
		return nil
	}
	m.sessions[userID] = sess.withOAuthStatus(status)
	return nil
}

// Len returns the number of cached sessions, including expired ones not yet
// read or swept.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()

	m.mu.Lock()
	removed := 0
	for userID, sess := range m.sessions {
		if sess.Expired(now) {
			delete(m.sessions, userID)
			removed++
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	observability.SetActiveSessions(n)
	return removed
}
