package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/harun/toolgate/internal/tracing"
)

// RedisStore keeps sessions as JSON values in Redis so several gateway
// replicas share them. Keys expire with the session; reads still check
// ExpiresAt so clock skew between replicas cannot serve a stale session.
type RedisStore struct {
	client       redis.Cmdable
	provisioner  Provisioner
	keyPrefix    string
	ttl          time.Duration
	now          func() time.Time
	logger       zerolog.Logger
	singleFlight bool
	group        singleflight.Group
}

// NewRedisStore creates a store on client backed by provisioner.
func NewRedisStore(client redis.Cmdable, provisioner Provisioner, opts ...Option) *RedisStore {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &RedisStore{
		client:       client,
		provisioner:  provisioner,
		keyPrefix:    o.keyPrefix,
		ttl:          o.ttl,
		now:          o.now,
		logger:       o.logger,
		singleFlight: o.singleFlight,
	}
}

func (r *RedisStore) key(userID string) string {
	return r.keyPrefix + "session:" + userID
}

func (r *RedisStore) load(ctx context.Context, userID string) (*UserSession, error) {
	data, err := r.client.Get(ctx, r.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}

	var sess UserSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (r *RedisStore) save(ctx context.Context, sess *UserSession, keepTTL bool) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	expiration := sess.ExpiresAt.Sub(r.now())
	if keepTTL {
		expiration = redis.KeepTTL
	} else if expiration <= 0 {
		return nil
	}

	if err := r.client.Set(ctx, r.key(sess.UserID), data, expiration).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

// GetOrCreate returns the user's live session, provisioning a new one when
// the stored session is missing or expired. A Redis read error is treated as
// a miss.
func (r *RedisStore) GetOrCreate(ctx context.Context, userID string) (*UserSession, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}
	ctx, span := tracing.StartSpan(ctx, tracerName, "session.get_or_create", attribute.String("user_id", userID), attribute.String("backend", "redis"))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	sess, err := r.load(ctx, userID)
	if err != nil {
		logger.Warn().Err(err).Msg("Session lookup failed, provisioning a new session")
	}
	if sess != nil {
		if !sess.Expired(r.now()) {
			span.SetAttributes(attribute.Bool("cache_hit", true))
			return sess, nil
		}
		logger.Info().Str("session_id", sess.SessionID).Msg("Session expired")
		if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
			logger.Warn().Err(err).Msg("Failed to delete expired session")
		}
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	create := func(ctx context.Context) (*UserSession, error) {
		sess, err := provision(ctx, r.provisioner, userID, r.now, r.ttl, logger)
		if err != nil {
			return nil, err
		}
		if err := r.save(ctx, sess, false); err != nil {
			logger.Warn().Err(err).Msg("Failed to store session")
		}
		return sess, nil
	}

	if r.singleFlight {
		ch := r.group.DoChan(userID, func() (interface{}, error) {
			shared, cancel := detach(ctx)
			defer cancel()
			return create(shared)
		})
		select {
		case res := <-ch:
			err = res.Err
			if err == nil {
				sess = res.Val.(*UserSession)
			}
		case <-ctx.Done():
			err = ctx.Err()
		}
	} else {
		sess, err = create(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return sess, nil
}

// Invalidate deletes the user's session. It is idempotent.
func (r *RedisStore) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().Str("user_id", userID).Msg("Session invalidated")
	return nil
}

// Peek returns the live session without provisioning.
func (r *RedisStore) Peek(ctx context.Context, userID string) (*UserSession, error) {
	sess, err := r.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.Expired(r.now()) {
		return nil, ErrNoSession
	}
	return sess, nil
}

// RecordOAuthStatus stores status on the user's live session, keeping its
// remaining TTL.
func (r *RedisStore) RecordOAuthStatus(ctx context.Context, userID string, status OAuthStatus) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	sess, err := r.load(ctx, userID)
	if err != nil {
		return err
	}
	if sess == nil || sess.Expired(r.now()) {
		return nil
	}
	return r.save(ctx, sess.withOAuthStatus(status), true)
}
