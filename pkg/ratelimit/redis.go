package ratelimit

import (
	"context"
	"strconv"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolgate/internal/observability"
)

// admitScript trims, counts and records in one step. Scores are unix millis.
var admitScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return 1
`)

// retryScript returns the oldest score when the window is full, else -1.
var retryScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZCARD', key) < limit then
  return -1
end
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return tonumber(oldest[2])
`)

// RedisLimiter is a sliding-window limiter whose windows live in Redis sorted
// sets, shared by every process using the same key prefix.
//
// When Redis is unreachable Admit logs the error and admits the request.
type RedisLimiter struct {
	client    redis.Scripter
	keyPrefix string
	limit     int
	window    time.Duration
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRedisLimiter creates a limiter on client with the given limits. Zero
// values fall back to DefaultLimit and DefaultWindow.
func NewRedisLimiter(client redis.Scripter, keyPrefix string, limit int, window time.Duration) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisLimiter{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		window:    window,
		now:       time.Now,
		logger:    log.Logger,
	}
}

func (r *RedisLimiter) key(userID string) string {
	return r.keyPrefix + "ratelimit:" + userID
}

// Admit reports whether userID may make a request now, recording it if so.
func (r *RedisLimiter) Admit(ctx context.Context, userID string) bool {
	member, err := gonanoid.New()
	if err != nil {
		member = strconv.FormatInt(r.now().UnixNano(), 10)
	}

	now := r.now().UnixMilli()
	res, err := admitScript.Run(ctx, r.client, []string{r.key(userID)},
		now, r.window.Milliseconds(), r.limit, strconv.FormatInt(now, 10)+"-"+member).Int()
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Msg("Redis rate limit check failed, admitting request")
		return true
	}
	if res == 0 {
		observability.RecordRateLimitRejection()
		return false
	}
	return true
}

// RetryAfter returns how long until userID's oldest admission leaves the window.
func (r *RedisLimiter) RetryAfter(ctx context.Context, userID string) time.Duration {
	now := r.now().UnixMilli()
	oldest, err := retryScript.Run(ctx, r.client, []string{r.key(userID)},
		now, r.window.Milliseconds(), r.limit).Int64()
	if err != nil || oldest < 0 {
		return 0
	}

	wait := time.Duration(oldest+r.window.Milliseconds()-now) * time.Millisecond
	if wait < 0 {
		return 0
	}
	return wait
}
