// Package redisconn builds the shared Redis client used by the optional
// Redis session store and rate limiter.
package redisconn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis connection. Defaults can be loaded via envdecode.
type Config struct {
	// Addr like "localhost:6379". ENV: REDIS_ADDR
	Addr string `env:"REDIS_ADDR,default=localhost:6379"`
	// Password is optional. ENV: REDIS_PASSWORD
	Password string `env:"REDIS_PASSWORD"`
	// DB index. ENV: REDIS_DB
	DB int `env:"REDIS_DB,default=0,strict"`
	// KeyPrefix for all keys. ENV: TOOLGATE_REDIS_KEY_PREFIX
	KeyPrefix string `env:"TOOLGATE_REDIS_KEY_PREFIX,default=toolgate:"`
}

// ConfigFromEnv populates Config from the environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("decode redis env: %w", err)
	}
	return cfg, nil
}

// Overlay returns c with every non-zero field of o written over it.
func (c Config) Overlay(o Config) Config {
	if o.Addr != "" {
		c.Addr = o.Addr
	}
	if o.Password != "" {
		c.Password = o.Password
	}
	if o.DB != 0 {
		c.DB = o.DB
	}
	if o.KeyPrefix != "" {
		c.KeyPrefix = o.KeyPrefix
	}
	return c
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config) (*redis.Client, error) {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := cl.Ping(pingCtx).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return cl, nil
}

// NewFromEnv builds a client using envdecode to populate Config.
func NewFromEnv(ctx context.Context) (*redis.Client, Config, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, cfg, err
	}
	cl, err := New(ctx, cfg)
	return cl, cfg, err
}
