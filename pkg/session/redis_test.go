package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/internal/redisconn"
	"github.com/harun/toolgate/internal/tracing"
)

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	client, _, err := redisconn.NewFromEnv(ctx)
	if err != nil {
		t.Skipf("skipping redis session store tests: %v", err)
		return
	}
	defer client.Close()

	prefix := "toolgate-test:" + tracing.NewTraceID() + ":"
	clock := newFakeClock()
	clock.now = time.Now()
	prov := &countingProvisioner{}
	store := NewRedisStore(client, prov,
		WithKeyPrefix(prefix),
		WithClock(clock.Now),
		WithLogger(testLogger()),
	)
	defer client.Del(ctx, store.key("alice"))

	first, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	second, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, second.SessionID)
	assert.Equal(t, int64(1), prov.calls.Load())

	require.NoError(t, store.RecordOAuthStatus(ctx, "alice", OAuthStatus{Provider: "gmail", IsAuthenticated: true}))
	peeked, err := store.Peek(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, peeked.ToolAuthStatus["gmail"].IsAuthenticated)

	clock.Advance(61 * time.Minute)
	third, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, third.SessionID)

	require.NoError(t, store.Invalidate(ctx, "alice"))
	_, err = store.Peek(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestRedisStore_SingleFlightSurvivesFirstCallerCancel(t *testing.T) {
	ctx := context.Background()
	client, _, err := redisconn.NewFromEnv(ctx)
	if err != nil {
		t.Skipf("skipping redis session store tests: %v", err)
		return
	}
	defer client.Close()

	prov := newGatedProvisioner()
	store := NewRedisStore(client, prov,
		WithKeyPrefix("toolgate-test:"+tracing.NewTraceID()+":"),
		WithSingleFlight(true),
		WithLogger(testLogger()),
	)
	defer client.Del(ctx, store.key("bob"))

	firstCtx, cancelFirst := context.WithCancel(ctx)
	defer cancelFirst()
	firstErr := make(chan error, 1)
	go func() {
		_, err := store.GetOrCreate(firstCtx, "bob")
		firstErr <- err
	}()
	<-prov.started

	secondErr := make(chan error, 1)
	go func() {
		_, err := store.GetOrCreate(ctx, "bob")
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(prov.release)
	assert.NoError(t, <-secondErr)
	assert.Equal(t, int64(1), prov.calls.Load())
}
