package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) CreateSession(ctx context.Context, userID string) (*Provisioned, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*Provisioned)
	return p, args.Error(1)
}

// countingProvisioner hands out sequential session ids.
type countingProvisioner struct {
	calls atomic.Int64
	delay time.Duration
}

func (c *countingProvisioner) CreateSession(ctx context.Context, userID string) (*Provisioned, error) {
	n := c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &Provisioned{
		SessionID: fmt.Sprintf("%s-%d", userID, n),
		Endpoint:  "https://mcp.example.com/" + userID,
		Headers:   map[string]string{"x-session": fmt.Sprint(n)},
	}, nil
}

// gatedProvisioner blocks every call until release is closed or the call's
// own ctx ends.
type gatedProvisioner struct {
	calls   atomic.Int64
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedProvisioner() *gatedProvisioner {
	return &gatedProvisioner{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedProvisioner) CreateSession(ctx context.Context, userID string) (*Provisioned, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Provisioned{SessionID: userID + "-shared", Endpoint: "https://mcp.example.com/" + userID}, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func TestMemoryStore_GetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("should provision once and reuse", func(t *testing.T) {
		clock := newFakeClock()
		prov := &countingProvisioner{}
		store := NewMemoryStore(prov, WithClock(clock.Now), WithLogger(testLogger()))

		first, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		clock.Advance(30 * time.Minute)
		second, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)

		assert.Same(t, first, second)
		assert.Equal(t, int64(1), prov.calls.Load())
		assert.Equal(t, first.CreatedAt.Add(DefaultTTL), first.ExpiresAt)
		assert.Equal(t, "https://mcp.example.com/alice", first.Endpoint)
	})

	t.Run("should keep a session valid at exactly its expiry", func(t *testing.T) {
		clock := newFakeClock()
		prov := &countingProvisioner{}
		store := NewMemoryStore(prov, WithClock(clock.Now), WithLogger(testLogger()))

		_, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		clock.Advance(60 * time.Minute)
		_, err = store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)

		assert.Equal(t, int64(1), prov.calls.Load())
	})

	t.Run("should reprovision exactly once after expiry", func(t *testing.T) {
		clock := newFakeClock()
		prov := &countingProvisioner{}
		store := NewMemoryStore(prov, WithClock(clock.Now), WithLogger(testLogger()))

		first, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)

		clock.Advance(61 * time.Minute)
		second, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		third, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)

		assert.Equal(t, int64(2), prov.calls.Load())
		assert.NotEqual(t, first.SessionID, second.SessionID)
		assert.Same(t, second, third)
		assert.Equal(t, clock.Now().Add(DefaultTTL), second.ExpiresAt)
	})

	t.Run("should keep users separate", func(t *testing.T) {
		prov := &countingProvisioner{}
		store := NewMemoryStore(prov, WithLogger(testLogger()))

		a, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		b, err := store.GetOrCreate(ctx, "bob")
		require.NoError(t, err)

		assert.NotEqual(t, a.SessionID, b.SessionID)
		assert.Equal(t, 2, store.Len())
	})

	t.Run("should surface provisioning failure and cache nothing", func(t *testing.T) {
		prov := &mockProvisioner{}
		upstream := errors.New("upstream 500")
		prov.On("CreateSession", mock.Anything, "alice").Return(nil, upstream).Once()
		store := NewMemoryStore(prov, WithLogger(testLogger()))

		sess, err := store.GetOrCreate(ctx, "alice")

		assert.Nil(t, sess)
		var perr *ProvisionError
		require.ErrorAs(t, err, &perr)
		assert.ErrorIs(t, err, upstream)
		assert.Equal(t, 0, store.Len())
		prov.AssertExpectations(t)
	})

	t.Run("should reject an empty user", func(t *testing.T) {
		store := NewMemoryStore(&countingProvisioner{}, WithLogger(testLogger()))

		_, err := store.GetOrCreate(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyUserID)
	})

	t.Run("should copy provisioned headers", func(t *testing.T) {
		headers := map[string]string{"authorization": "Bearer x"}
		prov := &mockProvisioner{}
		prov.On("CreateSession", mock.Anything, "alice").
			Return(&Provisioned{SessionID: "s1", Endpoint: "https://e", Headers: headers}, nil)
		store := NewMemoryStore(prov, WithLogger(testLogger()))

		sess, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)
		headers["authorization"] = "changed"

		assert.Equal(t, "Bearer x", sess.Headers["authorization"])
	})
}

func TestMemoryStore_Invalidate(t *testing.T) {
	ctx := context.Background()
	prov := &countingProvisioner{}
	store := NewMemoryStore(prov, WithLogger(testLogger()))

	first, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, store.Invalidate(ctx, "alice"))
	require.NoError(t, store.Invalidate(ctx, "alice"))
	require.NoError(t, store.Invalidate(ctx, "nobody"))

	_, err = store.Peek(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)

	second, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, int64(2), prov.calls.Load())
}

func TestMemoryStore_Peek(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(&countingProvisioner{}, WithClock(clock.Now), WithLogger(testLogger()))

	_, err := store.Peek(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)

	created, err := store.GetOrCreate(ctx, "alice")
	require.NoError(t, err)

	peeked, err := store.Peek(ctx, "alice")
	require.NoError(t, err)
	assert.Same(t, created, peeked)

	clock.Advance(2 * time.Hour)
	_, err = store.Peek(ctx, "alice")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMemoryStore_RecordOAuthStatus(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(&countingProvisioner{}, WithClock(clock.Now), WithLogger(testLogger()))

	t.Run("should be a no-op without a session", func(t *testing.T) {
		require.NoError(t, store.RecordOAuthStatus(ctx, "alice", OAuthStatus{Provider: "gmail"}))
		assert.Equal(t, 0, store.Len())
	})

	t.Run("should replace rather than mutate the session", func(t *testing.T) {
		original, err := store.GetOrCreate(ctx, "alice")
		require.NoError(t, err)

		status := OAuthStatus{Provider: "gmail", AuthURL: "https://auth", LastChecked: clock.Now()}
		require.NoError(t, store.RecordOAuthStatus(ctx, "alice", status))

		updated, err := store.Peek(ctx, "alice")
		require.NoError(t, err)
		assert.Empty(t, original.ToolAuthStatus)
		assert.Equal(t, status, updated.ToolAuthStatus["gmail"])
		assert.Equal(t, original.SessionID, updated.SessionID)
		assert.Equal(t, original.ExpiresAt, updated.ExpiresAt)
	})
}

func TestMemoryStore_ConcurrentMissTolerated(t *testing.T) {
	ctx := context.Background()
	prov := &countingProvisioner{delay: 20 * time.Millisecond}
	store := NewMemoryStore(prov, WithLogger(testLogger()))

	var wg sync.WaitGroup
	results := make([]*UserSession, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := store.GetOrCreate(ctx, "alice")
			assert.NoError(t, err)
			results[i] = sess
		}(i)
	}
	wg.Wait()

	calls := prov.calls.Load()
	assert.GreaterOrEqual(t, calls, int64(1))
	assert.LessOrEqual(t, calls, int64(5))
	assert.Equal(t, 1, store.Len())
	for _, sess := range results {
		assert.NotNil(t, sess)
	}
}

func TestMemoryStore_SingleFlight(t *testing.T) {
	ctx := context.Background()

	t.Run("should coalesce concurrent provisioning", func(t *testing.T) {
		prov := &countingProvisioner{delay: 50 * time.Millisecond}
		store := NewMemoryStore(prov, WithSingleFlight(true), WithLogger(testLogger()))

		var wg sync.WaitGroup
		ids := make([]string, 8)
		for i := range ids {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sess, err := store.GetOrCreate(ctx, "alice")
				if assert.NoError(t, err) {
					ids[i] = sess.SessionID
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, int64(1), prov.calls.Load())
		for _, id := range ids {
			assert.Equal(t, ids[0], id)
		}
	})

	t.Run("should stop waiting when the caller is cancelled", func(t *testing.T) {
		prov := &countingProvisioner{delay: time.Second}
		store := NewMemoryStore(prov, WithSingleFlight(true), WithLogger(testLogger()))

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := store.GetOrCreate(cctx, "alice")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("should not fail a live caller when the first caller cancels", func(t *testing.T) {
		prov := newGatedProvisioner()
		store := NewMemoryStore(prov, WithSingleFlight(true), WithLogger(testLogger()))

		firstCtx, cancelFirst := context.WithCancel(ctx)
		defer cancelFirst()

		firstErr := make(chan error, 1)
		go func() {
			_, err := store.GetOrCreate(firstCtx, "alice")
			firstErr <- err
		}()
		<-prov.started

		type result struct {
			sess *UserSession
			err  error
		}
		second := make(chan result, 1)
		go func() {
			sess, err := store.GetOrCreate(ctx, "alice")
			second <- result{sess, err}
		}()
		// let the second caller join the in-flight call
		time.Sleep(20 * time.Millisecond)

		cancelFirst()
		assert.ErrorIs(t, <-firstErr, context.Canceled)

		close(prov.release)
		res := <-second
		require.NoError(t, res.err)
		assert.Equal(t, "alice-shared", res.sess.SessionID)
		assert.Equal(t, int64(1), prov.calls.Load())
		assert.Equal(t, 1, store.Len())
	})
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := NewMemoryStore(&countingProvisioner{}, WithClock(clock.Now), WithLogger(testLogger()))

	_, err := store.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	clock.Advance(45 * time.Minute)
	_, err = store.GetOrCreate(ctx, "new")
	require.NoError(t, err)
	clock.Advance(20 * time.Minute)

	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())
}

func TestCleanup_StartStop(t *testing.T) {
	store := NewMemoryStore(&countingProvisioner{}, WithLogger(testLogger()))
	cleanup := NewCleanup(store, 5*time.Millisecond)

	require.NoError(t, cleanup.Start())
	assert.True(t, cleanup.IsRunning())
	assert.Error(t, cleanup.Start())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cleanup.Stop())
	assert.False(t, cleanup.IsRunning())
	assert.Error(t, cleanup.Stop())
}
