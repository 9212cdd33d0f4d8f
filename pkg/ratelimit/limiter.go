package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harun/toolgate/internal/observability"
)

const (
	// DefaultLimit is the number of admissions allowed per user per window.
	DefaultLimit = 50
	// DefaultWindow is the length of the sliding window.
	DefaultWindow = 60 * time.Second
	// DefaultJanitorSchedule is how often idle windows are dropped.
	DefaultJanitorSchedule = "@every 5m"
)

// Limiter admits or rejects requests for a user.
type Limiter interface {
	Admit(ctx context.Context, userID string) bool
	RetryAfter(ctx context.Context, userID string) time.Duration
}

// userWindow holds admission timestamps for one user, oldest first.
type userWindow struct {
	mu       sync.Mutex
	requests []time.Time
	// removed is set by the janitor once the window is no longer in the map.
	removed bool
}

// trim drops timestamps at or before cutoff. Caller holds w.mu.
func (w *userWindow) trim(cutoff time.Time) {
	i := 0
	for i < len(w.requests) && !w.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}
}

// SlidingWindow is an in-memory per-user sliding-window limiter.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	windows map[string]*userWindow

	cronMu  sync.Mutex
	janitor *cron.Cron
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithLimits overrides the admission limit and window length.
func WithLimits(limit int, window time.Duration) Option {
	return func(s *SlidingWindow) {
		if limit > 0 {
			s.limit = limit
		}
		if window > 0 {
			s.window = window
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) {
		s.now = now
	}
}

// WithLogger sets the logger used by the janitor.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *SlidingWindow) {
		s.logger = logger
	}
}

// NewSlidingWindow creates a limiter with DefaultLimit and DefaultWindow
// unless overridden.
func NewSlidingWindow(opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		limit:   DefaultLimit,
		window:  DefaultWindow,
		now:     time.Now,
		logger:  log.Logger,
		windows: make(map[string]*userWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// lookup returns the user's window, creating it if needed. The map lock is
// released before the caller takes the window lock.
func (s *SlidingWindow) lookup(userID string) *userWindow {
	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	if ok {
		return w
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok = s.windows[userID]; ok {
		return w
	}
	w = &userWindow{}
	s.windows[userID] = w
	return w
}

// Admit reports whether userID may make a request now, recording it if so.
func (s *SlidingWindow) Admit(_ context.Context, userID string) bool {
	for {
		w := s.lookup(userID)

		w.mu.Lock()
		if w.removed {
			w.mu.Unlock()
			continue
		}

		now := s.now()
		w.trim(now.Add(-s.window))

		if len(w.requests) >= s.limit {
			w.mu.Unlock()
			observability.RecordRateLimitRejection()
			return false
		}

		w.requests = append(w.requests, now)
		w.mu.Unlock()
		return true
	}
}

// RetryAfter returns how long until userID's oldest admission leaves the
// window. It is zero when the user is under the limit.
func (s *SlidingWindow) RetryAfter(_ context.Context, userID string) time.Duration {
	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := s.now()
	w.trim(now.Add(-s.window))
	if len(w.requests) < s.limit {
		return 0
	}

	wait := w.requests[0].Add(s.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Usage returns how many admissions userID has in the current window and the
// configured limit.
func (s *SlidingWindow) Usage(userID string) (used, limit int) {
	s.mu.RLock()
	w, ok := s.windows[userID]
	s.mu.RUnlock()
	if !ok {
		return 0, s.limit
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(s.now().Add(-s.window))
	return len(w.requests), s.limit
}

// Prune drops windows with no admissions inside the current window and
// returns how many were removed. It never changes admission results.
func (s *SlidingWindow) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	removed := 0
	for userID, w := range s.windows {
		w.mu.Lock()
		w.trim(cutoff)
		if len(w.requests) == 0 {
			w.removed = true
			delete(s.windows, userID)
			removed++
		}
		w.mu.Unlock()
	}

	observability.SetRateLimitWindows(len(s.windows))
	return removed
}

// StartJanitor schedules Prune using a cron spec such as "@every 5m".
func (s *SlidingWindow) StartJanitor(schedule string) error {
	s.cronMu.Lock()
	defer s.cronMu.Unlock()

	if s.janitor != nil {
		return nil
	}
	if schedule == "" {
		schedule = DefaultJanitorSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		if n := s.Prune(); n > 0 {
			s.logger.Debug().Int("removed", n).Msg("Pruned idle rate windows")
		}
	}); err != nil {
		return err
	}
	c.Start()
	s.janitor = c
	return nil
}

// Stop stops the janitor, waiting for a running prune to finish.
func (s *SlidingWindow) Stop() {
	s.cronMu.Lock()
	c := s.janitor
	s.janitor = nil
	s.cronMu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}
