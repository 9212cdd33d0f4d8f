package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultSweepInterval is how often the Cleanup drops expired sessions.
const DefaultSweepInterval = 10 * time.Minute

// Sweepable is a store that can drop expired entries in bulk.
type Sweepable interface {
	Sweep() int
}

// Cleanup periodically sweeps expired sessions so idle users do not hold
// memory until their next request. Reads still check expiry on their own.
type Cleanup struct {
	store    Sweepable
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewCleanup creates a cleanup handler for store.
func NewCleanup(store Sweepable, interval time.Duration) *Cleanup {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Cleanup{
		store:    store,
		interval: interval,
	}
}

// Start starts the cleanup loop
func (c *Cleanup) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("cleanup is already running")
	}

	c.running = true
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go c.run(c.stopCh, c.doneCh)

	log.Info().
		Dur("interval", c.interval).
		Msg("Session cleanup started")

	return nil
}

// Stop stops the cleanup loop and waits for it to exit.
func (c *Cleanup) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return fmt.Errorf("cleanup is not running")
	}
	close(c.stopCh)
	done := c.doneCh
	c.running = false
	c.mu.Unlock()

	<-done
	log.Info().Msg("Session cleanup stopped")

	return nil
}

// IsRunning reports whether the loop is active.
func (c *Cleanup) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Cleanup) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.store.Sweep(); n > 0 {
				log.Debug().Int("removed", n).Msg("Swept expired sessions")
			}
		case <-stop:
			return
		}
	}
}
