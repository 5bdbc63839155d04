// Package handoff sequences this process's access to the live store with the
// external consumer process. The live store is never locked: the consumer
// cannot be required to respect one, so safety comes from atomic replacement
// plus the access-window discipline implemented here.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adalundhe/aipm/core/store"
)

// ErrTimeout is non-fatal: callers log it and proceed. The state machine
// still reaches Reclaimed when it is returned.
var ErrTimeout = errors.New("timed out waiting for live store release")

type Config struct {
	// SettleDelay runs after the durability flush in Prepare, giving the
	// filesystem time to make the just-written live store visible to the
	// consumer's first read.
	SettleDelay time.Duration

	// PollInterval paces the release probe. Polling is deliberate: there
	// is no IPC surface to wait on.
	PollInterval time.Duration

	// ReleaseTimeout bounds AwaitRelease before ErrTimeout.
	ReleaseTimeout time.Duration

	// WatchActivity observes consumer writes to the live store during the
	// handoff window via fsnotify. Observational only.
	WatchActivity bool
}

func DefaultConfig() Config {
	return Config{
		SettleDelay:    500 * time.Millisecond,
		PollInterval:   1 * time.Second,
		ReleaseTimeout: 30 * time.Second,
		WatchActivity:  false,
	}
}

// Coordinator drives one handoff cycle per session.
type Coordinator struct {
	livePath string
	config   Config
	logger   *slog.Logger

	mu           sync.Mutex
	state        State
	lastActivity time.Time

	watcher     *fsnotify.Watcher
	watcherDone chan struct{}
}

func NewCoordinator(livePath string, config Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.ReleaseTimeout <= 0 {
		config.ReleaseTimeout = DefaultConfig().ReleaseTimeout
	}

	return &Coordinator{
		livePath: livePath,
		config:   config,
		logger:   logger,
		state:    StateIdle,
	}
}

// ResumeCoordinator reconstructs a coordinator mid-cycle, for callers that
// persisted session state across process invocations. The state must be one
// the coordinator can actually be left in between operations.
func ResumeCoordinator(livePath string, state State, config Config, logger *slog.Logger) (*Coordinator, error) {
	switch state {
	case StateIdle, StateHandedOff, StateReclaimed:
	default:
		return nil, fmt.Errorf("%w: cannot resume in %s", ErrInvalidTransition, state)
	}

	c := NewCoordinator(livePath, config, logger)
	c.state = state
	return c, nil
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns the most recent consumer write observed by the
// activity watcher, zero if none was seen or watching is disabled.
func (c *Coordinator) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

func (c *Coordinator) transition(target State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, target)
	}
	c.state = target
	return nil
}

// Prepare flushes the live store to durable storage and waits the settle
// delay, then hands the access window to the external consumer.
func (c *Coordinator) Prepare() error {
	if err := c.transition(StatePreparing); err != nil {
		return err
	}

	if err := c.flushLive(); err != nil {
		// Roll back so the session can retry or abort cleanly.
		_ = c.transition(StateIdle)
		return err
	}

	if c.config.WatchActivity {
		c.startWatcher()
	}

	if c.config.SettleDelay > 0 {
		time.Sleep(c.config.SettleDelay)
	}

	if err := c.transition(StateHandedOff); err != nil {
		return err
	}
	c.logger.Info("live store handed off", "live", c.livePath)
	return nil
}

// flushLive syncs the live file if it exists. An absent live store is a
// legitimate initial state and flushes as a no-op.
func (c *Coordinator) flushLive() error {
	f, err := os.Open(c.livePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open live store: %w", err)
	}
	defer f.Close()

	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync live store: %w", err)
	}
	return nil
}

// AwaitRelease polls until the live store is readable, writable, and its
// first record decodes, or until the timeout. Timeout and context
// cancellation still advance the state machine to Reclaimed; ErrTimeout is
// the one error callers are expected to proceed past.
func (c *Coordinator) AwaitRelease(ctx context.Context) error {
	if err := c.transition(StateAwaitingReturn); err != nil {
		return err
	}
	defer c.stopWatcher()

	deadline := time.Now().Add(c.config.ReleaseTimeout)
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		if c.probeLive() {
			if err := c.transition(StateReclaimed); err != nil {
				return err
			}
			c.logger.Info("live store reclaimed", "live", c.livePath)
			return nil
		}

		if time.Now().After(deadline) {
			if err := c.transition(StateReclaimed); err != nil {
				return err
			}
			c.logger.Warn("release wait timed out, proceeding", "live", c.livePath)
			return ErrTimeout
		}

		select {
		case <-ctx.Done():
			if err := c.transition(StateReclaimed); err != nil {
				return err
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// probeLive is the trial access: open read-write and decode one record.
func (c *Coordinator) probeLive() bool {
	f, err := os.OpenFile(c.livePath, os.O_RDWR, 0)
	if err != nil {
		return false
	}
	f.Close()

	return store.ProbeFirstRecord(c.livePath) == nil
}

// Reset returns a reclaimed coordinator to Idle for the next session.
func (c *Coordinator) Reset() error {
	return c.transition(StateIdle)
}

func (c *Coordinator) startWatcher() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("activity watcher unavailable", "error", err)
		return
	}
	if err := watcher.Add(c.livePath); err != nil {
		c.logger.Warn("activity watcher unavailable", "live", c.livePath, "error", err)
		watcher.Close()
		return
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.watcher = watcher
	c.watcherDone = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					c.mu.Lock()
					c.lastActivity = time.Now()
					c.mu.Unlock()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

func (c *Coordinator) stopWatcher() {
	c.mu.Lock()
	watcher := c.watcher
	done := c.watcherDone
	c.watcher = nil
	c.watcherDone = nil
	c.mu.Unlock()

	if watcher == nil {
		return
	}
	watcher.Close()
	<-done
}
