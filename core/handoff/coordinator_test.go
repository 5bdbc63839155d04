package handoff

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validLine = `{"type":"entity","name":"AIPM_A","entityType":"note","observations":[]}` + "\n"

func fastConfig() Config {
	return Config{
		SettleDelay:    1 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
		ReleaseTimeout: 250 * time.Millisecond,
	}
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateIdle, StatePreparing, true},
		{StatePreparing, StateHandedOff, true},
		{StateHandedOff, StateAwaitingReturn, true},
		{StateAwaitingReturn, StateReclaimed, true},
		{StateReclaimed, StateIdle, true},
		{StateIdle, StateHandedOff, false},
		{StateReclaimed, StateHandedOff, false},
		{StateHandedOff, StateHandedOff, false},
		{StateAwaitingReturn, StateHandedOff, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestHandoffCycle(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "live.json")
	if err := os.WriteFile(live, []byte(validLine), 0644); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	c := NewCoordinator(live, fastConfig(), nil)

	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if c.State() != StateHandedOff {
		t.Fatalf("state after Prepare: %s", c.State())
	}

	if err := c.AwaitRelease(context.Background()); err != nil {
		t.Fatalf("AwaitRelease failed: %v", err)
	}
	if c.State() != StateReclaimed {
		t.Fatalf("state after AwaitRelease: %s", c.State())
	}

	if err := c.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state after Reset: %s", c.State())
	}
}

func TestAwaitReleaseTimeout(t *testing.T) {
	tmpDir := t.TempDir()
	// Live store never appears.
	live := filepath.Join(tmpDir, "missing.json")

	c := NewCoordinator(live, fastConfig(), nil)

	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	err := c.AwaitRelease(context.Background())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// Non-fatal: the session still reclaims the window.
	if c.State() != StateReclaimed {
		t.Errorf("state after timeout: %s, want reclaimed", c.State())
	}
}

func TestAwaitReleaseCorruptStoreKeepsWaiting(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "live.json")
	if err := os.WriteFile(live, []byte("garbage\n"), 0644); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	c := NewCoordinator(live, fastConfig(), nil)
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// The probe requires a decodable first record, so this times out.
	if err := c.AwaitRelease(context.Background()); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestAwaitReleaseRecoversWhenStoreAppears(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "live.json")

	config := fastConfig()
	config.ReleaseTimeout = 2 * time.Second

	c := NewCoordinator(live, config, nil)
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(live, []byte(validLine), 0644)
	}()

	if err := c.AwaitRelease(context.Background()); err != nil {
		t.Fatalf("AwaitRelease should succeed once the store appears: %v", err)
	}
}

func TestNoReentrantHandoff(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "live.json")
	if err := os.WriteFile(live, []byte(validLine), 0644); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	c := NewCoordinator(live, fastConfig(), nil)
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// Second Prepare without passing through Reclaimed and Reset.
	if err := c.Prepare(); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-entrant Prepare should fail, got %v", err)
	}
}

func TestResumeCoordinator(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "live.json")
	if err := os.WriteFile(live, []byte(validLine), 0644); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	c, err := ResumeCoordinator(live, StateHandedOff, fastConfig(), nil)
	if err != nil {
		t.Fatalf("ResumeCoordinator failed: %v", err)
	}
	if err := c.AwaitRelease(context.Background()); err != nil {
		t.Fatalf("AwaitRelease after resume: %v", err)
	}

	if _, err := ResumeCoordinator(live, StateAwaitingReturn, fastConfig(), nil); err == nil {
		t.Error("resuming mid-poll state should fail")
	}
}

func TestAwaitReleaseContextCancel(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "missing.json")

	config := fastConfig()
	config.ReleaseTimeout = 10 * time.Second

	c := NewCoordinator(live, config, nil)
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := c.AwaitRelease(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if c.State() != StateReclaimed {
		t.Errorf("state after cancel: %s, want reclaimed", c.State())
	}
}

func TestActivityWatcher(t *testing.T) {
	tmpDir := t.TempDir()
	live := filepath.Join(tmpDir, "live.json")
	if err := os.WriteFile(live, []byte(validLine), 0644); err != nil {
		t.Fatalf("seed live: %v", err)
	}

	config := fastConfig()
	config.WatchActivity = true
	config.ReleaseTimeout = 2 * time.Second

	c := NewCoordinator(live, config, nil)
	if err := c.Prepare(); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// Simulate a consumer write during the handoff window.
	if err := os.WriteFile(live, []byte(validLine+validLine), 0644); err != nil {
		t.Fatalf("consumer write: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := c.AwaitRelease(context.Background()); err != nil {
		t.Fatalf("AwaitRelease failed: %v", err)
	}

	if c.LastActivity().IsZero() {
		t.Error("activity watcher should have observed the consumer write")
	}
}
