// Package session orchestrates one checkpoint cycle: back up the live
// store, optionally merge in a peer snapshot, load the active snapshot,
// hand the live store to the external consumer, then reclaim it, save, and
// restore. Session state lives in an explicit struct passed by reference,
// never in process globals.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/aipm/core/filesystem"
	"github.com/adalundhe/aipm/core/handoff"
	"github.com/adalundhe/aipm/core/journal"
	"github.com/adalundhe/aipm/core/merge"
	"github.com/adalundhe/aipm/core/snapshot"
)

var (
	ErrSessionActive   = errors.New("a session is already active")
	ErrNoActiveSession = errors.New("no active session")
)

// Session is the unit of work. One session owns the live store from Begin
// until End returns it to the external consumer's baseline state.
type Session struct {
	ID        string
	Context   string
	StartedAt time.Time

	LivePath     string
	SnapshotPath string
	BackupPath   string

	MergeStats *merge.Stats
	coord      *handoff.Coordinator
}

// BeginOptions selects the snapshot context and the file layout for one
// session. RemotePath, when set, is a peer snapshot already materialized
// locally; Begin merges it into the snapshot before loading.
type BeginOptions struct {
	Context      string
	LivePath     string
	SnapshotPath string
	BackupPath   string
	RemotePath   string
	Policy       merge.Policy
}

type Manager struct {
	snapshots  *snapshot.Manager
	merger     *merge.Engine
	journal    *journal.Journal
	handoffCfg handoff.Config
	logger     *slog.Logger

	current *Session
}

// NewManager wires the session workflow. journal may be nil; journaling is
// best-effort and never fails a session.
func NewManager(snapshots *snapshot.Manager, merger *merge.Engine, jnl *journal.Journal, handoffCfg handoff.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		snapshots:  snapshots,
		merger:     merger,
		journal:    jnl,
		handoffCfg: handoffCfg,
		logger:     logger,
	}
}

func (m *Manager) Current() *Session {
	return m.current
}

// Begin runs backup, optional merge, load, and handoff, in that order.
// Backup always precedes load; load always precedes handoff. On any failure
// after the backup exists, the backup is restored so the live store is left
// exactly as Begin found it.
func (m *Manager) Begin(ctx context.Context, opts BeginOptions) (*Session, error) {
	if m.current != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, m.current.ID)
	}

	s := &Session{
		ID:           uuid.NewString(),
		Context:      opts.Context,
		StartedAt:    time.Now(),
		LivePath:     opts.LivePath,
		SnapshotPath: opts.SnapshotPath,
		BackupPath:   opts.BackupPath,
	}

	m.logger.Info("session starting", "session", s.ID, "context", s.Context)

	if err := m.snapshots.Backup(s.ID, s.LivePath, s.BackupPath); err != nil {
		return nil, fmt.Errorf("backup live store: %w", err)
	}

	if opts.RemotePath != "" {
		if err := m.mergeRemote(ctx, s, opts.RemotePath, opts.Policy); err != nil {
			m.rollback(s)
			return nil, err
		}
	}

	if err := m.loadSnapshot(s); err != nil {
		m.rollback(s)
		return nil, err
	}

	s.coord = handoff.NewCoordinator(s.LivePath, m.handoffCfg, m.logger)
	if err := s.coord.Prepare(); err != nil {
		m.rollback(s)
		return nil, fmt.Errorf("prepare handoff: %w", err)
	}

	m.recordEvent(ctx, func() error { return m.journal.SessionStarted(ctx, s.ID, s.Context) })
	m.current = s
	return s, nil
}

// mergeRemote combines the active snapshot with a peer snapshot, writing the
// result back over the snapshot path. The merge engine validates its output
// before the snapshot is replaced, so a failed merge leaves the snapshot
// untouched and nothing is ever loaded speculatively.
func (m *Manager) mergeRemote(ctx context.Context, s *Session, remotePath string, policy merge.Policy) error {
	if err := m.ensureSnapshot(s.SnapshotPath); err != nil {
		return err
	}

	stats, err := m.merger.MergeFiles(s.SnapshotPath, remotePath, s.SnapshotPath, policy)
	if err != nil {
		return fmt.Errorf("merge remote snapshot: %w", err)
	}
	s.MergeStats = stats

	m.recordEvent(ctx, func() error {
		return m.journal.MergeCompleted(ctx, journal.MergeRecord{
			SessionID:        s.ID,
			Policy:           string(policy),
			Entities:         stats.Entities,
			Relations:        stats.Relations,
			Conflicts:        stats.Conflicts,
			DroppedRelations: stats.DroppedRelations,
		})
	})
	return nil
}

// loadSnapshot loads the active snapshot into the live store. A missing
// snapshot means a first session for this context: the live store keeps
// whatever state the backup captured.
func (m *Manager) loadSnapshot(s *Session) error {
	if _, err := os.Stat(s.SnapshotPath); os.IsNotExist(err) {
		m.logger.Info("no snapshot for context yet, keeping live store", "context", s.Context)
		return nil
	}
	if err := m.snapshots.Load(s.ID, s.SnapshotPath, s.LivePath); err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	return nil
}

func (m *Manager) ensureSnapshot(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return filesystem.ReplaceFile(path, []byte("{}\n"))
	} else if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	return nil
}

// rollback restores the backup after a failed Begin. The backup is kept on
// disk if even the restore fails, and named as the recovery artifact.
func (m *Manager) rollback(s *Session) {
	if err := m.snapshots.Restore(s.ID, s.BackupPath, s.LivePath, true); err != nil {
		m.logger.Error("rollback after failed session start",
			"session", s.ID, "backup", s.BackupPath, "error", err)
	}
}

// End reclaims the live store, saves it back to the snapshot, and restores
// the pre-session backup. A release timeout is non-fatal: the session
// proceeds with a warning, matching the consumer's lock-free contract.
func (m *Manager) End(ctx context.Context) error {
	s := m.current
	if s == nil {
		return ErrNoActiveSession
	}

	if err := s.coord.AwaitRelease(ctx); err != nil {
		if !errors.Is(err, handoff.ErrTimeout) {
			return fmt.Errorf("await release: %w", err)
		}
		m.logger.Warn("consumer did not release in time, proceeding", "session", s.ID)
		m.recordEvent(ctx, func() error {
			return m.journal.Event(ctx, s.ID, "handoff_timeout", s.LivePath)
		})
	}

	status := "completed"
	err := m.finish(s)
	if err != nil {
		status = "failed"
	}

	m.recordEvent(ctx, func() error { return m.journal.SessionEnded(ctx, s.ID, status) })
	m.current = nil
	return err
}

// finish runs save then restore. Save always precedes restore so a crash
// between the two leaves the checkpoint on disk and the backup retained.
// Any failure here leaves the backup in place, so the error names it as the
// recovery artifact.
func (m *Manager) finish(s *Session) error {
	if err := m.snapshots.Save(s.ID, s.LivePath, s.SnapshotPath); err != nil {
		return fmt.Errorf("save snapshot (backup retained at %s): %w", s.BackupPath, err)
	}
	if err := m.snapshots.Restore(s.ID, s.BackupPath, s.LivePath, true); err != nil {
		return err
	}
	if err := s.coord.Reset(); err != nil {
		m.logger.Warn("coordinator reset failed", "session", s.ID, "error", err)
	}
	return nil
}

// recordEvent runs a journal write, logging instead of failing when the
// journal is unavailable.
func (m *Manager) recordEvent(_ context.Context, fn func() error) {
	if m.journal == nil {
		return
	}
	if err := fn(); err != nil {
		m.logger.Warn("journal write failed", "error", err)
	}
}
