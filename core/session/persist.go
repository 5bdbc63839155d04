package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/aipm/core/filesystem"
	"github.com/adalundhe/aipm/core/handoff"
)

// persistedSession is the on-disk form of an in-flight session, written so a
// separate process invocation can finish what another one started.
type persistedSession struct {
	ID           string    `yaml:"id"`
	Context      string    `yaml:"context"`
	StartedAt    time.Time `yaml:"started_at"`
	LivePath     string    `yaml:"live_path"`
	SnapshotPath string    `yaml:"snapshot_path"`
	BackupPath   string    `yaml:"backup_path"`
	HandoffState string    `yaml:"handoff_state"`
}

// SaveState checkpoints the active session to path. Call after Begin so a
// later invocation can Resume and End it.
func (m *Manager) SaveState(path string) error {
	s := m.current
	if s == nil {
		return ErrNoActiveSession
	}

	data, err := yaml.Marshal(&persistedSession{
		ID:           s.ID,
		Context:      s.Context,
		StartedAt:    s.StartedAt,
		LivePath:     s.LivePath,
		SnapshotPath: s.SnapshotPath,
		BackupPath:   s.BackupPath,
		HandoffState: s.coord.State().String(),
	})
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	return filesystem.ReplaceFile(path, data)
}

// Resume rebuilds the active session from a state file written by SaveState.
func (m *Manager) Resume(path string) (*Session, error) {
	if m.current != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, m.current.ID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var p persistedSession
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse session state: %w", err)
	}

	state, err := handoff.ParseState(p.HandoffState)
	if err != nil {
		return nil, err
	}
	coord, err := handoff.ResumeCoordinator(p.LivePath, state, m.handoffCfg, m.logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:           p.ID,
		Context:      p.Context,
		StartedAt:    p.StartedAt,
		LivePath:     p.LivePath,
		SnapshotPath: p.SnapshotPath,
		BackupPath:   p.BackupPath,
		coord:        coord,
	}
	m.current = s
	return s, nil
}

// ClearState removes a session state file. Missing files are fine; End may
// race a manual cleanup.
func ClearState(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
