// Package snapshot implements the four state transitions every session
// workflow is built from: backup, restore, load, save. All file mutation
// goes through the atomic filesystem layer; every promotion of bytes into a
// snapshot or the live store is validated first.
package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/aipm/core/filesystem"
	"github.com/adalundhe/aipm/core/validate"
)

var ErrRestoreFailed = errors.New("restore failed")

// placeholder is the schema-valid empty store written when a source file is
// absent. Matches what the external consumer writes before initialization.
const placeholder = "{}\n"

type Config struct {
	// CacheSize bounds the validation-report cache. Reports are keyed by
	// (path, size, mtime) so any rewrite naturally misses.
	CacheSize int
}

func DefaultConfig() Config {
	return Config{CacheSize: 64}
}

type Manager struct {
	fs        *filesystem.Manager
	validator *validate.Validator
	reports   *lru.Cache[string, *validate.Report]
	logger    *slog.Logger
}

func NewManager(fs *filesystem.Manager, validator *validate.Validator, config Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultConfig().CacheSize
	}

	reports, err := lru.New[string, *validate.Report](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create report cache: %w", err)
	}

	return &Manager{
		fs:        fs,
		validator: validator,
		reports:   reports,
		logger:    logger,
	}, nil
}

// Backup copies the live store to backupPath before a session touches it.
// An absent live store is a legitimate initial state: it backs up as the
// empty placeholder rather than failing. An existing zero-byte live store
// copies verbatim so restore reproduces the exact original bytes.
func (m *Manager) Backup(sessionID, livePath, backupPath string) error {
	info, err := os.Stat(livePath)
	if os.IsNotExist(err) {
		m.logger.Info("live store absent, backing up placeholder", "live", livePath)
		return m.fs.Replace(sessionID, backupPath, []byte(placeholder))
	}
	if err != nil {
		return fmt.Errorf("stat live store: %w", err)
	}
	if info.Size() == 0 {
		return m.fs.Copy(sessionID, livePath, backupPath)
	}

	report, err := m.validateCached(livePath)
	if err != nil {
		return err
	}
	if !report.IsValid() {
		return fmt.Errorf("live store invalid before backup: %w", report.Err())
	}

	return m.fs.Copy(sessionID, livePath, backupPath)
}

// Restore copies backupPath back onto the live store. The backup is deleted
// only after the copy succeeds, and never when the restore fails: a retained
// backup is the recovery artifact and its path is named in the error.
func (m *Manager) Restore(sessionID, backupPath, livePath string, deleteBackup bool) error {
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("%w: backup missing at %s: %v", ErrRestoreFailed, backupPath, err)
	}

	if err := m.fs.Copy(sessionID, backupPath, livePath); err != nil {
		return fmt.Errorf("%w: backup retained at %s: %v", ErrRestoreFailed, backupPath, err)
	}

	if deleteBackup {
		if err := m.fs.Delete(sessionID, backupPath); err != nil {
			// The restore itself succeeded; a leftover backup is noise,
			// not a failure.
			m.logger.Warn("backup cleanup failed", "backup", backupPath, "error", err)
		}
	}
	return nil
}

// Load places a snapshot into the live store. The snapshot is validated
// first; on any finding the live store is not touched.
func (m *Manager) Load(sessionID, snapshotPath, livePath string) error {
	report, err := m.validateCached(snapshotPath)
	if err != nil {
		return err
	}
	if !report.IsValid() {
		return fmt.Errorf("snapshot %s rejected: %w", snapshotPath, report.Err())
	}

	m.logger.Info("loading snapshot",
		"snapshot", snapshotPath,
		"entities", report.EntityCount,
		"relations", report.RelationCount)
	return m.fs.Copy(sessionID, snapshotPath, livePath)
}

// Save checkpoints the live store into a snapshot. An absent live store
// saves as the empty placeholder with a warning. The copy is re-validated
// in place and rolled back (removed) if the written snapshot fails checks.
func (m *Manager) Save(sessionID, livePath, snapshotPath string) error {
	if _, err := os.Stat(livePath); os.IsNotExist(err) {
		m.logger.Warn("live store absent at save, writing placeholder", "live", livePath)
		return m.fs.Replace(sessionID, snapshotPath, []byte(placeholder))
	}

	if err := m.fs.Copy(sessionID, livePath, snapshotPath); err != nil {
		return err
	}

	report, err := m.validateCached(snapshotPath)
	if err != nil {
		return err
	}
	if !report.IsValid() {
		if rmErr := m.fs.Delete(sessionID, snapshotPath); rmErr != nil {
			m.logger.Warn("rollback of invalid snapshot failed", "snapshot", snapshotPath, "error", rmErr)
		}
		return fmt.Errorf("saved snapshot failed validation, rolled back: %w", report.Err())
	}
	return nil
}

// Validate exposes the cached validation pass for callers outside the four
// primitives (CLI, merge promotion checks).
func (m *Manager) Validate(path string) (*validate.Report, error) {
	return m.validateCached(path)
}

func (m *Manager) validateCached(path string) (*validate.Report, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat store: %w", err)
	}

	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if report, ok := m.reports.Get(key); ok {
		return report, nil
	}

	report, err := m.validator.ValidateFile(path)
	if err != nil {
		return nil, err
	}
	m.reports.Add(key, report)
	return report, nil
}
