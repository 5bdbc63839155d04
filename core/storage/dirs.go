// Package storage provides platform-native directory resolution with XDG support.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Dirs provides platform-native directory resolution with XDG support.
type Dirs struct {
	Config string // User configuration (settings, naming policies)
	Data   string // Persistent data (session journal, retained backups)
	Cache  string // Regenerable cache (validation reports)
	State  string // Runtime state (logs, live-store backups in flight)
}

// ProjectDirs returns project-local directories.
type ProjectDirs struct {
	Root   string // .aipm/
	Config string // .aipm/config.yaml (committed)
	Memory string // .aipm/memory/ (committed snapshots)
	Local  string // .aipm/local/ (gitignored)
}

var (
	globalDirs     *Dirs
	globalDirsOnce sync.Once
	globalDirsErr  error
)

// ResolveDirs returns platform-appropriate directories.
// Results are cached after first call.
func ResolveDirs() (*Dirs, error) {
	globalDirsOnce.Do(func() {
		globalDirs, globalDirsErr = resolveDirsImpl()
	})
	return globalDirs, globalDirsErr
}

func resolveDirsImpl() (*Dirs, error) {
	dirs := &Dirs{
		Config: resolveDir("XDG_CONFIG_HOME", platformConfigDefault()),
		Data:   resolveDir("XDG_DATA_HOME", platformDataDefault()),
		Cache:  resolveDir("XDG_CACHE_HOME", platformCacheDefault()),
		State:  resolveDir("XDG_STATE_HOME", platformStateDefault()),
	}
	return dirs, nil
}

func resolveDir(envVar, fallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return filepath.Join(dir, "aipm")
	}
	return fallback
}

// BackupDir returns the directory holding live-store backups for a context.
func (d *Dirs) BackupDir(context string) string {
	if context == "" {
		return filepath.Join(d.State, "backups")
	}
	return filepath.Join(d.State, "backups", context)
}

// JournalPath returns the session journal database path.
func (d *Dirs) JournalPath() string {
	return filepath.Join(d.Data, "journal.db")
}

// ResolveProjectDirs returns project-local directories for the given project root.
func ResolveProjectDirs(projectRoot string) *ProjectDirs {
	aipmDir := filepath.Join(projectRoot, ".aipm")
	return &ProjectDirs{
		Root:   aipmDir,
		Config: filepath.Join(aipmDir, "config.yaml"),
		Memory: filepath.Join(aipmDir, "memory"),
		Local:  filepath.Join(aipmDir, "local"),
	}
}

// SnapshotPath returns the snapshot file path for a context name.
// The singular framework context and named project contexts share one
// naming convention so git history stays flat.
func (p *ProjectDirs) SnapshotPath(context string) string {
	return filepath.Join(p.Memory, fmt.Sprintf("memory-%s.json", context))
}

// EnsureDir creates a directory with the specified permissions if it doesn't exist.
// Uses 0700 for sensitive directories by default.
func EnsureDir(path string, perm os.FileMode) error {
	if perm == 0 {
		perm = 0700
	}
	return os.MkdirAll(path, perm)
}

// EnsureStandardDir creates a directory with standard permissions (0755).
func EnsureStandardDir(path string) error {
	return EnsureDir(path, 0755)
}

// PathNotAllowedError indicates a cleanup path fell outside allowed boundaries.
type PathNotAllowedError struct {
	Path string
}

func (e *PathNotAllowedError) Error() string {
	return fmt.Sprintf("path not allowed: %s", e.Path)
}

// CleanupDir removes a directory after validating it's within expected boundaries.
func CleanupDir(path string, allowedPrefixes []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	allowed := false
	for _, prefix := range allowedPrefixes {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		if len(absPath) >= len(absPrefix) && absPath[:len(absPrefix)] == absPrefix {
			allowed = true
			break
		}
	}

	if !allowed {
		return &PathNotAllowedError{Path: absPath}
	}

	return os.RemoveAll(path)
}

// resetGlobalDirs is used by tests to clear the cached resolution.
func resetGlobalDirs() {
	globalDirsOnce = sync.Once{}
	globalDirs = nil
	globalDirsErr = nil
}
