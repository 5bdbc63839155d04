package filesystem

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	ErrPathTraversal     = errors.New("path traversal detected")
	ErrSymlinkNotAllowed = errors.New("symlink target outside boundary")
	ErrOutsideBoundary   = errors.New("path outside allowed boundary")
	ErrOperationDenied   = errors.New("operation denied by policy")
)

type OperationType string

const (
	OpRead    OperationType = "read"
	OpReplace OperationType = "replace"
	OpCopy    OperationType = "copy"
	OpDelete  OperationType = "delete"
)

type AuditEntry struct {
	Timestamp    time.Time
	SessionID    string
	Operation    OperationType
	Path         string
	ResolvedPath string
	Success      bool
	Error        string
}

type AuditLogger interface {
	Log(entry AuditEntry)
}

type NoOpAuditLogger struct{}

func (n *NoOpAuditLogger) Log(_ AuditEntry) {}

// SlogAuditLogger writes audit entries through a structured logger.
type SlogAuditLogger struct {
	logger *slog.Logger
}

func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger}
}

func (l *SlogAuditLogger) Log(entry AuditEntry) {
	attrs := []any{
		"session", entry.SessionID,
		"op", string(entry.Operation),
		"path", entry.Path,
	}
	if entry.Success {
		l.logger.Debug("file operation", attrs...)
		return
	}
	l.logger.Warn("file operation failed", append(attrs, "error", entry.Error)...)
}

// Config restricts which paths the manager will touch. Roots cover the live
// store directory, the project memory directory, and the backup directory;
// everything else is denied.
type Config struct {
	AllowedRoots  []string
	AllowSymlinks bool
	MaxFileSize   int64
	AuditLogger   AuditLogger
}

func DefaultConfig(roots ...string) Config {
	return Config{
		AllowedRoots:  roots,
		AllowSymlinks: false,
		MaxFileSize:   100 * 1024 * 1024,
		AuditLogger:   &NoOpAuditLogger{},
	}
}

// Manager performs file operations inside configured root boundaries,
// auditing every access. All mutation goes through the atomic primitives.
type Manager struct {
	mu            sync.RWMutex
	config        Config
	resolvedRoots []string
}

func NewManager(config Config) (*Manager, error) {
	resolved, err := resolveRoots(config.AllowedRoots)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:        config,
		resolvedRoots: resolved,
	}, nil
}

func resolveRoots(roots []string) ([]string, error) {
	resolved := make([]string, 0, len(roots))
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, filepath.Clean(abs))
	}
	return resolved, nil
}

func (m *Manager) ValidatePath(sessionID, path string) (string, error) {
	resolved, err := m.resolvePath(path)
	if err != nil {
		m.audit(sessionID, OpRead, path, "", false, err.Error())
		return "", err
	}

	if err := m.checkBoundary(resolved); err != nil {
		m.audit(sessionID, OpRead, path, resolved, false, err.Error())
		return "", err
	}

	if err := m.checkSymlink(resolved); err != nil {
		m.audit(sessionID, OpRead, path, resolved, false, err.Error())
		return "", err
	}

	return resolved, nil
}

func (m *Manager) resolvePath(path string) (string, error) {
	if containsTraversal(path) {
		return "", ErrPathTraversal
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func containsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}

func (m *Manager) checkBoundary(resolved string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, root := range m.resolvedRoots {
		if isWithinRoot(resolved, root) {
			return nil
		}
	}
	return ErrOutsideBoundary
}

func isWithinRoot(path, root string) bool {
	return strings.HasPrefix(path, root+string(filepath.Separator)) || path == root
}

func (m *Manager) checkSymlink(path string) error {
	if m.config.AllowSymlinks {
		return nil
	}

	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := filepath.EvalSymlinks(path)
		if err != nil {
			return err
		}
		if err := m.checkBoundary(target); err != nil {
			return ErrSymlinkNotAllowed
		}
	}
	return nil
}

func (m *Manager) Read(sessionID, path string) ([]byte, error) {
	resolved, err := m.ValidatePath(sessionID, path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		m.audit(sessionID, OpRead, path, resolved, false, err.Error())
		return nil, err
	}

	m.audit(sessionID, OpRead, path, resolved, true, "")
	return data, nil
}

// Replace atomically replaces path with content.
func (m *Manager) Replace(sessionID, path string, content []byte) error {
	if int64(len(content)) > m.config.MaxFileSize {
		m.audit(sessionID, OpReplace, path, "", false, "file size exceeds limit")
		return ErrOperationDenied
	}

	resolved, err := m.ValidatePath(sessionID, path)
	if err != nil {
		return err
	}

	if err := ReplaceFile(resolved, content); err != nil {
		m.audit(sessionID, OpReplace, path, resolved, false, err.Error())
		return err
	}

	m.audit(sessionID, OpReplace, path, resolved, true, "")
	return nil
}

// Copy atomically copies src onto dst. Both ends must resolve inside the
// allowed roots, and the source is held to the same size limit as Replace.
func (m *Manager) Copy(sessionID, src, dst string) error {
	srcResolved, err := m.ValidatePath(sessionID, src)
	if err != nil {
		return err
	}

	dstResolved, err := m.ValidatePath(sessionID, dst)
	if err != nil {
		return err
	}

	info, err := os.Stat(srcResolved)
	if err != nil {
		m.audit(sessionID, OpCopy, src, srcResolved, false, err.Error())
		return err
	}
	if info.Size() > m.config.MaxFileSize {
		m.audit(sessionID, OpCopy, src, srcResolved, false, "file size exceeds limit")
		return ErrOperationDenied
	}

	if err := CopyFile(srcResolved, dstResolved); err != nil {
		m.audit(sessionID, OpCopy, dst, dstResolved, false, err.Error())
		return err
	}

	m.audit(sessionID, OpCopy, dst, dstResolved, true, "")
	return nil
}

func (m *Manager) Delete(sessionID, path string) error {
	resolved, err := m.ValidatePath(sessionID, path)
	if err != nil {
		return err
	}

	if err := os.Remove(resolved); err != nil {
		m.audit(sessionID, OpDelete, path, resolved, false, err.Error())
		return err
	}

	m.audit(sessionID, OpDelete, path, resolved, true, "")
	return nil
}

func (m *Manager) Exists(sessionID, path string) (bool, error) {
	resolved, err := m.ValidatePath(sessionID, path)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(resolved)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) AddRoot(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.resolvedRoots = append(m.resolvedRoots, filepath.Clean(abs))
	m.config.AllowedRoots = append(m.config.AllowedRoots, root)
	return nil
}

func (m *Manager) Roots() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roots := make([]string, len(m.resolvedRoots))
	copy(roots, m.resolvedRoots)
	return roots
}

func (m *Manager) audit(sessionID string, op OperationType, path, resolved string, success bool, errMsg string) {
	m.mu.RLock()
	logger := m.config.AuditLogger
	m.mu.RUnlock()

	if logger == nil {
		return
	}

	logger.Log(AuditEntry{
		Timestamp:    time.Now(),
		SessionID:    sessionID,
		Operation:    op,
		Path:         path,
		ResolvedPath: resolved,
		Success:      success,
		Error:        errMsg,
	})
}
