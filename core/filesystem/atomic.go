// Package filesystem provides the atomic file primitives and the
// boundary-checked manager the snapshot layer is built on. No operation here
// takes a file lock; the rename-based replace is the safety primitive that
// stands in for locking everywhere else.
package filesystem

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// tempPath returns a unique temp path in the same directory as target.
// Same directory means same filesystem, which keeps the rename atomic.
// The pid+uuid suffix tolerates concurrent invocations against one target.
func tempPath(target string) string {
	return filepath.Join(
		filepath.Dir(target),
		fmt.Sprintf(".%s.tmp-%d-%s", filepath.Base(target), os.Getpid(), uuid.NewString()[:8]),
	)
}

// ReplaceFile atomically replaces target with content. Any observer sees
// either the old content or the new content, never a partial write. On any
// failure before the rename the temp file is removed and target is untouched.
func ReplaceFile(target string, content []byte) error {
	tmp := tempPath(target)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// ReplaceFileFrom is ReplaceFile with streamed content.
func ReplaceFileFrom(target string, content io.Reader) error {
	tmp := tempPath(target)

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(f, content); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// CopyFile atomically copies source onto target. Reads source fully, then
// delegates to ReplaceFile.
func CopyFile(source, target string) error {
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	return ReplaceFile(target, data)
}
