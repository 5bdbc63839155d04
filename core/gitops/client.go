// Package gitops is the version-control collaborator for snapshot sync. It
// does exactly two things the sync workflow needs: materialize a snapshot
// file from a remote branch at a known path, and stage/commit a snapshot
// after a session. Branching, stashing, and push/pull orchestration stay
// outside this core.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/adalundhe/aipm/core/filesystem"
)

var (
	ErrEmptyPath        = errors.New("repository path cannot be empty")
	ErrNotGitRepository = errors.New("not a git repository")
	ErrSnapshotNotFound = errors.New("snapshot not present on remote branch")
	ErrNoChanges        = errors.New("snapshot unchanged, nothing to commit")
)

// Client wraps go-git/v5 for the two snapshot operations. Thread-safe.
type Client struct {
	repoPath string
	repo     *gogit.Repository
	mu       sync.Mutex
}

func NewClient(repoPath string) (*Client, error) {
	if repoPath == "" {
		return nil, ErrEmptyPath
	}

	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}

	repo, err := gogit.PlainOpen(absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepository, absPath)
	}

	return &Client{repoPath: absPath, repo: repo}, nil
}

// FetchSnapshot fetches remoteName and writes the snapshot at relPath on
// the remote branch to destPath atomically. destPath is the known location
// the merge engine reads its "remote" input from.
func (c *Client) FetchSnapshot(ctx context.Context, remoteName, branch, relPath, destPath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.repo.FetchContext(ctx, &gogit.FetchOptions{RemoteName: remoteName})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetch %s: %w", remoteName, err)
	}

	ref, err := c.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return fmt.Errorf("resolve %s/%s: %w", remoteName, branch, err)
	}

	commit, err := c.repo.CommitObject(ref.Hash())
	if err != nil {
		return fmt.Errorf("read commit %s: %w", ref.Hash(), err)
	}

	file, err := commit.File(filepath.ToSlash(relPath))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return fmt.Errorf("%w: %s on %s/%s", ErrSnapshotNotFound, relPath, remoteName, branch)
		}
		return fmt.Errorf("read %s from %s/%s: %w", relPath, remoteName, branch, err)
	}

	contents, err := file.Contents()
	if err != nil {
		return fmt.Errorf("read snapshot blob: %w", err)
	}

	return filesystem.ReplaceFile(destPath, []byte(contents))
}

// CommitSnapshot stages relPath and commits it. Returns ErrNoChanges when
// the snapshot is identical to HEAD; callers treat that as success.
func (c *Client) CommitSnapshot(_ context.Context, relPath, message string) (plumbing.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wt, err := c.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	rel := filepath.ToSlash(relPath)
	if _, err := wt.Add(rel); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("stage %s: %w", rel, err)
	}

	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("worktree status: %w", err)
	}
	if fileClean(status, rel) {
		return plumbing.ZeroHash, ErrNoChanges
	}

	hash, err := wt.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "aipm",
			Email: "aipm@localhost",
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit %s: %w", rel, err)
	}
	return hash, nil
}

func fileClean(status gogit.Status, rel string) bool {
	fs := status.File(rel)
	return fs.Staging == gogit.Unmodified && fs.Worktree == gogit.Unmodified
}

// SnapshotRelPath converts an absolute snapshot path into the repo-relative
// form git operations need.
func (c *Client) SnapshotRelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(c.repoPath, absPath)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", absPath, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("snapshot %s outside repository %s", absPath, c.repoPath)
	}
	return filepath.ToSlash(rel), nil
}
