package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/adalundhe/aipm/core/config"
	"github.com/adalundhe/aipm/core/filesystem"
	"github.com/adalundhe/aipm/core/handoff"
	"github.com/adalundhe/aipm/core/journal"
	"github.com/adalundhe/aipm/core/merge"
	"github.com/adalundhe/aipm/core/session"
	"github.com/adalundhe/aipm/core/snapshot"
	"github.com/adalundhe/aipm/core/storage"
	"github.com/adalundhe/aipm/core/validate"
)

// workspace is the wired object graph every command runs against.
type workspace struct {
	cfg       *config.Config
	dirs      *storage.Dirs
	project   *storage.ProjectDirs
	validator *validate.Validator
	snapshots *snapshot.Manager
	merger    *merge.Engine
	journal   *journal.Journal
	sessions  *session.Manager
	logger    *slog.Logger
}

func openWorkspace() (*workspace, error) {
	logger := slog.Default()

	dirs, err := storage.ResolveDirs()
	if err != nil {
		return nil, fmt.Errorf("resolve directories: %w", err)
	}
	project := storage.ResolveProjectDirs(projectDir)

	manager := config.NewManager(dirs, projectDir)
	if err := manager.Load(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	cfg := manager.Get()
	if contextName == "" {
		contextName = cfg.Memory.Context
	}

	for _, dir := range []string{project.Memory, project.Local, dirs.Data, dirs.State} {
		if err := storage.EnsureStandardDir(dir); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := storage.EnsureDir(dirs.BackupDir(contextName), 0700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	fs, err := filesystem.NewManager(filesystem.DefaultConfig(project.Root, dirs.Data, dirs.State))
	if err != nil {
		return nil, fmt.Errorf("filesystem boundary: %w", err)
	}
	if cfg.Memory.LivePath != "" {
		if err := fs.AddRoot(filepath.Dir(cfg.Memory.LivePath)); err != nil {
			return nil, fmt.Errorf("allow live store dir: %w", err)
		}
	}

	validator, err := validate.NewValidator(validate.Policy{
		Prefix:           cfg.Memory.NamingPrefix,
		CaseInsensitive:  cfg.Memory.CaseInsensitive,
		StrictDuplicates: cfg.Memory.StrictDupes,
		AllowPatterns:    cfg.Memory.AllowPatterns,
	}, validate.Config{
		ErrorCap:      cfg.Memory.ErrorCap,
		SizeWarnBytes: cfg.Memory.SizeWarnBytes,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("validator: %w", err)
	}

	snapshots, err := snapshot.NewManager(fs, validator, snapshot.DefaultConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("snapshot manager: %w", err)
	}

	var jnl *journal.Journal
	if cfg.Journal.Enabled {
		jnl, err = journal.Open(dirs.JournalPath(), journal.Config{
			BusyTimeout: cfg.Journal.BusyTimeout.Std(),
			EnableWAL:   cfg.Journal.EnableWAL,
		}, logger)
		if err != nil {
			logger.Warn("journal unavailable", "error", err)
			jnl = nil
		}
	}

	merger := merge.NewEngine(validator, logger)
	handoffCfg := handoff.Config{
		SettleDelay:    cfg.Handoff.SettleDelay.Std(),
		PollInterval:   cfg.Handoff.PollInterval.Std(),
		ReleaseTimeout: cfg.Handoff.ReleaseTimeout.Std(),
		WatchActivity:  cfg.Handoff.WatchActivity,
	}

	return &workspace{
		cfg:       cfg,
		dirs:      dirs,
		project:   project,
		validator: validator,
		snapshots: snapshots,
		merger:    merger,
		journal:   jnl,
		sessions:  session.NewManager(snapshots, merger, jnl, handoffCfg, logger),
		logger:    logger,
	}, nil
}

func (w *workspace) close() {
	if w.journal != nil {
		w.journal.Close()
	}
}

// livePath is the store file the external consumer reads and writes.
func (w *workspace) livePath() string {
	if w.cfg.Memory.LivePath != "" {
		return w.cfg.Memory.LivePath
	}
	return filepath.Join(w.dirs.Data, "memory.json")
}

func (w *workspace) snapshotPath() string {
	return w.project.SnapshotPath(contextName)
}

func (w *workspace) backupPath() string {
	return filepath.Join(w.dirs.BackupDir(contextName), "live.backup.json")
}

func (w *workspace) statePath() string {
	return filepath.Join(w.project.Local, "session.yaml")
}

func (w *workspace) remotePath() string {
	return filepath.Join(w.project.Local, fmt.Sprintf("remote-%s.json", contextName))
}
