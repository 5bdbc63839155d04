// Package config layers YAML configuration from project, user, and local
// files over built-in defaults. Readers get a consistent snapshot through
// an atomic pointer; Load swaps the whole config at once.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"gopkg.in/yaml.v3"

	"github.com/adalundhe/aipm/core/storage"
)

type Manager struct {
	configPtr   unsafe.Pointer
	dirs        *storage.Dirs
	projectRoot string
	watchers    []func(*Config)
	watcherMu   sync.RWMutex
}

type Config struct {
	Memory  MemoryConfig  `yaml:"memory"`
	Merge   MergeConfig   `yaml:"merge"`
	Handoff HandoffConfig `yaml:"handoff"`
	Git     GitConfig     `yaml:"git"`
	Journal JournalConfig `yaml:"journal"`
}

// MemoryConfig controls the live store location and the naming policy the
// validator enforces over it.
type MemoryConfig struct {
	Context         string   `yaml:"context"`
	LivePath        string   `yaml:"live_path"`
	NamingPrefix    string   `yaml:"naming_prefix"`
	CaseInsensitive bool     `yaml:"case_insensitive"`
	StrictDupes     bool     `yaml:"strict_duplicates"`
	AllowPatterns   []string `yaml:"allow_patterns"`
	SizeWarnBytes   int64    `yaml:"size_warn_bytes"`
	ErrorCap        int      `yaml:"error_cap"`
}

type MergeConfig struct {
	Policy string `yaml:"policy"`
}

type HandoffConfig struct {
	SettleDelay    Duration `yaml:"settle_delay"`
	PollInterval   Duration `yaml:"poll_interval"`
	ReleaseTimeout Duration `yaml:"release_timeout"`
	WatchActivity  bool     `yaml:"watch_activity"`
}

type GitConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Remote     string `yaml:"remote"`
	Branch     string `yaml:"branch"`
	AutoCommit bool   `yaml:"auto_commit"`
}

type JournalConfig struct {
	Enabled     bool     `yaml:"enabled"`
	BusyTimeout Duration `yaml:"busy_timeout"`
	EnableWAL   bool     `yaml:"enable_wal"`
}

func NewManager(dirs *storage.Dirs, projectRoot string) *Manager {
	m := &Manager{dirs: dirs, projectRoot: projectRoot}
	cfg := DefaultConfig()
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	return m
}

func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Context:         "framework",
			NamingPrefix:    "AIPM_",
			CaseInsensitive: false,
			StrictDupes:     false,
			SizeWarnBytes:   10 * 1024 * 1024,
			ErrorCap:        10,
		},
		Merge: MergeConfig{
			Policy: "remote-wins",
		},
		Handoff: HandoffConfig{
			SettleDelay:    Duration(500 * time.Millisecond),
			PollInterval:   Duration(1 * time.Second),
			ReleaseTimeout: Duration(30 * time.Second),
			WatchActivity:  false,
		},
		Git: GitConfig{
			Enabled:    true,
			Remote:     "origin",
			Branch:     "main",
			AutoCommit: true,
		},
		Journal: JournalConfig{
			Enabled:     true,
			BusyTimeout: Duration(30 * time.Second),
			EnableWAL:   true,
		},
	}
}

func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

// Load rebuilds the config from defaults, then overlays the project file,
// the user file, and the gitignored local file, in that order. Environment
// variables win over everything.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	projectDirs := storage.ResolveProjectDirs(m.projectRoot)
	if err := m.overlayFile(projectDirs.Config, cfg); err != nil {
		return fmt.Errorf("project config: %w", err)
	}

	if m.dirs != nil {
		userPath := filepath.Join(m.dirs.Config, "config.yaml")
		if err := m.overlayFile(userPath, cfg); err != nil {
			return fmt.Errorf("user config: %w", err)
		}
	}

	localPath := filepath.Join(projectDirs.Local, "config.yaml")
	if err := m.overlayFile(localPath, cfg); err != nil {
		return fmt.Errorf("local config: %w", err)
	}

	m.applyEnvironment(cfg)

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	m.notifyWatchers(cfg)

	return nil
}

func (m *Manager) overlayFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	overlay := &Config{}
	if err := yaml.Unmarshal(data, overlay); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	DeepMerge(cfg, overlay)
	return nil
}

func (m *Manager) applyEnvironment(cfg *Config) {
	if v := os.Getenv("AIPM_CONTEXT"); v != "" {
		cfg.Memory.Context = v
	}
	if v := os.Getenv("AIPM_LIVE_PATH"); v != "" {
		cfg.Memory.LivePath = v
	}
	if v := os.Getenv("AIPM_MERGE_POLICY"); v != "" {
		cfg.Merge.Policy = v
	}
	if v := os.Getenv("AIPM_RELEASE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Handoff.ReleaseTimeout = Duration(d)
		}
	}
	if v := os.Getenv("AIPM_GIT_ENABLED"); v != "" {
		cfg.Git.Enabled = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("AIPM_GIT_REMOTE"); v != "" {
		cfg.Git.Remote = v
	}
	if v := os.Getenv("AIPM_GIT_BRANCH"); v != "" {
		cfg.Git.Branch = v
	}
	if v := os.Getenv("AIPM_GIT_AUTOCOMMIT"); v != "" {
		cfg.Git.AutoCommit = strings.ToLower(v) == "true"
	}
	if v := os.Getenv("AIPM_JOURNAL_ENABLED"); v != "" {
		cfg.Journal.Enabled = strings.ToLower(v) == "true"
	}
}

func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	m.watchers = append(m.watchers, fn)
	m.watcherMu.Unlock()
}

func (m *Manager) notifyWatchers(cfg *Config) {
	m.watcherMu.RLock()
	watchers := m.watchers
	m.watcherMu.RUnlock()

	for _, fn := range watchers {
		fn(cfg)
	}
}

func (m *Manager) Reload() error {
	return m.Load()
}
