package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/adalundhe/aipm/core/storage"
)

func writeProjectConfig(t *testing.T, root, content string) {
	t.Helper()
	aipmDir := filepath.Join(root, ".aipm")
	if err := os.MkdirAll(aipmDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(aipmDir, "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Memory.Context != "framework" {
		t.Errorf("default context: %s", cfg.Memory.Context)
	}
	if cfg.Memory.NamingPrefix != "AIPM_" {
		t.Errorf("default prefix: %s", cfg.Memory.NamingPrefix)
	}
	if cfg.Memory.ErrorCap != 10 {
		t.Errorf("default error cap: %d", cfg.Memory.ErrorCap)
	}
	if cfg.Merge.Policy != "remote-wins" {
		t.Errorf("default policy: %s", cfg.Merge.Policy)
	}
	if cfg.Handoff.ReleaseTimeout.Std() != 30*time.Second {
		t.Errorf("default release timeout: %s", cfg.Handoff.ReleaseTimeout.Std())
	}
}

func TestLoadProjectOverlay(t *testing.T) {
	root := t.TempDir()
	writeProjectConfig(t, root, `
memory:
  context: projA
  strict_duplicates: true
merge:
  policy: newest-wins
handoff:
  release_timeout: 5s
`)

	m := NewManager(&storage.Dirs{Config: t.TempDir()}, root)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Memory.Context != "projA" {
		t.Errorf("context: %s", cfg.Memory.Context)
	}
	if !cfg.Memory.StrictDupes {
		t.Error("strict_duplicates should overlay")
	}
	if cfg.Merge.Policy != "newest-wins" {
		t.Errorf("policy: %s", cfg.Merge.Policy)
	}
	if cfg.Handoff.ReleaseTimeout.Std() != 5*time.Second {
		t.Errorf("release timeout: %s", cfg.Handoff.ReleaseTimeout.Std())
	}

	// Untouched keys keep their defaults.
	if cfg.Memory.NamingPrefix != "AIPM_" {
		t.Errorf("prefix should keep default: %s", cfg.Memory.NamingPrefix)
	}
	if cfg.Git.Remote != "origin" {
		t.Errorf("remote should keep default: %s", cfg.Git.Remote)
	}
}

func TestLocalOverridesProject(t *testing.T) {
	root := t.TempDir()
	writeProjectConfig(t, root, "merge:\n  policy: local-wins\n")

	localDir := filepath.Join(root, ".aipm", "local")
	if err := os.MkdirAll(localDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	localCfg := "merge:\n  policy: newest-wins\n"
	if err := os.WriteFile(filepath.Join(localDir, "config.yaml"), []byte(localCfg), 0644); err != nil {
		t.Fatalf("write local config: %v", err)
	}

	m := NewManager(&storage.Dirs{Config: t.TempDir()}, root)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := m.Get().Merge.Policy; got != "newest-wins" {
		t.Errorf("local overlay should win: %s", got)
	}
}

func TestEnvironmentWins(t *testing.T) {
	root := t.TempDir()
	writeProjectConfig(t, root, "merge:\n  policy: local-wins\n")

	t.Setenv("AIPM_MERGE_POLICY", "remote-wins")
	t.Setenv("AIPM_CONTEXT", "from-env")
	t.Setenv("AIPM_RELEASE_TIMEOUT", "90s")

	m := NewManager(&storage.Dirs{Config: t.TempDir()}, root)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Merge.Policy != "remote-wins" {
		t.Errorf("env policy: %s", cfg.Merge.Policy)
	}
	if cfg.Memory.Context != "from-env" {
		t.Errorf("env context: %s", cfg.Memory.Context)
	}
	if cfg.Handoff.ReleaseTimeout.Std() != 90*time.Second {
		t.Errorf("env timeout: %s", cfg.Handoff.ReleaseTimeout.Std())
	}
}

func TestEnvironmentDisablesGitAndJournal(t *testing.T) {
	root := t.TempDir()

	t.Setenv("AIPM_GIT_ENABLED", "false")
	t.Setenv("AIPM_JOURNAL_ENABLED", "false")

	m := NewManager(&storage.Dirs{Config: t.TempDir()}, root)
	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := m.Get()
	if cfg.Git.Enabled {
		t.Error("AIPM_GIT_ENABLED=false should disable git")
	}
	if cfg.Journal.Enabled {
		t.Error("AIPM_JOURNAL_ENABLED=false should disable the journal")
	}
}

func TestMalformedYAML(t *testing.T) {
	root := t.TempDir()
	writeProjectConfig(t, root, "merge: [not a map\n")

	m := NewManager(&storage.Dirs{Config: t.TempDir()}, root)
	if err := m.Load(); err == nil {
		t.Fatal("malformed YAML should fail Load")
	}
}

func TestOnChange(t *testing.T) {
	root := t.TempDir()

	m := NewManager(&storage.Dirs{Config: t.TempDir()}, root)

	var seen *Config
	m.OnChange(func(cfg *Config) { seen = cfg })

	if err := m.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if seen == nil {
		t.Fatal("watcher should fire on Load")
	}
	if seen != m.Get() {
		t.Error("watcher should see the active config")
	}
}

func TestDeepMergeSlices(t *testing.T) {
	dst := DefaultConfig()
	src := &Config{}
	src.Memory.AllowPatterns = []string{"legacy_*"}

	DeepMerge(dst, src)
	if len(dst.Memory.AllowPatterns) != 1 || dst.Memory.AllowPatterns[0] != "legacy_*" {
		t.Errorf("patterns: %v", dst.Memory.AllowPatterns)
	}

	// Empty slice in the overlay leaves dst untouched.
	dst2 := &Config{}
	dst2.Memory.AllowPatterns = []string{"keep"}
	DeepMerge(dst2, &Config{})
	if len(dst2.Memory.AllowPatterns) != 1 {
		t.Errorf("empty overlay should not clear slices: %v", dst2.Memory.AllowPatterns)
	}
}
