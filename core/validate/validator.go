// Package validate checks store files for well-formedness and naming-policy
// conformance in a single streaming pass. Cost on pathological input is
// bounded by the error cap; file size alone is never a failure.
package validate

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/gobwas/glob"

	"github.com/adalundhe/aipm/core/store"
)

var ErrTooManyErrors = errors.New("too many validation errors")

// Policy is the naming policy applied to entity names. Names must carry
// Prefix unless they match one of the AllowPatterns globs.
type Policy struct {
	Prefix           string
	CaseInsensitive  bool
	StrictDuplicates bool
	AllowPatterns    []string
}

// DefaultPolicy returns the framework naming policy.
func DefaultPolicy() Policy {
	return Policy{
		Prefix:           "AIPM_",
		CaseInsensitive:  false,
		StrictDuplicates: false,
	}
}

type Config struct {
	ErrorCap      int
	SizeWarnBytes int64
}

func DefaultConfig() Config {
	return Config{
		ErrorCap:      10,
		SizeWarnBytes: 10 * 1024 * 1024,
	}
}

// Issue is one validation finding, tied to a line when the line is known.
type Issue struct {
	Line    int
	Message string
}

func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("line %d: %s", i.Line, i.Message)
	}
	return i.Message
}

// Report aggregates the findings of one validation pass.
type Report struct {
	EntityCount   int
	RelationCount int
	Errors        []Issue
	SizePressure  bool
	Truncated     bool // scan aborted at the error cap
}

func (r *Report) IsValid() bool {
	return len(r.Errors) == 0
}

// Err returns ErrTooManyErrors for a truncated scan, a summary error when
// any issues were found, nil otherwise.
func (r *Report) Err() error {
	if r.Truncated {
		return fmt.Errorf("%w: %d recorded, scan aborted", ErrTooManyErrors, len(r.Errors))
	}
	if len(r.Errors) > 0 {
		return fmt.Errorf("validation failed: %d error(s), first: %s", len(r.Errors), r.Errors[0])
	}
	return nil
}

// Validator streams store files against a naming policy.
type Validator struct {
	policy   Policy
	config   Config
	patterns []glob.Glob
	logger   *slog.Logger
}

func NewValidator(policy Policy, config Config, logger *slog.Logger) (*Validator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ErrorCap <= 0 {
		config.ErrorCap = DefaultConfig().ErrorCap
	}

	patterns := make([]glob.Glob, 0, len(policy.AllowPatterns))
	for _, p := range policy.AllowPatterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile allow pattern %q: %w", p, err)
		}
		patterns = append(patterns, g)
	}

	return &Validator{
		policy:   policy,
		config:   config,
		patterns: patterns,
		logger:   logger,
	}, nil
}

// ValidateFile validates the store at path. Only I/O failures return an
// error; policy findings land in the report.
func (v *Validator) ValidateFile(path string) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	return v.ValidateReader(f, size), nil
}

// ValidateReader validates streamed store content. size drives the
// non-fatal SizePressure warning; pass 0 when unknown.
func (v *Validator) ValidateReader(r io.Reader, size int64) *Report {
	report := &Report{}

	if v.config.SizeWarnBytes > 0 && size > v.config.SizeWarnBytes {
		report.SizePressure = true
		v.logger.Warn("store exceeds size threshold",
			"size", size, "threshold", v.config.SizeWarnBytes)
	}

	seen := make(map[string]int)
	reader := store.NewReader(r)

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if report.addIssue(v.config.ErrorCap, reader.Line(), err.Error()) {
				return report
			}
			continue
		}

		switch rec := rec.(type) {
		case *store.Entity:
			report.EntityCount++
			if v.checkEntity(report, reader.Line(), rec, seen) {
				return report
			}
		case *store.Relation:
			report.RelationCount++
			if v.checkRelation(report, reader.Line(), rec) {
				return report
			}
		}
	}

	return report
}

// checkEntity records entity findings; returns true once the cap is hit.
func (v *Validator) checkEntity(report *Report, line int, e *store.Entity, seen map[string]int) bool {
	if e.Name == "" {
		return report.addIssue(v.config.ErrorCap, line, "entity missing name")
	}
	if e.EntityType == "" {
		return report.addIssue(v.config.ErrorCap, line, fmt.Sprintf("entity %q missing entityType", e.Name))
	}

	if !v.nameAllowed(e.Name) {
		return report.addIssue(v.config.ErrorCap, line,
			fmt.Sprintf("entity %q does not match naming prefix %q", e.Name, v.policy.Prefix))
	}

	if prev, dup := seen[e.Name]; dup && v.policy.StrictDuplicates {
		return report.addIssue(v.config.ErrorCap, line,
			fmt.Sprintf("duplicate entity %q (first seen line %d)", e.Name, prev))
	}
	if _, dup := seen[e.Name]; !dup {
		seen[e.Name] = line
	}
	return false
}

func (v *Validator) checkRelation(report *Report, line int, r *store.Relation) bool {
	if r.From == "" {
		return report.addIssue(v.config.ErrorCap, line, "relation missing from")
	}
	if r.To == "" {
		return report.addIssue(v.config.ErrorCap, line, "relation missing to")
	}
	if r.RelationType == "" {
		return report.addIssue(v.config.ErrorCap, line,
			fmt.Sprintf("relation %s->%s missing relationType", r.From, r.To))
	}
	return false
}

func (v *Validator) nameAllowed(name string) bool {
	if v.policy.Prefix == "" {
		return true
	}

	if v.policy.CaseInsensitive {
		if strings.HasPrefix(strings.ToLower(name), strings.ToLower(v.policy.Prefix)) {
			return true
		}
	} else if strings.HasPrefix(name, v.policy.Prefix) {
		return true
	}

	for _, g := range v.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// addIssue appends an issue and reports whether the error cap was reached,
// which aborts the scan.
func (r *Report) addIssue(errorCap, line int, msg string) bool {
	r.Errors = append(r.Errors, Issue{Line: line, Message: msg})
	if len(r.Errors) >= errorCap {
		r.Truncated = true
		return true
	}
	return false
}
