// Package merge combines two store files into one, resolving entity-name
// conflicts under a configurable policy and deduplicating relations. Runtime
// is linear in total record count; only local entities are held in memory.
package merge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adalundhe/aipm/core/store"
	"github.com/adalundhe/aipm/core/validate"
)

var (
	ErrValidationFailed = errors.New("merge result failed validation")
	ErrUnknownPolicy    = errors.New("unknown conflict policy")
)

// Policy selects how same-name entities are resolved.
type Policy string

const (
	PolicyRemoteWins Policy = "remote-wins"
	PolicyLocalWins  Policy = "local-wins"
	PolicyNewestWins Policy = "newest-wins"
)

// ParsePolicy maps a config string to a Policy. Empty defaults to remote-wins.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyRemoteWins, PolicyLocalWins, PolicyNewestWins:
		return Policy(s), nil
	case "":
		return PolicyRemoteWins, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Stats summarizes one merge pass.
type Stats struct {
	Entities         int
	Relations        int
	Conflicts        int
	DroppedRelations int // duplicate relation keys suppressed
}

// Engine merges store files. Output is only promoted after it passes the
// validator; a failed merge never leaves a file behind.
type Engine struct {
	validator *validate.Validator
	logger    *slog.Logger
}

func NewEngine(validator *validate.Validator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{validator: validator, logger: logger}
}

// localIndex holds local entities keyed by name plus their file order, so
// unmatched locals are re-emitted deterministically.
type localIndex struct {
	entities map[string]*store.Entity
	order    []string
}

// MergeFiles merges localPath and remotePath into outPath under the given
// policy. The assembled output is validated before it replaces outPath; on
// validation failure the result is discarded and ErrValidationFailed
// surfaces with the report's first finding.
func (e *Engine) MergeFiles(localPath, remotePath, outPath string, policy Policy) (*Stats, error) {
	if policy == "" {
		policy = PolicyRemoteWins
	}

	index, err := indexLocalEntities(localPath)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".merge-*")
	if err != nil {
		return nil, fmt.Errorf("create merge output: %w", err)
	}
	tmpPath := tmp.Name()
	discard := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	stats, err := e.mergeInto(tmp, index, localPath, remotePath, policy)
	if err != nil {
		discard()
		return nil, err
	}

	if err := tmp.Sync(); err != nil {
		discard()
		return nil, fmt.Errorf("sync merge output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close merge output: %w", err)
	}

	report, err := e.validator.ValidateFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if !report.IsValid() {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, report.Errors[0])
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("promote merge output: %w", err)
	}

	e.logger.Info("merge complete",
		"policy", string(policy),
		"entities", stats.Entities,
		"relations", stats.Relations,
		"conflicts", stats.Conflicts,
		"deduped", stats.DroppedRelations)
	return stats, nil
}

// indexLocalEntities is the first pass over local: entities only. Relations
// are deliberately not indexed; a second relation-only pass over local is
// cheaper than holding them all.
func indexLocalEntities(localPath string) (*localIndex, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	defer f.Close()

	index := &localIndex{entities: make(map[string]*store.Entity)}
	reader := store.NewReader(f)
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}
		// Duplicate names within one input collapse to the first
		// occurrence; later repeats are shadowed.
		if entity, ok := rec.(*store.Entity); ok {
			if _, seen := index.entities[entity.Name]; seen {
				continue
			}
			index.order = append(index.order, entity.Name)
			index.entities[entity.Name] = entity
		}
	}
	return index, nil
}

func (e *Engine) mergeInto(out io.Writer, index *localIndex, localPath, remotePath string, policy Policy) (*Stats, error) {
	stats := &Stats{}
	writer := store.NewWriter(out)
	seenRelations := make(map[string]struct{})
	emitted := make(map[string]struct{})

	remote, err := os.Open(remotePath)
	if err != nil {
		return nil, fmt.Errorf("open remote store: %w", err)
	}
	defer remote.Close()

	// Remote pass: resolve entity conflicts, emit remote-only entities,
	// dedup relations as they stream by.
	reader := store.NewReader(remote)
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("remote store: %w", err)
		}

		switch rec := rec.(type) {
		case *store.Entity:
			// Repeats within the remote input are shadowed by the
			// first occurrence, matching the local index.
			if _, dup := emitted[rec.Name]; dup {
				continue
			}
			emit := rec
			if local, conflict := index.entities[rec.Name]; conflict {
				stats.Conflicts++
				emit = resolveConflict(local, rec, policy)
				delete(index.entities, rec.Name)
			}
			if err := writer.WriteRecord(emit); err != nil {
				return nil, err
			}
			emitted[emit.Name] = struct{}{}
			stats.Entities++
		case *store.Relation:
			if _, dup := seenRelations[rec.Key()]; dup {
				stats.DroppedRelations++
				continue
			}
			seenRelations[rec.Key()] = struct{}{}
			if err := writer.WriteRecord(rec); err != nil {
				return nil, err
			}
			stats.Relations++
		}
	}

	// Local-only entities, in original file order.
	for _, name := range index.order {
		entity, remaining := index.entities[name]
		if !remaining {
			continue
		}
		if err := writer.WriteRecord(entity); err != nil {
			return nil, err
		}
		stats.Entities++
	}

	// Second pass over local, relations only.
	local, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("reopen local store: %w", err)
	}
	defer local.Close()

	reader = store.NewReader(local)
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("local store: %w", err)
		}

		relation, ok := rec.(*store.Relation)
		if !ok {
			continue
		}
		if _, dup := seenRelations[relation.Key()]; dup {
			stats.DroppedRelations++
			continue
		}
		seenRelations[relation.Key()] = struct{}{}
		if err := writer.WriteRecord(relation); err != nil {
			return nil, err
		}
		stats.Relations++
	}

	return stats, writer.Flush()
}

// resolveConflict picks the surviving entity for a name present on both
// sides. newest-wins ties favor local for stability.
func resolveConflict(local, remote *store.Entity, policy Policy) *store.Entity {
	switch policy {
	case PolicyLocalWins:
		return local
	case PolicyNewestWins:
		if remote.TimestampValue() > local.TimestampValue() {
			return remote
		}
		return local
	default:
		return remote
	}
}
