// Package store implements the line-delimited record format for the memory
// store: one JSON object per line, tagged "entity" or "relation". Decoding and
// encoding are pure and never require the whole file in memory.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind discriminates the two record types in a store file.
type Kind string

const (
	KindEntity   Kind = "entity"
	KindRelation Kind = "relation"
)

// Record is one line of a store file.
type Record interface {
	Kind() Kind
}

// Entity is a named, typed record with free-form text observations.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
	Timestamp    float64  `json:"timestamp,omitempty"`
}

func (e *Entity) Kind() Kind { return KindEntity }

// TimestampValue returns the record timestamp used by newest-wins conflict
// resolution. Falls back to a "timestamp:<n>" observation, then 0.
func (e *Entity) TimestampValue() float64 {
	if e.Timestamp != 0 {
		return e.Timestamp
	}
	for _, obs := range e.Observations {
		rest, ok := strings.CutPrefix(obs, "timestamp:")
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil {
			return v
		}
	}
	return 0
}

// Relation is a directed, typed edge between two entity names.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

func (r *Relation) Kind() Kind { return KindRelation }

// Key returns the dedup key identifying a relation within a merge.
func (r *Relation) Key() string {
	return r.From + "\x00" + r.To + "\x00" + r.RelationType
}

// Wire shapes. The type tag is declared first so encoded output always leads
// with the discriminator; struct field order fixes the key order, which keeps
// decode→encode byte-stable for conformant records.
type wireEntity struct {
	Type         Kind     `json:"type"`
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
	Timestamp    float64  `json:"timestamp,omitempty"`
}

type wireRelation struct {
	Type         Kind   `json:"type"`
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

type wireProbe struct {
	Type *Kind `json:"type"`
}

// DecodeLine parses one line of a store file. The line number is recorded in
// the returned DecodeError for validation reporting; pass 0 when unknown.
func DecodeLine(line []byte, lineNo int) (Record, error) {
	probe := wireProbe{}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, &DecodeError{Line: lineNo, Cause: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if probe.Type == nil {
		return nil, &DecodeError{Line: lineNo, Cause: fmt.Errorf("%w: missing type field", ErrUnknownKind)}
	}

	switch *probe.Type {
	case KindEntity:
		var w wireEntity
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, &DecodeError{Line: lineNo, Cause: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
		return &Entity{
			Name:         w.Name,
			EntityType:   w.EntityType,
			Observations: w.Observations,
			Timestamp:    w.Timestamp,
		}, nil
	case KindRelation:
		var w wireRelation
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, &DecodeError{Line: lineNo, Cause: fmt.Errorf("%w: %v", ErrMalformed, err)}
		}
		return &Relation{From: w.From, To: w.To, RelationType: w.RelationType}, nil
	default:
		return nil, &DecodeError{Line: lineNo, Cause: fmt.Errorf("%w: %q", ErrUnknownKind, *probe.Type)}
	}
}

// Encode serializes a record to its single-line wire form without a trailing
// newline. Key order is deterministic.
func Encode(r Record) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	switch rec := r.(type) {
	case *Entity:
		obs := rec.Observations
		if obs == nil {
			obs = []string{}
		}
		data, err = json.Marshal(wireEntity{
			Type:         KindEntity,
			Name:         rec.Name,
			EntityType:   rec.EntityType,
			Observations: obs,
			Timestamp:    rec.Timestamp,
		})
	case *Relation:
		data, err = json.Marshal(wireRelation{
			Type:         KindRelation,
			From:         rec.From,
			To:           rec.To,
			RelationType: rec.RelationType,
		})
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, r)
	}
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// IsEmptyStoreContent reports whether raw file content represents a valid
// empty store: zero bytes, whitespace only, or a single bare {} object. The
// bare {} form is what the external consumer writes before MCP initialization.
func IsEmptyStoreContent(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return true
	}
	return bytes.Equal(trimmed, []byte("{}"))
}
