// Package jsondiff computes structural differences between JSON documents.
//
// Diff produces a JSON-Patch-compatible sequence restricted to the add,
// remove and replace operations. Objects are compared key by key in sorted
// order; arrays are compared positionally, so a reordered array yields more
// operations than a minimal edit script would.
package jsondiff

import (
	"encoding/json"
	"fmt"

	"drift-go/internal/canonical"
)

// OpKind names a patch operation.
type OpKind string

const (
	OpAdd     OpKind = "add"
	OpRemove  OpKind = "remove"
	OpReplace OpKind = "replace"
)

// Operation is a single edit. Value is unset for removals.
type Operation struct {
	Op    OpKind
	Path  string
	Value any
}

type wireOperation struct {
	Op    OpKind          `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the operation in JSON Patch form. Values are written
// canonically so that encoded patches are stable across runs.
func (o Operation) MarshalJSON() ([]byte, error) {
	w := wireOperation{Op: o.Op, Path: o.Path}
	if o.Op != OpRemove {
		v, err := canonical.Marshal(o.Value)
		if err != nil {
			return nil, fmt.Errorf("encoding value at %q: %w", o.Path, err)
		}
		w.Value = v
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a JSON Patch operation.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var w wireOperation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Op {
	case OpAdd, OpRemove, OpReplace:
	default:
		return fmt.Errorf("unsupported operation %q", w.Op)
	}

	o.Op = w.Op
	o.Path = w.Path
	o.Value = nil
	if w.Op != OpRemove {
		if len(w.Value) == 0 {
			return fmt.Errorf("%s operation at %q has no value", w.Op, w.Path)
		}
		v, err := canonical.Decode(w.Value)
		if err != nil {
			return fmt.Errorf("decoding value at %q: %w", w.Path, err)
		}
		o.Value = v
	}
	return nil
}

// Summary counts operations by kind. Total always equals CountChanges of the
// summarized operations; it equals Additions + Deletions + Modifications for
// every sequence produced by Diff or decoded by UnmarshalJSON, since neither
// admits other kinds.
type Summary struct {
	Additions     int `json:"additions"`
	Deletions     int `json:"deletions"`
	Modifications int `json:"modifications"`
	Total         int `json:"total"`
}

// CountChanges returns the number of operations.
func CountChanges(ops []Operation) int {
	return len(ops)
}

// Categorize counts additions, deletions and modifications (replacements).
// Operations of any other kind count toward Total only.
func Categorize(ops []Operation) Summary {
	var s Summary
	for _, op := range ops {
		switch op.Op {
		case OpAdd:
			s.Additions++
		case OpRemove:
			s.Deletions++
		case OpReplace:
			s.Modifications++
		}
	}
	s.Total = CountChanges(ops)
	return s
}
