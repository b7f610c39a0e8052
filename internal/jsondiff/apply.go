package jsondiff

import (
	"fmt"
	"strconv"
)

// Apply applies ops in order to a copy of doc and returns the result.
// doc itself is never modified. Operations follow JSON Patch semantics:
// add inserts (or sets an object member, or appends with "-"), remove
// deletes an existing location, replace overwrites an existing location.
func Apply(doc any, ops []Operation) (any, error) {
	out := deepCopy(doc)
	for i, op := range ops {
		var err error
		out, err = applyOne(out, op)
		if err != nil {
			return nil, fmt.Errorf("operation %d (%s %s): %w", i, op.Op, op.Path, err)
		}
	}
	return out, nil
}

func applyOne(doc any, op Operation) (any, error) {
	tokens, err := ParsePointer(op.Path)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		switch op.Op {
		case OpAdd, OpReplace:
			return deepCopy(op.Value), nil
		default:
			return nil, fmt.Errorf("cannot %s the document root", op.Op)
		}
	}
	return applyAt(doc, tokens, op)
}

func applyAt(node any, tokens []string, op Operation) (any, error) {
	tok := tokens[0]
	last := len(tokens) == 1

	switch n := node.(type) {
	case map[string]any:
		_, exists := n[tok]
		if last {
			switch op.Op {
			case OpAdd:
				n[tok] = deepCopy(op.Value)
			case OpReplace:
				if !exists {
					return nil, fmt.Errorf("member %q does not exist", tok)
				}
				n[tok] = deepCopy(op.Value)
			case OpRemove:
				if !exists {
					return nil, fmt.Errorf("member %q does not exist", tok)
				}
				delete(n, tok)
			default:
				return nil, fmt.Errorf("unsupported operation %q", op.Op)
			}
			return n, nil
		}
		if !exists {
			return nil, fmt.Errorf("member %q does not exist", tok)
		}
		updated, err := applyAt(n[tok], tokens[1:], op)
		if err != nil {
			return nil, err
		}
		n[tok] = updated
		return n, nil

	case []any:
		if last && op.Op == OpAdd && tok == "-" {
			return append(n, deepCopy(op.Value)), nil
		}
		idx, err := arrayIndex(tok)
		if err != nil {
			return nil, err
		}
		if last {
			switch op.Op {
			case OpAdd:
				if idx > len(n) {
					return nil, fmt.Errorf("index %d out of range for length %d", idx, len(n))
				}
				n = append(n, nil)
				copy(n[idx+1:], n[idx:])
				n[idx] = deepCopy(op.Value)
				return n, nil
			case OpReplace:
				if idx >= len(n) {
					return nil, fmt.Errorf("index %d out of range for length %d", idx, len(n))
				}
				n[idx] = deepCopy(op.Value)
				return n, nil
			case OpRemove:
				if idx >= len(n) {
					return nil, fmt.Errorf("index %d out of range for length %d", idx, len(n))
				}
				return append(n[:idx], n[idx+1:]...), nil
			default:
				return nil, fmt.Errorf("unsupported operation %q", op.Op)
			}
		}
		if idx >= len(n) {
			return nil, fmt.Errorf("index %d out of range for length %d", idx, len(n))
		}
		updated, err := applyAt(n[idx], tokens[1:], op)
		if err != nil {
			return nil, err
		}
		n[idx] = updated
		return n, nil

	default:
		return nil, fmt.Errorf("cannot traverse %T with token %q", node, tok)
	}
}

func arrayIndex(tok string) (int, error) {
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	idx, err := strconv.Atoi(tok)
	if err != nil || idx < 0 {
		return 0, fmt.Errorf("invalid array index %q", tok)
	}
	return idx, nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
