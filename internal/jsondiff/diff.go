package jsondiff

import (
	"sort"
	"strconv"

	"drift-go/internal/canonical"
)

// Diff returns the operations that transform oldDoc into newDoc.
//
// Rules:
//   - unequal scalars: replace at the current path
//   - objects: add keys only in newDoc, remove keys only in oldDoc, recurse
//     into shared keys; keys are visited in sorted order
//   - arrays: recurse on overlapping indices (ascending), add trailing new
//     elements (ascending), remove trailing old elements (highest index first,
//     so the patch applies in sequence)
//   - different kinds: a single replace carrying the whole new value
//
// Equal documents produce an empty, non-nil slice. The inputs are not
// modified; operation values share structure with newDoc.
func Diff(oldDoc, newDoc any) []Operation {
	ops := diffValue(nil, "", oldDoc, newDoc)
	if ops == nil {
		ops = []Operation{}
	}
	return ops
}

func diffValue(ops []Operation, path string, a, b any) []Operation {
	switch av := a.(type) {
	case map[string]any:
		if bv, ok := b.(map[string]any); ok {
			return diffObject(ops, path, av, bv)
		}
	case []any:
		if bv, ok := b.([]any); ok {
			return diffArray(ops, path, av, bv)
		}
	default:
		if !isContainer(b) {
			if canonical.Equal(a, b) {
				return ops
			}
			return append(ops, Operation{Op: OpReplace, Path: path, Value: b})
		}
	}
	return append(ops, Operation{Op: OpReplace, Path: path, Value: b})
}

func diffObject(ops []Operation, path string, a, b map[string]any) []Operation {
	keys := make([]string, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		child := path + "/" + EscapeToken(k)
		av, inOld := a[k]
		bv, inNew := b[k]
		switch {
		case inOld && inNew:
			ops = diffValue(ops, child, av, bv)
		case inNew:
			ops = append(ops, Operation{Op: OpAdd, Path: child, Value: bv})
		default:
			ops = append(ops, Operation{Op: OpRemove, Path: child})
		}
	}
	return ops
}

func diffArray(ops []Operation, path string, a, b []any) []Operation {
	shared := min(len(a), len(b))
	for i := 0; i < shared; i++ {
		ops = diffValue(ops, path+"/"+strconv.Itoa(i), a[i], b[i])
	}
	for i := shared; i < len(b); i++ {
		ops = append(ops, Operation{Op: OpAdd, Path: path + "/" + strconv.Itoa(i), Value: b[i]})
	}
	for i := len(a) - 1; i >= shared; i-- {
		ops = append(ops, Operation{Op: OpRemove, Path: path + "/" + strconv.Itoa(i)})
	}
	return ops
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}
