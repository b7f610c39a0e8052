package jsondiff

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drift-go/internal/canonical"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	v, err := canonical.Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestDiff_Scenarios(t *testing.T) {
	tests := []struct {
		name    string
		old     string
		new     string
		want    []Operation
		summary Summary
	}{
		{
			name:    "added key",
			old:     `{"foo":"bar"}`,
			new:     `{"foo":"bar","baz":"qux"}`,
			want:    []Operation{{Op: OpAdd, Path: "/baz", Value: "qux"}},
			summary: Summary{Additions: 1, Total: 1},
		},
		{
			name:    "removed key",
			old:     `{"foo":"bar","baz":"qux"}`,
			new:     `{"foo":"bar"}`,
			want:    []Operation{{Op: OpRemove, Path: "/baz"}},
			summary: Summary{Deletions: 1, Total: 1},
		},
		{
			name:    "replaced scalar",
			old:     `{"foo":"bar"}`,
			new:     `{"foo":"baz"}`,
			want:    []Operation{{Op: OpReplace, Path: "/foo", Value: "baz"}},
			summary: Summary{Modifications: 1, Total: 1},
		},
		{
			name:    "type change replaces whole value",
			old:     `{"foo":{"a":1}}`,
			new:     `{"foo":[1]}`,
			want:    []Operation{{Op: OpReplace, Path: "/foo", Value: []any{json.Number("1")}}},
			summary: Summary{Modifications: 1, Total: 1},
		},
		{
			name: "array grows",
			old:  `[1]`,
			new:  `[1,2,3]`,
			want: []Operation{
				{Op: OpAdd, Path: "/1", Value: json.Number("2")},
				{Op: OpAdd, Path: "/2", Value: json.Number("3")},
			},
			summary: Summary{Additions: 2, Total: 2},
		},
		{
			name: "array shrinks from the end",
			old:  `[1,2,3]`,
			new:  `[1]`,
			want: []Operation{
				{Op: OpRemove, Path: "/2"},
				{Op: OpRemove, Path: "/1"},
			},
			summary: Summary{Deletions: 2, Total: 2},
		},
		{
			name:    "numerically equal numbers",
			old:     `{"n":1}`,
			new:     `{"n":1.0}`,
			want:    []Operation{},
			summary: Summary{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := Diff(decode(t, tt.old), decode(t, tt.new))
			assert.Equal(t, tt.want, ops)
			assert.Equal(t, tt.summary, Categorize(ops))
			assert.Equal(t, tt.summary.Total, CountChanges(ops))
		})
	}
}

func TestDiff_IdenticalDocuments(t *testing.T) {
	docs := []string{
		`{}`,
		`[]`,
		`null`,
		`"text"`,
		`{"a":[1,{"b":null}],"c":{"d":true}}`,
	}
	for _, d := range docs {
		ops := Diff(decode(t, d), decode(t, d))
		assert.NotNil(t, ops, d)
		assert.Empty(t, ops, d)
	}
}

func TestDiff_CategorizeTotals(t *testing.T) {
	old := decode(t, `{"a":1,"b":[1,2,3],"c":{"x":1},"d":"gone"}`)
	next := decode(t, `{"a":2,"b":[1],"c":{"x":1,"y":2},"e":"new"}`)

	ops := Diff(old, next)
	s := Categorize(ops)
	assert.Equal(t, CountChanges(ops), s.Additions+s.Deletions+s.Modifications)
	assert.Equal(t, Summary{Additions: 2, Deletions: 3, Modifications: 1, Total: 6}, s)
}

func TestCategorize_TotalMatchesCountChanges(t *testing.T) {
	ops := []Operation{
		{Op: OpAdd, Path: "/a", Value: "x"},
		{Op: "move", Path: "/b"},
		{Op: OpRemove, Path: "/c"},
	}

	s := Categorize(ops)
	assert.Equal(t, CountChanges(ops), s.Total)
	assert.Equal(t, Summary{Additions: 1, Deletions: 1, Total: 3}, s)

	var op Operation
	assert.Error(t, op.UnmarshalJSON([]byte(`{"op":"move","path":"/b","from":"/a"}`)))
}

func TestDiff_DoesNotModifyInputs(t *testing.T) {
	old := decode(t, `{"a":[1,2],"b":{"c":1}}`)
	next := decode(t, `{"a":[3],"b":{"d":2}}`)
	oldBefore := canonical.MustMarshal(old)
	nextBefore := canonical.MustMarshal(next)

	Diff(old, next)

	assert.Equal(t, string(oldBefore), string(canonical.MustMarshal(old)))
	assert.Equal(t, string(nextBefore), string(canonical.MustMarshal(next)))
}

func TestDiff_Golden(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{
			name: "add_key",
			old:  `{"foo":"bar"}`,
			new:  `{"foo":"bar","baz":"qux"}`,
		},
		{
			name: "nested_mixed",
			old:  `{"a":{"b":1,"c":[1,2,3]},"d":"x","e":true}`,
			new:  `{"a":{"b":2,"c":[1,5]},"e":true,"f":null}`,
		},
		{
			name: "type_change_and_escape",
			old:  `{"a/b":{"x":1},"m~n":[1]}`,
			new:  `{"a/b":[1],"m~n":{"k":"v"}}`,
		},
	}

	g := goldie.New(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := Diff(decode(t, tt.old), decode(t, tt.new))
			g.AssertJson(t, tt.name, ops)
		})
	}
}

func TestOperation_JSON(t *testing.T) {
	t.Run("remove has no value", func(t *testing.T) {
		b, err := json.Marshal(Operation{Op: OpRemove, Path: "/a"})
		require.NoError(t, err)
		assert.JSONEq(t, `{"op":"remove","path":"/a"}`, string(b))
	})

	t.Run("null value is kept", func(t *testing.T) {
		b, err := json.Marshal(Operation{Op: OpReplace, Path: "/a", Value: nil})
		require.NoError(t, err)
		assert.Equal(t, `{"op":"replace","path":"/a","value":null}`, string(b))
	})

	t.Run("decodes a patch", func(t *testing.T) {
		var ops []Operation
		err := json.Unmarshal([]byte(`[{"op":"add","path":"/x","value":{"b":1,"a":2}},{"op":"remove","path":"/y"}]`), &ops)
		require.NoError(t, err)
		require.Len(t, ops, 2)
		assert.Equal(t, OpAdd, ops[0].Op)
		assert.Equal(t, `{"a":2,"b":1}`, string(canonical.MustMarshal(ops[0].Value)))
		assert.Equal(t, Operation{Op: OpRemove, Path: "/y"}, ops[1])
	})

	t.Run("rejects unknown ops", func(t *testing.T) {
		var op Operation
		err := json.Unmarshal([]byte(`{"op":"move","path":"/a","from":"/b"}`), &op)
		assert.Error(t, err)
	})

	t.Run("rejects add without value", func(t *testing.T) {
		var op Operation
		err := json.Unmarshal([]byte(`{"op":"add","path":"/a"}`), &op)
		assert.Error(t, err)
	})
}
