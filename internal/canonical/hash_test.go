package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_KeyOrderIndependent(t *testing.T) {
	docs := []string{
		`{"foo":1,"bar":{"x":true,"y":[1,2,3]},"baz":"qux"}`,
		`{"baz":"qux","bar":{"y":[1,2,3],"x":true},"foo":1}`,
		`{
			"bar": {"x": true, "y": [1, 2, 3]},
			"foo": 1.0,
			"baz": "qux"
		}`,
	}

	var hashes []string
	for _, raw := range docs {
		v, err := Decode([]byte(raw))
		require.NoError(t, err)
		h, err := Hash(v)
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	for i := 1; i < len(hashes); i++ {
		assert.Equal(t, hashes[0], hashes[i], "document %d hashed differently", i)
	}
}

func TestHash_ArrayOrderMatters(t *testing.T) {
	h1, err := Hash([]any{1, 2})
	require.NoError(t, err)
	h2, err := Hash([]any{2, 1})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestHash_TypesMatter(t *testing.T) {
	h1, err := Hash(map[string]any{"v": "1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"v": 1})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
}

func TestHash_Format(t *testing.T) {
	h, err := Hash(map[string]any{})
	require.NoError(t, err)

	// SHA-256 of "{}".
	assert.Equal(t, "44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a", h)
	assert.Len(t, h, 64)
}
