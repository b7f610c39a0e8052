package jsondiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeToken(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a/b", "a~1b"},
		{"m~n", "m~0n"},
		{"~1", "~01"},
		{"/~", "~1~0"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeToken(tt.in), tt.in)
		assert.Equal(t, tt.in, UnescapeToken(tt.want), tt.want)
	}
}

func TestParsePointer(t *testing.T) {
	t.Run("root", func(t *testing.T) {
		tokens, err := ParsePointer("")
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})

	t.Run("escaped tokens", func(t *testing.T) {
		tokens, err := ParsePointer("/a~1b/0/m~0n/")
		require.NoError(t, err)
		assert.Equal(t, []string{"a/b", "0", "m~n", ""}, tokens)
	})

	t.Run("missing leading slash", func(t *testing.T) {
		_, err := ParsePointer("a/b")
		assert.Error(t, err)
	})
}
