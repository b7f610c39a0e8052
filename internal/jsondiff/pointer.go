package jsondiff

import (
	"fmt"
	"strings"
)

var (
	tokenEscaper   = strings.NewReplacer("~", "~0", "/", "~1")
	tokenUnescaper = strings.NewReplacer("~1", "/", "~0", "~")
)

// EscapeToken escapes a single JSON Pointer reference token (RFC 6901).
func EscapeToken(s string) string {
	return tokenEscaper.Replace(s)
}

// UnescapeToken reverses EscapeToken.
func UnescapeToken(s string) string {
	return tokenUnescaper.Replace(s)
}

// ParsePointer splits a JSON Pointer into unescaped reference tokens.
// The empty pointer refers to the whole document and yields no tokens.
func ParsePointer(p string) ([]string, error) {
	if p == "" {
		return nil, nil
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("invalid json pointer %q: must start with '/'", p)
	}
	parts := strings.Split(p[1:], "/")
	for i, part := range parts {
		parts[i] = UnescapeToken(part)
	}
	return parts, nil
}
