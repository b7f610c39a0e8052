package testutil

import (
	"testing"

	"drift-go/internal/canonical"
)

// Endpoint is a valid endpoint id for tests.
const Endpoint = "0190d6a4-7b7e-7c4e-9c1a-2f0e8b3d5a61"

// OtherEndpoint is a second valid endpoint id.
const OtherEndpoint = "0190d6a4-7b7e-7c4e-9c1a-2f0e8b3d5a62"

// Object decodes a JSON object literal, failing the test if it is not one.
func Object(t *testing.T, s string) map[string]any {
	t.Helper()
	v, err := canonical.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decoding %s: %v", s, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("%s is not a JSON object", s)
	}
	return obj
}

// HashOf returns the content hash of a JSON literal.
func HashOf(t *testing.T, s string) string {
	t.Helper()
	v, err := canonical.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decoding %s: %v", s, err)
	}
	h, err := canonical.Hash(v)
	if err != nil {
		t.Fatalf("hashing %s: %v", s, err)
	}
	return h
}
