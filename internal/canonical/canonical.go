// Package canonical produces the canonical JSON form used for content
// hashing, equality and similarity scoring of snapshot documents.
//
// Two documents with the same logical content always produce the same bytes:
// object keys are sorted recursively, arrays keep their order, insignificant
// whitespace is dropped, HTML characters are not escaped and numbers are
// normalized so that 1, 1.0 and 1e0 are the same value.
package canonical

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Decode parses a single JSON value, keeping numbers as json.Number so that
// no precision is lost before canonicalization.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decoding json: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decoding json: unexpected data after top-level value")
	}
	return v, nil
}

// Marshal returns the canonical JSON encoding of v.
//
// v must be built from the types produced by Decode (map[string]any, []any,
// string, json.Number, bool, nil). Go numeric types are accepted as well so
// documents assembled in code canonicalize like their parsed equivalent.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := write(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustMarshal is Marshal for values known to be canonicalizable.
func MustMarshal(v any) []byte {
	b, err := Marshal(v)
	if err != nil {
		panic("canonical: " + err.Error())
	}
	return b
}

// Equal reports whether a and b have the same canonical form. Values that
// cannot be canonicalized are never equal.
func Equal(a, b any) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func write(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		return writeString(buf, val)
	case json.Number:
		n, err := normalizeNumber(string(val))
		if err != nil {
			return err
		}
		buf.WriteString(n)
	case float64:
		return writeFloat(buf, val)
	case float32:
		return writeFloat(buf, float64(val))
	case int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
	case int32:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case uint64:
		buf.WriteString(strconv.FormatUint(val, 10))
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := write(buf, val[k]); err != nil {
				return fmt.Errorf("%q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical json: %T", v)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encoder terminates every value with a newline.
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("non-finite number %v has no json representation", f)
	}
	buf.WriteString(formatFloat(f))
	return nil
}

// normalizeNumber rewrites a JSON number literal into its canonical form.
// Plain integer literals are kept digit for digit (they may exceed int64);
// fractional or exponent forms go through float64.
func normalizeNumber(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty number literal")
	}
	if !strings.ContainsAny(s, ".eE") {
		if !isIntegerLiteral(s) {
			return "", fmt.Errorf("invalid number literal %q", s)
		}
		if s == "-0" {
			return "0", nil
		}
		return s, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return "", fmt.Errorf("invalid number literal %q: %w", s, err)
	}
	return formatFloat(f), nil
}

func isIntegerLiteral(s string) bool {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatFloat(f float64) string {
	if f == 0 {
		return "0"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
