// Package canonjson produces deterministic JSON encodings and SHA-256
// fingerprints. Every signature in the gate is computed over
// sha256Hex(canonicalJSON(normalize(value))); any change to this package's
// byte-level output invalidates every previously issued token and quote.
package canonjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// ErrInvalidNumber is returned when a value contains NaN, Infinity, or an
// integer outside the IEEE-754 safe integer range (+/- 2^53-1).
var ErrInvalidNumber = errors.New("canonjson: INVALID_NUMBER")

// ErrTooDeep guards against runaway nesting; acyclic input never reaches it
// in practice, so hitting this is treated as a fatal cycle per the contract.
var ErrTooDeep = errors.New("canonjson: cycle or excessive nesting detected")

const (
	safeMaxInt = int64(1) << 53
	safeMinInt = -(int64(1) << 53)
	maxDepth   = 1000
)

// Marshal returns the canonical JSON encoding of v: UTF-8, no insignificant
// whitespace, object keys sorted by code point, arrays in original order,
// numbers in minimal round-tripping form, and the minimal JSON escape set.
func Marshal(v any) ([]byte, error) {
	norm, err := Normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encodeValue(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SHA256Hex returns the lowercase hex SHA-256 digest of raw bytes.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Hash canonicalizes v and returns sha256Hex(canonicalJSON(v)).
func Hash(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(b), nil
}

// Normalize decomposes v (a struct, map, slice, or already-generic value)
// into the canonical value tree: nil, bool, string, int64, float64,
// map[string]any, or []any. NaN/Infinity and unsafe integers fail with
// ErrInvalidNumber.
func Normalize(v any) (any, error) {
	generic, err := toGeneric(v)
	if err != nil {
		return nil, err
	}
	return normalizeValue(generic, 0)
}

// toGeneric round-trips v through encoding/json with UseNumber so integers
// keep their exact textual form instead of collapsing to float64.
func toGeneric(v any) (any, error) {
	raw, ok := v.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonjson: marshal: %w", err)
		}
		raw = b
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("canonjson: decode: %w", err)
	}
	return out, nil
}

func normalizeValue(v any, depth int) (any, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}

	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return x, nil
	case string:
		return x, nil
	case json.Number:
		return normalizeNumber(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			nv, err := normalizeValue(vv, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			nv, err := normalizeValue(vv, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("canonjson: unsupported type %T", v)
	}
}

func normalizeNumber(n json.Number) (any, error) {
	s := string(n)
	if isFloatLiteral(s) {
		f, err := n.Float64()
		if err != nil {
			return nil, ErrInvalidNumber
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrInvalidNumber
		}
		return f, nil
	}

	i, err := n.Int64()
	if err != nil {
		return nil, ErrInvalidNumber
	}
	if i > safeMaxInt || i < safeMinInt {
		return nil, ErrInvalidNumber
	}
	return i, nil
}

func isFloatLiteral(s string) bool {
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'E' {
			return true
		}
	}
	return false
}

func encodeValue(buf *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case string:
		encodeString(buf, x)
	case int64:
		buf.WriteString(strconv.FormatInt(x, 10))
	case float64:
		buf.WriteString(formatCanonicalFloat(x))
	case map[string]any:
		return encodeObject(buf, x)
	case []any:
		return encodeArray(buf, x)
	default:
		return fmt.Errorf("canonjson: unsupported normalized type %T", v)
	}
	return nil
}

func encodeObject(buf *bytes.Buffer, m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // byte-wise ordering on valid UTF-8 == code point ordering

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		encodeString(buf, k)
		buf.WriteByte(':')
		if err := encodeValue(buf, m[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func encodeArray(buf *bytes.Buffer, arr []any) error {
	buf.WriteByte('[')
	for i, v := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(buf, v); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

// encodeString writes a JSON string using the minimal escape set: quote,
// backslash, and control characters. No HTML-safety escaping is applied.
func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				fmt.Fprintf(buf, `\u%04x`, r)
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

// formatCanonicalFloat renders f in the minimal form that round-trips: no
// trailing zeros, no '+' exponent sign artifacts beyond what Go's shortest
// round-trip formatter already omits, no leading "+0".
func formatCanonicalFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
