package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// Canonical returns the canonical JSON text of v. A nil Value (an absent
// field) and Null both canonicalize to "null".
func Canonical(v Value) string {
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	return buf.String()
}

// Equal reports whether a and b have the same canonical text.
func Equal(a, b Value) bool {
	return Canonical(a) == Canonical(b)
}

// Text returns the display text of v: strings verbatim, absent and null as
// the empty string, containers as canonical JSON.
func Text(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return ""
	case String:
		return string(val)
	case Number:
		return string(val)
	case Bool:
		if val {
			return "true"
		}
		return "false"
	default:
		return Canonical(v)
	}
}

// IsEmpty reports whether v displays as no value.
func IsEmpty(v Value) bool {
	return Text(v) == ""
}

func writeCanonical(buf *bytes.Buffer, v Value) {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		buf.Write(canonicalString(string(val)))
	case Number:
		buf.WriteString(canonicalNumber(string(val)))
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Array:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeCanonical(buf, elem)
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		for i, k := range canonicalKeys(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(canonicalString(k))
			buf.WriteByte(':')
			writeCanonical(buf, val[k])
		}
		buf.WriteByte('}')
	default:
		fmt.Fprintf(buf, "%q", fmt.Sprintf("%T", v))
	}
}

// canonicalKeys sorts keys after NFC normalization so that differently
// composed spellings of the same key land in the same position. Keys that
// normalize alike are all kept, ordered by their raw spelling.
func canonicalKeys(obj Object) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := compareKeysUTF16(norm.NFC.String(a), norm.NFC.String(b)); c != 0 {
			return c
		}
		return compareKeysUTF16(a, b)
	})
	return keys
}

// canonicalString encodes s as a JSON string after NFC normalization, with
// HTML escaping disabled.
func canonicalString(s string) []byte {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(norm.NFC.String(s))

	out := buf.Bytes()
	if len(out) > 0 && out[len(out)-1] == '\n' {
		out = out[:len(out)-1]
	}
	return out
}

// canonicalNumber rewrites a numeric literal to one spelling: integers
// (including integral decimals) in base-10 without exponent, everything
// else as the shortest float64 representation.
func canonicalNumber(s string) string {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e18 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
