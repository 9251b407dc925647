// Package payload models the loosely typed field data saved with each record
// version.
//
// A record payload is an Object: a mapping from template-defined field ids
// to variant values. The variants form a sealed set:
//
//   - Null
//   - String
//   - Number (the JSON numeric literal, kept verbatim)
//   - Bool
//   - Array
//   - Object
//
// Templates evolve between versions, so nothing here assumes a fixed schema.
//
// # Canonical text
//
// Canonical produces a normalized JSON rendering used for equality: object
// keys sorted by UTF-16 code units, strings NFC normalized, HTML escaping
// disabled, numbers rewritten to a single spelling (1, 1.0 and 1e0 agree).
// Two values are Equal when their canonical texts match. An absent field and
// an explicit null share the same canonical text; the empty string does not.
//
// Text produces the display rendering: strings verbatim, null and absent as
// "", containers as canonical JSON.
package payload
