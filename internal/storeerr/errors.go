// Package storeerr defines the error taxonomy shared by every layer of the
// record store.
//
// All failures that cross a package boundary are reported as *Error. The
// Kind field selects one of five categories:
//
//   - NotFound: missing document, version, or blob
//   - Conflict: version-sequence violation or a blob that would be overwritten
//   - Corrupt: a blob or snapshot that fails to parse or verify
//   - IO: filesystem failure during read or write
//   - Validation: malformed input (empty identifiers, bad paths, ...)
//
// Callers match categories with errors.Is against the sentinel values:
//
//	if errors.Is(err, storeerr.ErrNotFound) { ... }
package storeerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes store errors.
type Kind string

const (
	KindNotFound   Kind = "NOT_FOUND"
	KindConflict   Kind = "CONFLICT"
	KindCorrupt    Kind = "CORRUPT"
	KindIO         Kind = "IO"
	KindValidation Kind = "VALIDATION"
)

// Sentinel errors for errors.Is matching. A *Error matches the sentinel of
// its Kind.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrCorrupt    = errors.New("corrupt")
	ErrIO         = errors.New("io failure")
	ErrValidation = errors.New("validation failed")
)

var sentinels = map[Kind]error{
	KindNotFound:   ErrNotFound,
	KindConflict:   ErrConflict,
	KindCorrupt:    ErrCorrupt,
	KindIO:         ErrIO,
	KindValidation: ErrValidation,
}

// Error is a categorized failure with enough context to act on.
type Error struct {
	// Kind identifies the error category.
	Kind Kind

	// Op names the operation that failed (e.g. "save", "read blob").
	Op string

	// TemplateID and RecordID identify the affected record, when known.
	TemplateID string
	RecordID   string

	// Version is the affected version number, 0 when not applicable.
	Version int

	// Stage is the save-protocol stage that failed to complete, if any.
	Stage string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause (optional).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}

	var ctx []string
	if e.TemplateID != "" {
		ctx = append(ctx, "template="+e.TemplateID)
	}
	if e.RecordID != "" {
		ctx = append(ctx, "record="+e.RecordID)
	}
	if e.Version > 0 {
		ctx = append(ctx, fmt.Sprintf("version=%d", e.Version))
	}
	if e.Stage != "" {
		ctx = append(ctx, "stage="+e.Stage)
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, ", "))
		b.WriteString(")")
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e's Kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// Retryable reports whether the caller may retry the operation unchanged.
// Only IO failures are retryable; the core never retries on its own.
func (e *Error) Retryable() bool {
	return e.Kind == KindIO
}

// New creates an Error of the given kind.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates an Error of the given kind around a cause.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFound creates a NotFound error.
func NotFound(op, format string, args ...any) *Error {
	return New(KindNotFound, op, fmt.Sprintf(format, args...))
}

// Conflict creates a Conflict error.
func Conflict(op, format string, args ...any) *Error {
	return New(KindConflict, op, fmt.Sprintf(format, args...))
}

// Corrupt wraps a parse or verification failure.
func Corrupt(op string, err error) *Error {
	return Wrap(KindCorrupt, op, err)
}

// IO wraps a filesystem failure.
func IO(op string, err error) *Error {
	return Wrap(KindIO, op, err)
}

// Validation creates a Validation error.
func Validation(op, format string, args ...any) *Error {
	return New(KindValidation, op, fmt.Sprintf(format, args...))
}

// WithRecord attaches record identity and returns e for chaining.
func (e *Error) WithRecord(templateID, recordID string, version int) *Error {
	e.TemplateID = templateID
	e.RecordID = recordID
	e.Version = version
	return e
}

// WithStage attaches the save stage and returns e for chaining.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retryable *Error.
func IsRetryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}
