package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/recstore/internal/lock"
	"github.com/roach88/recstore/internal/storeerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Store refused the operation (not found, conflict, corrupt data, I/O)
	ExitCommandError = 2 // Command error (bad flags, invalid input, store locked)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote its outcome, so
	// Execute only sets the exit code.
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// storeFailure wraps a store error, choosing the exit code from its kind.
// Validation errors are the caller's fault and exit like a bad flag.
func storeFailure(message string, err error) *ExitError {
	code := ExitFailure
	if errors.Is(err, storeerr.ErrValidation) {
		code = ExitCommandError
	}
	return WrapExitError(code, message, err)
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ErrorCode maps an error onto the stable code reported in JSON output.
func ErrorCode(err error) string {
	if errors.Is(err, lock.ErrLocked) {
		return "E_LOCKED"
	}
	switch storeerr.KindOf(err) {
	case storeerr.KindNotFound:
		return "E_NOT_FOUND"
	case storeerr.KindConflict:
		return "E_CONFLICT"
	case storeerr.KindCorrupt:
		return "E_CORRUPT"
	case storeerr.KindIO:
		return "E_IO"
	case storeerr.KindValidation:
		return "E_VALIDATION"
	}
	if GetExitCode(err) == ExitCommandError {
		return "E_USAGE"
	}
	return "E_INTERNAL"
}

// errorDetails exposes the structured fields of a store error.
func errorDetails(err error) map[string]any {
	var se *storeerr.Error
	if !errors.As(err, &se) {
		return nil
	}
	details := map[string]any{"op": se.Op}
	if se.TemplateID != "" {
		details["template_id"] = se.TemplateID
	}
	if se.RecordID != "" {
		details["record_id"] = se.RecordID
	}
	if se.Version != 0 {
		details["version"] = se.Version
	}
	if se.Stage != "" {
		details["stage"] = se.Stage
	}
	details["retryable"] = se.Retryable()
	return details
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status      string    `json:"status"`                 // "ok" or "error"
	Data        any       `json:"data,omitempty"`         // success payload
	Error       *CLIError `json:"error,omitempty"`        // error details
	OperationID string    `json:"operation_id,omitempty"` // set by mutating commands
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E_NOT_FOUND", "E_CONFLICT", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// JSON writes a success envelope. Text commands render their own output.
func (f *OutputFormatter) JSON(data any, operationID string) error {
	return f.encode(CLIResponse{Status: "ok", Data: data, OperationID: operationID})
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Failure reports err with its code and details.
func (f *OutputFormatter) Failure(err error) error {
	return f.Error(ErrorCode(err), err.Error(), errorDetails(err))
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
