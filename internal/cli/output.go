package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/contextcore/contextcore/internal/descriptor"
	"github.com/contextcore/contextcore/internal/graph"
	"github.com/contextcore/contextcore/internal/handoff"
	"github.com/contextcore/contextcore/internal/rbac"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and reported failure (handoff failed, timed out, denied)
	ExitCommandError = 2 // bad arguments, unreadable config, unreachable store
)

// ExitError carries the process exit code for an error returned by a
// command.
type ExitError struct {
	Code    int
	Message string
	Err     error
	// Reported marks an outcome the command already printed; Execute only
	// sets the exit code.
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// an *ExitError map to ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// opError wraps an error from a handoff or graph operation, choosing the
// exit code and error code from its type.
func opError(message string, err error) *ExitError {
	code := ExitFailure
	if handoff.IsValidation(err) {
		code = ExitCommandError
	}
	return WrapExitError(code, message, err)
}

func errorCode(err error) string {
	var nf *graph.NodeNotFoundError
	var dv *descriptor.ValidationError
	switch {
	case handoff.IsValidation(err), errors.As(err, &dv):
		return "E_VALIDATION"
	case handoff.IsNotFound(err), errors.As(err, &nf):
		return "E_NOT_FOUND"
	case handoff.IsInvalidTransition(err):
		return "E_INVALID_TRANSITION"
	case handoff.IsTimeout(err):
		return "E_TIMEOUT"
	case errors.Is(err, rbac.ErrDenied):
		return "E_DENIED"
	default:
		return "E_INTERNAL"
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope every command writes in json format.
type CLIResponse struct {
	Status string    `json:"status"`
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success writes data in the configured format. text is what text format
// prints; it may be empty to print nothing.
func (f *OutputFormatter) Success(data any, text string) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}
	if text != "" {
		fmt.Fprintln(f.Writer, text)
	}
	return nil
}

// Error reports err and returns it unchanged so commands can
// `return out.Error(err)`.
func (f *OutputFormatter) Error(err error) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		_ = enc.Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: errorCode(err), Message: err.Error()},
		})
		return err
	}
	fmt.Fprintf(f.errWriter(), "Error [%s]: %v\n", errorCode(err), err)
	return err
}

// VerboseLog writes a diagnostic line when verbose mode is enabled. It
// goes to ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.errWriter(), format+"\n", args...)
}

func (f *OutputFormatter) errWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
