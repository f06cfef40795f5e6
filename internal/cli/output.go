package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"

	"github.com/roach88/novel/internal/errs"
)

// Exit codes for CLI commands.
const (
	ExitSuccess     = 0 // Successful execution
	ExitUnexpected  = 1 // I/O failure, bug, anything that is not a domain error
	ExitDomainError = 2 // Validation, precondition, policy or concurrency error
)

// ExitError represents an error with a specific exit code.
// The error has already been reported to the user when it is returned.
type ExitError struct {
	Code    int    // Exit code (use ExitUnexpected or ExitDomainError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Domain errors map to
// ExitDomainError; anything else is ExitUnexpected.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	if errs.IsDomain(err) {
		return ExitDomainError
	}
	return ExitUnexpected
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Command   string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the single JSON object every command prints with --json.
type CLIResponse struct {
	OK      bool      `json:"ok"`
	Command string    `json:"command"`
	Data    any       `json:"data,omitempty"`
	Error   *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Kind    string            `json:"kind"`              // "validation", "precondition", ..., or "internal"
	Message string            `json:"message"`           // human-readable message
	Details map[string]string `json:"details,omitempty"` // expected/actual, lock holder, paths
	// Warnings collected before the failure, such as rollback steps that
	// could not be undone.
	Warnings []string `json:"warnings,omitempty"`
}

var (
	okLabel   = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnLabel = color.New(color.FgYellow, color.Bold).SprintFunc()
	errLabel  = color.New(color.FgRed, color.Bold).SprintFunc()
)

// Success outputs a successful result. In text mode text renders the human
// form; a nil text prints nothing beyond the warnings.
func (f *OutputFormatter) Success(data any, warnings []string, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{OK: true, Command: f.Command, Data: data})
	}
	if text != nil {
		text(f.Writer)
	}
	for _, w := range warnings {
		fmt.Fprintf(f.Writer, "%s %s\n", warnLabel("WARN"), w)
	}
	return nil
}

// Error reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Error(err error) error {
	return f.ErrorWithWarnings(err, nil)
}

// ErrorWithWarnings is Error for commands that collected warnings before
// failing. They are part of the JSON error object and follow the error line
// in text mode.
func (f *OutputFormatter) ErrorWithWarnings(err error, warnings []string) error {
	cliErr := &CLIError{Kind: "internal", Message: err.Error(), Warnings: warnings}
	if de, ok := errs.As(err); ok {
		cliErr.Kind = string(de.Kind)
		cliErr.Message = de.Message
		if de.Err != nil {
			cliErr.Message += ": " + de.Err.Error()
		}
		cliErr.Details = de.Details
	}

	if f.Format == "json" {
		if encErr := f.encode(CLIResponse{OK: false, Command: f.Command, Error: cliErr}); encErr != nil {
			return encErr
		}
	} else {
		fmt.Fprintf(f.Writer, "%s [%s] %s\n", errLabel("ERROR"), cliErr.Kind, cliErr.Message)
		keys := make([]string, 0, len(cliErr.Details))
		for k := range cliErr.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(f.Writer, "  %s: %s\n", k, cliErr.Details[k])
		}
		for _, w := range warnings {
			fmt.Fprintf(f.Writer, "%s %s\n", warnLabel("WARN"), w)
		}
	}
	return WrapExitError(GetExitCode(err), f.Command+" failed", err)
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// Done prints the green OK line used by mutating commands.
func (f *OutputFormatter) Done(format string, args ...any) {
	fmt.Fprintf(f.Writer, "%s %s\n", okLabel("OK"), fmt.Sprintf(format, args...))
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
