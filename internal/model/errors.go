package model

import (
	"errors"
	"fmt"
)

// Error taxonomy. Lower layers wrap these with fmt.Errorf("...: %w") so that
// callers can classify failures with errors.Is regardless of the context
// added along the way.
var (
	// ErrPortScanExhausted means no free port was found between the start
	// port and the scanner's upper bound on a host.
	ErrPortScanExhausted = errors.New("no free port found in scan range")

	// ErrHostUnavailable means the host cannot be resolved or bound to at
	// all, so no port on it will ever be free.
	ErrHostUnavailable = errors.New("host unavailable")

	// ErrInvalidPort means a requested port number is outside 1-65535.
	ErrInvalidPort = errors.New("invalid port")

	// ErrNoConsensus means the candidate hosts kept reporting different
	// free ports for the configured number of rounds.
	ErrNoConsensus = errors.New("candidate hosts did not agree on a free port")

	// ErrProxyURLMissingScheme means --proxy does not start with http: or https:.
	ErrProxyURLMissingScheme = errors.New("proxy URL missing scheme")

	// ErrDockerUnavailable means the Docker daemon could not be located or
	// did not answer. Published-port reservations are skipped.
	ErrDockerUnavailable = errors.New("docker daemon unavailable")

	// ErrElevationDenied means the platform privilege check refused to
	// continue.
	ErrElevationDenied = errors.New("elevated privileges required")
)

// ExitCode defines standard CLI exit codes.
// These codes allow scripts and CI systems to programmatically determine
// the outcome of a command.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred.
	ExitGeneralError ExitCode = 1

	// ExitInvalidInput indicates a flag or rc file value was rejected.
	ExitInvalidInput ExitCode = 2

	// ExitPortAllocationFailed indicates no usable port could be resolved.
	ExitPortAllocationFailed ExitCode = 3

	// ExitHostUnavailable indicates a requested host cannot be bound.
	ExitHostUnavailable ExitCode = 4

	// ExitElevationDenied indicates the privilege check failed.
	ExitElevationDenied ExitCode = 5

	// ExitConfigError indicates the project or rc configuration could not
	// be loaded.
	ExitConfigError ExitCode = 6

	// ExitServeFailed indicates the serve task itself failed.
	ExitServeFailed ExitCode = 7
)

// ExitCodeFor maps an error to the exit code the process should return.
// CLIError codes win; otherwise the sentinel taxonomy is consulted.
func ExitCodeFor(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr.Code
	}

	switch {
	case errors.Is(err, ErrProxyURLMissingScheme), errors.Is(err, ErrInvalidPort):
		return ExitInvalidInput
	case errors.Is(err, ErrPortScanExhausted), errors.Is(err, ErrNoConsensus):
		return ExitPortAllocationFailed
	case errors.Is(err, ErrHostUnavailable):
		return ExitHostUnavailable
	case errors.Is(err, ErrElevationDenied):
		return ExitElevationDenied
	default:
		return ExitGeneralError
	}
}

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error

	// Silent errors are reported with Message alone. Used for input
	// validation, where the message already tells the user what to do.
	Silent bool
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil && !e.Silent {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}

// NewSilentError creates a CLIError that prints only message but still
// matches err with errors.Is.
func NewSilentError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err, Silent: true}
}
