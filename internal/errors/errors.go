package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for categorizing failures across the fleet engine.
const (
	ErrConfig            = "CONFIG"
	ErrSSH               = "SSH"
	ErrExec              = "EXEC"
	ErrConnectTimeout    = "CONNECT_TIMEOUT"
	ErrAuth              = "AUTH"
	ErrUnsupportedOS     = "UNSUPPORTED_OS"
	ErrInstall           = "INSTALL"
	ErrProcessList       = "PROCESS_LIST"
	ErrCommandAckTimeout = "COMMAND_ACK_TIMEOUT"
	ErrRegistration      = "REGISTRATION_TIMEOUT"
	ErrHostNotFound      = "HOST_NOT_FOUND"
)

// Error is a structured error carrying a code, a human message, an optional
// suggestion, and the host/operation it relates to. Components translate raw
// transport errors into this type at their boundary so callers never see a
// bare SSH or websocket error.
type Error struct {
	Code       string
	Message    string
	Suggestion string
	HostID     string
	Op         string
	Cause      error
}

// New creates a structured error with the given code, message, and suggestion.
func New(code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrSSH code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrSSH,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// WithHost annotates the error with the host it concerns and returns it.
func (e *Error) WithHost(hostID string) *Error {
	e.HostID = hostID
	return e
}

// WithOp annotates the error with the operation that failed and returns it.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(e.Message)
	if e.HostID != "" || e.Op != "" {
		b.WriteString(" (")
		if e.HostID != "" {
			b.WriteString("host " + e.HostID)
			if e.Op != "" {
				b.WriteString(", ")
			}
		}
		if e.Op != "" {
			b.WriteString("op " + e.Op)
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(": " + e.Cause.Error())
	}
	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf returns the code of a structured error, or empty string.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// HostNotFound builds the canonical lookup-failure error for a host id.
func HostNotFound(hostID string) *Error {
	return &Error{
		Code:    ErrHostNotFound,
		Message: fmt.Sprintf("host %s not found", hostID),
		HostID:  hostID,
	}
}
