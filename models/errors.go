package models

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by ApplicationError. Use errors.Is to classify.
var (
	ErrNotFound          = errors.New("not found")
	ErrAmbiguous         = errors.New("ambiguous match")
	ErrDanglingReference = errors.New("dangling reference")
	ErrValidation        = errors.New("validation failed")
	ErrWrongBaseline     = errors.New("wrong baseline")
)

var errorCodes = map[error]string{
	ErrNotFound:          "not_found",
	ErrAmbiguous:         "ambiguous",
	ErrDanglingReference: "dangling_reference",
	ErrValidation:        "validation",
	ErrWrongBaseline:     "wrong_baseline",
}

// ApplicationError is a business-rule rejection from the repository, such as
// a commit referencing a missing element or a delete of an absent element.
type ApplicationError struct {
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *ApplicationError) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ApplicationError) Unwrap() error { return e.Err }

// NewApplicationError builds an ApplicationError whose cause is one of the
// package sentinels.
func NewApplicationError(op string, cause error, format string, args ...any) *ApplicationError {
	return &ApplicationError{
		Op:      op,
		Code:    CodeOf(cause),
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// ApplicationErrorFromCode rebuilds an ApplicationError received over the
// wire so that errors.Is keeps working on the client side.
func ApplicationErrorFromCode(op, code, message string) *ApplicationError {
	var cause error
	for sentinel, c := range errorCodes {
		if c == code {
			cause = sentinel
			break
		}
	}
	return &ApplicationError{Op: op, Code: code, Message: message, Err: cause}
}

// CodeOf returns the wire code of a sentinel cause, or "application".
func CodeOf(err error) string {
	for sentinel, code := range errorCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "application"
}

// ConnectionError reports a transport or authentication failure.
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsApplicationError reports whether err carries an ApplicationError.
func IsApplicationError(err error) bool {
	var appErr *ApplicationError
	return errors.As(err, &appErr)
}

// IsConnectionError reports whether err carries a ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
