package telemetry

import (
	"errors"
	"net/http"
)

// Client input errors. Responses name the category of the problem, not the offending field.
var (
	ErrNoData         = errors.New("no data provided")
	ErrInvalidFormat  = errors.New("invalid data format")
	ErrInvalidNumeric = errors.New("invalid numeric values")
)

// ErrInvalidCredentials is returned when a login does not verify.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Client-facing messages.
const (
	msgNoData             = "No data provided"
	msgInvalidFormat      = "Invalid data format"
	msgInvalidNumeric     = "Invalid numeric values"
	msgInvalidCredentials = "Invalid credentials"
	msgInternal           = "Internal server error"
)

// InternalError wraps an unexpected failure while parsing or storing. Clients only ever see a
// generic message for it; the cause is kept for logs.
type InternalError struct {
	Err error
	Op  string
}

func (e *InternalError) Error() string {
	if e.Op == "" {
		return "internal error: " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Internal wraps err as an InternalError for operation op. A nil err stays nil.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InternalError
	if errors.As(err, &ie) {
		return err
	}
	return &InternalError{Op: op, Err: err}
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoData) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrInvalidNumeric)
}

// StatusCode maps an error to the HTTP status of the response carrying it.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the client-facing text for err.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoData):
		return msgNoData
	case errors.Is(err, ErrInvalidFormat):
		return msgInvalidFormat
	case errors.Is(err, ErrInvalidNumeric):
		return msgInvalidNumeric
	case errors.Is(err, ErrInvalidCredentials):
		return msgInvalidCredentials
	default:
		return msgInternal
	}
}
