package veyon

import (
	"errors"
	"fmt"
)

// Protocol error codes reported by the WebAPI in {"error": {"code": N}}.
const (
	// CodeNone means no protocol-specific code; the failure is transport level
	CodeNone = 0

	// CodeInvalidConnection means the connection uid is no longer accepted.
	// It is terminal for the Session.
	CodeInvalidConnection = 2

	// CodeAuthFailed means the credentials were rejected. It is terminal
	// for the connection attempt.
	CodeAuthFailed = 6
)

// ErrClosed is returned by scoped calls on a Session that has been destroyed.
// No request is issued in that case.
var ErrClosed = errors.New("veyon: session closed")

// APIError is the single error shape for every call that crosses the Relay.
// HTTPStatus is 0 when no response was obtained at all.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

// NewAPIError creates an APIError
func NewAPIError(httpStatus int, message string, code int) *APIError {
	return &APIError{HTTPStatus: httpStatus, Code: code, Message: message}
}

func (e *APIError) Error() string {
	if e.HTTPStatus == 0 {
		return fmt.Sprintf("veyon: transport failure: %s", e.Message)
	}
	return fmt.Sprintf("veyon: %s (status %d, code %d)", e.Message, e.HTTPStatus, e.Code)
}

// IsTerminal reports whether the error invalidates the Session or connection
// attempt it was raised for
func (e *APIError) IsTerminal() bool {
	return e.Code == CodeInvalidConnection || e.Code == CodeAuthFailed
}

// DefectError reports a response the client cannot interpret: an undeclared
// content type on success, or an error body that is not the documented JSON
// shape. It is not part of the recoverable taxonomy.
type DefectError struct {
	HTTPStatus  int
	ContentType string
	Reason      string
}

func (e *DefectError) Error() string {
	return fmt.Sprintf("veyon: malformed response (status %d, content-type %q): %s", e.HTTPStatus, e.ContentType, e.Reason)
}

func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsSessionInvalid reports whether err carries CodeInvalidConnection
func IsSessionInvalid(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == CodeInvalidConnection
}

// IsAuthRejected reports whether err carries CodeAuthFailed
func IsAuthRejected(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.Code == CodeAuthFailed
}

// IsTerminal reports whether err is a terminal protocol failure
func IsTerminal(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.IsTerminal()
}

// IsTransport reports whether err is a failure to obtain any response
func IsTransport(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.HTTPStatus == 0
}

// IsDefect reports whether err is a malformed-response defect
func IsDefect(err error) bool {
	var d *DefectError
	return errors.As(err, &d)
}
