package transfer

import (
	"errors"
	"fmt"
)

// URLResolutionError represents a malformed or unresolvable request URL.
type URLResolutionError struct {
	URL string // The URL that failed to parse or resolve
	Err error  // Underlying error, if any
}

func (e *URLResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve url %s", e.URL)
}

func (e *URLResolutionError) Unwrap() error {
	return e.Err
}

// UserMessage returns a short message suitable for a user notification.
func (e *URLResolutionError) UserMessage() string {
	return "Problem determining which server to contact, please report this error."
}

// ConnectError represents a failure to reach the server at all: DNS,
// dial/connect, TLS handshake or timeout before any response was read.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("unable to contact server at %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func (e *ConnectError) UserMessage() string {
	return "Problem contacting the server, please try again later."
}

// ReadError represents a failure while reading the response body.
type ReadError struct {
	URL string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("unable to read server response from %s: %v", e.URL, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

func (e *ReadError) UserMessage() string {
	return "Problem reading the server response, please report this error."
}

// WriteError represents a failure while writing the request body, including
// building or streaming multipart content.
type WriteError struct {
	URL string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("unable to write to server connection %s: %v", e.URL, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

func (e *WriteError) UserMessage() string {
	return "Problem writing to the server connection, please report this error."
}

// StatusError represents a non-2xx response from the server.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string // truncated response body for logs
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server at %s replied %d", e.URL, e.StatusCode)
}

func (e *StatusError) UserMessage() string {
	return fmt.Sprintf("Server replied %d", e.StatusCode)
}

// AuthenticationError represents a failed session handshake. It blocks the
// whole run: nothing downstream can be attempted without a session cookie.
type AuthenticationError struct {
	Operation string
	Err       error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

func (e *AuthenticationError) UserMessage() string {
	return "Problem authenticating with the server, please report this error."
}

// ServerMessageError carries an error message the server itself flagged as
// user-presentable (the userFriendlyErrors field of an upload response).
type ServerMessageError struct {
	Message string
}

func (e *ServerMessageError) Error() string {
	return e.Message
}

func (e *ServerMessageError) UserMessage() string {
	return e.Message
}

// userFacing is implemented by every failure class in this package.
type userFacing interface {
	UserMessage() string
}

// UserMessage extracts a user-presentable message from any error produced by
// a pipeline stage, falling back to a generic message for unknown errors.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var uf userFacing
	if errors.As(err, &uf) {
		return uf.UserMessage()
	}

	return "An unexpected error occurred, please report this."
}
