package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// TransportError indicates that the request never produced an HTTP response.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ServerError indicates that the server answered with a non-2xx status.
type ServerError struct {
	StatusCode int
	// ErrorName and Reason are copied from a CouchDB style error body when present
	ErrorName string
	Reason    string
}

func (e *ServerError) Error() string {
	msg := fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	if e.ErrorName != "" {
		msg += ": " + e.ErrorName
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// NewServerError builds a ServerError, extracting error and reason from body if it is JSON.
func NewServerError(statusCode int, body []byte) *ServerError {
	e := &ServerError{StatusCode: statusCode}
	var reply struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if len(body) > 0 && json.Unmarshal(body, &reply) == nil {
		e.ErrorName = reply.Error
		e.Reason = reply.Reason
	}
	return e
}

// MalformedResponseError indicates a 2xx reply whose body could not be decoded.
type MalformedResponseError struct {
	Reason string
	Err    error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed changes response: %s: %v", e.Reason, e.Err)
	}
	return "malformed changes response: " + e.Reason
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by err, or 0 if there is none.
func StatusCode(err error) int {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return serverErr.StatusCode
	}
	return 0
}

// Classification is the outcome of Classify.
type Classification int

const (
	// Recoverable failures are reported and the same cursor is polled again.
	Recoverable Classification = iota
	// Fatal failures stop the reader.
	Fatal
)

func (c Classification) String() string {
	if c == Fatal {
		return "fatal"
	}
	return "recoverable"
}

// Classify decides whether a failed poll should be retried.
// Every transport, server and parse failure is Recoverable, including 4xx
// replies; only cancellation of the reader's context is Fatal.
func Classify(err error) Classification {
	if errors.Is(err, context.Canceled) {
		return Fatal
	}
	return Recoverable
}

// errorKind is used as a metric and span label.
func errorKind(err error) string {
	var (
		transportErr *TransportError
		serverErr    *ServerError
		malformedErr *MalformedResponseError
	)
	switch {
	case errors.As(err, &serverErr):
		return "server"
	case errors.As(err, &malformedErr):
		return "malformed"
	case errors.As(err, &transportErr):
		return "transport"
	default:
		return "other"
	}
}
