package remote

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPushUnsupported is returned by Subscribe on poll-only backends.
	ErrPushUnsupported = errors.New("push subscription not supported by backend")

	// ErrStreamClosed is reported when the backend closed the push channel.
	ErrStreamClosed = errors.New("push stream closed")
)

// ClientError is an unambiguous rejection of a request as sent: unknown
// entity, invalid value, unauthorized. Retrying cannot change the outcome.
type ClientError struct {
	Status int
	Msg    string
	Err    error
}

func (e *ClientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("client error %d: %s", e.Status, e.Msg)
	}
	return "client error: " + e.Msg
}

func (e *ClientError) Unwrap() error { return e.Err }

// NewClientError builds a ClientError with an HTTP-like status.
func NewClientError(status int, msg string) error {
	return &ClientError{Status: status, Msg: msg}
}

// AsClientError wraps err as a client error.
func AsClientError(err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{Msg: err.Error(), Err: err}
}

// IsClientError reports whether err (or anything it wraps) is a client error.
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// StatusError classifies an HTTP status code: 4xx becomes a ClientError,
// anything else >= 300 a plain (transient) error. Returns nil for 2xx.
func StatusError(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return NewClientError(status, bodyOrText(status, body))
	default:
		return fmt.Errorf("server error %d: %s", status, bodyOrText(status, body))
	}
}

func bodyOrText(status int, body string) string {
	if body != "" {
		return body
	}
	return http.StatusText(status)
}
