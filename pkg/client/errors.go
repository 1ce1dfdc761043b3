package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pojntfx/tremote/pkg/trust"
)

var (
	ErrSessionConflict    = errors.New("session id conflict")
	ErrUnauthorized       = errors.New("daemon rejected credentials")
	ErrMalformedRequest   = errors.New("daemon rejected request")
	ErrServerUnavailable  = errors.New("daemon unavailable")
	ErrTagMismatch        = errors.New("response tag does not match request")
	ErrEmptyUpdate        = errors.New("session update has no fields set")
	ErrInvalidAddRequest  = errors.New("torrent-add needs exactly one of filename or metainfo")
	ErrUnsupportedAction  = errors.New("unsupported torrent action")
	ErrMissingIDs         = errors.New("no torrent ids given")
	ErrIncompatibleServer = errors.New("daemon rpc version is not supported")
	// ErrCacheWrite marks errors that came with a fresh result which could
	// not be cached.
	ErrCacheWrite         = errors.New("could not update offline cache")
)

// HTTPError is a non-200 answer from the daemon.
type HTTPError struct {
	Method     string
	StatusCode int
	Status     string
	// SessionID is the token the daemon sent along with a 409.
	SessionID string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("could not call %s: daemon returned %s", e.Method, e.Status)
}

func (e *HTTPError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusConflict:
		return ErrSessionConflict
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case e.StatusCode == http.StatusTooManyRequests, e.StatusCode >= 500:
		return ErrServerUnavailable
	default:
		return ErrMalformedRequest
	}
}

// TransportError is a failure below HTTP: dialing, TLS or reading the body.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("could not reach daemon for %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth another attempt.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var security *trust.SecurityError
	if errors.As(err, &security) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrSessionConflict) || errors.Is(err, ErrServerUnavailable) {
		return true
	}

	var transport *TransportError

	return errors.As(err, &transport)
}

// IsOffline reports whether err means the daemon could not be reached, as
// opposed to the daemon or a human rejecting the request.
func IsOffline(err error) bool {
	if !IsTransient(err) {
		return false
	}

	return !errors.Is(err, ErrSessionConflict)
}
