package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrTransientVenue marks failures worth retrying: timeouts, 429s, 5xx.
	ErrTransientVenue = errors.New("transient venue error")
	// ErrPermanentVenue marks failures that will not heal: malformed symbols,
	// other 4xx responses. The symbol is dropped for the session.
	ErrPermanentVenue = errors.New("permanent venue error")
)

// VenueError carries the context of a failed exchange call and wraps one of
// the two error kinds so callers can branch with errors.Is.
type VenueError struct {
	Venue    string
	Endpoint string
	Status   int
	Kind     error
	Err      error
}

func (e *VenueError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Venue, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Venue, e.Endpoint, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Kind }

// Retryable reports whether the wrapped failure is worth another attempt.
func (e *VenueError) Retryable() bool { return errors.Is(e.Kind, ErrTransientVenue) }

// classifyStatus maps an HTTP status to an error kind. 429 is rate pressure,
// not a client bug, so it stays transient.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusTooManyRequests:
		return ErrTransientVenue
	case status >= 400 && status < 500:
		return ErrPermanentVenue
	default:
		return ErrTransientVenue
	}
}

// wrapTransport classifies a transport-level failure (no HTTP status) as
// transient: timeouts, resets and refused connections may all heal. Context
// cancellation passes through untouched so shutdown stays clean.
func wrapTransport(venue, endpoint string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var nerr net.Error
		if !errors.As(err, &nerr) {
			return err
		}
	}
	return &VenueError{Venue: venue, Endpoint: endpoint, Kind: ErrTransientVenue, Err: err}
}

// wrapStatus builds a VenueError from an HTTP response status.
func wrapStatus(venue, endpoint string, status int, err error) error {
	return &VenueError{Venue: venue, Endpoint: endpoint, Status: status, Kind: classifyStatus(status), Err: err}
}
