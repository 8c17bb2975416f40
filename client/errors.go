package client

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrAmbiguousArtieID is returned when no Artie ID was given and the cluster knows several.
	ErrAmbiguousArtieID = errors.New("more than one Artie found, specify an Artie ID")
	// ErrUnknownService is returned for services missing from the registry.
	ErrUnknownService = errors.New("unknown service")
)

// TransportError is a failure to reach a service, as opposed to an error the service returned.
type TransportError struct {
	Service Service
	Address string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("cannot reach %s at %s: %v", e.Service, e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the caller's deadline, or a health wait, expires.
type TimeoutError struct {
	Service Service
	Address string
	// Timeout is the health wait that expired, or zero when the caller's context ended.
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s at %s not online after %v: %v", e.Service, e.Address, e.Timeout, e.Err)
	}
	return fmt.Sprintf("call to %s at %s timed out: %v", e.Service, e.Address, e.Err)
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// CallError is returned when every attempt of a call failed to reach the service.
type CallError struct {
	Service  Service
	Command  string
	Attempts int
	Last     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Service, e.Command, e.Attempts, e.Last)
}

// Unwrap returns the error of the last attempt.
func (e *CallError) Unwrap() error {
	return e.Last
}
