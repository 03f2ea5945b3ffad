package location

import (
	"errors"
	"fmt"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrLocationDenied      = errors.New("location permission denied")
	ErrLocationTimeout     = errors.New("location request timed out")
	ErrInvalidCoordinate   = errors.New("invalid coordinate")
	ErrGeocode             = errors.New("reverse geocoding failed")
	ErrNotFound            = errors.New("not found")
	ErrOutOfOrder          = errors.New("fix captured before the stored one")
)

// Reason classifies a failed location acquisition.
type Reason string

const (
	ReasonUnavailable Reason = "unavailable"
	ReasonDenied      Reason = "denied"
	ReasonTimeout     Reason = "timeout"
)

func (r Reason) sentinel() error {
	switch r {
	case ReasonDenied:
		return ErrLocationDenied
	case ReasonTimeout:
		return ErrLocationTimeout
	default:
		return ErrLocationUnavailable
	}
}

// Retryable reports whether calling again may succeed without changing device or permissions.
func (r Reason) Retryable() bool { return r == ReasonTimeout }

// LocationError is returned by one-shot acquisitions. errors.Is matches the
// sentinel for its Reason as well as the wrapped provider error.
type LocationError struct {
	Reason Reason
	Err    error
}

func (e *LocationError) Error() string {
	if e.Err == nil || e.Err == e.Reason.sentinel() {
		return e.Reason.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason.sentinel(), e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

func (e *LocationError) Is(target error) bool {
	return target == e.Reason.sentinel()
}

// TrackingProviderError is delivered to a session's error callback. It never ends the session.
type TrackingProviderError struct {
	SessionID string
	Reason    Reason
	Err       error
}

func (e *TrackingProviderError) Error() string {
	return fmt.Sprintf("tracking session %s: %s: %v", e.SessionID, e.Reason, e.Err)
}

func (e *TrackingProviderError) Unwrap() error { return e.Err }

// classify maps a provider error onto a Reason. Unknown errors count as unavailable.
func classify(err error) Reason {
	switch {
	case errors.Is(err, ErrLocationDenied):
		return ReasonDenied
	case errors.Is(err, ErrLocationTimeout):
		return ReasonTimeout
	default:
		return ReasonUnavailable
	}
}
