package models

import (
	"errors"
	"fmt"
)

var (
	ErrThresholdLocked      = errors.New("vote threshold cannot be changed while voting method is unanimous")
	ErrInvalidIndicatorType = errors.New("invalid indicator type")
	ErrInvalidWeight        = errors.New("weight must be >= 0")
	ErrInvalidMethod        = errors.New("invalid voting method")
	ErrThresholdRange       = errors.New("vote threshold must be within [-1, 1]")
	ErrInvalidWindow        = errors.New("invalid window")
)

// RemoteServiceError wraps any transport or HTTP-level failure from the
// remote strategy service.
type RemoteServiceError struct {
	Op     string
	Status int // 0 when the request never got a response
	Err    error
}

func (e *RemoteServiceError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("strategy service %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("strategy service %s: %v", e.Op, e.Err)
}

// Unwrap returns underlying error.
func (e *RemoteServiceError) Unwrap() error { return e.Err }

// InconsistentStateError is raised locally, before any network call, when an
// operation is invoked in a state that cannot serve it.
type InconsistentStateError struct {
	Op     string
	Reason string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("%s: inconsistent state: %s", e.Op, e.Reason)
}

// NewInconsistentState builds an InconsistentStateError.
func NewInconsistentState(op, format string, a ...interface{}) *InconsistentStateError {
	return &InconsistentStateError{Op: op, Reason: fmt.Sprintf(format, a...)}
}

// IsRemote reports whether err originated from the remote service.
func IsRemote(err error) bool {
	var re *RemoteServiceError
	return errors.As(err, &re)
}

// IsInconsistentState reports whether err is an InconsistentStateError.
func IsInconsistentState(err error) bool {
	var ie *InconsistentStateError
	return errors.As(err, &ie)
}
