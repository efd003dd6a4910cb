package syncstate

import (
	"errors"
	"fmt"
)

var (
	// ErrLoad marks every failure returned by Load and LoadWith.
	ErrLoad = errors.New("syncstate: load failed")
	// ErrStore marks every failure returned by Store and StoreWith.
	ErrStore = errors.New("syncstate: store failed")

	ErrNotFound     = errors.New("syncstate: state not found")
	ErrCorrupt      = errors.New("syncstate: state is corrupt")
	ErrClosed       = errors.New("syncstate: state is closed")
	ErrETagMismatch = errors.New("syncstate: etag mismatch")
	ErrAlreadyOpen  = errors.New("syncstate: state already open")
	ErrInvalidRef   = errors.New("syncstate: invalid ref")
)

const (
	OpLoad   = "load"
	OpStore  = "store"
	OpClose  = "close"
	OpDelete = "delete"
	// OpActivity is logged when an activity hook fails.
	OpActivity = "activity"
)

// OpError reports a failed sync state operation together with the ref it ran
// against. errors.Is matches ErrLoad for load operations and ErrStore for
// store operations, in addition to the wrapped cause.
type OpError struct {
	Op  string
	Ref Ref
	Err error
}

func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("syncstate: %s %s: %v", e.Op, e.Ref, e.Err)
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch e.Op {
	case OpLoad:
		return target == ErrLoad
	case OpStore:
		return target == ErrStore
	default:
		return false
	}
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}
