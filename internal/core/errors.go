package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a cache entry is not found
	ErrNotFound = errors.New("cache entry not found")
	// ErrExpired is returned when a cache entry has expired
	ErrExpired = errors.New("cache entry expired")
	// ErrEmptyPayload is returned when a scene payload has no bytes
	ErrEmptyPayload = errors.New("empty scene payload")
)

// DecodeError reports a scene payload that could not be turned into a valid
// scene. Transient faults (truncated or unreadable streams) are eligible for
// retry; structural faults (wrong band count, empty raster) are not.
type DecodeError struct {
	Reason    string
	Transient bool
	Err       error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode scene: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode scene: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError builds a typed decode failure.
func NewDecodeError(reason string, transient bool, err error) *DecodeError {
	return &DecodeError{Reason: reason, Transient: transient, Err: err}
}

// IsTransientDecode reports whether err is a decode failure worth retrying.
func IsTransientDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Transient
}
