// Package store holds the immutable, label-addressed stores built from the
// precomputed heatmap, histogram and swarm inputs.
package store

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyNotFound is returned when a row, column, layer or group label is
	// not declared by a store.
	ErrKeyNotFound = errors.New("key not found")
	// ErrInvalidArgument is returned for malformed query parameters.
	ErrInvalidArgument = errors.New("invalid argument")
)

// KeyError reports which axis a missing label was looked up on.
type KeyError struct {
	Axis string
	Key  string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("%s not found: %q", e.Axis, e.Key)
}

// Is makes errors.Is(err, ErrKeyNotFound) hold for every KeyError.
func (e *KeyError) Is(target error) bool {
	return target == ErrKeyNotFound
}

func keyNotFound(axis, key string) error {
	return &KeyError{Axis: axis, Key: key}
}

func invalidArgument(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
