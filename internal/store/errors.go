package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a single lookup has no result
	ErrNotFound = errors.New("transaction not found")
	// ErrNoSession is returned when a single lookup is attempted without a valid token
	ErrNoSession = errors.New("no access token available")
)

// FetchError is returned when transaction retrieval fails
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
