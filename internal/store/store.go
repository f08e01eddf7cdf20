// Package store holds the failure sentinel shared by the persistence
// backends (jsonstore, pgstore).
package store

import "errors"

// ErrStorageFailure marks I/O or corruption detected on read or write. The
// triggering call fails, but backends guarantee the persisted state itself
// is never left torn: a write is observable only as the full pre-write or
// full post-write state.
var ErrStorageFailure = errors.New("storage failure")
