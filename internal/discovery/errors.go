package discovery

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrStaleUpdate is returned when a guarded status update matched no row,
	// usually because the lease was reclaimed by another worker.
	ErrStaleUpdate = errors.New("stale status update")
	// ErrInvalidTransition is returned for transitions the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ErrorKind classifies a collection failure.
type ErrorKind string

const (
	// KindTransient covers timeouts, DNS failures, refused connections and TLS errors.
	KindTransient ErrorKind = "transient"
	// KindPolicy covers politeness refusals such as robots.txt disallow.
	KindPolicy ErrorKind = "policy"
	// KindPermanent covers everything that will not succeed on retry.
	KindPermanent ErrorKind = "permanent"
)

// CollectionError is returned by a Collector when a page could not be collected.
type CollectionError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collect %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *CollectionError) Unwrap() error {
	return e.Err
}

// NewCollectionError wraps err with a kind and URL.
func NewCollectionError(kind ErrorKind, url string, err error) *CollectionError {
	return &CollectionError{Kind: kind, URL: url, Err: err}
}

// StatusForError maps a collection error onto the terminal queue status it
// should produce. Policy refusals are skipped; everything else fails.
func StatusForError(err error) QueueStatus {
	var ce *CollectionError
	if errors.As(err, &ce) && ce.Kind == KindPolicy {
		return StatusSkipped
	}
	return StatusFailed
}
