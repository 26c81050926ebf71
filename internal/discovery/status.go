package discovery

import "fmt"

// QueueStatus is the lifecycle state of a queue item.
type QueueStatus string

const (
	// StatusPending is the initial state.
	StatusPending QueueStatus = "pending"
	// StatusProcessing marks an item leased by a worker.
	StatusProcessing QueueStatus = "processing"
	// StatusCompleted marks a collected item.
	StatusCompleted QueueStatus = "completed"
	// StatusFailed marks an item whose collection failed.
	StatusFailed QueueStatus = "failed"
	// StatusSkipped marks an item finished without collection.
	StatusSkipped QueueStatus = "skipped"
)

// AllStatuses lists every queue status in lifecycle order.
var AllStatuses = []QueueStatus{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusSkipped,
}

// Valid reports whether s is a known status.
func (s QueueStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends normal processing.
func (s QueueStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusSkipped:
		return true
	default:
		return false
	}
}

// ParseQueueStatus converts a stored value into a QueueStatus.
func ParseQueueStatus(raw string) (QueueStatus, error) {
	s := QueueStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown queue status %q", raw)
	}
	return s, nil
}

// CanTransition reports whether the state machine allows from -> to.
//
// processing -> pending is reserved for lease recovery and failed -> pending
// for the explicit retry operation.
func CanTransition(from, to QueueStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to.Terminal() || to == StatusPending
	case StatusFailed:
		return to == StatusPending
	case StatusCompleted, StatusSkipped:
		return false
	default:
		return false
	}
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed.
func ValidateTransition(from, to QueueStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
