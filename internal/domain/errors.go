package domain

import "errors"

// Sentinel errors shared across the service and transport layers. Handlers
// map these to HTTP status codes; workers treat ErrInvalidTransition and
// ErrInstanceTerminated as recoverable no-op signals.
var (
	// ErrNotFound is returned when the referenced instance or execution does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned for a state change not allowed from
	// the current status.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrConflictingTransition is returned when a terminal state is already
	// set with a different reason. The stored reason is never overwritten.
	ErrConflictingTransition = errors.New("conflicting transition")

	// ErrInstanceTerminated is returned for heartbeat or emit calls against
	// an instance that already reached a terminal state.
	ErrInstanceTerminated = errors.New("instance terminated")

	// ErrStoreUnavailable is returned when the underlying store cannot commit
	// a write. Callers must retry with backoff rather than drop the write.
	ErrStoreUnavailable = errors.New("store unavailable")
)
