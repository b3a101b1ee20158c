package jobs

import "errors"

var (
	// ErrClassCancelled rejects submissions while the class cancel flag is set.
	ErrClassCancelled = errors.New("job class is cancelled")

	// ErrEmptySubtitle rejects jobs whose subtitle payload parsed to zero entries.
	ErrEmptySubtitle = errors.New("subtitle payload has no entries")

	// ErrUnknownJob is returned when completing or inspecting a job the
	// controller does not track.
	ErrUnknownJob = errors.New("unknown job")

	// ErrInvalidTransition reports a disallowed lifecycle edge.
	ErrInvalidTransition = errors.New("invalid job state transition")
)
