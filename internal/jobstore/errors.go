package jobstore

import "errors"

var (
	// ErrNotFound is returned when a job id does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrNoPendingJob is returned by ClaimNextPending when no job of the
	// requested kind is currently pending.
	ErrNoPendingJob = errors.New("no pending job")

	// ErrInvalidTransition is returned when an operation is attempted from
	// a status that does not permit it (e.g. Resume on a non-cancelled job).
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrNoResumableWorkItems is returned by Resume when the job has no
	// pending work-items to resume — a defined error, not silent success,
	// per spec §8 boundary behaviors.
	ErrNoResumableWorkItems = errors.New("job has no pending work-items to resume")
)
