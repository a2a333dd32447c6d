package jobstore

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// MarkSegmentCompleted flips the matching work-item to completed and
// increments processed_segments. A segment missing from the work-item list
// is logged as a warning, not returned as an error — see spec §9 open
// questions.
func (s *Store) MarkSegmentCompleted(jobID, segmentID string) error {
	return s.retryOnConflict("mark_segment_completed", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		if !job.MarkSegmentCompleted(segmentID) {
			logger.Warn().Str("job_id", jobID).Str("segment_id", segmentID).
				Msg("segment not found in job work-items on completion")
		}
		return s.putJobAndIndex(txn, job)
	})
}

// UpdateProgress applies partial updates to a job's counters, retried on
// lock contention with exponential backoff (handled by retryOnConflict).
func (s *Store) UpdateProgress(jobID string, processed, failed *int) error {
	return s.retryOnConflict("update_progress", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		if processed != nil {
			job.ProcessedSegments = *processed
		}
		if failed != nil {
			job.FailedSegments = *failed
		}
		return s.putJobAndIndex(txn, job)
	})
}

// RequestCancellation sets cancelling if the job is currently running.
// Idempotent: a no-op if already cancelling or terminal.
func (s *Store) RequestCancellation(jobID string) error {
	return s.retryOnConflict("request_cancellation", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusRunning {
			return nil // idempotent no-op on cancelling/terminal states
		}
		job.Status = models.JobStatusCancelling
		return s.putJobAndIndex(txn, job)
	})
}

// Cancel sets cancelled directly; only legal from pending.
func (s *Store) Cancel(jobID string) error {
	return s.retryOnConflict("cancel", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusPending {
			return fmt.Errorf("cancel job %s from status %s: %w", jobID, job.Status, ErrInvalidTransition)
		}
		job.Status = models.JobStatusCancelled
		return s.putJobAndIndex(txn, job)
	})
}

// MarkCompleted is a terminal transition.
func (s *Store) MarkCompleted(jobID string) error {
	return s.markTerminal(jobID, models.JobStatusCompleted, "")
}

// MarkFailed is a terminal transition with an error message.
func (s *Store) MarkFailed(jobID, msg string) error {
	return s.markTerminal(jobID, models.JobStatusFailed, msg)
}

// MarkCancelled is a terminal transition used once a cancelling job has
// finished its cleanup.
func (s *Store) MarkCancelled(jobID string) error {
	return s.markTerminal(jobID, models.JobStatusCancelled, "")
}

func (s *Store) markTerminal(jobID string, status models.JobStatus, msg string) error {
	return s.retryOnConflict("mark_terminal", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		job.Status = status
		job.ErrorMessage = msg
		job.CompletedAt = &now
		return s.putJobAndIndex(txn, job)
	})
}

// Resume fails unless status is cancelled and at least one work-item is
// pending. Filters work-items to pending-only, preserves total_segments,
// resets status to pending, clears error.
func (s *Store) Resume(jobID string) (*models.Job, error) {
	var resumed *models.Job
	err := s.retryOnConflict("resume", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		if job.Status != models.JobStatusCancelled {
			return fmt.Errorf("resume job %s from status %s: %w", jobID, job.Status, ErrInvalidTransition)
		}
		pending := job.PendingWorkItems()
		if len(pending) == 0 {
			return ErrNoResumableWorkItems
		}

		job.WorkItems = pending
		job.Status = models.JobStatusPending
		job.ErrorMessage = ""
		job.StartedAt = nil
		job.CompletedAt = nil
		now := time.Now().UTC()
		job.ResumedAt = &now
		// total_segments is intentionally left untouched: it stays frozen
		// at its value from creation for display purposes.

		if err := s.putJobAndIndex(txn, job); err != nil {
			return err
		}
		resumed = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resumed, nil
}

// Delete removes the job unconditionally. Callers that need referenced
// segments reset to pending should use DeleteWithCleanup instead.
func (s *Store) Delete(jobID string) error {
	return s.retryOnConflict("delete", func(txn *badger.Txn) error {
		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}
		_ = txn.Delete(pendingKey(string(job.Kind), job.CreatedAt.UnixNano(), job.ID))
		_ = txn.Delete(runningKey(job.ID))
		return txn.Delete(jobKey(job.ID))
	})
}

// DeleteWithCleanup deletes the job and invokes resetSegment for every
// segment referenced by the job whose work-item is still pending (i.e. was
// never marked completed by this job), matching spec §3.2: "Deleting a job
// resets any of its referenced segments that are still queued or
// processing back to pending."
func (s *Store) DeleteWithCleanup(jobID string, resetSegment func(segmentID string) error) error {
	job, err := s.Get(jobID)
	if err != nil {
		return err
	}
	for _, wi := range job.WorkItems {
		if wi.JobStatus == models.WorkItemPending {
			if err := resetSegment(wi.SegmentID); err != nil {
				return fmt.Errorf("reset segment %s: %w", wi.SegmentID, err)
			}
		}
	}
	return s.Delete(jobID)
}

// ResetStuck marks every job still running or cancelling as failed with reason
// "interrupted restart", returning the affected jobs so the caller can
// reset their referenced queued/processing segments back to pending. It is
// called unconditionally at boot.
func (s *Store) ResetStuck() ([]*models.Job, error) {
	var affected []*models.Job
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runningPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error { id = string(val); return nil }); err != nil {
				return err
			}
			ids = append(ids, id)
		}

		now := time.Now().UTC()
		for _, id := range ids {
			job, err := s.getJob(txn, id)
			if err != nil {
				return err
			}
			if job.Status != models.JobStatusRunning && job.Status != models.JobStatusCancelling {
				continue
			}
			job.Status = models.JobStatusFailed
			job.ErrorMessage = "interrupted restart"
			job.CompletedAt = &now
			if err := s.putJobAndIndex(txn, job); err != nil {
				return err
			}
			affected = append(affected, job)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reset_stuck: %w", err)
	}
	return affected, nil
}
