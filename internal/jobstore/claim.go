package jobstore

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/audiobook-maker/engine-core/internal/metrics"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// ClaimNextPending atomically selects the oldest pending job of the given
// kind, transitions it to running, records started_at, and returns it.
// Concurrent callers for the same kind are serialized by an in-process
// mutex layered over a single Badger transaction, so two workers of the
// same kind can never claim the same job.
func (s *Store) ClaimNextPending(kind models.JobKind) (*models.Job, error) {
	lock := s.kindLock(kind)
	lock.Lock()
	defer lock.Unlock()

	var claimed *models.Job
	err := s.retryOnConflict("claim_next_pending", func(txn *badger.Txn) error {
		claimed = nil // reset on retry

		opts := badger.DefaultIteratorOptions
		opts.Prefix = pendingPrefix(string(kind))
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(opts.Prefix)
		if !it.ValidForPrefix(opts.Prefix) {
			return ErrNoPendingJob
		}

		var jobID string
		err := it.Item().Value(func(val []byte) error {
			jobID = string(val)
			return nil
		})
		if err != nil {
			return err
		}

		job, err := s.getJob(txn, jobID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		job.Status = models.JobStatusRunning
		job.StartedAt = &now

		if err := s.putJobAndIndex(txn, job); err != nil {
			return err
		}
		claimed = job
		return nil
	})

	if err == ErrNoPendingJob {
		return nil, ErrNoPendingJob
	}
	if err != nil {
		return nil, fmt.Errorf("claim_next_pending(%s): %w", kind, err)
	}
	metrics.JobsClaimedTotal.WithLabelValues(string(kind)).Inc()
	return claimed, nil
}
