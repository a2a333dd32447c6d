package jobstore

import (
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/audiobook-maker/engine-core/internal/metrics"
)

// retryOnConflict runs fn inside a Badger update transaction, retrying on a
// transaction conflict (Badger's optimistic-concurrency signal) up to
// attempts times with delay doubling from baseDelay. This is the
// lock-contention retry policy required by spec §4.1: "retry any write that
// fails with a recoverable lock/contention signal, up to N attempts
// (default 5), with delay doubling from an initial value (default 100 ms)."
func (s *Store) retryOnConflict(op string, fn func(txn *badger.Txn) error) error {
	delay := s.retryBaseDelay
	var lastErr error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		lastErr = s.db.Update(fn)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, badger.ErrConflict) {
			return lastErr
		}
		metrics.LockRetriesTotal.WithLabelValues(op).Inc()
		time.Sleep(delay)
		delay *= 2
	}
	return lastErr
}
