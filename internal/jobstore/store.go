// Package jobstore is the durable job and work-item store. It persists
// Job Store state (spec §4.1) in BadgerDB, an embedded ACID key-value store,
// and grounds "claim_next_pending must be a single writer transaction with
// immediate lock acquisition" on a per-kind in-process mutex layered over
// Badger's serializable transactions — Badger alone gives optimistic
// conflict detection, not a writer-exclusive lock, so the mutex supplies
// the missing exclusivity without changing Badger's ACID guarantees.
package jobstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// Store is the BadgerDB-backed durable job store.
type Store struct {
	db *badger.DB

	retryAttempts  int
	retryBaseDelay time.Duration

	// claimMu serializes claim_next_pending per job kind: only one claim may
	// be in flight for a given kind at a time, matching the "single writer
	// transaction with immediate lock acquisition" requirement.
	claimMu   sync.Mutex
	kindLocks map[models.JobKind]*sync.Mutex
}

// Open opens (creating if necessary) the Badger database at path.
func Open(path string, lockRetryAttempts int, lockRetryBaseDelay time.Duration) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	if lockRetryAttempts <= 0 {
		lockRetryAttempts = 5
	}
	if lockRetryBaseDelay <= 0 {
		lockRetryBaseDelay = 100 * time.Millisecond
	}
	return &Store{
		db:             db,
		retryAttempts:  lockRetryAttempts,
		retryBaseDelay: lockRetryBaseDelay,
		kindLocks:      make(map[models.JobKind]*sync.Mutex),
	}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) kindLock(kind models.JobKind) *sync.Mutex {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	l, ok := s.kindLocks[kind]
	if !ok {
		l = &sync.Mutex{}
		s.kindLocks[kind] = l
	}
	return l
}

// Create inserts one job in pending with all work-items pending, and
// total_segments frozen for the life of the job.
func (s *Store) Create(kind models.JobKind, chapterID, engineID, modelName string, segmentIDs []string, trigger models.TriggerSource) (*models.Job, error) {
	now := time.Now().UTC()
	job := &models.Job{
		ID:            uuid.NewString(),
		Kind:          kind,
		ChapterID:     chapterID,
		Status:        models.JobStatusPending,
		EngineID:      engineID,
		ModelName:     modelName,
		Trigger:       trigger,
		TotalSegments: len(segmentIDs),
		WorkItems:     make([]models.WorkItem, len(segmentIDs)),
		CreatedAt:     now,
	}
	for i, id := range segmentIDs {
		job.WorkItems[i] = models.WorkItem{SegmentID: id, JobStatus: models.WorkItemPending}
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return s.putJobAndIndex(txn, job)
	})
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// putJobAndIndex writes the job row and refreshes its pending/running index
// entries to match its current status. Call with job already mutated.
func (s *Store) putJobAndIndex(txn *badger.Txn, job *models.Job) error {
	// Clear stale index entries first (a job transitioning status should not
	// leave a dangling pending or running index pointer behind).
	_ = txn.Delete(pendingKey(string(job.Kind), job.CreatedAt.UnixNano(), job.ID))
	_ = txn.Delete(runningKey(job.ID))

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := txn.Set(jobKey(job.ID), data); err != nil {
		return err
	}

	switch job.Status {
	case models.JobStatusPending:
		if err := txn.Set(pendingKey(string(job.Kind), job.CreatedAt.UnixNano(), job.ID), []byte(job.ID)); err != nil {
			return err
		}
	case models.JobStatusRunning, models.JobStatusCancelling:
		if err := txn.Set(runningKey(job.ID), []byte(job.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getJob(txn *badger.Txn, id string) (*models.Job, error) {
	item, err := txn.Get(jobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	var job models.Job
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Get fetches a job by id.
func (s *Store) Get(id string) (*models.Job, error) {
	var job *models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		j, err := s.getJob(txn, id)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	return job, err
}

// logger is the package-local logger; logged events reference job ids and
// kinds only, never payload text.
var logger = logging.With().Str("component", "jobstore").Logger()
