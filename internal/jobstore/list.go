package jobstore

import (
	"encoding/json"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// ListFilter selects a subset of jobs. Zero values mean "no filter" for
// Status/ChapterID; Limit <= 0 means unbounded.
type ListFilter struct {
	Status    models.JobStatus
	ChapterID string
	Limit     int
	Offset    int
}

// List scans all jobs and returns those matching filter, ordered by
// creation time ascending. This is a full-table scan over Badger; the
// illustrative HTTP edge mirrors completed/running jobs into the DuckDB
// read-model (internal/database) for anything that needs indexed filtering
// at scale.
func (s *Store) List(filter ListFilter) ([]*models.Job, error) {
	var all []*models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("job:")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var job models.Job
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			})
			if err != nil {
				return err
			}
			jobCopy := job
			if filter.Status != "" && jobCopy.Status != filter.Status {
				continue
			}
			if filter.ChapterID != "" && jobCopy.ChapterID != filter.ChapterID {
				continue
			}
			all = append(all, &jobCopy)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			return nil, nil
		}
		all = all[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(all) {
		all = all[:filter.Limit]
	}
	return all, nil
}
