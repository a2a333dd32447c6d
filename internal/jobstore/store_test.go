package jobstore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 5, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndClaim(t *testing.T) {
	s := newTestStore(t)

	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1", "seg-2"}, models.TriggerSourceUser)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.TotalSegments)

	claimed, err := s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)
	assert.Equal(t, job.ID, claimed.ID)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	assert.ErrorIs(t, err, ErrNoPendingJob)
}

func TestClaimNextPendingIsMutuallyExclusive(t *testing.T) {
	s := newTestStore(t)
	const n = 20
	for i := 0; i < n; i++ {
		_, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1"}, models.TriggerSourceUser)
		require.NoError(t, err)
	}

	seen := make(map[string]int)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimNextPending(models.JobKindSynthesis)
				if err == ErrNoPendingJob {
					return
				}
				require.NoError(t, err)
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	for id, count := range seen {
		assert.Equalf(t, 1, count, "job %s claimed %d times", id, count)
	}
}

func TestMarkSegmentCompletedAndProgress(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1", "seg-2"}, models.TriggerSourceUser)
	require.NoError(t, err)
	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)

	require.NoError(t, s.MarkSegmentCompleted(job.ID, "seg-1"))

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedSegments)
	assert.Equal(t, models.WorkItemCompleted, got.WorkItems[0].JobStatus)

	// unknown segment is a warning, not an error
	require.NoError(t, s.MarkSegmentCompleted(job.ID, "seg-missing"))
}

func TestResumeRequiresCancelledWithPendingItems(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1", "seg-2"}, models.TriggerSourceUser)
	require.NoError(t, err)

	_, err = s.Resume(job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)
	require.NoError(t, s.MarkSegmentCompleted(job.ID, "seg-1"))
	require.NoError(t, s.RequestCancellation(job.ID))

	running, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelling, running.Status)

	require.NoError(t, s.MarkCancelled(job.ID))

	resumed, err := s.Resume(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, resumed.Status)
	assert.Equal(t, 2, resumed.TotalSegments, "total_segments must stay frozen across resume")
	assert.Len(t, resumed.WorkItems, 1, "resume filters to only the still-pending work-items")
	assert.Equal(t, "seg-2", resumed.WorkItems[0].SegmentID)
	require.NotNil(t, resumed.ResumedAt)
}

func TestResumeWithNoPendingItemsFails(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1"}, models.TriggerSourceUser)
	require.NoError(t, err)
	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)
	require.NoError(t, s.MarkSegmentCompleted(job.ID, "seg-1"))
	require.NoError(t, s.RequestCancellation(job.ID))
	require.NoError(t, s.MarkCancelled(job.ID))

	_, err = s.Resume(job.ID)
	assert.ErrorIs(t, err, ErrNoResumableWorkItems)
}

func TestRequestCancellationIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1"}, models.TriggerSourceUser)
	require.NoError(t, err)
	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)

	require.NoError(t, s.RequestCancellation(job.ID))
	require.NoError(t, s.RequestCancellation(job.ID)) // idempotent

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelling, got.Status)
}

func TestDeleteWithCleanupResetsPendingSegments(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1", "seg-2"}, models.TriggerSourceUser)
	require.NoError(t, err)
	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)
	require.NoError(t, s.MarkSegmentCompleted(job.ID, "seg-1"))

	var reset []string
	require.NoError(t, s.DeleteWithCleanup(job.ID, func(segmentID string) error {
		reset = append(reset, segmentID)
		return nil
	}))
	assert.Equal(t, []string{"seg-2"}, reset)

	_, err = s.Get(job.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResetStuckMarksRunningJobsFailed(t *testing.T) {
	s := newTestStore(t)
	job, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1"}, models.TriggerSourceUser)
	require.NoError(t, err)
	_, err = s.ClaimNextPending(models.JobKindSynthesis)
	require.NoError(t, err)

	affected, err := s.ResetStuck()
	require.NoError(t, err)
	require.Len(t, affected, 1)
	assert.Equal(t, job.ID, affected[0].ID)

	got, err := s.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "interrupted restart", got.ErrorMessage)
}

func TestListFiltersByStatusAndChapter(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(models.JobKindSynthesis, "chapter-1", "xtts:local", "v2.0.3", []string{"seg-1"}, models.TriggerSourceUser)
	require.NoError(t, err)
	_, err = s.Create(models.JobKindSynthesis, "chapter-2", "xtts:local", "v2.0.3", []string{"seg-2"}, models.TriggerSourceUser)
	require.NoError(t, err)

	jobs, err := s.List(ListFilter{ChapterID: "chapter-1"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "chapter-1", jobs[0].ChapterID)

	jobs, err = s.List(ListFilter{Status: models.JobStatusPending})
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}
