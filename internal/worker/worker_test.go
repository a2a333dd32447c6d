package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/jobstore"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/runner"
)

// fakeJobStore is an in-memory JobStore.
type fakeJobStore struct {
	mu  sync.Mutex
	job *models.Job
}

func (s *fakeJobStore) ClaimNextPending(models.JobKind) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil || s.job.Status != models.JobStatusPending {
		return nil, jobstore.ErrNoPendingJob
	}
	s.job.Status = models.JobStatusRunning
	cp := *s.job
	cp.WorkItems = append([]models.WorkItem(nil), s.job.WorkItems...)
	return &cp, nil
}

func (s *fakeJobStore) MarkSegmentCompleted(_ string, segmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.MarkSegmentCompleted(segmentID)
	return nil
}

func (s *fakeJobStore) UpdateProgress(_ string, processed, failed *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if processed != nil {
		s.job.ProcessedSegments = *processed
	}
	if failed != nil {
		s.job.FailedSegments = *failed
	}
	return nil
}

func (s *fakeJobStore) MarkCompleted(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusCompleted
	return nil
}

func (s *fakeJobStore) MarkFailed(_ string, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusFailed
	s.job.ErrorMessage = msg
	return nil
}

func (s *fakeJobStore) MarkCancelled(string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusCancelled
	return nil
}

func (s *fakeJobStore) Get(string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.job
	cp.WorkItems = append([]models.WorkItem(nil), s.job.WorkItems...)
	return &cp, nil
}

func (s *fakeJobStore) requestCancellation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job.Status = models.JobStatusCancelling
}

// fakeSegments implements SegmentStore + AudioStore + AnalysisStore.
type fakeSegments struct {
	mu       sync.Mutex
	segments map[string]*models.Segment
	audio    map[string][]byte
	results  []models.AnalysisResult
}

func newFakeSegments(segs ...*models.Segment) *fakeSegments {
	m := make(map[string]*models.Segment)
	for _, s := range segs {
		m[s.ID] = s
	}
	return &fakeSegments{segments: m, audio: make(map[string][]byte)}
}

func (f *fakeSegments) GetSegment(_ context.Context, id string) (*models.Segment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.segments[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSegments) SetSegmentStatus(_ context.Context, segmentID string, status models.SegmentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.segments[segmentID]; ok {
		s.Status = status
	}
	return nil
}

func (f *fakeSegments) MirrorJob(context.Context, *models.Job) error { return nil }

func (f *fakeSegments) UpsertSegment(_ context.Context, s *models.Segment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.segments[s.ID] = &cp
	return nil
}

func (f *fakeSegments) StoreAudio(_ context.Context, segmentID string, body []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio[segmentID] = body
	return "segments/" + segmentID + ".wav", nil
}

func (f *fakeSegments) InsertAnalysisResult(_ context.Context, r *models.AnalysisResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, *r)
	return nil
}

// fakeEngineManager satisfies worker.EngineManager against an httptest
// server standing in for the running engine.
type fakeEngineManager struct {
	variant  *models.EngineVariant
	endpoint runner.Endpoint
}

func (m *fakeEngineManager) EnsureReady(context.Context, string, string) error { return nil }

func (m *fakeEngineManager) Variant(context.Context, string) (*models.EngineVariant, error) {
	return m.variant, nil
}

func (m *fakeEngineManager) Endpoint(string) (runner.Endpoint, bool) {
	return m.endpoint, true
}

type noopChain struct {
	segmentCalls int
	jobCalls     int
}

func (c *noopChain) SegmentAnalyzed(context.Context, *models.Job, models.AnalysisResult) error {
	c.segmentCalls++
	return nil
}
func (c *noopChain) JobFinished(context.Context, *models.Job) error {
	c.jobCalls++
	return nil
}

func testHTTPCfg() config.HTTPClientConfig { return config.HTTPClientConfig{RequestTimeout: 2 * time.Second} }

func testWorkerCfg() config.WorkerConfig { return config.WorkerConfig{PollInterval: 10 * time.Millisecond} }

func TestWorkerSynthesisJobCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RIFF...fake-wav..."))
	}))
	defer srv.Close()

	seg := &models.Segment{ID: "seg-1", ChapterID: "ch-1", Text: "hello world", Status: models.SegmentStatusPending,
		Params: models.TTSParameters{Language: "en"}}
	segments := newFakeSegments(seg)

	job := &models.Job{ID: "job-1", Kind: models.JobKindSynthesis, Status: models.JobStatusPending, EngineID: "xtts:local",
		ModelName: "v1", TotalSegments: 1, WorkItems: []models.WorkItem{{SegmentID: "seg-1", JobStatus: models.WorkItemPending}}}
	jobs := &fakeJobStore{job: job}

	variant := &models.EngineVariant{VariantID: "xtts:local", Kind: models.EngineKindSynthesis,
		Constraint: models.Constraints{MaxInputLength: 1000}}
	engines := &fakeEngineManager{variant: variant, endpoint: runner.Endpoint{BaseURL: srv.URL}}

	retry := httpclient.NewRetryPolicy(httpclient.DefaultPolicyConfig(), nil)
	chain := &noopChain{}
	proc := NewSynthesisProcessor(segments)
	w := New(jobs, segments, engines, retry, proc, chain, nil, testHTTPCfg(), testWorkerCfg())

	w.pollOnce(context.Background())

	assert.Equal(t, models.JobStatusCompleted, jobs.job.Status)
	assert.Equal(t, 1, jobs.job.ProcessedSegments)
	assert.Equal(t, 0, jobs.job.FailedSegments)
	assert.Equal(t, "segments/seg-1.wav", segments.segments["seg-1"].AudioRef)
	assert.Equal(t, 1, chain.jobCalls)
}

func TestWorkerValidationFailureMarksSegmentFailedJobContinues(t *testing.T) {
	seg := &models.Segment{ID: "seg-1", ChapterID: "ch-1", Text: "this text is way too long for the engine",
		Status: models.SegmentStatusPending, Params: models.TTSParameters{Language: "en"}}
	segments := newFakeSegments(seg)

	job := &models.Job{ID: "job-1", Kind: models.JobKindSynthesis, Status: models.JobStatusPending, EngineID: "xtts:local",
		ModelName: "v1", TotalSegments: 1, WorkItems: []models.WorkItem{{SegmentID: "seg-1", JobStatus: models.WorkItemPending}}}
	jobs := &fakeJobStore{job: job}

	variant := &models.EngineVariant{VariantID: "xtts:local", Kind: models.EngineKindSynthesis,
		Constraint: models.Constraints{MaxInputLength: 5}}
	engines := &fakeEngineManager{variant: variant}

	retry := httpclient.NewRetryPolicy(httpclient.DefaultPolicyConfig(), nil)
	proc := NewSynthesisProcessor(segments)
	w := New(jobs, segments, engines, retry, proc, nil, nil, testHTTPCfg(), testWorkerCfg())

	w.pollOnce(context.Background())

	require.Equal(t, models.JobStatusFailed, jobs.job.Status)
	assert.Equal(t, models.SegmentStatusFailed, segments.segments["seg-1"].Status)
	assert.Equal(t, 1, jobs.job.FailedSegments)
	assert.Contains(t, jobs.job.ErrorMessage, "[JOB_PARTIAL_FAILURE]")
}

func TestWorkerCancellationResetsSegmentsAndStopsEarly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	seg1 := &models.Segment{ID: "seg-1", Text: "hi", Status: models.SegmentStatusPending, Params: models.TTSParameters{Language: "en"}}
	seg2 := &models.Segment{ID: "seg-2", Text: "bye", Status: models.SegmentStatusPending, Params: models.TTSParameters{Language: "en"}}
	segments := newFakeSegments(seg1, seg2)

	job := &models.Job{ID: "job-1", Kind: models.JobKindSynthesis, Status: models.JobStatusPending, EngineID: "xtts:local",
		ModelName: "v1", TotalSegments: 2, WorkItems: []models.WorkItem{
			{SegmentID: "seg-1", JobStatus: models.WorkItemPending},
			{SegmentID: "seg-2", JobStatus: models.WorkItemPending},
		}}
	jobs := &fakeJobStore{job: job}

	variant := &models.EngineVariant{VariantID: "xtts:local", Kind: models.EngineKindSynthesis,
		Constraint: models.Constraints{MaxInputLength: 1000}}
	engines := &fakeEngineManager{variant: variant, endpoint: runner.Endpoint{BaseURL: srv.URL}}

	retry := httpclient.NewRetryPolicy(httpclient.DefaultPolicyConfig(), nil)
	proc := NewSynthesisProcessor(segments)

	jobs.requestCancellation()
	// Re-claim would refuse since status isn't pending; set up job already
	// "claimed" (running) and invoke runJob directly to exercise the
	// cancellation path mid-drain, matching how the real store would see a
	// cancellation request arrive between two processItem calls.
	jobs.job.Status = models.JobStatusRunning
	w := New(jobs, segments, engines, retry, proc, nil, nil, testHTTPCfg(), testWorkerCfg())

	claimed, err := jobs.Get(job.ID)
	require.NoError(t, err)
	jobs.requestCancellation()
	w.runJob(context.Background(), claimed)

	assert.Equal(t, models.JobStatusCancelled, jobs.job.Status)
	assert.Equal(t, models.SegmentStatusPending, segments.segments["seg-2"].Status)
}

// TestWorkerEmitsJobsChannelEventSequence asserts the worker's half of
// spec scenario S1's event sequence on the jobs channel: job.created is
// published by the API layer before the job ever reaches a worker, so
// claiming and draining a single-segment job here must emit exactly
// job.started, segment.started, segment.completed, job.progress,
// job.completed, in that order.
func TestWorkerEmitsJobsChannelEventSequence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("RIFF...fake-wav..."))
	}))
	defer srv.Close()

	seg := &models.Segment{ID: "seg-1", ChapterID: "ch-1", Text: "hello world", Status: models.SegmentStatusPending,
		Params: models.TTSParameters{Language: "en"}}
	segments := newFakeSegments(seg)

	job := &models.Job{ID: "job-1", Kind: models.JobKindSynthesis, Status: models.JobStatusPending, EngineID: "xtts:local",
		ModelName: "v1", TotalSegments: 1, WorkItems: []models.WorkItem{{SegmentID: "seg-1", JobStatus: models.WorkItemPending}}}
	jobs := &fakeJobStore{job: job}

	variant := &models.EngineVariant{VariantID: "xtts:local", Kind: models.EngineKindSynthesis,
		Constraint: models.Constraints{MaxInputLength: 1000}}
	engines := &fakeEngineManager{variant: variant, endpoint: runner.Endpoint{BaseURL: srv.URL}}

	bus := eventbus.NewBus(config.EventBusConfig{SubscriberQueueSize: 8})
	defer func() { _ = bus.Close() }()
	client, err := bus.Subscribe(context.Background(), []models.Channel{models.ChannelJobs})
	require.NoError(t, err)
	defer client.Close()

	retry := httpclient.NewRetryPolicy(httpclient.DefaultPolicyConfig(), nil)
	proc := NewSynthesisProcessor(segments)
	w := New(jobs, segments, engines, retry, proc, &noopChain{}, bus, testHTTPCfg(), testWorkerCfg())

	w.pollOnce(context.Background())

	var gotTypes []string
	for len(gotTypes) < 5 {
		select {
		case frame := <-client.Events():
			var env struct {
				Type string `json:"event"`
			}
			require.NoError(t, json.Unmarshal(frame, &env))
			if env.Type == "connected" {
				continue // subscribe handshake frame, not a domain event
			}
			gotTypes = append(gotTypes, env.Type)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for events, got so far: %v", gotTypes)
		}
	}

	assert.Equal(t, []string{
		models.EventJobStarted,
		models.EventSegmentStarted,
		models.EventSegmentCompleted,
		models.EventJobProgress,
		models.EventJobCompleted,
	}, gotTypes)
}
