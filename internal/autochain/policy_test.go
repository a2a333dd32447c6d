package autochain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/database"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/settings"
)

type fakeRepo struct {
	values map[string]string
}

func newFakeRepo() *fakeRepo { return &fakeRepo{values: make(map[string]string)} }

func (r *fakeRepo) GetSetting(_ context.Context, key string) (string, error) {
	v, ok := r.values[key]
	if !ok {
		return "", database.ErrNotFound
	}
	return v, nil
}

func (r *fakeRepo) SetSetting(_ context.Context, key, value string) error {
	r.values[key] = value
	return nil
}

func (r *fakeRepo) ListSettings(_ context.Context) (map[string]string, error) {
	return r.values, nil
}

func newTestCache(t *testing.T, cfg config.AutochainConfig) *settings.Cache {
	t.Helper()
	c := settings.New(newFakeRepo(), map[string]any{
		settings.KeyAutochainAutoAnalyzeSegment:    cfg.AutoAnalyzeSegment,
		settings.KeyAutochainAutoAnalyzeChapter:    cfg.AutoAnalyzeChapter,
		settings.KeyAutochainAutoRegenerateDefects: cfg.AutoRegenerateDefects,
		settings.KeyAutochainMaxRegenerateAttempts: cfg.MaxRegenerateAttempts,
	})
	return c
}

type fakeJobStore struct {
	created []*models.Job
}

func (s *fakeJobStore) Create(kind models.JobKind, chapterID, engineID, modelName string, segmentIDs []string, trigger models.TriggerSource) (*models.Job, error) {
	j := &models.Job{
		ID:            "new-job-" + chapterID,
		Kind:          kind,
		ChapterID:     chapterID,
		EngineID:      engineID,
		ModelName:     modelName,
		Trigger:       trigger,
		TotalSegments: len(segmentIDs),
	}
	s.created = append(s.created, j)
	return j, nil
}

type fakeSegmentStore struct {
	segments map[string]*models.Segment
}

func newFakeSegmentStore(segs ...*models.Segment) *fakeSegmentStore {
	m := make(map[string]*models.Segment)
	for _, s := range segs {
		m[s.ID] = s
	}
	return &fakeSegmentStore{segments: m}
}

func (s *fakeSegmentStore) GetSegment(_ context.Context, id string) (*models.Segment, error) {
	seg, ok := s.segments[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *seg
	return &cp, nil
}

func (s *fakeSegmentStore) UpsertSegment(_ context.Context, seg *models.Segment) error {
	cp := *seg
	s.segments[seg.ID] = &cp
	return nil
}

type fakeVariantLister struct {
	variants []*models.EngineVariant
}

func (f *fakeVariantLister) Variants(_ context.Context) ([]*models.EngineVariant, error) {
	return f.variants, nil
}

type fakeModelLister struct{}

func (fakeModelLister) ListEngineModels(_ context.Context, _ string) ([]models.EngineModel, error) {
	return []models.EngineModel{{Name: "v1", Default: true}}, nil
}

func testBus() *eventbus.Bus {
	return eventbus.NewBus(config.EventBusConfig{SubscriberQueueSize: 4})
}

func TestChainToAnalysisCreatesJobWhenEnabledAndEngineAvailable(t *testing.T) {
	ctx := context.Background()
	seg := &models.Segment{ID: "seg-1", ChapterID: "chap-1", AudioRef: "audio/seg-1.wav"}
	segments := newFakeSegmentStore(seg)
	jobs := &fakeJobStore{}
	analysis := &fakeVariantLister{variants: []*models.EngineVariant{
		{VariantID: "whisper:local", Kind: models.EngineKindAnalysis, Enabled: true, Default: true},
	}}
	cache := newTestCache(t, config.AutochainConfig{AutoAnalyzeSegment: true})
	bus := testBus()
	defer bus.Close()

	p := New(jobs, segments, analysis, fakeModelLister{}, cache, bus)

	job := &models.Job{
		ID: "job-1", Kind: models.JobKindSynthesis, ChapterID: "chap-1", TotalSegments: 1,
		WorkItems: []models.WorkItem{{SegmentID: "seg-1", JobStatus: models.WorkItemCompleted}},
	}
	require.NoError(t, p.JobFinished(ctx, job))

	require.Len(t, jobs.created, 1)
	assert.Equal(t, models.JobKindAnalysis, jobs.created[0].Kind)
	assert.Equal(t, "whisper:local", jobs.created[0].EngineID)
	assert.Equal(t, "v1", jobs.created[0].ModelName)
	assert.Equal(t, models.TriggerSourceAutoAnalyze, jobs.created[0].Trigger)
}

func TestChainToAnalysisSkipsWhenDisabled(t *testing.T) {
	ctx := context.Background()
	seg := &models.Segment{ID: "seg-1", ChapterID: "chap-1", AudioRef: "audio/seg-1.wav"}
	segments := newFakeSegmentStore(seg)
	jobs := &fakeJobStore{}
	analysis := &fakeVariantLister{variants: []*models.EngineVariant{
		{VariantID: "whisper:local", Kind: models.EngineKindAnalysis, Enabled: true, Default: true},
	}}
	cache := newTestCache(t, config.AutochainConfig{AutoAnalyzeSegment: false})
	bus := testBus()
	defer bus.Close()

	p := New(jobs, segments, analysis, fakeModelLister{}, cache, bus)
	job := &models.Job{
		ID: "job-1", Kind: models.JobKindSynthesis, ChapterID: "chap-1", TotalSegments: 1,
		WorkItems: []models.WorkItem{{SegmentID: "seg-1", JobStatus: models.WorkItemCompleted}},
	}
	require.NoError(t, p.JobFinished(ctx, job))
	assert.Empty(t, jobs.created)
}

func TestChainToAnalysisSkipsWhenNoAnalysisEngineAvailable(t *testing.T) {
	ctx := context.Background()
	seg := &models.Segment{ID: "seg-1", ChapterID: "chap-1", AudioRef: "audio/seg-1.wav"}
	segments := newFakeSegmentStore(seg)
	jobs := &fakeJobStore{}
	analysis := &fakeVariantLister{} // no variants registered
	cache := newTestCache(t, config.AutochainConfig{AutoAnalyzeSegment: true})
	bus := testBus()
	defer bus.Close()

	p := New(jobs, segments, analysis, fakeModelLister{}, cache, bus)
	job := &models.Job{
		ID: "job-1", Kind: models.JobKindSynthesis, ChapterID: "chap-1", TotalSegments: 1,
		WorkItems: []models.WorkItem{{SegmentID: "seg-1", JobStatus: models.WorkItemCompleted}},
	}
	require.NoError(t, p.JobFinished(ctx, job))
	assert.Empty(t, jobs.created)
}

func TestPerSegmentRegenerateCreatesJobAndIncrementsAttempts(t *testing.T) {
	ctx := context.Background()
	seg := &models.Segment{ID: "seg-1", ChapterID: "chap-1", RegenerateAttempts: 1,
		Params: models.TTSParameters{EngineID: "xtts:local", ModelName: "v2"}}
	segments := newFakeSegmentStore(seg)
	jobs := &fakeJobStore{}
	cache := newTestCache(t, config.AutochainConfig{AutoRegenerateDefects: "per-segment", MaxRegenerateAttempts: 3})
	bus := testBus()
	defer bus.Close()

	p := New(jobs, segments, &fakeVariantLister{}, fakeModelLister{}, cache, bus)

	job := &models.Job{ID: "job-2", Kind: models.JobKindAnalysis, ChapterID: "chap-1"}
	result := models.AnalysisResult{SegmentID: "seg-1", Status: models.AnalysisStatusDefect}
	require.NoError(t, p.SegmentAnalyzed(ctx, job, result))

	require.Len(t, jobs.created, 1)
	assert.Equal(t, models.JobKindSynthesis, jobs.created[0].Kind)
	assert.Equal(t, models.TriggerSourceAutoRegenerate, jobs.created[0].Trigger)
	assert.Equal(t, "xtts:local", jobs.created[0].EngineID)

	updated, err := segments.GetSegment(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.RegenerateAttempts)
}

func TestPerSegmentRegenerateSkipsAtAttemptCap(t *testing.T) {
	ctx := context.Background()
	seg := &models.Segment{ID: "seg-1", ChapterID: "chap-1", RegenerateAttempts: 3}
	segments := newFakeSegmentStore(seg)
	jobs := &fakeJobStore{}
	cache := newTestCache(t, config.AutochainConfig{AutoRegenerateDefects: "per-segment", MaxRegenerateAttempts: 3})
	bus := testBus()
	defer bus.Close()

	p := New(jobs, segments, &fakeVariantLister{}, fakeModelLister{}, cache, bus)
	job := &models.Job{ID: "job-2", Kind: models.JobKindAnalysis, ChapterID: "chap-1"}
	result := models.AnalysisResult{SegmentID: "seg-1", Status: models.AnalysisStatusDefect}
	require.NoError(t, p.SegmentAnalyzed(ctx, job, result))

	assert.Empty(t, jobs.created)
}

func TestBundledRegenerateCollectsAcrossSegmentsAndCreatesOneJob(t *testing.T) {
	ctx := context.Background()
	segA := &models.Segment{ID: "seg-a", ChapterID: "chap-1", RegenerateAttempts: 0,
		Params: models.TTSParameters{EngineID: "xtts:local", ModelName: "v2"}}
	segB := &models.Segment{ID: "seg-b", ChapterID: "chap-1", RegenerateAttempts: 5} // at cap, excluded
	segments := newFakeSegmentStore(segA, segB)
	jobs := &fakeJobStore{}
	cache := newTestCache(t, config.AutochainConfig{AutoRegenerateDefects: "bundled", MaxRegenerateAttempts: 5})
	bus := testBus()
	defer bus.Close()

	p := New(jobs, segments, &fakeVariantLister{}, fakeModelLister{}, cache, bus)

	job := &models.Job{ID: "job-3", Kind: models.JobKindAnalysis, ChapterID: "chap-1"}
	require.NoError(t, p.SegmentAnalyzed(ctx, job, models.AnalysisResult{SegmentID: "seg-a", Status: models.AnalysisStatusDefect}))
	require.NoError(t, p.SegmentAnalyzed(ctx, job, models.AnalysisResult{SegmentID: "seg-b", Status: models.AnalysisStatusDefect}))
	require.NoError(t, p.JobFinished(ctx, job))

	require.Len(t, jobs.created, 1)
	created := jobs.created[0]
	assert.Equal(t, models.JobKindSynthesis, created.Kind)
	assert.Equal(t, models.TriggerSourceAutoRegenerateBatch, created.Trigger)
	assert.Equal(t, 1, created.TotalSegments) // seg-b excluded by attempt cap

	updatedA, err := segments.GetSegment(ctx, "seg-a")
	require.NoError(t, err)
	assert.Equal(t, 1, updatedA.RegenerateAttempts)

	updatedB, err := segments.GetSegment(ctx, "seg-b")
	require.NoError(t, err)
	assert.Equal(t, 5, updatedB.RegenerateAttempts) // untouched
}
