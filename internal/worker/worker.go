package worker

import (
	"context"
	"sync"
	"time"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/jobstore"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/runner"
)

// JobStore is the subset of *jobstore.Store a worker depends on.
type JobStore interface {
	ClaimNextPending(kind models.JobKind) (*models.Job, error)
	MarkSegmentCompleted(jobID, segmentID string) error
	UpdateProgress(jobID string, processed, failed *int) error
	MarkCompleted(jobID string) error
	MarkFailed(jobID, msg string) error
	MarkCancelled(jobID string) error
	Get(jobID string) (*models.Job, error)
}

// SegmentStore is the subset of *database.DB a worker needs for segment
// state, independent of the result-specific writes a Processor performs.
type SegmentStore interface {
	GetSegment(ctx context.Context, id string) (*models.Segment, error)
	SetSegmentStatus(ctx context.Context, segmentID string, status models.SegmentStatus) error
	MirrorJob(ctx context.Context, j *models.Job) error
}

// EngineManager is the subset of *enginemanager.Manager a worker depends
// on: readiness, variant lookup (for constraint validation), and the
// running endpoint (re-resolved on every retry attempt).
type EngineManager interface {
	EnsureReady(ctx context.Context, variantID, model string) error
	Variant(ctx context.Context, variantID string) (*models.EngineVariant, error)
	Endpoint(variantID string) (runner.Endpoint, bool)
}

// ChainPolicy is the auto-chain hook set (spec §4.7). Implemented by
// internal/autochain; declared here so worker has no import on it.
type ChainPolicy interface {
	// SegmentAnalyzed is called immediately after an analysis engine call
	// succeeds for one segment, for the per-segment auto-regenerate mode.
	SegmentAnalyzed(ctx context.Context, job *models.Job, result models.AnalysisResult) error
	// JobFinished is called once a job reaches a terminal state, for
	// synthesis→analysis chaining and the bundled auto-regenerate mode.
	JobFinished(ctx context.Context, job *models.Job) error
}

// Processor supplies the kind-specific parts of segment processing.
type Processor interface {
	Kind() models.JobKind
	// ValidateInput checks seg against variant's constraints before the
	// engine is invoked; a non-nil error marks the segment failed without
	// ever calling the engine (spec §4.2 step b). Return nil to skip
	// validation for kinds with no length constraint (analysis).
	ValidateInput(variant *models.EngineVariant, seg *models.Segment) error
	// BuildPayload constructs the /generate request body for seg.
	BuildPayload(seg *models.Segment, job *models.Job) (any, error)
	// HandleResult persists the kind-specific outcome of a successful
	// /generate call and returns an AnalysisResult when one was produced
	// (analysis kind only; nil otherwise) so the worker can invoke
	// ChainPolicy.SegmentAnalyzed.
	HandleResult(ctx context.Context, seg *models.Segment, body []byte, contentType string) (*models.AnalysisResult, error)
}

// Worker runs the poll loop for one job kind.
type Worker struct {
	kind       models.JobKind
	jobs       JobStore
	segments   SegmentStore
	engines    EngineManager
	retry      *httpclient.RetryPolicy
	processor  Processor
	chain      ChainPolicy
	bus        *eventbus.Bus
	httpCfg    config.HTTPClientConfig
	pollEvery  time.Duration

	mu      sync.Mutex
	running bool
}

// New builds a Worker for processor.Kind().
func New(
	jobs JobStore,
	segments SegmentStore,
	engines EngineManager,
	retry *httpclient.RetryPolicy,
	processor Processor,
	chain ChainPolicy,
	bus *eventbus.Bus,
	httpCfg config.HTTPClientConfig,
	workerCfg config.WorkerConfig,
) *Worker {
	interval := workerCfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Worker{
		kind:      processor.Kind(),
		jobs:      jobs,
		segments:  segments,
		engines:   engines,
		retry:     retry,
		processor: processor,
		chain:     chain,
		bus:       bus,
		httpCfg:   httpCfg,
		pollEvery: interval,
	}
}

// Serve runs the poll loop until ctx is cancelled, satisfying
// suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	w.mu.Lock()
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce claims and fully drains at most one job.
func (w *Worker) pollOnce(ctx context.Context) {
	job, err := w.jobs.ClaimNextPending(w.kind)
	if err != nil {
		if err != jobstore.ErrNoPendingJob {
			logging.Error().Str("kind", string(w.kind)).Err(err).Msg("worker: claim_next_pending failed")
		}
		return
	}

	ctx = logging.ContextWithJobID(ctx, job.ID)
	logging.Ctx(ctx).Info().Str("kind", string(w.kind)).Int("segments", job.TotalSegments).
		Msg("worker: claimed job")
	w.emit(models.EventJobStarted, job, nil)
	_ = w.segments.MirrorJob(ctx, job)

	w.runJob(ctx, job)
}

func (w *Worker) emit(eventType string, job *models.Job, extra map[string]any) {
	if w.bus == nil {
		return
	}
	data := map[string]any{
		"jobId":     job.ID,
		"kind":      string(job.Kind),
		"chapterId": job.ChapterID,
		"status":    string(job.Status),
		"processed": job.ProcessedSegments,
		"failed":    job.FailedSegments,
		"total":     job.TotalSegments,
	}
	for k, v := range extra {
		data[k] = v
	}
	if err := w.bus.Publish(models.ChannelJobs, eventType, data); err != nil {
		logging.Warn().Err(err).Str("event", eventType).Msg("worker: failed to publish event")
	}
}
