package autochain

import (
	"context"
	"fmt"
	"sync"

	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/settings"
)

// regenerateMode mirrors config.AutochainConfig.AutoRegenerateDefects.
type regenerateMode string

const (
	modeDisabled  regenerateMode = "disabled"
	modeBundled   regenerateMode = "bundled"
	modePerSeg    regenerateMode = "per-segment"
)

// JobStore is the subset of *jobstore.Store the policy needs to create
// follow-up jobs.
type JobStore interface {
	Create(kind models.JobKind, chapterID, engineID, modelName string, segmentIDs []string, trigger models.TriggerSource) (*models.Job, error)
}

// SegmentStore is the subset of *database.DB the policy needs to inspect
// and bump regenerate-attempt counters on segments.
type SegmentStore interface {
	GetSegment(ctx context.Context, id string) (*models.Segment, error)
	UpsertSegment(ctx context.Context, s *models.Segment) error
}

// VariantLister is the subset of an analysis-kind *enginemanager.Manager
// the policy needs to find an available analysis engine.
type VariantLister interface {
	Variants(ctx context.Context) ([]*models.EngineVariant, error)
}

// ModelLister is the subset of *database.DB needed to pick a default model
// for a chosen analysis variant.
type ModelLister interface {
	ListEngineModels(ctx context.Context, variantID string) ([]models.EngineModel, error)
}

// Policy implements internal/worker.ChainPolicy for both auto-chain
// directions (spec §4.7).
type Policy struct {
	jobs     JobStore
	segments SegmentStore
	analysis VariantLister
	models   ModelLister
	settings *settings.Cache
	bus      *eventbus.Bus

	mu       sync.Mutex
	pending  map[string][]string // analysis job id -> defect segment ids, bundled mode only
}

// New builds a Policy. analysis must be the analysis-kind engine manager
// (its Variants() call is scoped to EngineKindAnalysis already).
func New(jobs JobStore, segments SegmentStore, analysis VariantLister, models_ ModelLister, settingsCache *settings.Cache, bus *eventbus.Bus) *Policy {
	return &Policy{
		jobs:     jobs,
		segments: segments,
		analysis: analysis,
		models:   models_,
		settings: settingsCache,
		bus:      bus,
		pending:  make(map[string][]string),
	}
}

// SegmentAnalyzed is called by the worker immediately after one analysis
// engine call succeeds for a segment within an analysis job (spec §4.7.2).
func (p *Policy) SegmentAnalyzed(ctx context.Context, job *models.Job, result models.AnalysisResult) error {
	if job.Kind != models.JobKindAnalysis || !result.IsDefect() {
		return nil
	}

	mode := p.mode(ctx)
	switch mode {
	case modePerSeg:
		return p.regenerateOne(ctx, job, result.SegmentID, models.TriggerSourceAutoRegenerate)
	case modeBundled:
		p.mu.Lock()
		p.pending[job.ID] = append(p.pending[job.ID], result.SegmentID)
		p.mu.Unlock()
	}
	return nil
}

// JobFinished is called once per job at terminal state (spec §4.7, both
// directions).
func (p *Policy) JobFinished(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case models.JobKindSynthesis:
		return p.chainToAnalysis(ctx, job)
	case models.JobKindAnalysis:
		return p.chainBundledRegenerate(ctx, job)
	}
	return nil
}

// chainToAnalysis implements spec §4.7.1: synthesis -> analysis.
func (p *Policy) chainToAnalysis(ctx context.Context, job *models.Job) error {
	segIDs := segmentsWithAudio(ctx, p.segments, job)
	if len(segIDs) == 0 {
		return nil
	}

	enabled, err := p.autoAnalyzeEnabled(ctx, job.TotalSegments)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}

	variant, model, ok, err := p.pickAnalysisEngine(ctx)
	if err != nil {
		return err
	}
	if !ok {
		logging.Info().Str("job_id", job.ID).Msg("autochain: no analysis engine available, skipping auto-analyze")
		return nil
	}

	newJob, err := p.jobs.Create(models.JobKindAnalysis, job.ChapterID, variant.VariantID, model, segIDs, models.TriggerSourceAutoAnalyze)
	if err != nil {
		return fmt.Errorf("autochain: create analysis job: %w", err)
	}

	p.emit(models.ChannelQuality, models.EventQualityJobCreated, newJob)
	return nil
}

// chainBundledRegenerate implements spec §4.7.2's bundled mode: collected
// at the end of the analysis job rather than per-segment.
func (p *Policy) chainBundledRegenerate(ctx context.Context, job *models.Job) error {
	p.mu.Lock()
	defects := p.pending[job.ID]
	delete(p.pending, job.ID)
	p.mu.Unlock()

	if p.mode(ctx) != modeBundled || len(defects) == 0 {
		return nil
	}

	maxAttempts, err := p.maxRegenerateAttempts(ctx)
	if err != nil {
		return err
	}

	var eligible []string
	var engineID, modelName string
	for _, segID := range defects {
		seg, err := p.segments.GetSegment(ctx, segID)
		if err != nil {
			logging.Warn().Str("segment_id", segID).Err(err).Msg("autochain: segment lookup failed, skipping regenerate")
			continue
		}
		if seg.RegenerateAttempts >= maxAttempts {
			continue
		}
		seg.RegenerateAttempts++
		if err := p.segments.UpsertSegment(ctx, seg); err != nil {
			return fmt.Errorf("autochain: bump regenerate attempts for %s: %w", segID, err)
		}
		if engineID == "" {
			engineID, modelName = seg.Params.EngineID, seg.Params.ModelName
		}
		eligible = append(eligible, segID)
	}
	if len(eligible) == 0 {
		return nil
	}

	newJob, err := p.jobs.Create(models.JobKindSynthesis, job.ChapterID, engineID, modelName, eligible, models.TriggerSourceAutoRegenerateBatch)
	if err != nil {
		return fmt.Errorf("autochain: create bundled regenerate job: %w", err)
	}

	p.emit(models.ChannelJobs, models.EventJobCreated, newJob)
	return nil
}

// regenerateOne implements spec §4.7.2's per-segment mode: a one-segment
// synthesis job created immediately, subject to the attempt cap.
func (p *Policy) regenerateOne(ctx context.Context, job *models.Job, segmentID string, trigger models.TriggerSource) error {
	maxAttempts, err := p.maxRegenerateAttempts(ctx)
	if err != nil {
		return err
	}

	seg, err := p.segments.GetSegment(ctx, segmentID)
	if err != nil {
		return fmt.Errorf("autochain: segment lookup for %s: %w", segmentID, err)
	}
	if seg.RegenerateAttempts >= maxAttempts {
		logging.Info().Str("segment_id", segmentID).Int("attempts", seg.RegenerateAttempts).
			Msg("autochain: regenerate attempt cap reached, skipping")
		return nil
	}

	seg.RegenerateAttempts++
	if err := p.segments.UpsertSegment(ctx, seg); err != nil {
		return fmt.Errorf("autochain: bump regenerate attempts for %s: %w", segmentID, err)
	}

	newJob, err := p.jobs.Create(models.JobKindSynthesis, job.ChapterID, seg.Params.EngineID, seg.Params.ModelName, []string{segmentID}, trigger)
	if err != nil {
		return fmt.Errorf("autochain: create per-segment regenerate job: %w", err)
	}

	p.emit(models.ChannelJobs, models.EventJobCreated, newJob)
	return nil
}

func (p *Policy) mode(ctx context.Context) regenerateMode {
	v, err := p.settings.GetString(ctx, settings.KeyAutochainAutoRegenerateDefects)
	if err != nil {
		return modeDisabled
	}
	return regenerateMode(v)
}

func (p *Policy) autoAnalyzeEnabled(ctx context.Context, totalSegments int) (bool, error) {
	key := settings.KeyAutochainAutoAnalyzeChapter
	if totalSegments <= 1 {
		key = settings.KeyAutochainAutoAnalyzeSegment
	}
	return p.settings.GetBool(ctx, key)
}

func (p *Policy) maxRegenerateAttempts(ctx context.Context) (int, error) {
	return p.settings.GetInt(ctx, settings.KeyAutochainMaxRegenerateAttempts)
}

// pickAnalysisEngine returns the default (or, failing that, first) enabled
// analysis variant and its default (or first) model.
func (p *Policy) pickAnalysisEngine(ctx context.Context) (*models.EngineVariant, string, bool, error) {
	variants, err := p.analysis.Variants(ctx)
	if err != nil {
		return nil, "", false, fmt.Errorf("list analysis variants: %w", err)
	}

	var chosen *models.EngineVariant
	for _, v := range variants {
		if !v.Enabled {
			continue
		}
		if chosen == nil {
			chosen = v
		}
		if v.Default {
			chosen = v
			break
		}
	}
	if chosen == nil {
		return nil, "", false, nil
	}

	model := ""
	modelList, err := p.models.ListEngineModels(ctx, chosen.VariantID)
	if err == nil {
		for _, m := range modelList {
			if model == "" {
				model = m.Name
			}
			if m.Default {
				model = m.Name
				break
			}
		}
	}
	return chosen, model, true, nil
}

func (p *Policy) emit(channel models.Channel, eventType string, job *models.Job) {
	if p.bus == nil {
		return
	}
	data := map[string]any{
		"jobId":     job.ID,
		"kind":      string(job.Kind),
		"chapterId": job.ChapterID,
		"engineId":  job.EngineID,
		"modelName": job.ModelName,
		"trigger":   string(job.Trigger),
		"total":     job.TotalSegments,
	}
	if err := p.bus.Publish(channel, eventType, data); err != nil {
		logging.Warn().Err(err).Str("event", eventType).Msg("autochain: failed to publish event")
	}
}

// segmentsWithAudio returns, in work-item order, the ids of job's completed
// segments that currently carry a produced audio reference and are not
// frozen (spec §4.7.1: "the subset of its work-items whose segments now
// have produced audio"; frozen segments are immune to analysis per §3.1).
func segmentsWithAudio(ctx context.Context, store SegmentStore, job *models.Job) []string {
	var out []string
	for _, wi := range job.WorkItems {
		if wi.JobStatus != models.WorkItemCompleted {
			continue
		}
		seg, err := store.GetSegment(ctx, wi.SegmentID)
		if err != nil || seg.Frozen || seg.AudioRef == "" {
			continue
		}
		out = append(out, seg.ID)
	}
	return out
}
