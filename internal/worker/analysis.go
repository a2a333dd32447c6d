package worker

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// AnalyzePayload is the analysis/STT /generate request body (spec §6.2).
type AnalyzePayload struct {
	AudioPath          string         `json:"audioPath"`
	Language           string         `json:"language,omitempty"`
	ExpectedText       string         `json:"expectedText,omitempty"`
	PronunciationRules map[string]any `json:"pronunciationRules,omitempty"`
	Thresholds         map[string]any `json:"thresholds,omitempty"`
}

// analyzeResponse is the engine's analysis JSON response shape.
type analyzeResponse struct {
	Score      float64                  `json:"score"`
	Status     models.AnalysisStatus    `json:"status"`
	SubResults []models.EngineSubResult `json:"subResults"`
}

// AnalysisStore persists quality-analysis outcomes.
type AnalysisStore interface {
	InsertAnalysisResult(ctx context.Context, r *models.AnalysisResult) error
	UpsertSegment(ctx context.Context, s *models.Segment) error
}

// AnalysisProcessor implements Processor for quality-analysis jobs.
type AnalysisProcessor struct {
	store      AnalysisStore
	thresholds map[string]any
}

// NewAnalysisProcessor builds the analysis-kind Processor. thresholds is
// passed through verbatim to every /generate call.
func NewAnalysisProcessor(store AnalysisStore, thresholds map[string]any) *AnalysisProcessor {
	return &AnalysisProcessor{store: store, thresholds: thresholds}
}

func (p *AnalysisProcessor) Kind() models.JobKind { return models.JobKindAnalysis }

// ValidateInput has no length constraint to enforce: analysis engines take
// an audio reference, not raw text.
func (p *AnalysisProcessor) ValidateInput(*models.EngineVariant, *models.Segment) error { return nil }

func (p *AnalysisProcessor) BuildPayload(seg *models.Segment, job *models.Job) (any, error) {
	if seg.AudioRef == "" {
		return nil, fmt.Errorf("segment %s has no audio reference to analyze", seg.ID)
	}
	return AnalyzePayload{
		AudioPath:  seg.AudioRef,
		Language:   seg.Params.Language,
		Thresholds: p.thresholds,
	}, nil
}

func (p *AnalysisProcessor) HandleResult(ctx context.Context, seg *models.Segment, body []byte, _ string) (*models.AnalysisResult, error) {
	var resp analyzeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode analysis response for segment %s: %w", seg.ID, err)
	}

	result := &models.AnalysisResult{
		SegmentID:  seg.ID,
		Score:      resp.Score,
		Status:     resp.Status,
		SubResults: resp.SubResults,
	}
	if err := p.store.InsertAnalysisResult(ctx, result); err != nil {
		return nil, fmt.Errorf("insert analysis result for segment %s: %w", seg.ID, err)
	}

	seg.Status = models.SegmentStatusCompleted
	if err := p.store.UpsertSegment(ctx, seg); err != nil {
		return nil, fmt.Errorf("persist segment %s: %w", seg.ID, err)
	}

	return result, nil
}
