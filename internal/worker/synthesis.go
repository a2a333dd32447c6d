package worker

import (
	"context"
	"fmt"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// GeneratePayload is the TTS /generate request body (spec §6.2).
type GeneratePayload struct {
	Text       string         `json:"text"`
	Language   string         `json:"language"`
	SpeakerWav string         `json:"ttsSpeakerWav,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// AudioStore persists the artifact reference produced by a synthesis call.
type AudioStore interface {
	UpsertSegment(ctx context.Context, s *models.Segment) error
	// StoreAudio writes body to durable storage and returns the reference
	// the segment's AudioRef should carry (e.g. a file path or object key).
	StoreAudio(ctx context.Context, segmentID string, body []byte, contentType string) (string, error)
}

// SynthesisProcessor implements Processor for TTS jobs.
type SynthesisProcessor struct {
	audio AudioStore
}

// NewSynthesisProcessor builds the synthesis-kind Processor.
func NewSynthesisProcessor(audio AudioStore) *SynthesisProcessor {
	return &SynthesisProcessor{audio: audio}
}

func (p *SynthesisProcessor) Kind() models.JobKind { return models.JobKindSynthesis }

// ValidateInput enforces the variant's (possibly per-language) max input
// length, and a minimum length floor, per spec §4.2 step b.
func (p *SynthesisProcessor) ValidateInput(variant *models.EngineVariant, seg *models.Segment) error {
	max := variant.Constraint.MaxLengthFor(seg.Params.Language)
	if max > 0 && len(seg.Text) > max {
		return fmt.Errorf("segment text length %d exceeds engine max %d for language %q", len(seg.Text), max, seg.Params.Language)
	}
	if variant.Constraint.MinInputLength > 0 && len(seg.Text) < variant.Constraint.MinInputLength {
		return fmt.Errorf("segment text length %d is below engine min %d", len(seg.Text), variant.Constraint.MinInputLength)
	}
	return nil
}

func (p *SynthesisProcessor) BuildPayload(seg *models.Segment, job *models.Job) (any, error) {
	var params map[string]any
	if seg.Params.PauseDuration > 0 {
		params = map[string]any{"pauseDuration": seg.Params.PauseDuration}
	}
	return GeneratePayload{
		Text:       seg.Text,
		Language:   seg.Params.Language,
		SpeakerWav: seg.Params.SpeakerWav,
		Parameters: params,
	}, nil
}

func (p *SynthesisProcessor) HandleResult(ctx context.Context, seg *models.Segment, body []byte, contentType string) (*models.AnalysisResult, error) {
	ref, err := p.audio.StoreAudio(ctx, seg.ID, body, contentType)
	if err != nil {
		return nil, fmt.Errorf("store audio for segment %s: %w", seg.ID, err)
	}
	seg.AudioRef = ref
	seg.Status = models.SegmentStatusCompleted
	if err := p.audio.UpsertSegment(ctx, seg); err != nil {
		return nil, fmt.Errorf("persist segment %s: %w", seg.ID, err)
	}
	return nil, nil
}
