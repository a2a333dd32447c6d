package models

// SegmentKind distinguishes narratable text from structural dividers.
type SegmentKind string

const (
	SegmentKindStandard SegmentKind = "standard"
	SegmentKindDivider  SegmentKind = "divider"
)

// SegmentStatus is the global lifecycle state of a segment, independent of
// any particular job's work-item view of it.
type SegmentStatus string

const (
	SegmentStatusPending    SegmentStatus = "pending"
	SegmentStatusQueued     SegmentStatus = "queued"
	SegmentStatusProcessing SegmentStatus = "processing"
	SegmentStatusCompleted  SegmentStatus = "completed"
	SegmentStatusFailed     SegmentStatus = "failed"
)

// TTSParameters is the per-segment synthesis configuration.
type TTSParameters struct {
	EngineID      string  `json:"engineId"`
	ModelName     string  `json:"modelName"`
	Language      string  `json:"language"`
	SpeakerWav    string  `json:"ttsSpeakerWav,omitempty"`
	PauseDuration float64 `json:"pauseDuration,omitempty"`
}

// Segment is one piece of a chapter.
type Segment struct {
	ID                string        `json:"id"`
	ChapterID         string        `json:"chapterId"`
	Position          int           `json:"position"`
	Text              string        `json:"text"`
	Kind              SegmentKind   `json:"kind"`
	Status            SegmentStatus `json:"status"`
	AudioRef          string        `json:"audioRef,omitempty"`
	Frozen            bool          `json:"frozen"`
	RegenerateAttempts int          `json:"regenerateAttempts"`
	Params            TTSParameters `json:"ttsParameters"`
}

// Eligible reports whether the segment may currently be dispatched for
// synthesis or analysis: it must exist and must not be frozen.
func (s *Segment) Eligible() bool {
	return s != nil && !s.Frozen
}
