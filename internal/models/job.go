package models

import (
	"strconv"
	"time"
)

// JobKind distinguishes the two job families the core dispatches.
type JobKind string

const (
	JobKindSynthesis JobKind = "synthesis"
	JobKindAnalysis  JobKind = "analysis"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// WorkItemStatus is the per-segment status tracked inside a job, distinct
// from the segment's own global status. See SPEC_FULL.md §9 design notes:
// a segment can appear in many historical jobs, but only the work-item list
// says which segments of *this* job remain after a restart or resume.
type WorkItemStatus string

const (
	WorkItemPending   WorkItemStatus = "pending"
	WorkItemCompleted WorkItemStatus = "completed"
)

// WorkItem is one entry of a job's ordered segment list.
type WorkItem struct {
	SegmentID string         `json:"segmentId"`
	JobStatus WorkItemStatus `json:"jobStatus"`
}

// TriggerSource records why a job was created, for auto-chain observability.
type TriggerSource string

const (
	TriggerSourceUser              TriggerSource = "user"
	TriggerSourceAutoAnalyze       TriggerSource = "auto_analyze"
	TriggerSourceAutoRegenerate    TriggerSource = "auto_regenerate"
	TriggerSourceAutoRegenerateBatch TriggerSource = "auto_regenerate_batch"
)

// Job is a unit of work over a set of segments, either synthesis or
// analysis. WorkItems is the source of truth for resume.
type Job struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	ChapterID  string    `json:"chapterId"`
	Status     JobStatus `json:"status"`
	EngineID   string    `json:"engineId"`
	ModelName  string    `json:"modelName"`
	Trigger    TriggerSource `json:"trigger"`

	TotalSegments     int `json:"totalSegments"`
	ProcessedSegments int `json:"processedSegments"`
	FailedSegments    int `json:"failedSegments"`

	WorkItems []WorkItem `json:"workItems"`

	ErrorMessage string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	ResumedAt   *time.Time `json:"resumedAt,omitempty"`
}

// PendingWorkItems returns the segment ids still pending, in order.
func (j *Job) PendingWorkItems() []WorkItem {
	out := make([]WorkItem, 0, len(j.WorkItems))
	for _, wi := range j.WorkItems {
		if wi.JobStatus == WorkItemPending {
			out = append(out, wi)
		}
	}
	return out
}

// MarkSegmentCompleted flips the matching work-item to completed and
// increments ProcessedSegments. Returns false if the segment was not found
// in the work-item list (a warning condition per spec, not an error).
func (j *Job) MarkSegmentCompleted(segmentID string) bool {
	for i := range j.WorkItems {
		if j.WorkItems[i].SegmentID == segmentID {
			if j.WorkItems[i].JobStatus != WorkItemCompleted {
				j.WorkItems[i].JobStatus = WorkItemCompleted
				j.ProcessedSegments++
			}
			return true
		}
	}
	return false
}

// PartialFailureMessage builds the "[JOB_PARTIAL_FAILURE]" error-code token
// used whenever a job terminates failed with partial progress.
func (j *Job) PartialFailureMessage() string {
	return "[JOB_PARTIAL_FAILURE]processed:" + strconv.Itoa(j.ProcessedSegments) +
		";failed:" + strconv.Itoa(j.FailedSegments) + ";total:" + strconv.Itoa(j.TotalSegments)
}
