package worker

import (
	"context"

	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// runJob drains job's pending work-items strictly sequentially (spec §4.2),
// checking for cancellation after every item, and decides the job's
// terminal state once the work-items are exhausted or cancellation wins.
func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	failed := job.FailedSegments

	for _, wi := range job.PendingWorkItems() {
		w.processItem(ctx, job, wi.SegmentID, &failed)

		current, err := w.jobs.Get(job.ID)
		if err != nil {
			logging.CtxErr(ctx, err).Msg("worker: re-read job failed")
			continue
		}
		job.ProcessedSegments = current.ProcessedSegments
		job.FailedSegments = current.FailedSegments
		job.WorkItems = current.WorkItems

		if current.Status == models.JobStatusCancelling {
			w.cancelJob(ctx, job)
			return
		}
	}

	w.finishJob(ctx, job, failed)
}

// processItem runs spec §4.2 step 3 for one segment: re-read, frozen/missing
// skip, input validation, ensure_ready, engine call, result handling.
func (w *Worker) processItem(ctx context.Context, job *models.Job, segmentID string, failed *int) {
	seg, err := w.segments.GetSegment(ctx, segmentID)
	if err != nil || !seg.Eligible() {
		if err != nil {
			logging.CtxWith(ctx).Str("segment_id", segmentID).Logger().Warn().Err(err).
				Msg("worker: segment missing, completing work-item as skipped")
		}
		w.completeWorkItem(ctx, job, segmentID)
		return
	}

	w.emit(models.EventSegmentStarted, job, map[string]any{"segmentId": segmentID})

	variant, err := w.engines.Variant(ctx, job.EngineID)
	if err != nil {
		w.failSegment(ctx, job, seg, failed, "engine variant lookup failed: "+err.Error())
		return
	}

	if err := w.processor.ValidateInput(variant, seg); err != nil {
		w.failSegment(ctx, job, seg, failed, err.Error())
		return
	}

	if err := w.engines.EnsureReady(ctx, job.EngineID, job.ModelName); err != nil {
		w.failSegment(ctx, job, seg, failed, "engine not ready: "+err.Error())
		return
	}

	payload, err := w.processor.BuildPayload(seg, job)
	if err != nil {
		w.failSegment(ctx, job, seg, failed, "build request: "+err.Error())
		return
	}

	body, contentType, err := w.retry.Call(ctx, job.EngineID, func(callCtx context.Context) ([]byte, string, error) {
		ep, ok := w.engines.Endpoint(job.EngineID)
		if !ok {
			return nil, "", &httpclient.ServerError{Message: "engine is not running"}
		}
		client := httpclient.NewEngineClient(ep.BaseURL, w.httpCfg.RequestTimeout)
		return client.Generate(callCtx, payload)
	})
	if err != nil {
		w.failSegment(ctx, job, seg, failed, err.Error())
		return
	}

	result, err := w.processor.HandleResult(ctx, seg, body, contentType)
	if err != nil {
		w.failSegment(ctx, job, seg, failed, "store result: "+err.Error())
		return
	}

	w.completeWorkItem(ctx, job, segmentID)
	w.emit(models.EventSegmentCompleted, job, map[string]any{"segmentId": segmentID})
	w.emit(models.EventJobProgress, job, nil)

	if result != nil && w.chain != nil {
		if chainErr := w.chain.SegmentAnalyzed(ctx, job, *result); chainErr != nil {
			logging.CtxWith(ctx).Str("segment_id", segmentID).Logger().Warn().Err(chainErr).
				Msg("worker: auto-chain segment hook failed")
		}
	}
}

// failSegment marks seg failed, completes its work-item (processed but not
// successful), bumps the local failed counter and the store's failed_count,
// and emits segment.failed. It never fails the job itself (spec §4.2/§7).
func (w *Worker) failSegment(ctx context.Context, job *models.Job, seg *models.Segment, failed *int, reason string) {
	if err := w.segments.SetSegmentStatus(ctx, seg.ID, models.SegmentStatusFailed); err != nil {
		logging.CtxWith(ctx).Str("segment_id", seg.ID).Logger().Error().Err(err).
			Msg("worker: failed to persist segment failure")
	}
	w.completeWorkItem(ctx, job, seg.ID)
	*failed++
	if err := w.jobs.UpdateProgress(job.ID, nil, failed); err != nil {
		logging.CtxErr(ctx, err).Msg("worker: failed to persist progress")
	}
	job.FailedSegments = *failed
	w.emit(models.EventSegmentFailed, job, map[string]any{"segmentId": seg.ID, "reason": reason})
}

func (w *Worker) completeWorkItem(ctx context.Context, job *models.Job, segmentID string) {
	if err := w.jobs.MarkSegmentCompleted(job.ID, segmentID); err != nil {
		logging.CtxWith(ctx).Str("segment_id", segmentID).Logger().Error().Err(err).
			Msg("worker: failed to mark work-item completed")
	}
	job.MarkSegmentCompleted(segmentID)
}

// cancelJob resets the job's still-pending segments to pending and marks
// the job cancelled (spec §4.2 step 3f).
func (w *Worker) cancelJob(ctx context.Context, job *models.Job) {
	for _, wi := range job.PendingWorkItems() {
		if err := w.segments.SetSegmentStatus(ctx, wi.SegmentID, models.SegmentStatusPending); err != nil {
			logging.CtxWith(ctx).Str("segment_id", wi.SegmentID).Logger().Error().Err(err).
				Msg("worker: failed to reset segment to pending on cancel")
		}
	}
	if err := w.jobs.MarkCancelled(job.ID); err != nil {
		logging.CtxErr(ctx, err).Msg("worker: failed to mark job cancelled")
		return
	}
	job.Status = models.JobStatusCancelled
	w.emit(models.EventJobCancelled, job, nil)
	_ = w.segments.MirrorJob(ctx, job)
}

// finishJob decides the job's terminal status (spec §4.2 step 4 / §7) and
// invokes the auto-chain policy (spec §4.2 step 5).
func (w *Worker) finishJob(ctx context.Context, job *models.Job, failed int) {
	job.FailedSegments = failed
	if failed == 0 && job.ProcessedSegments == job.TotalSegments {
		if err := w.jobs.MarkCompleted(job.ID); err != nil {
			logging.CtxErr(ctx, err).Msg("worker: failed to mark job completed")
		}
		job.Status = models.JobStatusCompleted
		w.emit(models.EventJobCompleted, job, nil)
	} else {
		msg := job.PartialFailureMessage()
		if err := w.jobs.MarkFailed(job.ID, msg); err != nil {
			logging.CtxErr(ctx, err).Msg("worker: failed to mark job failed")
		}
		job.Status = models.JobStatusFailed
		job.ErrorMessage = msg
		w.emit(models.EventJobFailed, job, map[string]any{"errorMessage": msg})
	}
	_ = w.segments.MirrorJob(ctx, job)

	if w.chain != nil {
		if err := w.chain.JobFinished(ctx, job); err != nil {
			logging.CtxErr(ctx, err).Msg("worker: auto-chain job-finished hook failed")
		}
	}
}
