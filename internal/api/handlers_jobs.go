package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/audiobook-maker/engine-core/internal/database"
	"github.com/audiobook-maker/engine-core/internal/jobstore"
	"github.com/audiobook-maker/engine-core/internal/models"
)

type createJobRequest struct {
	Kind       models.JobKind `json:"kind"`
	ChapterID  string         `json:"chapterId"`
	EngineID   string         `json:"engineId"`
	ModelName  string         `json:"modelName"`
	SegmentIDs []string       `json:"segmentIds"`
}

func (router *Router) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Kind != models.JobKindSynthesis && req.Kind != models.JobKindAnalysis {
		writeError(w, http.StatusBadRequest, "kind must be synthesis or analysis")
		return
	}
	if len(req.SegmentIDs) == 0 {
		writeError(w, http.StatusBadRequest, "segmentIds must not be empty")
		return
	}

	job, err := router.jobs.Create(req.Kind, req.ChapterID, req.EngineID, req.ModelName, req.SegmentIDs, models.TriggerSourceUser)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "create job: "+err.Error())
		return
	}

	if err := router.db.MirrorJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "mirror job: "+err.Error())
		return
	}

	router.publishJobEvent(models.EventJobCreated, job)
	writeJSON(w, http.StatusCreated, job)
}

func (router *Router) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := router.jobs.Get(jobID)
	if err != nil {
		router.writeJobStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (router *Router) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := database.JobListFilter{
		Kind:      models.JobKind(q.Get("kind")),
		Status:    models.JobStatus(q.Get("status")),
		ChapterID: q.Get("chapterId"),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = offset
	}

	jobs, err := router.db.ListJobs(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list jobs: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (router *Router) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if err := router.jobs.RequestCancellation(jobID); err != nil {
		router.writeJobStoreError(w, err)
		return
	}
	job, err := router.jobs.Get(jobID)
	if err == nil {
		_ = router.db.MirrorJob(r.Context(), job)
		router.publishJobEvent(models.EventJobCancelling, job)
	}
	w.WriteHeader(http.StatusAccepted)
}

func (router *Router) handleResumeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := router.jobs.Resume(jobID)
	if err != nil {
		router.writeJobStoreError(w, err)
		return
	}
	if err := router.db.MirrorJob(r.Context(), job); err != nil {
		writeError(w, http.StatusInternalServerError, "mirror resumed job: "+err.Error())
		return
	}
	router.publishJobEvent(models.EventJobResumed, job)
	writeJSON(w, http.StatusOK, job)
}

func (router *Router) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	ctx := r.Context()

	err := router.jobs.DeleteWithCleanup(jobID, func(segmentID string) error {
		return router.db.SetSegmentStatus(ctx, segmentID, models.SegmentStatusPending)
	})
	if err != nil {
		router.writeJobStoreError(w, err)
		return
	}
	if err := router.db.DeleteJobMirror(ctx, jobID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete job mirror: "+err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (router *Router) writeJobStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobstore.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobstore.ErrInvalidTransition), errors.Is(err, jobstore.ErrNoResumableWorkItems):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (router *Router) publishJobEvent(eventType string, job *models.Job) {
	if router.bus == nil {
		return
	}
	_ = router.bus.Publish(models.ChannelJobs, eventType, map[string]any{
		"jobId":     job.ID,
		"kind":      string(job.Kind),
		"chapterId": job.ChapterID,
		"status":    string(job.Status),
	})
}
