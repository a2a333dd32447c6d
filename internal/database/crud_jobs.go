package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// MirrorJob upserts the listing-only read-model row for a job. The
// authoritative record, including its work-item list, lives in
// internal/jobstore; this mirror exists so List queries can filter by
// status/chapter/kind with an index instead of scanning Badger.
func (db *DB) MirrorJob(ctx context.Context, j *models.Job) error {
	query := `INSERT INTO jobs (
		id, kind, status, chapter_id, engine_id, model_name, total_segments, processed_segments, failed_segments,
		trigger, error_message, created_at, started_at, completed_at, resumed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		processed_segments = excluded.processed_segments,
		failed_segments = excluded.failed_segments,
		error_message = excluded.error_message,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		resumed_at = excluded.resumed_at`

	_, err := db.conn.ExecContext(ctx, query,
		j.ID, string(j.Kind), string(j.Status), j.ChapterID, j.EngineID, j.ModelName,
		j.TotalSegments, j.ProcessedSegments, j.FailedSegments, string(j.Trigger),
		nullableString(j.ErrorMessage), j.CreatedAt, nullableTime(j.StartedAt), nullableTime(j.CompletedAt), nullableTime(j.ResumedAt),
	)
	if err != nil {
		return fmt.Errorf("mirror job %s: %w", j.ID, err)
	}
	return nil
}

// DeleteJobMirror removes a job's read-model row, called alongside
// jobstore.Delete/DeleteWithCleanup.
func (db *DB) DeleteJobMirror(ctx context.Context, jobID string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	if err != nil {
		return fmt.Errorf("delete job mirror %s: %w", jobID, err)
	}
	return nil
}

// JobListFilter selects a subset of the jobs read-model.
type JobListFilter struct {
	Kind      models.JobKind
	Status    models.JobStatus
	ChapterID string
	Limit     int
	Offset    int
}

// ListJobs queries the indexed read-model mirror, ordered newest-first.
func (db *DB) ListJobs(ctx context.Context, filter JobListFilter) ([]*models.Job, error) {
	query := `SELECT id, kind, status, chapter_id, engine_id, model_name, total_segments, processed_segments,
		failed_segments, trigger, error_message, created_at, started_at, completed_at, resumed_at FROM jobs WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.ChapterID != "" {
		query += " AND chapter_id = ?"
		args = append(args, filter.ChapterID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer closeQuietly(rows)

	var out []*models.Job
	for rows.Next() {
		j, err := scanJobRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func scanJobRow(rows *sql.Rows) (*models.Job, error) {
	var j models.Job
	var kind, status, trigger string
	var errMsg sql.NullString
	var startedAt, completedAt, resumedAt sql.NullTime
	err := rows.Scan(&j.ID, &kind, &status, &j.ChapterID, &j.EngineID, &j.ModelName, &j.TotalSegments,
		&j.ProcessedSegments, &j.FailedSegments, &trigger, &errMsg, &j.CreatedAt, &startedAt, &completedAt, &resumedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Kind = models.JobKind(kind)
	j.Status = models.JobStatus(status)
	j.Trigger = models.TriggerSource(trigger)
	j.ErrorMessage = errMsg.String
	j.StartedAt = nullTimePtr(startedAt)
	j.CompletedAt = nullTimePtr(completedAt)
	j.ResumedAt = nullTimePtr(resumedAt)
	return &j, nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
