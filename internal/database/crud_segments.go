package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// UpsertSegment inserts or replaces a segment's persisted state.
func (db *DB) UpsertSegment(ctx context.Context, s *models.Segment) error {
	params, err := json.Marshal(s.Params)
	if err != nil {
		return fmt.Errorf("marshal tts parameters: %w", err)
	}

	now := time.Now().UTC()
	query := `INSERT INTO segments (
		id, chapter_id, position, text, kind, status, audio_ref, frozen, regenerate_attempts, tts_parameters, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		position = excluded.position,
		text = excluded.text,
		kind = excluded.kind,
		status = excluded.status,
		audio_ref = excluded.audio_ref,
		frozen = excluded.frozen,
		regenerate_attempts = excluded.regenerate_attempts,
		tts_parameters = excluded.tts_parameters,
		updated_at = excluded.updated_at`

	_, err = db.conn.ExecContext(ctx, query,
		s.ID, s.ChapterID, s.Position, s.Text, string(s.Kind), string(s.Status), s.AudioRef, s.Frozen, s.RegenerateAttempts,
		string(params), now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert segment: %w", err)
	}
	return nil
}

// GetSegment retrieves a segment by ID.
func (db *DB) GetSegment(ctx context.Context, id string) (*models.Segment, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT
		id, chapter_id, position, text, kind, status, audio_ref, frozen, regenerate_attempts, tts_parameters
		FROM segments WHERE id = ?`, id)
	return scanSegmentFrom(row)
}

// ListSegmentsByChapter returns a chapter's segments ordered by position.
func (db *DB) ListSegmentsByChapter(ctx context.Context, chapterID string) ([]*models.Segment, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT
		id, chapter_id, position, text, kind, status, audio_ref, frozen, regenerate_attempts, tts_parameters
		FROM segments WHERE chapter_id = ? ORDER BY position`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer closeQuietly(rows)

	var out []*models.Segment
	for rows.Next() {
		s, err := scanSegmentFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetSegmentStatus updates just the status column, used to reset a segment
// back to pending when a job referencing it is deleted or cancelled.
func (db *DB) SetSegmentStatus(ctx context.Context, segmentID string, status models.SegmentStatus) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE segments SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), segmentID)
	if err != nil {
		return fmt.Errorf("set segment status: %w", err)
	}
	return nil
}

func scanSegmentFrom(s rowScanner) (*models.Segment, error) {
	var seg models.Segment
	var kind, status, params string
	var audioRef sql.NullString
	err := s.Scan(&seg.ID, &seg.ChapterID, &seg.Position, &seg.Text, &kind, &status, &audioRef, &seg.Frozen, &seg.RegenerateAttempts, &params)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan segment: %w", err)
	}
	seg.Kind = models.SegmentKind(kind)
	seg.Status = models.SegmentStatus(status)
	seg.AudioRef = audioRef.String
	if err := json.Unmarshal([]byte(params), &seg.Params); err != nil {
		return nil, fmt.Errorf("unmarshal tts parameters: %w", err)
	}
	return &seg, nil
}
