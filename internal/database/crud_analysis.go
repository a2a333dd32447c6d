package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// InsertAnalysisResult records one quality-analysis outcome for a segment.
// Analysis results are append-only: a segment's history of analysis runs is
// preserved rather than overwritten.
func (db *DB) InsertAnalysisResult(ctx context.Context, r *models.AnalysisResult) error {
	subResults, err := json.Marshal(r.SubResults)
	if err != nil {
		return fmt.Errorf("marshal sub-results: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `INSERT INTO segments_analysis (id, segment_id, score, status, sub_results, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.SegmentID, r.Score, string(r.Status), string(subResults), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert analysis result: %w", err)
	}
	return nil
}

// LatestAnalysisResult returns the most recent analysis result for a
// segment, or ErrNotFound if none exists.
func (db *DB) LatestAnalysisResult(ctx context.Context, segmentID string) (*models.AnalysisResult, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT segment_id, score, status, sub_results
		FROM segments_analysis WHERE segment_id = ? ORDER BY created_at DESC LIMIT 1`, segmentID)

	var r models.AnalysisResult
	var status, subResults string
	err := row.Scan(&r.SegmentID, &r.Score, &status, &subResults)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis result: %w", err)
	}
	r.Status = models.AnalysisStatus(status)
	if subResults != "" {
		if err := json.Unmarshal([]byte(subResults), &r.SubResults); err != nil {
			return nil, fmt.Errorf("unmarshal sub-results: %w", err)
		}
	}
	return &r, nil
}
