// Package audiostore writes synthesized audio bytes to the shared samples
// directory the runner backends also mount into engine containers (spec
// §4.5 "shared samples directory"; §4.2 step e "writes the produced
// artifact reference to the segment"). The core only moves bytes to a
// path here: decoding or transcoding audio stays a declared non-goal
// (spec §1), so this stays a plain os.WriteFile wrapper rather than
// reaching for a media library the corpus has no precedent for.
package audiostore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/audiobook-maker/engine-core/internal/database"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// extensionByContentType maps the engine's /generate Content-Type to a file
// extension for the stored artifact.
var extensionByContentType = map[string]string{
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
}

// Store writes segment audio under root/segments/<segmentId><ext> and
// mirrors the segment row through db.
type Store struct {
	root string
	db   *database.DB
}

// New builds a Store rooted at root (config.RunnerConfig.SharedSamplesDir).
func New(root string, db *database.DB) *Store {
	return &Store{root: root, db: db}
}

// StoreAudio implements internal/worker's AudioStore interface.
func (s *Store) StoreAudio(_ context.Context, segmentID string, body []byte, contentType string) (string, error) {
	ext := extensionByContentType[contentType]
	if ext == "" {
		ext = ".wav"
	}
	rel := filepath.Join("segments", segmentID+ext)
	full := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create audio directory for segment %s: %w", segmentID, err)
	}
	if err := os.WriteFile(full, body, 0o644); err != nil {
		return "", fmt.Errorf("write audio for segment %s: %w", segmentID, err)
	}
	return rel, nil
}

// UpsertSegment delegates to the relational store, satisfying
// internal/worker's AudioStore interface alongside StoreAudio.
func (s *Store) UpsertSegment(ctx context.Context, seg *models.Segment) error {
	return s.db.UpsertSegment(ctx, seg)
}
