package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Path:    filepath.Join(t.TempDir(), "test.duckdb"),
		Threads: 2,
	}
	db, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEngineVariantRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	v := &models.EngineVariant{
		VariantID:  "xtts:local",
		BaseName:   "xtts",
		HostID:     "local",
		Kind:       models.EngineKindSynthesis,
		Source:     models.VariantSourceBundled,
		Installed:  true,
		Enabled:    true,
		Languages:  []string{"en", "es"},
		Capability: models.Capabilities{SupportsVoiceCloning: true},
		Constraint: models.Constraints{MaxInputLength: 500},
		Launch:     models.LaunchDescriptor{Kind: models.LaunchKindSubprocess, BinaryPath: "/usr/bin/xtts"},
	}
	require.NoError(t, db.UpsertEngineVariant(ctx, v))

	got, err := db.GetEngineVariant(ctx, "xtts:local")
	require.NoError(t, err)
	assert.Equal(t, v.BaseName, got.BaseName)
	assert.Equal(t, v.Languages, got.Languages)
	assert.True(t, got.Capability.SupportsVoiceCloning)
	assert.Equal(t, 500, got.Constraint.MaxInputLength)

	_, err = db.GetEngineVariant(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngineModelsReplace(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertEngineModels(ctx, "xtts:local", []models.EngineModel{
		{Name: "v2.0.3", DisplayName: "XTTS v2.0.3", Default: true},
		{Name: "v2.0.2", DisplayName: "XTTS v2.0.2"},
	}))
	list, err := db.ListEngineModels(ctx, "xtts:local")
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NoError(t, db.UpsertEngineModels(ctx, "xtts:local", []models.EngineModel{
		{Name: "v2.0.3", DisplayName: "XTTS v2.0.3", Default: true},
	}))
	list, err = db.ListEngineModels(ctx, "xtts:local")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSegmentRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seg := &models.Segment{
		ID:        "seg-1",
		ChapterID: "chapter-1",
		Position:  0,
		Text:      "Hello there.",
		Kind:      models.SegmentKindStandard,
		Status:    models.SegmentStatusPending,
		Params:    models.TTSParameters{EngineID: "xtts:local", ModelName: "v2.0.3", Language: "en"},
	}
	require.NoError(t, db.UpsertSegment(ctx, seg))

	got, err := db.GetSegment(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, seg.Text, got.Text)
	assert.Equal(t, "", got.AudioRef)

	require.NoError(t, db.SetSegmentStatus(ctx, "seg-1", models.SegmentStatusCompleted))
	got, err = db.GetSegment(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, models.SegmentStatusCompleted, got.Status)

	list, err := db.ListSegmentsByChapter(ctx, "chapter-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestAnalysisResultLatest(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.InsertAnalysisResult(ctx, &models.AnalysisResult{
		SegmentID: "seg-1",
		Score:     0.4,
		Status:    models.AnalysisStatusDefect,
		SubResults: []models.EngineSubResult{
			{EngineType: "loudness", EngineName: "loudness-v1", Score: 0.4, Status: models.AnalysisStatusDefect},
		},
	}))
	time.Sleep(time.Millisecond)
	require.NoError(t, db.InsertAnalysisResult(ctx, &models.AnalysisResult{
		SegmentID: "seg-1",
		Score:     0.9,
		Status:    models.AnalysisStatusPerfect,
	}))

	latest, err := db.LatestAnalysisResult(ctx, "seg-1")
	require.NoError(t, err)
	assert.Equal(t, models.AnalysisStatusPerfect, latest.Status)

	_, err = db.LatestAnalysisResult(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSettingsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.SetSetting(ctx, "autochain.mode", `"per_segment"`))
	val, err := db.GetSetting(ctx, "autochain.mode")
	require.NoError(t, err)
	assert.Equal(t, `"per_segment"`, val)

	_, err = db.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := db.ListSettings(ctx)
	require.NoError(t, err)
	assert.Contains(t, all, "autochain.mode")
}

func TestJobMirrorListFilters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	job := &models.Job{
		ID:                "job-1",
		Kind:              models.JobKindSynthesis,
		Status:            models.JobStatusPending,
		ChapterID:         "chapter-1",
		EngineID:          "xtts:local",
		ModelName:         "v2.0.3",
		Trigger:           models.TriggerSourceUser,
		TotalSegments:     2,
		ProcessedSegments: 0,
		CreatedAt:         time.Now().UTC(),
	}
	require.NoError(t, db.MirrorJob(ctx, job))

	list, err := db.ListJobs(ctx, JobListFilter{ChapterID: "chapter-1"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].ID)

	job.Status = models.JobStatusRunning
	now := time.Now().UTC()
	job.StartedAt = &now
	require.NoError(t, db.MirrorJob(ctx, job))

	list, err = db.ListJobs(ctx, JobListFilter{Status: models.JobStatusRunning})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].StartedAt)

	require.NoError(t, db.DeleteJobMirror(ctx, "job-1"))
	list, err = db.ListJobs(ctx, JobListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}
