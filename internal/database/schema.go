package database

import (
	"context"
	"fmt"
	"time"
)

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the repository tables. All columns are defined in
// the initial CREATE TABLE statement; there is no migration history to
// preserve yet.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, q := range []string{
		`CREATE TABLE IF NOT EXISTS engine_variants (
			variant_id TEXT PRIMARY KEY,
			base_name TEXT NOT NULL,
			host_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			source TEXT NOT NULL,
			installed BOOLEAN NOT NULL DEFAULT false,
			enabled BOOLEAN NOT NULL DEFAULT true,
			is_default BOOLEAN NOT NULL DEFAULT false,
			keep_warm BOOLEAN NOT NULL DEFAULT false,
			languages TEXT,
			capability TEXT NOT NULL,
			constraint_json TEXT NOT NULL,
			launch_descriptor TEXT NOT NULL,
			config_hash TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS engine_models (
			variant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			display_name TEXT NOT NULL,
			is_default BOOLEAN NOT NULL DEFAULT false,
			discovered_at TIMESTAMP NOT NULL,
			PRIMARY KEY (variant_id, name)
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			id TEXT PRIMARY KEY,
			chapter_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			text TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			audio_ref TEXT,
			frozen BOOLEAN NOT NULL DEFAULT false,
			regenerate_attempts INTEGER NOT NULL DEFAULT 0,
			tts_parameters TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS segments_analysis (
			id TEXT PRIMARY KEY,
			segment_id TEXT NOT NULL,
			score DOUBLE NOT NULL,
			status TEXT NOT NULL,
			sub_results TEXT,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS global_settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			status TEXT NOT NULL,
			chapter_id TEXT NOT NULL,
			engine_id TEXT NOT NULL,
			model_name TEXT NOT NULL,
			total_segments INTEGER NOT NULL,
			processed_segments INTEGER NOT NULL,
			failed_segments INTEGER NOT NULL,
			trigger TEXT NOT NULL,
			error_message TEXT,
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP,
			resumed_at TIMESTAMP
		)`,
	} {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (db *DB) createIndexes() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, q := range []string{
		`CREATE INDEX IF NOT EXISTS idx_segments_chapter ON segments(chapter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_status ON segments(status)`,
		`CREATE INDEX IF NOT EXISTS idx_segments_analysis_segment ON segments_analysis(segment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_chapter ON jobs(chapter_id)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_kind ON jobs(kind)`,
	} {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
