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

// UpsertEngineVariant records or updates a discovered engine variant's
// static metadata.
func (db *DB) UpsertEngineVariant(ctx context.Context, v *models.EngineVariant) error {
	languages, err := json.Marshal(v.Languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	capability, err := json.Marshal(v.Capability)
	if err != nil {
		return fmt.Errorf("marshal capability: %w", err)
	}
	constraint, err := json.Marshal(v.Constraint)
	if err != nil {
		return fmt.Errorf("marshal constraint: %w", err)
	}
	launch, err := json.Marshal(v.Launch)
	if err != nil {
		return fmt.Errorf("marshal launch descriptor: %w", err)
	}

	now := time.Now().UTC()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now

	query := `INSERT INTO engine_variants (
		variant_id, base_name, host_id, kind, source, installed, enabled, is_default, keep_warm,
		languages, capability, constraint_json, launch_descriptor, config_hash, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (variant_id) DO UPDATE SET
		kind = excluded.kind,
		source = excluded.source,
		installed = excluded.installed,
		enabled = excluded.enabled,
		is_default = excluded.is_default,
		keep_warm = excluded.keep_warm,
		languages = excluded.languages,
		capability = excluded.capability,
		constraint_json = excluded.constraint_json,
		launch_descriptor = excluded.launch_descriptor,
		config_hash = excluded.config_hash,
		updated_at = excluded.updated_at`

	_, err = db.conn.ExecContext(ctx, query,
		v.VariantID, v.BaseName, v.HostID, string(v.Kind), string(v.Source), v.Installed, v.Enabled, v.Default, v.KeepWarm,
		string(languages), string(capability), string(constraint), string(launch), v.ConfigHash, v.CreatedAt, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert engine variant: %w", err)
	}
	return nil
}

// GetEngineVariant retrieves a variant by its composite variant_id.
func (db *DB) GetEngineVariant(ctx context.Context, variantID string) (*models.EngineVariant, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT
		variant_id, base_name, host_id, kind, source, installed, enabled, is_default, keep_warm,
		languages, capability, constraint_json, launch_descriptor, config_hash, created_at, updated_at
		FROM engine_variants WHERE variant_id = ?`, variantID)
	return scanEngineVariantFrom(row)
}

// ListEngineVariants returns all known variants.
func (db *DB) ListEngineVariants(ctx context.Context) ([]*models.EngineVariant, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT
		variant_id, base_name, host_id, kind, source, installed, enabled, is_default, keep_warm,
		languages, capability, constraint_json, launch_descriptor, config_hash, created_at, updated_at
		FROM engine_variants ORDER BY variant_id`)
	if err != nil {
		return nil, fmt.Errorf("list engine variants: %w", err)
	}
	defer closeQuietly(rows)

	var out []*models.EngineVariant
	for rows.Next() {
		v, err := scanEngineVariantFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEngineVariantFrom(s rowScanner) (*models.EngineVariant, error) {
	var v models.EngineVariant
	var kind, source, languages, capability, constraint, launch string
	err := s.Scan(
		&v.VariantID, &v.BaseName, &v.HostID, &kind, &source, &v.Installed, &v.Enabled, &v.Default, &v.KeepWarm,
		&languages, &capability, &constraint, &launch, &v.ConfigHash, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan engine variant: %w", err)
	}
	v.Kind = models.EngineKind(kind)
	v.Source = models.VariantSource(source)
	if languages != "" {
		if err := json.Unmarshal([]byte(languages), &v.Languages); err != nil {
			return nil, fmt.Errorf("unmarshal languages: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(capability), &v.Capability); err != nil {
		return nil, fmt.Errorf("unmarshal capability: %w", err)
	}
	if err := json.Unmarshal([]byte(constraint), &v.Constraint); err != nil {
		return nil, fmt.Errorf("unmarshal constraint: %w", err)
	}
	if err := json.Unmarshal([]byte(launch), &v.Launch); err != nil {
		return nil, fmt.Errorf("unmarshal launch descriptor: %w", err)
	}
	return &v, nil
}

// UpsertEngineModels replaces a variant's discovered model catalog.
func (db *DB) UpsertEngineModels(ctx context.Context, variantID string, discovered []models.EngineModel) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM engine_models WHERE variant_id = ?`, variantID); err != nil {
		return fmt.Errorf("clear engine models: %w", err)
	}

	now := time.Now().UTC()
	for _, m := range discovered {
		_, err := tx.ExecContext(ctx, `INSERT INTO engine_models (variant_id, name, display_name, is_default, discovered_at)
			VALUES (?, ?, ?, ?, ?)`,
			variantID, m.Name, m.DisplayName, m.Default, now)
		if err != nil {
			return fmt.Errorf("insert engine model %s: %w", m.Name, err)
		}
	}

	return tx.Commit()
}

// ListEngineModels returns the discovered model catalog for a variant.
func (db *DB) ListEngineModels(ctx context.Context, variantID string) ([]models.EngineModel, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT variant_id, name, display_name, is_default, discovered_at
		FROM engine_models WHERE variant_id = ? ORDER BY name`, variantID)
	if err != nil {
		return nil, fmt.Errorf("list engine models: %w", err)
	}
	defer closeQuietly(rows)

	var out []models.EngineModel
	for rows.Next() {
		var m models.EngineModel
		if err := rows.Scan(&m.VariantID, &m.Name, &m.DisplayName, &m.Default, &m.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("scan engine model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
