package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// VariantStore is the subset of *database.DB discovery depends on.
type VariantStore interface {
	GetEngineVariant(ctx context.Context, variantID string) (*models.EngineVariant, error)
	ListEngineVariants(ctx context.Context) ([]*models.EngineVariant, error)
	UpsertEngineVariant(ctx context.Context, v *models.EngineVariant) error
}

// Scanner walks a set of catalog roots for variant descriptors.
type Scanner struct {
	roots []string
}

// New builds a Scanner over roots (config.EnginesConfig.DiscoveryRoots).
func New(roots []string) *Scanner {
	return &Scanner{roots: roots}
}

// Scan parses every *.yaml/*.yml file under the configured roots into a
// candidate EngineVariant. Parse failures are logged and skipped rather
// than aborting the whole scan, so one malformed descriptor doesn't hide
// every other engine from the registry.
func (s *Scanner) Scan(ctx context.Context) ([]models.EngineVariant, error) {
	var out []models.EngineVariant
	for _, root := range s.roots {
		variants, err := s.scanRoot(ctx, root)
		if err != nil {
			return nil, err
		}
		out = append(out, variants...)
	}
	return out, nil
}

func (s *Scanner) scanRoot(_ context.Context, root string) ([]models.EngineVariant, error) {
	var out []models.EngineVariant
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return nil // root not created yet; nothing to discover
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		v, parseErr := parseDescriptorFile(path)
		if parseErr != nil {
			logging.Warn().Str("path", path).Err(parseErr).Msg("discovery: skipping unparsable descriptor")
			return nil
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan discovery root %s: %w", root, err)
	}
	return out, nil
}

func parseDescriptorFile(path string) (models.EngineVariant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.EngineVariant{}, fmt.Errorf("read %s: %w", path, err)
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return models.EngineVariant{}, fmt.Errorf("parse %s: %w", path, err)
	}
	var d descriptor
	if err := k.Unmarshal("", &d); err != nil {
		return models.EngineVariant{}, fmt.Errorf("unmarshal %s: %w", path, err)
	}
	if d.BaseName == "" || d.Kind == "" {
		return models.EngineVariant{}, fmt.Errorf("%s: base_name and kind are required", path)
	}

	source := models.VariantSourceCatalog
	if d.Source != "" {
		source = models.VariantSource(d.Source)
	}

	hostID := d.HostID
	if hostID == "" {
		hostID = "local"
	}
	variantID := d.BaseName + ":" + hostID

	now := time.Now().UTC()
	v := models.EngineVariant{
		VariantID: variantID,
		BaseName:  d.BaseName,
		HostID:    hostID,
		Kind:      models.EngineKind(d.Kind),
		Source:    source,
		Installed: true,
		Languages: d.Languages,
		Capability: models.Capabilities{
			SupportsModelHotswap: d.Capabilities.SupportsModelHotswap,
			SupportsVoiceCloning: d.Capabilities.SupportsVoiceCloning,
			SupportsStreaming:    d.Capabilities.SupportsStreaming,
		},
		Constraint: models.Constraints{
			MinInputLength: d.Constraints.MinInputLength,
			MaxInputLength: d.Constraints.MaxInputLength,
			SampleRateHz:   d.Constraints.SampleRateHz,
			AudioFormat:    d.Constraints.AudioFormat,
		},
		Launch: models.LaunchDescriptor{
			Kind:       models.LaunchKind(d.Launch.Kind),
			BinaryPath: d.Launch.BinaryPath,
			Image:      d.Launch.Image,
			Tag:        d.Launch.Tag,
			SSHHost:    d.Launch.SSHHost,
		},
		ConfigHash: hashDescriptor(raw),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, pl := range d.Constraints.PerLanguage {
		v.Constraint.PerLanguage = append(v.Constraint.PerLanguage, models.LanguageConstraint{
			Language: pl.Language, MinLength: pl.MinLength, MaxLength: pl.MaxLength, SampleRateHz: pl.SampleRateHz,
		})
	}
	return v, nil
}

func hashDescriptor(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Merge upserts each discovered variant into store, preserving the
// database-owned enabled/default/keep-warm flags of any existing row and
// only refreshing the disk-owned fields (spec §4.3 ownership split). New
// variants are inserted disabled, matching §9's explicit-opt-in default
// posture (an operator must enable a newly discovered engine).
func (s *Scanner) Merge(ctx context.Context, store VariantStore, discovered []models.EngineVariant) (int, error) {
	merged := 0
	for _, v := range discovered {
		existing, err := store.GetEngineVariant(ctx, v.VariantID)
		if err == nil {
			if existing.ConfigHash == v.ConfigHash {
				continue // disk definition unchanged; nothing to refresh
			}
			v.Enabled = existing.Enabled
			v.Default = existing.Default
			v.KeepWarm = existing.KeepWarm
			v.CreatedAt = existing.CreatedAt
		}
		v.UpdatedAt = time.Now().UTC()
		if err := store.UpsertEngineVariant(ctx, &v); err != nil {
			return merged, fmt.Errorf("merge variant %s: %w", v.VariantID, err)
		}
		merged++
	}
	return merged, nil
}
