package settings

import (
	"context"
	"fmt"

	"github.com/audiobook-maker/engine-core/internal/config"
)

// Dotted keys for the settings this system reads through the cache. Kept as
// constants so callers never hand-type a path and typo a category.
const (
	KeyEnginesInactivityTimeoutMinutes = "engines.inactivityTimeoutMinutes"
	KeyEnginesDiscoveryModeTimeout     = "engines.discoveryModeTimeoutSeconds"
	KeyEnginesSingleActivePerKind      = "engines.singleActivePerKind"

	KeyAutochainAutoAnalyzeSegment    = "autochain.autoAnalyzeSegment"
	KeyAutochainAutoAnalyzeChapter    = "autochain.autoAnalyzeChapter"
	KeyAutochainAutoRegenerateDefects = "autochain.autoRegenerateDefects"
	KeyAutochainMaxRegenerateAttempts = "autochain.maxRegenerateAttempts"
)

// DefaultsFromConfig builds the compiled-in default table from the loaded
// configuration's Engines/Autochain sections, matching spec §4.8's "missing
// keys fall back to a compiled-in default table".
func DefaultsFromConfig(cfg *config.Config) map[string]any {
	return map[string]any{
		KeyEnginesInactivityTimeoutMinutes: cfg.Engines.InactivityTimeoutMinutes,
		KeyEnginesDiscoveryModeTimeout:     int(cfg.Engines.DiscoveryModeTimeout.Seconds()),
		KeyEnginesSingleActivePerKind:      cfg.Engines.SingleActivePerKind,

		KeyAutochainAutoAnalyzeSegment:    cfg.Autochain.AutoAnalyzeSegment,
		KeyAutochainAutoAnalyzeChapter:    cfg.Autochain.AutoAnalyzeChapter,
		KeyAutochainAutoRegenerateDefects: cfg.Autochain.AutoRegenerateDefects,
		KeyAutochainMaxRegenerateAttempts: cfg.Autochain.MaxRegenerateAttempts,
	}
}

// GetBool reads key and type-asserts it to bool.
func (c *Cache) GetBool(ctx context.Context, key string) (bool, error) {
	v, err := c.Get(ctx, key)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("setting %s is not a bool (got %T)", key, v)
	}
	return b, nil
}

// GetInt reads key and coerces the stored JSON number (float64 once
// round-tripped through the cache) to int.
func (c *Cache) GetInt(ctx context.Context, key string) (int, error) {
	v, err := c.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("setting %s is not a number (got %T)", key, v)
	}
}

// GetString reads key and type-asserts it to string.
func (c *Cache) GetString(ctx context.Context, key string) (string, error) {
	v, err := c.Get(ctx, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("setting %s is not a string (got %T)", key, v)
	}
	return s, nil
}
