package enginemanager

import (
	"context"
	"fmt"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// SetEnabled toggles variantID's enabled flag, enforcing the default
// invariants of spec §3.1/§9:
//   - Disabling the current default clears the default for every kind
//     except synthesis, where disabling the default outright is forbidden
//     (ErrCannotDisableDefault) — ambiguous source behavior, resolved here
//     per spec §9's explicit instruction not to guess.
//   - If this is the first variant of its kind enabled and no default is
//     currently set, it automatically becomes the default.
func (m *Manager) SetEnabled(ctx context.Context, variantID string, enabled bool) error {
	v, err := m.variant(ctx, variantID)
	if err != nil {
		return err
	}

	if !enabled && v.Default {
		if v.Kind == models.EngineKindSynthesis {
			return ErrCannotDisableDefault
		}
		v.Default = false
	}

	v.Enabled = enabled

	if enabled && !v.Default {
		siblings, err := m.Variants(ctx)
		if err != nil {
			return err
		}
		hasDefault := false
		for _, s := range siblings {
			if s.VariantID != variantID && s.Default {
				hasDefault = true
				break
			}
		}
		if !hasDefault {
			v.Default = true
		}
	}

	if err := m.store.UpsertEngineVariant(ctx, v); err != nil {
		return fmt.Errorf("persist enabled=%v for %s: %w", enabled, variantID, err)
	}

	eventType := models.EventEngineDisabled
	if enabled {
		eventType = models.EventEngineEnabled
	}
	m.emit(eventType, map[string]any{"variantId": variantID, "default": v.Default})
	return nil
}

// SetDefault makes variantID the default of its kind, clearing the default
// flag on every other variant of that kind first (spec §3.1 invariant:
// "exactly zero or one variant of a given kind is marked default").
func (m *Manager) SetDefault(ctx context.Context, variantID string) error {
	v, err := m.variant(ctx, variantID)
	if err != nil {
		return err
	}
	if !v.Enabled {
		return fmt.Errorf("enginemanager: cannot make disabled variant %s the default", variantID)
	}

	siblings, err := m.Variants(ctx)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.VariantID == variantID || !s.Default {
			continue
		}
		s.Default = false
		if err := m.store.UpsertEngineVariant(ctx, s); err != nil {
			return fmt.Errorf("clear previous default %s: %w", s.VariantID, err)
		}
	}

	v.Default = true
	if err := m.store.UpsertEngineVariant(ctx, v); err != nil {
		return fmt.Errorf("persist default for %s: %w", variantID, err)
	}
	m.emit(models.EventEngineStatus, map[string]any{"variantId": variantID, "default": true})
	return nil
}

// SetKeepWarm toggles variantID's keep-warm exemption from the auto-stop
// tick (spec §4.3 "auto-stop"; §9 "the exemption set is re-synced ... from
// the variant's own keep_warm flag").
func (m *Manager) SetKeepWarm(ctx context.Context, variantID string, keepWarm bool) error {
	v, err := m.variant(ctx, variantID)
	if err != nil {
		return err
	}
	v.KeepWarm = keepWarm
	if err := m.store.UpsertEngineVariant(ctx, v); err != nil {
		return fmt.Errorf("persist keep_warm=%v for %s: %w", keepWarm, variantID, err)
	}
	m.emit(models.EventEngineStatus, map[string]any{"variantId": variantID, "keepWarm": keepWarm})
	return nil
}
