package enginemanager

import (
	"context"
	"time"

	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/settings"
)

// AutoStopService is a suture.Service that periodically stops running,
// non-keep-warm, idle variants (spec §4.3 "Auto-stop"). One instance
// exists per Manager; the supervisor tree runs it alongside the store and
// bus services.
type AutoStopService struct {
	mgr *Manager
}

// NewAutoStopService builds the auto-stop tick service for mgr.
func NewAutoStopService(mgr *Manager) *AutoStopService {
	return &AutoStopService{mgr: mgr}
}

// Serve runs the tick loop until ctx is cancelled, satisfying suture.Service.
func (s *AutoStopService) Serve(ctx context.Context) error {
	interval := s.mgr.enginesCfg.AutoStopTickInterval
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *AutoStopService) tick(ctx context.Context) {
	inactivityTimeout := s.mgr.inactivityTimeout(ctx)
	discoveryTimeout := s.mgr.enginesCfg.DiscoveryModeTimeout

	type candidate struct {
		variantID string
		discovery bool
	}
	var candidates []candidate

	s.mgr.mu.Lock()
	now := time.Now()
	for id, e := range s.mgr.runtime {
		if e.state != models.VariantStateRunning {
			continue
		}
		if e.lastUsedAt.IsZero() {
			continue
		}
		timeout := inactivityTimeout
		if e.discovery {
			timeout = discoveryTimeout
		}
		if now.Sub(e.lastUsedAt) > timeout {
			candidates = append(candidates, candidate{variantID: id, discovery: e.discovery})
		}
	}
	s.mgr.mu.Unlock()

	for _, c := range candidates {
		v, err := s.mgr.variant(ctx, c.variantID)
		if err == nil && v.KeepWarm {
			continue
		}
		if err := s.mgr.Stop(ctx, c.variantID, "inactivity"); err != nil {
			logging.WithVariantID(c.variantID).Warn().Err(err).
				Msg("enginemanager: auto-stop failed")
		}
	}
}

// inactivityTimeout reads the live setting (minutes), falling back to the
// compiled default on a cache error.
func (m *Manager) inactivityTimeout(ctx context.Context) time.Duration {
	minutes, err := m.settingsCache.GetInt(ctx, settings.KeyEnginesInactivityTimeoutMinutes)
	if err != nil {
		minutes = m.enginesCfg.InactivityTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}
