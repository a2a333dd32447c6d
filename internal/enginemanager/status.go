package enginemanager

import (
	"context"
	"time"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// SecondsUntilAutoStop reports how many seconds remain before the
// auto-stop tick would stop variantID, given its current activity and
// mode. The second return is false if variantID is not currently running
// (keep-warm variants still report a countdown; the caller decides whether
// to surface it, matching the Python original's
// get_seconds_until_auto_stop). Supplements spec §4.3 for the periodic
// engine.status broadcast (see SPEC_FULL.md §3).
func (m *Manager) SecondsUntilAutoStop(ctx context.Context, variantID string) (int, bool) {
	m.mu.Lock()
	e, ok := m.runtime[variantID]
	if !ok || e.state != models.VariantStateRunning || e.lastUsedAt.IsZero() {
		m.mu.Unlock()
		return 0, false
	}
	lastUsed, discovery := e.lastUsedAt, e.discovery
	m.mu.Unlock()

	timeout := m.inactivityTimeout(ctx)
	if discovery {
		timeout = m.enginesCfg.DiscoveryModeTimeout
	}

	remaining := timeout - time.Since(lastUsed)
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining.Seconds()), true
}

// runningSnapshot is one variant's status-broadcast entry.
type runningSnapshot struct {
	variantID        string
	state            models.VariantRuntimeState
	discovery        bool
	secondsToAutoStop int
	hasCountdown     bool
}

func (m *Manager) snapshot(ctx context.Context) []runningSnapshot {
	m.mu.Lock()
	ids := make([]string, 0, len(m.runtime))
	for id := range m.runtime {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]runningSnapshot, 0, len(ids))
	for _, id := range ids {
		m.mu.Lock()
		e, ok := m.runtime[id]
		var state models.VariantRuntimeState
		var discovery bool
		if ok {
			state, discovery = e.state, e.discovery
		}
		m.mu.Unlock()
		if !ok {
			continue
		}
		secs, hasCountdown := m.SecondsUntilAutoStop(ctx, id)
		out = append(out, runningSnapshot{
			variantID: id, state: state, discovery: discovery,
			secondsToAutoStop: secs, hasCountdown: hasCountdown,
		})
	}
	return out
}

// StatusBroadcaster periodically emits engine.status on the engines
// channel with a per-variant auto-stop countdown, matching the Python
// original's 15s status broadcast (SPEC_FULL.md §3). One instance runs per
// Manager, alongside its AutoStopService, in the supervisor tree's engines
// layer.
type StatusBroadcaster struct {
	mgr *Manager
}

// NewStatusBroadcaster builds the status-broadcast service for mgr.
func NewStatusBroadcaster(mgr *Manager) *StatusBroadcaster {
	return &StatusBroadcaster{mgr: mgr}
}

// Serve runs the broadcast loop until ctx is cancelled, satisfying
// suture.Service.
func (s *StatusBroadcaster) Serve(ctx context.Context) error {
	interval := s.mgr.enginesCfg.StatusBroadcastInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.broadcast(ctx)
		}
	}
}

func (s *StatusBroadcaster) broadcast(ctx context.Context) {
	if s.mgr.bus == nil {
		return
	}
	for _, snap := range s.mgr.snapshot(ctx) {
		data := map[string]any{
			"kind":      string(s.mgr.kind),
			"variantId": snap.variantID,
			"state":     string(snap.state),
			"discovery": snap.discovery,
		}
		if snap.hasCountdown {
			data["secondsUntilAutoStop"] = snap.secondsToAutoStop
		}
		s.mgr.emit(models.EventEngineStatus, data)
	}
}
