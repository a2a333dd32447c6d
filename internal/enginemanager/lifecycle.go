package enginemanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/metrics"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/runner"
	"github.com/audiobook-maker/engine-core/internal/settings"
)

// launchSpecFor builds the runner.LaunchSpec for v's start attempt.
func launchSpecFor(v models.EngineVariant, port int, discovery bool) runner.LaunchSpec {
	return runner.LaunchSpec{Variant: v, Port: port, LogLevel: "info", Discovery: discovery}
}

// EnsureReady is the central entry point workers call before dispatching a
// segment (spec §4.3 "ensure_ready"): it starts the variant if needed,
// stops a sibling of the same kind first when single-active-per-kind
// applies, and loads/hotswaps the requested model.
func (m *Manager) EnsureReady(ctx context.Context, variantID, model string) error {
	v, err := m.variant(ctx, variantID)
	if err != nil {
		return err
	}

	if m.singleActivePerKind(ctx) {
		for _, other := range m.runningVariants(variantID) {
			if stopErr := m.Stop(ctx, other, "single_active_per_kind"); stopErr != nil {
				logging.WithVariantID(other).Warn().Err(stopErr).
					Msg("enginemanager: failed to stop sibling before starting requested variant")
			}
		}
	}

	m.mu.Lock()
	entry, running := m.runtime[variantID]
	isRunning := running && entry.state == models.VariantStateRunning
	m.mu.Unlock()

	if !isRunning {
		if err := m.Start(ctx, *v, model, false); err != nil {
			return err
		}
		m.touch(variantID)
		return nil
	}

	client, err := m.clientFor(variantID)
	if err != nil {
		return err
	}
	healthCtx, cancel := context.WithTimeout(ctx, m.enginesCfg.HealthCheckTimeout)
	health, err := client.Health(healthCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("ensure_ready: health check for %s: %w", variantID, err)
	}

	m.mu.Lock()
	loaded := entry.loadedModel
	m.mu.Unlock()

	if loaded == model && health.CurrentEngineModel == model {
		m.touch(variantID)
		return nil
	}
	if loaded == "" || health.Status == "loading" {
		return m.loadModel(ctx, variantID, model)
	}
	if v.Capability.SupportsModelHotswap {
		return m.loadModel(ctx, variantID, model)
	}

	// No hotswap support: stop and restart at the new model.
	if err := m.Stop(ctx, variantID, "model_change"); err != nil {
		return err
	}
	return m.Start(ctx, *v, model, false)
}

// Start launches variant via its runner, waits for /health, loads model
// (unless discovery is true), and records the running endpoint (spec §4.3
// "start"). The port is reserved in the registry before launch and released
// again on any failure; the endpoint is added to the runtime map only as the
// last action of a successful start.
func (m *Manager) Start(ctx context.Context, v models.EngineVariant, model string, discovery bool) error {
	m.mu.Lock()
	m.starting[v.VariantID] = true
	m.mu.Unlock()
	m.emit(models.EventEngineStarting, map[string]any{"variantId": v.VariantID, "kind": string(v.Kind)})

	ok := false
	defer func() {
		m.mu.Lock()
		delete(m.starting, v.VariantID)
		m.mu.Unlock()
		if !ok {
			m.ports.ReleaseVariant(v.VariantID)
		}
	}()

	rn, err := m.resolveRunner(v)
	if err != nil {
		m.emit(models.EventEngineError, map[string]any{"variantId": v.VariantID, "error": err.Error()})
		return fmt.Errorf("resolve runner for %s: %w", v.VariantID, err)
	}

	port, err := m.ports.Allocate(v.VariantID, m.enginesCfg.PortRangeStart, m.enginesCfg.PortRangeEnd)
	if err != nil {
		m.emit(models.EventEngineError, map[string]any{"variantId": v.VariantID, "error": err.Error()})
		return fmt.Errorf("allocate port for %s: %w", v.VariantID, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, m.enginesCfg.StartTimeout)
	defer cancel()

	endpoint, err := rn.Start(startCtx, launchSpecFor(v, port, discovery))
	if err != nil {
		m.emit(models.EventEngineError, map[string]any{"variantId": v.VariantID, "error": err.Error()})
		return fmt.Errorf("launch %s: %w", v.VariantID, err)
	}

	client := httpclient.NewEngineClient(endpoint.BaseURL, m.httpCfg.RequestTimeout)
	if err := m.waitHealthy(startCtx, client); err != nil {
		_ = rn.Stop(ctx, endpoint, m.enginesCfg.ShutdownGraceWindow)
		m.emit(models.EventEngineError, map[string]any{"variantId": v.VariantID, "error": err.Error()})
		return err
	}

	if !discovery {
		loadCtx, loadCancel := context.WithTimeout(ctx, m.enginesCfg.LoadTimeout)
		_, loadErr := client.Load(loadCtx, model)
		loadCancel()
		if loadErr != nil {
			_ = rn.Stop(ctx, endpoint, m.enginesCfg.ShutdownGraceWindow)
			m.emit(models.EventEngineError, map[string]any{"variantId": v.VariantID, "error": loadErr.Error()})
			return fmt.Errorf("load model %s on %s: %w", model, v.VariantID, loadErr)
		}
	}

	m.mu.Lock()
	m.runtime[v.VariantID] = &runtimeEntry{
		endpoint:    endpoint,
		state:       models.VariantStateRunning,
		loadedModel: model,
		discovery:   discovery,
		lastUsedAt:  time.Now(),
	}
	m.mu.Unlock()
	metrics.SetEngineState(v.VariantID, variantRuntimeStates, string(models.VariantStateRunning))
	ok = true

	m.emit(models.EventEngineStarted, map[string]any{"variantId": v.VariantID, "port": port})
	if !discovery {
		m.emit(models.EventEngineModelLoaded, map[string]any{"variantId": v.VariantID, "model": model})
	}
	return nil
}

// waitHealthy polls /health until it reports ready or loading, or ctx
// expires.
func (m *Manager) waitHealthy(ctx context.Context, client *httpclient.EngineClient) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		health, err := client.Health(ctx)
		if err == nil && (health.Status == "ready" || health.Status == "loading") {
			return nil
		}
		select {
		case <-ctx.Done():
			return ErrHealthTimeout
		case <-ticker.C:
		}
	}
}

// Stop tears down variantID's running engine (spec §4.3 "stop"): best-effort
// graceful shutdown, then the runner's own grace-window-then-kill, then
// port/endpoint release.
func (m *Manager) Stop(ctx context.Context, variantID, reason string) error {
	m.mu.Lock()
	entry, ok := m.runtime[variantID]
	if ok {
		m.stopping[variantID] = true
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	defer func() {
		m.mu.Lock()
		delete(m.stopping, variantID)
		m.mu.Unlock()
	}()

	m.emit(models.EventEngineStopping, map[string]any{"variantId": variantID, "reason": reason})
	m.setState(variantID, models.VariantStateStopping)

	v, err := m.variant(ctx, variantID)
	if err != nil {
		return err
	}
	rn, err := m.resolveRunner(*v)
	if err != nil {
		return fmt.Errorf("resolve runner for %s: %w", variantID, err)
	}

	client := httpclient.NewEngineClient(entry.endpoint.BaseURL, m.httpCfg.RequestTimeout)
	shutdownCtx, cancel := context.WithTimeout(ctx, m.enginesCfg.ShutdownGraceWindow)
	_ = client.Shutdown(shutdownCtx)
	cancel()

	if err := rn.Stop(ctx, entry.endpoint, m.enginesCfg.ShutdownGraceWindow); err != nil {
		logging.WithVariantID(variantID).Warn().Err(err).Msg("enginemanager: runner stop returned an error")
	}

	m.ports.ReleaseVariant(variantID)
	m.clearRuntime(variantID)
	metrics.SetEngineState(variantID, variantRuntimeStates, string(models.VariantStateStopped))
	m.emit(models.EventEngineStopped, map[string]any{"variantId": variantID, "reason": reason})
	return nil
}

// Restart satisfies httpclient.RestartFunc: it stops and starts variantID
// again at whatever model it last had loaded, for the HTTP retry policy's
// server-error recovery path (spec §4.4).
func (m *Manager) Restart(ctx context.Context, variantID string) error {
	m.mu.Lock()
	entry, ok := m.runtime[variantID]
	var model string
	if ok {
		model = entry.loadedModel
	}
	m.mu.Unlock()

	v, err := m.variant(ctx, variantID)
	if err != nil {
		return err
	}
	if ok {
		if err := m.Stop(ctx, variantID, "error"); err != nil {
			logging.WithVariantID(variantID).Warn().Err(err).Msg("enginemanager: stop during restart failed")
		}
	}
	return m.Start(ctx, *v, model, false)
}

// Health performs a single /health call (spec §4.3 "health").
func (m *Manager) Health(ctx context.Context, variantID string) (*httpclient.HealthStatus, error) {
	client, err := m.clientFor(variantID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, m.enginesCfg.HealthCheckTimeout)
	defer cancel()
	health, err := client.Health(ctx)
	var loadingErr *httpclient.LoadingError
	if errors.As(err, &loadingErr) {
		return nil, err
	}
	return health, err
}

// DiscoverModels starts variantID in discovery mode, calls /models, caches
// the result, and leaves it subject to the aggressive discovery-mode
// auto-stop timeout (spec §4.3 "discover_models").
func (m *Manager) DiscoverModels(ctx context.Context, variantID string) ([]models.EngineModel, error) {
	v, err := m.variant(ctx, variantID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	_, running := m.runtime[variantID]
	m.mu.Unlock()
	if !running {
		if err := m.Start(ctx, *v, "", true); err != nil {
			return nil, err
		}
	}

	client, err := m.clientFor(variantID)
	if err != nil {
		return nil, err
	}
	resp, err := client.Models(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover models for %s: %w", variantID, err)
	}

	discovered := make([]models.EngineModel, 0, len(resp.Models))
	for _, info := range resp.Models {
		discovered = append(discovered, models.EngineModel{
			VariantID:    variantID,
			Name:         info.Name,
			DisplayName:  info.DisplayName,
			DiscoveredAt: time.Now().UTC(),
		})
	}
	if err := m.store.UpsertEngineModels(ctx, variantID, discovered); err != nil {
		return nil, fmt.Errorf("cache discovered models for %s: %w", variantID, err)
	}
	m.touch(variantID)
	return discovered, nil
}

func (m *Manager) loadModel(ctx context.Context, variantID, model string) error {
	client, err := m.clientFor(variantID)
	if err != nil {
		return err
	}
	loadCtx, cancel := context.WithTimeout(ctx, m.enginesCfg.LoadTimeout)
	defer cancel()
	if _, err := client.Load(loadCtx, model); err != nil {
		return fmt.Errorf("load model %s on %s: %w", model, variantID, err)
	}
	m.mu.Lock()
	if e, ok := m.runtime[variantID]; ok {
		e.loadedModel = model
		e.discovery = false
		e.lastUsedAt = time.Now()
	}
	m.mu.Unlock()
	m.emit(models.EventEngineModelLoaded, map[string]any{"variantId": variantID, "model": model})
	return nil
}

// singleActivePerKind reads the live setting, falling back to the compiled
// default on any cache error.
func (m *Manager) singleActivePerKind(ctx context.Context) bool {
	v, err := m.settingsCache.GetBool(ctx, settings.KeyEnginesSingleActivePerKind)
	if err != nil {
		return m.enginesCfg.SingleActivePerKind
	}
	return v
}
