package enginemanager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/httpclient"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/metrics"
	"github.com/audiobook-maker/engine-core/internal/models"
	"github.com/audiobook-maker/engine-core/internal/runner"
	"github.com/audiobook-maker/engine-core/internal/runner/portregistry"
	"github.com/audiobook-maker/engine-core/internal/settings"
)

var variantRuntimeStates = []string{
	string(models.VariantStateStopped), string(models.VariantStateStarting),
	string(models.VariantStateRunning), string(models.VariantStateStopping),
}

// RunnerResolver picks the launch backend for a variant, keyed off its
// launch descriptor's Kind (subprocess, local_docker, remote_docker).
type RunnerResolver func(models.EngineVariant) (runner.Runner, error)

// VariantStore is the subset of *database.DB the manager depends on, so
// tests can substitute an in-memory fake.
type VariantStore interface {
	GetEngineVariant(ctx context.Context, variantID string) (*models.EngineVariant, error)
	ListEngineVariants(ctx context.Context) ([]*models.EngineVariant, error)
	UpsertEngineVariant(ctx context.Context, v *models.EngineVariant) error
	UpsertEngineModels(ctx context.Context, variantID string, discovered []models.EngineModel) error
	ListEngineModels(ctx context.Context, variantID string) ([]models.EngineModel, error)
}

// runtimeEntry is everything the manager tracks about one currently known
// (not necessarily running) variant.
type runtimeEntry struct {
	endpoint    runner.Endpoint
	state       models.VariantRuntimeState
	loadedModel string
	discovery   bool
	lastUsedAt  time.Time
}

// Manager owns every variant of one engine kind (spec §4.3: "per engine
// kind, a single manager instance").
type Manager struct {
	kind          models.EngineKind
	store         VariantStore
	settingsCache *settings.Cache
	bus           *eventbus.Bus
	ports         *portregistry.Registry
	resolveRunner RunnerResolver
	enginesCfg    config.EnginesConfig
	httpCfg       config.HTTPClientConfig

	mu       sync.Mutex
	runtime  map[string]*runtimeEntry
	starting map[string]bool
	stopping map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Manager for kind. ports must be the single process-wide
// registry shared across every kind's Manager (spec §9).
func New(
	kind models.EngineKind,
	store VariantStore,
	settingsCache *settings.Cache,
	bus *eventbus.Bus,
	ports *portregistry.Registry,
	resolveRunner RunnerResolver,
	enginesCfg config.EnginesConfig,
	httpCfg config.HTTPClientConfig,
) *Manager {
	return &Manager{
		kind:          kind,
		store:         store,
		settingsCache: settingsCache,
		bus:           bus,
		ports:         ports,
		resolveRunner: resolveRunner,
		enginesCfg:    enginesCfg,
		httpCfg:       httpCfg,
		runtime:       make(map[string]*runtimeEntry),
		starting:      make(map[string]bool),
		stopping:      make(map[string]bool),
		stopCh:        make(chan struct{}),
	}
}

// Kind reports the engine kind this Manager owns.
func (m *Manager) Kind() models.EngineKind { return m.kind }

// Variants returns every registered variant of this manager's kind.
func (m *Manager) Variants(ctx context.Context) ([]*models.EngineVariant, error) {
	all, err := m.store.ListEngineVariants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	out := make([]*models.EngineVariant, 0, len(all))
	for _, v := range all {
		if v.Kind == m.kind {
			out = append(out, v)
		}
	}
	return out, nil
}

// Variant loads variantID and checks it belongs to this manager's kind, for
// callers outside the package (e.g. the worker validating input length
// against the variant's constraints).
func (m *Manager) Variant(ctx context.Context, variantID string) (*models.EngineVariant, error) {
	return m.variant(ctx, variantID)
}

// Endpoint returns the current runtime endpoint for variantID, if running,
// so callers outside the package can build their own short-lived
// EngineClient (e.g. the worker issuing /generate through its own retry
// policy, re-resolving the endpoint on every attempt since a restart
// changes it).
func (m *Manager) Endpoint(variantID string) (runner.Endpoint, bool) {
	return m.endpointFor(variantID)
}

// variant loads v by id and checks it belongs to this manager's kind.
func (m *Manager) variant(ctx context.Context, variantID string) (*models.EngineVariant, error) {
	v, err := m.store.GetEngineVariant(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	if v.Kind != m.kind {
		return nil, fmt.Errorf("%w: %s belongs to kind %s, not %s", ErrUnknownVariant, variantID, v.Kind, m.kind)
	}
	return v, nil
}

// runningVariants returns the variant ids currently in the running state,
// excluding variantID.
func (m *Manager) runningVariants(exclude string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for id, e := range m.runtime {
		if id != exclude && e.state == models.VariantStateRunning {
			out = append(out, id)
		}
	}
	return out
}

// touch records activity for variantID, used by the auto-stop tick.
func (m *Manager) touch(variantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.runtime[variantID]; ok {
		e.lastUsedAt = time.Now()
	}
}

// endpointFor returns the current runtime endpoint for variantID, if running.
func (m *Manager) endpointFor(variantID string) (runner.Endpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.runtime[variantID]
	if !ok || e.state != models.VariantStateRunning {
		return runner.Endpoint{}, false
	}
	return e.endpoint, true
}

// clientFor builds an EngineClient against variantID's current endpoint.
func (m *Manager) clientFor(variantID string) (*httpclient.EngineClient, error) {
	ep, ok := m.endpointFor(variantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, variantID)
	}
	return httpclient.NewEngineClient(ep.BaseURL, m.httpCfg.RequestTimeout), nil
}

func (m *Manager) setState(variantID string, state models.VariantRuntimeState) {
	m.mu.Lock()
	e, ok := m.runtime[variantID]
	if !ok {
		e = &runtimeEntry{}
		m.runtime[variantID] = e
	}
	e.state = state
	m.mu.Unlock()
	metrics.SetEngineState(variantID, variantRuntimeStates, string(state))
}

// clearRuntime drops variantID's runtime entry entirely (used after a clean
// stop so the auto-stop tick doesn't keep scanning a stale entry).
func (m *Manager) clearRuntime(variantID string) {
	m.mu.Lock()
	delete(m.runtime, variantID)
	delete(m.starting, variantID)
	delete(m.stopping, variantID)
	m.mu.Unlock()
}

// StopAll stops every currently running variant of this manager's kind,
// used during graceful process shutdown.
func (m *Manager) StopAll(ctx context.Context) {
	for _, id := range m.runningVariants("") {
		if err := m.Stop(ctx, id, "shutdown"); err != nil {
			logging.WithVariantID(id).Warn().Err(err).Msg("enginemanager: stop during shutdown failed")
		}
	}
}

func (m *Manager) emit(eventType string, data map[string]any) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(models.ChannelEngines, eventType, data); err != nil {
		logging.Warn().Err(err).Str("event", eventType).Msg("enginemanager: failed to publish event")
	}
}
