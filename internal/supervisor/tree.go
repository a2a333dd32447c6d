package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig holds supervisor tree configuration.
type TreeConfig struct {
	// FailureThreshold is the number of failures before entering backoff.
	// Default: 5
	FailureThreshold float64

	// FailureDecay is the rate at which failures decay in seconds.
	// Default: 30
	FailureDecay float64

	// FailureBackoff is the duration to wait when threshold is exceeded.
	// Default: 15s
	FailureBackoff time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns production-ready defaults.
// These values match suture's built-in defaults per pkg.go.dev documentation.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// SupervisorTree manages the hierarchical supervisor structure for the
// engine-core daemon.
//
// The tree is organized into three layers:
//   - store: the job workers (synthesis, analysis) and their durable queues
//   - engines: per-kind engine managers, including their auto-stop tickers
//   - bus: the event bus fan-out loop
//
// This structure provides failure isolation - a crash in an engine manager's
// auto-stop tick won't take down a job worker mid-segment, and a panic in the
// event bus won't stop jobs from being claimed and processed.
type SupervisorTree struct {
	root    *suture.Supervisor
	store   *suture.Supervisor
	engines *suture.Supervisor
	bus     *suture.Supervisor
	logger  *slog.Logger
	config  TreeConfig
}

// NewSupervisorTree creates a new supervisor tree with the given configuration.
func NewSupervisorTree(logger *slog.Logger, config TreeConfig) (*SupervisorTree, error) {
	// Apply defaults for zero values
	if config.FailureThreshold == 0 {
		config.FailureThreshold = 5.0
	}
	if config.FailureDecay == 0 {
		config.FailureDecay = 30.0
	}
	if config.FailureBackoff == 0 {
		config.FailureBackoff = 15 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}

	// Create event hook using sutureslog.
	// IMPORTANT: The correct API is (&Handler{Logger: logger}).MustHook()
	// NOT sutureslog.EventHook(logger) which does not exist.
	// MustHook has a pointer receiver, so we need to take the address.
	handler := &sutureslog.Handler{Logger: logger}
	eventHook := handler.MustHook()

	rootSpec := suture.Spec{
		EventHook:        eventHook,
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	// Child supervisors use the same failure parameters.
	// They will inherit the EventHook when added to the root.
	childSpec := suture.Spec{
		FailureThreshold: config.FailureThreshold,
		FailureDecay:     config.FailureDecay,
		FailureBackoff:   config.FailureBackoff,
		Timeout:          config.ShutdownTimeout,
	}

	root := suture.New("engine-core", rootSpec)
	store := suture.New("store-layer", childSpec)
	engines := suture.New("engines-layer", childSpec)
	bus := suture.New("bus-layer", childSpec)

	// Build tree hierarchy
	root.Add(store)
	root.Add(engines)
	root.Add(bus)

	return &SupervisorTree{
		root:    root,
		store:   store,
		engines: engines,
		bus:     bus,
		logger:  logger,
		config:  config,
	}, nil
}

// Root returns the root supervisor for direct access if needed.
func (t *SupervisorTree) Root() *suture.Supervisor {
	return t.root
}

// AddStoreService adds a service to the store layer supervisor.
// Use this for the synthesis and analysis job workers.
func (t *SupervisorTree) AddStoreService(svc suture.Service) suture.ServiceToken {
	return t.store.Add(svc)
}

// AddEngineService adds a service to the engines layer supervisor.
// Use this for per-kind engine managers and their auto-stop tickers.
func (t *SupervisorTree) AddEngineService(svc suture.Service) suture.ServiceToken {
	return t.engines.Add(svc)
}

// AddBusService adds a service to the bus layer supervisor.
// Use this for the event bus's broadcast loop.
func (t *SupervisorTree) AddBusService(svc suture.Service) suture.ServiceToken {
	return t.bus.Add(svc)
}

// RemoveEngineService removes a service from the engines layer supervisor.
// Use this to remove services that were added with AddEngineService.
func (t *SupervisorTree) RemoveEngineService(token suture.ServiceToken) error {
	return t.engines.Remove(token)
}

// Serve starts the supervisor tree and blocks until the context is canceled.
// This is the main entry point for running the supervised application.
func (t *SupervisorTree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground starts the supervisor tree in a background goroutine.
// Returns a channel that receives the error (or nil) when the supervisor stops.
func (t *SupervisorTree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport returns information about services that failed to stop
// within the configured shutdown timeout. Useful for debugging shutdown issues.
func (t *SupervisorTree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}

// Remove removes a service from the tree by its token.
// The service will be stopped and removed.
func (t *SupervisorTree) Remove(token suture.ServiceToken) error {
	return t.root.Remove(token)
}

// RemoveAndWait removes a service and waits for it to fully stop.
// Use this when you need to ensure a service has completely terminated
// before proceeding (e.g., during configuration reload).
func (t *SupervisorTree) RemoveAndWait(token suture.ServiceToken, timeout time.Duration) error {
	return t.root.RemoveAndWait(token, timeout)
}
