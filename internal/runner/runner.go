package runner

import (
	"context"
	"errors"
	"time"

	"github.com/audiobook-maker/engine-core/internal/models"
)

// Endpoint is what every Runner backend hands back on a successful start:
// the URL the engine manager polls/calls, and an opaque handle the same
// Runner uses to stop or re-adopt the process later.
type Endpoint struct {
	BaseURL string
	Handle  string
}

// LaunchSpec is the launch-time recipe passed to a Runner.
type LaunchSpec struct {
	Variant  models.EngineVariant
	Port     int
	LogLevel string
	// Discovery marks a discovery-mode start (spec §4.3): no /load call
	// will follow, and the caller applies the aggressive auto-stop timeout.
	Discovery bool
}

// Runner abstracts how an engine variant's process is launched and stopped.
// Implementations must be safe for concurrent use: the engine manager may
// start and stop different variants concurrently.
type Runner interface {
	// Start launches spec.Variant and returns its Endpoint once the process
	// or container exists. It does not wait for the engine's /health to
	// report ready; that polling is the engine manager's job.
	Start(ctx context.Context, spec LaunchSpec) (Endpoint, error)

	// Stop tears down the process/container identified by endpoint. It
	// should attempt a graceful shutdown (the caller has already POSTed
	// /shutdown) and force-kill once graceWindow elapses.
	Stop(ctx context.Context, endpoint Endpoint, graceWindow time.Duration) error
}

// ErrNoLaunchBinary/ErrNoLaunchImage are returned when a variant's launch
// descriptor doesn't match what the runner needs.
var (
	ErrNoLaunchBinary = errors.New("runner: variant has no subprocess binary path")
	ErrNoLaunchImage  = errors.New("runner: variant has no docker image reference")
	ErrUnknownHandle  = errors.New("runner: no tracked process/container for handle")
)
