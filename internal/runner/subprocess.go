package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/logging"
)

// process tracks one running subprocess and the goroutine that reaps it.
// cmd.Wait must be called exactly once; done is closed when that call
// returns, letting Stop wait on it with a timeout instead of calling Wait
// itself.
type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// SubprocessRunner launches an engine's entry binary directly on the local
// host. Grounded on the teacher's use of exec.CommandContext in
// internal/testinfra/containers.go for "is docker available" probing; there
// is no teacher precedent for a long-lived managed subprocess, so the
// lifecycle bookkeeping (process map, graceful-then-kill Stop) is new here.
type SubprocessRunner struct {
	cfg config.RunnerConfig

	mu    sync.Mutex
	procs map[string]*process
}

// NewSubprocessRunner builds a runner for locally-spawned engine binaries.
func NewSubprocessRunner(cfg config.RunnerConfig) *SubprocessRunner {
	return &SubprocessRunner{cfg: cfg, procs: make(map[string]*process)}
}

// Start spawns the variant's entry binary with --port <p>, inheriting the
// parent's stdout/stderr so engine logs land in the same stream as the rest
// of the service (spec §4.5: "log consolidation").
func (r *SubprocessRunner) Start(ctx context.Context, spec LaunchSpec) (Endpoint, error) {
	if spec.Variant.Launch.BinaryPath == "" {
		return Endpoint{}, ErrNoLaunchBinary
	}

	args := []string{"--port", strconv.Itoa(spec.Port)}
	cmd := exec.Command(spec.Variant.Launch.BinaryPath, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return Endpoint{}, fmt.Errorf("start subprocess for %s: %w", spec.Variant.VariantID, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()

	handle := spec.Variant.VariantID
	r.mu.Lock()
	r.procs[handle] = p
	r.mu.Unlock()

	logging.Info().
		Str("variantId", spec.Variant.VariantID).
		Int("pid", cmd.Process.Pid).
		Int("port", spec.Port).
		Msg("runner: subprocess started")

	return Endpoint{BaseURL: fmt.Sprintf("http://127.0.0.1:%d", spec.Port), Handle: handle}, nil
}

// Stop waits for the process to exit (the caller has already attempted a
// graceful /shutdown) up to graceWindow, then force-kills it.
func (r *SubprocessRunner) Stop(_ context.Context, endpoint Endpoint, graceWindow time.Duration) error {
	r.mu.Lock()
	p, ok := r.procs[endpoint.Handle]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-p.done:
	case <-time.After(graceWindow):
		logging.Warn().Str("handle", endpoint.Handle).Msg("runner: subprocess did not exit gracefully, killing")
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		<-p.done
	}

	r.mu.Lock()
	delete(r.procs, endpoint.Handle)
	r.mu.Unlock()
	return nil
}
