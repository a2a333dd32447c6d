package runner

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/docker/docker/client"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// TunnelMonitor owns the SSH connection(s) to a remote Docker host and
// hands out a Docker client multiplexed over the tunnel. An external
// component (outside this package) is responsible for establishing and
// maintaining the SSH connection itself; the runner only calls back into it
// on demand, per spec §4.5: "The monitor owns all SSH connections; the
// runner calls get_client() and reconnect() callbacks on channel failures."
type TunnelMonitor interface {
	Client() (*client.Client, error)
	Reconnect(ctx context.Context) error
}

// RemoteDockerRunner runs engine containers on a remote Docker host reached
// over an SSH tunnel (spec §4.5 "Remote Docker (SSH) Runner"). It delegates
// the container lifecycle mechanics to an embedded DockerRunner, swapping in
// whatever client the tunnel monitor currently holds, and retries exactly
// once on an SSH channel failure after requesting a reconnect.
type RemoteDockerRunner struct {
	inner   *DockerRunner
	monitor TunnelMonitor
	host    string
}

// NewRemoteDockerRunner builds a runner for the remote Docker host reached
// via monitor; host is the SSH host's hostname, used to build Endpoint URLs
// (spec §4.5: "Engine container URL uses the SSH host's hostname and the
// published port").
func NewRemoteDockerRunner(cfg config.RunnerConfig, monitor TunnelMonitor, bus *eventbus.Bus, host string) (*RemoteDockerRunner, error) {
	cli, err := monitor.Client()
	if err != nil {
		return nil, err
	}
	inner := NewDockerRunner(cfg, cli, bus)
	inner.hostAddr = host
	return &RemoteDockerRunner{inner: inner, monitor: monitor, host: host}, nil
}

// AdoptExisting re-adopts containers already running on the remote host.
func (r *RemoteDockerRunner) AdoptExisting(ctx context.Context) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.inner.AdoptExisting(ctx)
	})
}

// Start launches spec's container on the remote Docker host.
func (r *RemoteDockerRunner) Start(ctx context.Context, spec LaunchSpec) (Endpoint, error) {
	var ep Endpoint
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var startErr error
		ep, startErr = r.inner.Start(ctx, spec)
		return startErr
	})
	return ep, err
}

// Stop stops spec's container on the remote Docker host.
func (r *RemoteDockerRunner) Stop(ctx context.Context, endpoint Endpoint, graceWindow time.Duration) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		return r.inner.Stop(ctx, endpoint, graceWindow)
	})
}

// CancelPull aborts variantID's in-flight pull on the remote host.
func (r *RemoteDockerRunner) CancelPull(variantID string) bool {
	return r.inner.CancelPull(variantID)
}

// withRetry runs fn once; on an SSH channel error it requests a reconnect
// through the tunnel monitor, swaps in the fresh client, and retries exactly
// once (spec §4.5: "retry-once-on-channel-error").
func (r *RemoteDockerRunner) withRetry(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !isChannelError(err) {
		return err
	}

	logging.Warn().Str("host", r.host).Err(err).Msg("runner: ssh channel error, reconnecting")
	r.publishHostEvent(models.EventDockerHostDisconnected)
	if rerr := r.monitor.Reconnect(ctx); rerr != nil {
		return rerr
	}
	cli, cerr := r.monitor.Client()
	if cerr != nil {
		return cerr
	}
	r.inner.setClient(cli)
	r.publishHostEvent(models.EventDockerHostConnected)

	return fn(ctx)
}

// isChannelError reports whether err looks like an SSH channel/transport
// failure rather than a Docker API-level error (container not found, image
// invalid, etc), which should not trigger a reconnect.
func isChannelError(err error) bool {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	for _, sub := range []string{"ssh:", "EOF", "broken pipe", "connection reset", "use of closed network connection"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}

// publishHostEvent emits a docker.host.* event around a reconnect attempt.
func (r *RemoteDockerRunner) publishHostEvent(eventType string) {
	r.inner.bus.Publish(models.ChannelEngines, eventType, map[string]any{"host": r.host})
}
