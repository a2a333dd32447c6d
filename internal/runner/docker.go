package runner

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerimage "github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// DockerRunner launches engine variants as local Docker containers (spec
// §4.5 "Local Docker Runner"). There is no teacher precedent for
// application-level container orchestration — the teacher only talks to
// Docker from its testcontainers-backed integration test harness
// (internal/testinfra) — so this is grounded directly on the public
// docker/docker/client API, already an indirect dependency via
// testcontainers-go.
type DockerRunner struct {
	cfg      config.RunnerConfig
	hostAddr string
	bus      *eventbus.Bus
	cancels  *CancelRegistry

	cliMu sync.RWMutex
	cli   *client.Client

	mu         sync.Mutex
	containers map[string]string // baseName -> containerID
}

// NewDockerRunner builds a runner against an already-connected Docker client
// whose containers are reachable on the local host.
func NewDockerRunner(cfg config.RunnerConfig, cli *client.Client, bus *eventbus.Bus) *DockerRunner {
	return &DockerRunner{
		cfg:        cfg,
		hostAddr:   "127.0.0.1",
		cli:        cli,
		bus:        bus,
		cancels:    NewCancelRegistry(),
		containers: make(map[string]string),
	}
}

// client returns the currently active Docker client, safe for concurrent
// use alongside setClient (the remote SSH runner swaps it on reconnect).
func (r *DockerRunner) client() *client.Client {
	r.cliMu.RLock()
	defer r.cliMu.RUnlock()
	return r.cli
}

// setClient swaps the active Docker client, used after the remote SSH
// runner's tunnel monitor reconnects.
func (r *DockerRunner) setClient(cli *client.Client) {
	r.cliMu.Lock()
	r.cli = cli
	r.cliMu.Unlock()
}

// AdoptExisting scans containers prefixed with the configured name prefix
// and re-adopts any still running into the in-memory map, so a restart of
// this process doesn't leak containers it no longer remembers (spec §4.5:
// "the backend survives its own restarts without leaking containers").
// Excluded infrastructure containers are never adopted.
func (r *DockerRunner) AdoptExisting(ctx context.Context) error {
	containers, err := r.client().ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return fmt.Errorf("list containers for adoption: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range containers {
		name := firstName(c.Names)
		if name == "" || !strings.HasPrefix(name, r.cfg.ContainerNamePrefix) {
			continue
		}
		if r.isExcluded(name) {
			continue
		}
		if !strings.HasPrefix(c.State, "running") {
			continue
		}
		baseName := strings.TrimPrefix(name, r.cfg.ContainerNamePrefix)
		r.containers[baseName] = c.ID
		logging.Info().Str("container", name).Str("id", c.ID[:12]).Msg("runner: adopted existing container")
	}
	return nil
}

// Start ensures image[:tag] is present, reuses a running container of the
// expected name on the expected port if one exists, and otherwise recreates
// it with the port published, optional GPU device request, and bind mounts
// for the shared samples directory and this variant's models directory.
func (r *DockerRunner) Start(ctx context.Context, spec LaunchSpec) (Endpoint, error) {
	if spec.Variant.Launch.Image == "" {
		return Endpoint{}, ErrNoLaunchImage
	}

	name := r.cfg.ContainerNamePrefix + spec.Variant.BaseName
	portStr := strconv.Itoa(spec.Port)

	if id, ok := r.existingRunningOnPort(ctx, name, spec.Port); ok {
		r.mu.Lock()
		r.containers[spec.Variant.BaseName] = id
		r.mu.Unlock()
		return Endpoint{BaseURL: fmt.Sprintf("http://%s:%d", r.hostAddr, spec.Port), Handle: id}, nil
	}

	r.removeIfExists(ctx, name)

	if err := r.ensureImage(ctx, spec); err != nil {
		return Endpoint{}, err
	}

	natPort, err := nat.NewPort("tcp", portStr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("build container port %s: %w", portStr, err)
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			natPort: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: portStr}},
		},
		AutoRemove: true,
		Binds:      r.binds(spec),
	}
	if r.cfg.GPUEnabled {
		hostCfg.DeviceRequests = []container.DeviceRequest{
			{Count: -1, Capabilities: [][]string{{"gpu"}}},
		}
	}

	imageRef := spec.Variant.Launch.Image + ":" + tagOrLatest(spec.Variant.Launch.Tag)
	containerCfg := &container.Config{
		Image: imageRef,
		Env:   []string{"PORT=" + portStr, "LOG_LEVEL=" + spec.LogLevel},
		ExposedPorts: nat.PortSet{
			natPort: struct{}{},
		},
	}

	created, err := r.client().ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return Endpoint{}, fmt.Errorf("create container %s: %w", name, err)
	}
	if err := r.client().ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return Endpoint{}, fmt.Errorf("start container %s: %w", name, err)
	}

	r.mu.Lock()
	r.containers[spec.Variant.BaseName] = created.ID
	r.mu.Unlock()

	logging.Info().Str("container", name).Str("image", imageRef).Int("port", spec.Port).Msg("runner: docker container started")
	return Endpoint{BaseURL: fmt.Sprintf("http://%s:%d", r.hostAddr, spec.Port), Handle: created.ID}, nil
}

// Stop stops and (via AutoRemove) removes the container.
func (r *DockerRunner) Stop(ctx context.Context, endpoint Endpoint, graceWindow time.Duration) error {
	return r.stopContainer(ctx, endpoint.Handle, graceWindow)
}

func (r *DockerRunner) stopContainer(ctx context.Context, containerID string, graceWindow time.Duration) error {
	timeoutSec := int(graceWindow.Seconds())
	if err := r.client().ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeoutSec}); err != nil {
		return fmt.Errorf("stop container %s: %w", containerID, err)
	}
	r.mu.Lock()
	for base, id := range r.containers {
		if id == containerID {
			delete(r.containers, base)
		}
	}
	r.mu.Unlock()
	return nil
}

// CancelPull aborts variantID's in-flight image pull, if any.
func (r *DockerRunner) CancelPull(variantID string) bool {
	return r.cancels.Cancel(variantID)
}

// existingRunningOnPort reports whether a container named name is already
// running with its expected host port published, letting Start reuse it
// instead of recreating (spec §4.5: "reuses an existing container of the
// same name iff it is running on the exact expected port").
func (r *DockerRunner) existingRunningOnPort(ctx context.Context, name string, port int) (string, bool) {
	inspect, err := r.client().ContainerInspect(ctx, name)
	if err != nil {
		return "", false
	}
	if inspect.State == nil || !inspect.State.Running {
		return "", false
	}
	portStr := strconv.Itoa(port)
	for natPort, bindings := range inspect.NetworkSettings.Ports {
		if natPort.Port() != portStr {
			continue
		}
		for _, b := range bindings {
			if b.HostPort == portStr {
				return inspect.ID, true
			}
		}
	}
	return "", false
}

// removeIfExists force-removes a stale container of the given name so
// ContainerCreate doesn't collide on the name. Never touches an excluded
// infrastructure container.
func (r *DockerRunner) removeIfExists(ctx context.Context, name string) {
	if r.isExcluded(name) {
		return
	}
	inspect, err := r.client().ContainerInspect(ctx, name)
	if err != nil {
		return
	}
	if err := r.client().ContainerRemove(ctx, inspect.ID, container.RemoveOptions{Force: true}); err != nil {
		logging.Warn().Str("container", name).Err(err).Msg("runner: failed to remove stale container")
	}
}

// ensureImage pulls spec's image if it isn't present locally, streaming
// docker.image.progress events while it does.
func (r *DockerRunner) ensureImage(ctx context.Context, spec LaunchSpec) error {
	imageRef := spec.Variant.Launch.Image + ":" + tagOrLatest(spec.Variant.Launch.Tag)

	existing, err := r.client().ImageList(ctx, dockerimage.ListOptions{})
	if err == nil {
		for _, img := range existing {
			if slices.Contains(img.RepoTags, imageRef) {
				return nil
			}
		}
	}

	variantID := spec.Variant.VariantID
	r.bus.Publish(models.ChannelEngines, models.EventDockerImageInstalling, map[string]any{
		"variantId": variantID,
		"image":     imageRef,
	})

	pullCtx, done := r.cancels.Register(ctx, variantID)
	defer done()

	rc, err := r.client().ImagePull(pullCtx, imageRef, dockerimage.PullOptions{})
	if err != nil {
		r.bus.Publish(models.ChannelEngines, models.EventDockerImageError, map[string]any{
			"variantId": variantID,
			"error":     err.Error(),
		})
		return fmt.Errorf("pull image %s: %w", imageRef, err)
	}

	if err := streamPull(pullCtx, variantID, rc, r.bus, r.cfg.PullInactivityTimeout, r.cfg.PullProgressMinChange); err != nil {
		r.bus.Publish(models.ChannelEngines, models.EventDockerImageError, map[string]any{
			"variantId": variantID,
			"error":     err.Error(),
		})
		return err
	}

	r.bus.Publish(models.ChannelEngines, models.EventDockerImageInstalled, map[string]any{
		"variantId": variantID,
		"image":     imageRef,
	})
	return nil
}

// binds builds the bind-mount list: the shared samples directory and this
// variant's per-engine models directory, when configured.
func (r *DockerRunner) binds(spec LaunchSpec) []string {
	var binds []string
	if r.cfg.SharedSamplesDir != "" {
		binds = append(binds, r.cfg.SharedSamplesDir+":/samples")
	}
	if r.cfg.ModelsDirTemplate != "" {
		binds = append(binds, fmt.Sprintf(r.cfg.ModelsDirTemplate, spec.Variant.BaseName)+":/models")
	}
	return binds
}

// isExcluded reports whether name is an infrastructure container that must
// never be stopped, removed, or adopted (spec §4.5).
func (r *DockerRunner) isExcluded(name string) bool {
	return slices.Contains(r.cfg.ExcludedContainers, name)
}

func tagOrLatest(tag string) string {
	if tag == "" {
		return "latest"
	}
	return tag
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
