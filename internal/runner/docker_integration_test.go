//go:build integration

package runner

import (
	"context"
	"testing"
	"time"

	"github.com/docker/docker/client"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/testinfra"
)

// TestDockerRunnerAdoptsRunningContainer exercises AdoptExisting against a
// real Docker daemon: it starts a throwaway container under the configured
// name prefix, then verifies DockerRunner finds and tracks it exactly the
// way a restarted engine-core process re-adopts a still-running engine
// (spec §4.5). DockerRunner talks to Docker directly rather than through
// testcontainers-go, so the fixture container here stands in for an engine
// container started by a prior process, while testinfra supplies the
// daemon-availability check and generic lifecycle helpers.
func TestDockerRunnerAdoptsRunningContainer(t *testing.T) {
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	const prefix = "engine-core-itest-"
	const baseName = "adopt-fixture"

	fixture, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image: "alpine:latest",
			Cmd:   []string{"sleep", "120"},
			Name:  prefix + baseName,
		},
		Started: true,
	})
	require.NoError(t, err)
	defer testinfra.CleanupContainer(t, ctx, fixture)

	err = testinfra.WaitForReady(ctx, fixture, func() bool {
		info, infoErr := testinfra.GetContainerInfo(ctx, fixture)
		return infoErr == nil && info.State == "running"
	}, 30*time.Second)
	require.NoError(t, err)

	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	require.NoError(t, err)

	r := NewDockerRunner(config.RunnerConfig{ContainerNamePrefix: prefix}, cli, nil)
	require.NoError(t, r.AdoptExisting(ctx))

	r.mu.Lock()
	adoptedID, ok := r.containers[baseName]
	r.mu.Unlock()
	require.True(t, ok, "expected %s to be adopted", baseName)
	require.Equal(t, fixture.GetContainerID(), adoptedID)
}
