// Package testinfra provides test infrastructure for integration testing with
// real Docker containers, gated behind the "integration" build tag.
//
// internal/runner's DockerRunner talks to the Docker daemon directly via
// docker/docker/client rather than through testcontainers-go (there is no
// fixed engine image to pull in this repo the way there is a fixed Tautulli
// image in a media-server integration), so this package's role here is
// narrower than a full container-under-test wrapper: it provides the Docker
// availability check and the generic container lifecycle helpers a
// runner-level integration test needs to set up and tear down fixture
// containers.
//
// # Example
//
//	func TestDockerRunnerAdoptsRunningContainer(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//
//	    ctx := context.Background()
//	    fixture, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
//	        ContainerRequest: testcontainers.ContainerRequest{Image: "alpine:latest", Cmd: []string{"sleep", "60"}},
//	        Started:          true,
//	    })
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, fixture)
//
//	    if err := testinfra.WaitForReady(ctx, fixture, func() bool {
//	        info, err := testinfra.GetContainerInfo(ctx, fixture)
//	        return err == nil && info.State == "running"
//	    }, 30*time.Second); err != nil {
//	        t.Fatal(err)
//	    }
//
//	    // ... exercise DockerRunner.AdoptExisting against the live daemon ...
//	}
//
// # CI Considerations
//
// These tests require Docker and network access. Tests using SkipIfNoDocker
// are skipped gracefully when no daemon is reachable.
package testinfra
