// Package runner abstracts how an inference engine process is launched and
// torn down (spec §4.5): a local subprocess, a local Docker container, or a
// Docker container reached over an SSH tunnel to a remote host. All three
// backends satisfy the same Runner interface and return an Endpoint the
// engine manager uses to reach the engine's HTTP surface.
//
// There is no direct teacher precedent for application-level process or
// container lifecycle management — the teacher only spawns containers from
// its integration test harness (internal/testinfra, testcontainers-go). This
// package therefore follows the teacher's logging and config-struct
// conventions while grounding the Docker mechanics directly on the
// docker/docker/client public API (already present in the dependency graph
// indirectly via testcontainers-go). The SSH connection belongs to an
// external TunnelMonitor; this package opens no SSH connections itself.
package runner
