package runner

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/models"
)

func sleepBinary(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("sleep binary not available")
	}
	return path
}

func TestSubprocessRunnerStartAndStop(t *testing.T) {
	bin := sleepBinary(t)
	r := NewSubprocessRunner(config.RunnerConfig{})

	spec := LaunchSpec{
		Variant: models.EngineVariant{
			VariantID: "xtts:local",
			Launch:    models.LaunchDescriptor{Kind: models.LaunchKindSubprocess, BinaryPath: bin},
		},
		Port: 18080,
	}

	ep, err := r.Start(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, "xtts:local", ep.Handle)
	assert.Contains(t, ep.BaseURL, "18080")

	err = r.Stop(context.Background(), ep, 200*time.Millisecond)
	require.NoError(t, err)

	r.mu.Lock()
	_, stillTracked := r.procs[ep.Handle]
	r.mu.Unlock()
	assert.False(t, stillTracked)
}

func TestSubprocessRunnerStartWithoutBinaryPathErrors(t *testing.T) {
	r := NewSubprocessRunner(config.RunnerConfig{})
	_, err := r.Start(context.Background(), LaunchSpec{Variant: models.EngineVariant{VariantID: "xtts:local"}})
	assert.ErrorIs(t, err, ErrNoLaunchBinary)
}

func TestSubprocessRunnerStopUnknownHandleIsNoop(t *testing.T) {
	r := NewSubprocessRunner(config.RunnerConfig{})
	err := r.Stop(context.Background(), Endpoint{Handle: "does-not-exist"}, time.Second)
	assert.NoError(t, err)
}
