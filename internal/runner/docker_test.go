package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/audiobook-maker/engine-core/internal/config"
)

func TestTagOrLatestDefaultsWhenEmpty(t *testing.T) {
	assert.Equal(t, "latest", tagOrLatest(""))
	assert.Equal(t, "v1.2.3", tagOrLatest("v1.2.3"))
}

func TestFirstNameStripsLeadingSlash(t *testing.T) {
	assert.Equal(t, "audiobook-xtts", firstName([]string{"/audiobook-xtts"}))
	assert.Equal(t, "", firstName(nil))
}

func TestIsExcludedMatchesConfiguredNamesOnly(t *testing.T) {
	r := &DockerRunner{cfg: config.RunnerConfig{
		ExcludedContainers: []string{"audiobook-maker-backend", "audiobook-maker-db"},
	}}
	assert.True(t, r.isExcluded("audiobook-maker-backend"))
	assert.False(t, r.isExcluded("audiobook-xtts"))
}

func TestBindsOmitsUnconfiguredMounts(t *testing.T) {
	r := &DockerRunner{cfg: config.RunnerConfig{}}
	assert.Empty(t, r.binds(LaunchSpec{}))

	r2 := &DockerRunner{cfg: config.RunnerConfig{
		SharedSamplesDir:  "/data/samples",
		ModelsDirTemplate: "/data/models/%s",
	}}
	binds := r2.binds(LaunchSpec{})
	assert.Contains(t, binds, "/data/samples:/samples")
}
