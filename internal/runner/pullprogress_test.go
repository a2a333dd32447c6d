package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOverallPercentAggregatesLayers(t *testing.T) {
	layers := map[string]*layerProgress{
		"layer1": {current: 50, total: 100},
		"layer2": {current: 25, total: 100},
	}
	assert.Equal(t, 37, overallPercent(layers))
}

func TestOverallPercentWithNoLayersIsZero(t *testing.T) {
	assert.Equal(t, 0, overallPercent(map[string]*layerProgress{}))
}

func TestOverallPercentNeverExceedsHundred(t *testing.T) {
	layers := map[string]*layerProgress{
		"layer1": {current: 120, total: 100},
	}
	assert.Equal(t, 100, overallPercent(layers))
}

func TestCancelRegistryCancelsRegisteredPull(t *testing.T) {
	reg := NewCancelRegistry()
	pullCtx, done := reg.Register(context.Background(), "xtts:local")
	defer done()

	assert.True(t, reg.Cancel("xtts:local"))

	select {
	case <-pullCtx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected pull context to be cancelled")
	}
}

func TestCancelRegistryCancelUnknownVariantReturnsFalse(t *testing.T) {
	reg := NewCancelRegistry()
	assert.False(t, reg.Cancel("nonexistent"))
}
