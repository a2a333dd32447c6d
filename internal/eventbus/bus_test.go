package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/models"
)

func testConfig() config.EventBusConfig {
	return config.EventBusConfig{SubscriberQueueSize: 4, KeepaliveInterval: 0}
}

func TestSubscribeReceivesHandshakeFirst(t *testing.T) {
	bus := NewBus(testConfig())
	defer bus.Close()

	client, err := bus.Subscribe(context.Background(), []models.Channel{models.ChannelJobs})
	require.NoError(t, err)
	defer client.Close()

	select {
	case frame := <-client.Events():
		var handshake map[string]any
		require.NoError(t, json.Unmarshal(frame, &handshake))
		assert.Equal(t, "connected", handshake["event"])
		assert.Equal(t, client.ID(), handshake["clientId"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handshake frame")
	}
}

func TestPublishDeliversToSubscribedChannelOnly(t *testing.T) {
	bus := NewBus(testConfig())
	defer bus.Close()

	client, err := bus.Subscribe(context.Background(), []models.Channel{models.ChannelJobs})
	require.NoError(t, err)
	defer client.Close()
	drainHandshake(t, client)

	require.NoError(t, bus.Publish(models.ChannelEngines, models.EventEngineStarted, map[string]any{"variantId": "xtts:local"}))
	require.NoError(t, bus.Publish(models.ChannelJobs, models.EventJobCreated, map[string]any{"jobId": "job-1"}))

	select {
	case frame := <-client.Events():
		var got map[string]any
		require.NoError(t, json.Unmarshal(frame, &got))
		assert.Equal(t, models.EventJobCreated, got["event"])
		assert.Equal(t, "job-1", got["jobId"])
		assert.Equal(t, string(models.ChannelJobs), got["_channel"])
		assert.NotEmpty(t, got["_timestamp"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for job.created event")
	}
}

func TestFullQueueEvictsClient(t *testing.T) {
	bus := NewBus(config.EventBusConfig{SubscriberQueueSize: 1})
	defer bus.Close()

	client, err := bus.Subscribe(context.Background(), []models.Channel{models.ChannelJobs})
	require.NoError(t, err)
	drainHandshake(t, client)

	for i := 0; i < 10; i++ {
		_ = bus.Publish(models.ChannelJobs, models.EventJobProgress, map[string]any{"n": i})
	}

	require.Eventually(t, func() bool {
		_, open := <-client.Events()
		return !open
	}, 2*time.Second, 10*time.Millisecond, "evicted client's event channel should eventually close")
}

func drainHandshake(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out draining handshake frame")
	}
}
