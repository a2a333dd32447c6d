package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/audiobook-maker/engine-core/internal/config"
	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/metrics"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// Bus fans events out to subscribed clients, one watermill gochannel topic
// per channel (spec §4.6's "jobs", "engines", "quality", ...). It never
// persists anything: gochannel.Config.Persistent stays false, matching the
// spec's "no durability, no replay" invariant.
type Bus struct {
	cfg config.EventBusConfig
	pub *gochannel.GoChannel

	mu      sync.Mutex
	clients map[string]*Client
}

// NewBus constructs a bus backed by watermill's in-process gochannel
// transport.
func NewBus(cfg config.EventBusConfig) *Bus {
	logger := watermill.NewStdLogger(false, false)
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(cfg.SubscriberQueueSize),
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, logger)

	return &Bus{
		cfg:     cfg,
		pub:     gc,
		clients: make(map[string]*Client),
	}
}

// Publish builds an Event for channel/eventType/data, stamps it, and
// broadcasts it to every subscriber currently on that channel.
func (b *Bus) Publish(channel models.Channel, eventType string, data map[string]any) error {
	event := models.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Channel:   channel,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	payload, err := event.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", eventType, err)
	}

	msg := message.NewMessage(event.ID, payload)
	if err := b.pub.Publish(string(channel), msg); err != nil {
		return fmt.Errorf("publish event %s on %s: %w", eventType, channel, err)
	}
	metrics.EventBusBroadcastsTotal.WithLabelValues(string(channel)).Inc()
	return nil
}

// Subscribe registers a new client over the requested channels (falling
// back to models.DefaultChannels when none are given) and starts its
// fan-in pump. The caller owns the returned Client and must call Close when
// done.
func (b *Bus) Subscribe(ctx context.Context, channels []models.Channel) (*Client, error) {
	if len(channels) == 0 {
		channels = models.DefaultChannels
	}

	clientCtx, cancel := context.WithCancel(ctx)
	c := &Client{
		id:       uuid.NewString(),
		channels: channels,
		out:      make(chan []byte, b.cfg.SubscriberQueueSize),
		cancel:   cancel,
		bus:      b,
	}

	for _, ch := range channels {
		sub, err := b.pub.Subscribe(clientCtx, string(ch))
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe client %s to %s: %w", c.id, ch, err)
		}
		c.wg.Add(1)
		go c.pump(clientCtx, sub)
	}

	if b.cfg.KeepaliveInterval > 0 {
		c.wg.Add(1)
		go c.keepalive(clientCtx, b.cfg.KeepaliveInterval)
	}

	b.register(c)
	metrics.EventBusSubscribers.Inc()

	c.sendHandshake()
	return c, nil
}

func (b *Bus) register(c *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c.id] = c
}

func (b *Bus) unregister(c *Client) {
	b.mu.Lock()
	_, existed := b.clients[c.id]
	delete(b.clients, c.id)
	b.mu.Unlock()
	if existed {
		metrics.EventBusSubscribers.Dec()
	}
}

// ClientCount reports the number of currently-registered subscribers,
// mainly for health/status reporting.
func (b *Bus) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close shuts down every client and the underlying transport. Safe to call
// once during supervisor teardown.
func (b *Bus) Close() error {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	if err := b.pub.Close(); err != nil {
		logging.Warn().Err(err).Msg("event bus transport close failed")
		return err
	}
	return nil
}
