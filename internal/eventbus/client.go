package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/audiobook-maker/engine-core/internal/logging"
	"github.com/audiobook-maker/engine-core/internal/metrics"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// connectedFrame is the first frame sent to every subscriber, per spec
// §4.6: clientId plus the channel set actually granted.
type connectedFrame struct {
	Event    string   `json:"event"`
	ClientID string   `json:"clientId"`
	Channels []string `json:"channels"`
}

// keepaliveFrame is emitted on an idle subscriber so intermediaries and
// clients don't time out a silent connection.
type keepaliveFrame struct {
	Event     string `json:"event"`
	Timestamp string `json:"_timestamp"`
}

// Client is one subscriber's view of the bus: a bounded outbound queue of
// already-marshaled JSON frames, fed by one pump goroutine per subscribed
// channel. Delivery is at-most-once and non-blocking; a client that can't
// keep up is evicted rather than allowed to back-pressure publishers.
type Client struct {
	id       string
	channels []models.Channel
	out      chan []byte
	cancel   context.CancelFunc
	bus      *Bus

	wg         sync.WaitGroup
	closeOnce  sync.Once
	lastSentMu sync.Mutex
	lastSent   time.Time
}

// ID returns the subscriber's id, handed out in the handshake frame.
func (c *Client) ID() string { return c.id }

// Events returns the channel of marshaled event frames to forward to the
// transport (SSE write loop, websocket writer, whatever the edge uses).
// The channel is closed once the client is evicted or explicitly closed.
func (c *Client) Events() <-chan []byte { return c.out }

func (c *Client) sendHandshake() {
	names := make([]string, len(c.channels))
	for i, ch := range c.channels {
		names[i] = string(ch)
	}
	frame, err := json.Marshal(connectedFrame{Event: "connected", ClientID: c.id, Channels: names})
	if err != nil {
		logging.Error().Err(err).Msg("marshal connected handshake frame")
		return
	}
	c.deliver(frame)
}

func (c *Client) pump(ctx context.Context, sub <-chan *message.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub:
			if !ok {
				return
			}
			payload := append([]byte(nil), msg.Payload...)
			msg.Ack()
			if !c.deliver(payload) {
				go c.Close()
				return
			}
		}
	}
}

func (c *Client) keepalive(ctx context.Context, interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.lastSentMu.Lock()
			idle := time.Since(c.lastSent) >= interval
			c.lastSentMu.Unlock()
			if !idle {
				continue
			}
			frame, err := json.Marshal(keepaliveFrame{Event: "keepalive", Timestamp: models.UTCStamp(time.Now())})
			if err != nil {
				continue
			}
			if !c.deliver(frame) {
				go c.Close()
				return
			}
		}
	}
}

// deliver enqueues frame without blocking. Returns false if the client's
// queue was full — the caller must evict the client in that case, matching
// spec §4.6/§5: "the bus drops [subscribers] on any queue-full condition."
func (c *Client) deliver(frame []byte) bool {
	select {
	case c.out <- frame:
		c.lastSentMu.Lock()
		c.lastSent = time.Now()
		c.lastSentMu.Unlock()
		return true
	default:
		metrics.EventBusEvictionsTotal.Inc()
		logging.Warn().Str("client_id", c.id).Msg("event bus subscriber queue full, evicting")
		return false
	}
}

// Close cancels the client's subscriptions and removes it from the bus.
// Safe to call multiple times and from multiple goroutines.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.wg.Wait()
		close(c.out)
		c.bus.unregister(c)
	})
}
