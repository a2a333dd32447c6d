package runner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/goccy/go-json"

	"github.com/audiobook-maker/engine-core/internal/eventbus"
	"github.com/audiobook-maker/engine-core/internal/models"
)

// CancelRegistry tracks one cancellable pull per variant id (spec §4.5:
// "Support cancellation: a cancel signal registered per variant_id aborts
// the pull cooperatively").
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewCancelRegistry builds an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string]context.CancelFunc)}
}

// Register derives a cancellable context for variantID's pull. Call the
// returned done func when the pull finishes, successfully or not.
func (r *CancelRegistry) Register(ctx context.Context, variantID string) (pullCtx context.Context, done func()) {
	pullCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[variantID] = cancel
	r.mu.Unlock()
	return pullCtx, func() {
		r.mu.Lock()
		delete(r.cancels, variantID)
		r.mu.Unlock()
		cancel()
	}
}

// Cancel aborts variantID's in-flight pull, if any. Returns false if there
// was nothing to cancel.
func (r *CancelRegistry) Cancel(variantID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[variantID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

type layerProgress struct {
	current int64
	total   int64
}

// streamPull decodes a Docker image-pull response body (the same JSON
// stream `docker pull` renders) and emits docker.image.progress events on
// bus with a monotonically non-decreasing overall percent, aborting with a
// "stalled" error if no message arrives within inactivityTimeout.
func streamPull(ctx context.Context, variantID string, rc io.ReadCloser, bus *eventbus.Bus, inactivityTimeout time.Duration, minChange int) error {
	defer rc.Close()

	type decoded struct {
		msg jsonmessage.Message
		err error
	}
	msgCh := make(chan decoded)
	dec := json.NewDecoder(rc)
	go func() {
		defer close(msgCh)
		for {
			var m jsonmessage.Message
			err := dec.Decode(&m)
			msgCh <- decoded{msg: m, err: err}
			if err != nil {
				return
			}
		}
	}()

	layers := make(map[string]*layerProgress)
	lastPercent := -1

	if inactivityTimeout <= 0 {
		inactivityTimeout = time.Minute
	}
	timer := time.NewTimer(inactivityTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("docker image pull for %s cancelled: %w", variantID, ctx.Err())
		case <-timer.C:
			bus.Publish(models.ChannelEngines, models.EventDockerImageError, map[string]any{
				"variantId": variantID,
				"error":     "stalled",
			})
			return fmt.Errorf("docker image pull for %s stalled: no progress for %s", variantID, inactivityTimeout)
		case d, ok := <-msgCh:
			if !ok {
				return nil
			}
			if d.err != nil {
				if d.err == io.EOF {
					return nil
				}
				return fmt.Errorf("decode docker pull progress for %s: %w", variantID, d.err)
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(inactivityTimeout)

			if d.msg.Error != nil {
				return fmt.Errorf("docker image pull for %s: %s", variantID, d.msg.Error.Message)
			}

			if d.msg.ID != "" && d.msg.Progress != nil && d.msg.Progress.Total > 0 {
				lp := layers[d.msg.ID]
				if lp == nil {
					lp = &layerProgress{}
					layers[d.msg.ID] = lp
				}
				lp.current = d.msg.Progress.Current
				lp.total = d.msg.Progress.Total
			}

			percent := overallPercent(layers)
			if percent > lastPercent && (minChange <= 0 || percent-lastPercent >= minChange || percent == 100) {
				lastPercent = percent
				bus.Publish(models.ChannelEngines, models.EventDockerImageProgress, map[string]any{
					"variantId": variantID,
					"status":    d.msg.Status,
					"percent":   percent,
				})
			}
		}
	}
}

// overallPercent computes the aggregate percent across all layers seen so
// far. The result can drop between calls when a newly seen layer adds to the
// total; callers guard on lastPercent so the published percent only rises.
func overallPercent(layers map[string]*layerProgress) int {
	var current, total int64
	for _, lp := range layers {
		current += lp.current
		total += lp.total
	}
	if total == 0 {
		return 0
	}
	pct := int(current * 100 / total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
