package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Channel is a subscription topic at the event bus.
type Channel string

const (
	ChannelJobs         Channel = "jobs"
	ChannelProjects     Channel = "projects"
	ChannelQuality      Channel = "quality"
	ChannelEngines      Channel = "engines"
	ChannelExport       Channel = "export"
	ChannelImport       Channel = "import"
	ChannelHealth       Channel = "health"
	ChannelSpeakers     Channel = "speakers"
	ChannelSettings     Channel = "settings"
	ChannelPronunciation Channel = "pronunciation"
)

// DefaultChannels is the channel set a subscriber gets when it does not
// explicitly select any.
var DefaultChannels = []Channel{ChannelJobs, ChannelHealth}

// Event taxonomy, grouped by channel. These are the exact wire strings
// placed into an event's "event" field; see SPEC_FULL.md §3's SSE contract
// note — field names and event-type strings are a compatibility surface.
const (
	EventJobCreated    = "job.created"
	EventJobStarted    = "job.started"
	EventJobProgress   = "job.progress"
	EventJobCompleted  = "job.completed"
	EventJobFailed     = "job.failed"
	EventJobCancelling = "job.cancelling"
	EventJobCancelled  = "job.cancelled"
	EventJobResumed    = "job.resumed"

	EventSegmentStarted   = "segment.started"
	EventSegmentCompleted = "segment.completed"
	EventSegmentFailed    = "segment.failed"
	EventSegmentFrozen    = "segment.frozen"
	EventSegmentUnfrozen  = "segment.unfrozen"

	EventQualityJobCreated   = "quality.job.created"
	EventQualityJobStarted   = "quality.job.started"
	EventQualityJobProgress  = "quality.job.progress"
	EventQualityJobCompleted = "quality.job.completed"
	EventQualityJobFailed    = "quality.job.failed"
	EventQualityJobCancelled = "quality.job.cancelled"
	EventQualityJobResumed   = "quality.job.resumed"
	EventQualitySegmentAnalyzed = "quality.segment.analyzed"
	EventQualitySegmentFailed   = "quality.segment.failed"

	EventEngineStarting    = "engine.starting"
	EventEngineStarted     = "engine.started"
	EventEngineModelLoaded = "engine.model_loaded"
	EventEngineStopping    = "engine.stopping"
	EventEngineStopped     = "engine.stopped"
	EventEngineError       = "engine.error"
	EventEngineEnabled     = "engine.enabled"
	EventEngineDisabled    = "engine.disabled"
	EventEngineStatus      = "engine.status"

	EventDockerImageInstalling   = "docker.image.installing"
	EventDockerImageProgress     = "docker.image.progress"
	EventDockerImageInstalled   = "docker.image.installed"
	EventDockerImageUninstalling = "docker.image.uninstalling"
	EventDockerImageUninstalled = "docker.image.uninstalled"
	EventDockerImageCancelled    = "docker.image.cancelled"
	EventDockerImageError        = "docker.image.error"

	EventDockerHostConnecting   = "docker.host.connecting"
	EventDockerHostConnected    = "docker.host.connected"
	EventDockerHostDisconnected = "docker.host.disconnected"
)

// Event is a transient, fanned-out domain occurrence. It is never persisted
// and never replayed: a disconnecting subscriber simply misses it.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"event"`
	Channel   Channel        `json:"_channel"`
	Timestamp time.Time      `json:"_timestamp"`
	Data      map[string]any `json:"-"`
}

// UTCStamp formats t the way every client-facing timestamp in this system
// must be formatted: UTC, ISO-8601, trailing Z. See SPEC_FULL.md §9.
func UTCStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// MarshalJSON flattens Data alongside the envelope fields (id, event,
// _timestamp, _channel) into one object, matching the wire contract every
// subscriber depends on: there is no nested "data" envelope on the wire.
func (e Event) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Data)+4)
	for k, v := range e.Data {
		out[k] = v
	}
	out["id"] = e.ID
	out["event"] = e.Type
	out["_timestamp"] = UTCStamp(e.Timestamp)
	out["_channel"] = e.Channel
	return json.Marshal(out)
}
