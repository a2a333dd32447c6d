// Package worker runs one poll loop per job kind (spec §4.2): claim the
// oldest pending job, process its work-items strictly sequentially, and
// decide the job's terminal state from the processed/failed counters. A
// Processor supplies the kind-specific request payload and result handling
// (synthesis writes an audio reference; analysis writes a quality result
// and may trigger auto-regeneration); everything else — claiming,
// engine-readiness, retry/restart, cancellation, terminal-state bookkeeping
// — is shared.
//
// Grounded on the teacher's internal/sync.PlexSessionPoller
// (plex_session_poller.go): the ticker-driven Serve/Start/Stop/pollLoop
// shape is carried over directly; "poll for sessions, publish new ones" is
// replaced with "claim a job, drain its work-items".
package worker
