// Package autochain implements the two cross-subsystem coupling rules of
// spec §4.7: a finished synthesis job enqueues a follow-up analysis job
// over the segments it produced audio for, and a segment an analysis job
// marks defect enqueues a corrective synthesis job, subject to a
// user-configurable mode and a per-segment attempt cap.
//
// This package implements internal/worker.ChainPolicy. It deliberately has
// no import of internal/worker's concrete Worker type and no import
// relationship with internal/jobstore beyond the narrow Create method it
// needs — spec §9 "avoid any direct import of one worker from the other"
// is honored by routing both directions through this shared policy module
// instead of a synthesis-worker-calls-analysis-worker cycle.
package autochain
