// Package enginemanager owns the lifecycle of one engine kind's variants
// (spec §4.3): a registry merged from disk/catalog discovery and the
// database (database wins for enabled/default/keep-warm/parameters, disk
// wins for constraints/capabilities), a runtime map of currently-running
// endpoints, and the shared global port registry used to avoid startup
// collisions across kinds.
//
// One Manager exists per models.EngineKind. All Managers in a process share
// the same *portregistry.Registry instance (spec §9 "must be a single
// shared structure across all kinds") and the same *settings.Cache.
//
// Grounded on the teacher's internal/sync.Manager (internal/sync/manager.go):
// a mutex-guarded running/state map, a stopChan+WaitGroup pair for
// coordinated shutdown of background goroutines, and per-capability
// conditional sub-service startup. This package generalizes that shape from
// "sync a fixed set of Plex/Tautulli feeds on a timer" to "track the
// runtime state of an open set of engine variants and react to on-demand
// ensure_ready/start/stop calls instead of only a timer".
package enginemanager
