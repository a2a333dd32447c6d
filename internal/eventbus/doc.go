// Package eventbus is the in-memory, non-durable pub/sub fan-out described
// by spec §4.6: per-client bounded queues, channel-scoped subscriptions, a
// "connected" handshake frame, idle keepalives, and full-queue eviction.
// There is no persistence and no replay — a client that misses an event
// because it was disconnected, or was evicted for a full queue, must
// reconnect and re-fetch state from the REST edge; the bus never backfills.
package eventbus
