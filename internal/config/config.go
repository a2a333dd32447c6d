// Package config loads and validates engine-core's configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in sensible defaults for every setting.
//  2. Config File: optional YAML file (engine-core.yaml).
//  3. Environment Variables: override any setting.
package config

import "time"

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	JobStore  JobStoreConfig  `koanf:"jobstore"`
	Worker    WorkerConfig    `koanf:"worker"`
	Engines   EnginesConfig   `koanf:"engines"`
	Runner    RunnerConfig    `koanf:"runner"`
	HTTPClient HTTPClientConfig `koanf:"httpclient"`
	EventBus  EventBusConfig  `koanf:"eventbus"`
	Autochain AutochainConfig `koanf:"autochain"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// DatabaseConfig configures the DuckDB-backed relational store.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// JobStoreConfig configures the BadgerDB-backed durable job/work-item store.
type JobStoreConfig struct {
	Path             string        `koanf:"path"`
	LockRetryAttempts int          `koanf:"lock_retry_attempts"`
	LockRetryBaseDelay time.Duration `koanf:"lock_retry_base_delay"`
}

// WorkerConfig configures the per-kind job worker loops.
type WorkerConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"`
}

// EnginesConfig configures engine discovery and lifecycle defaults. These
// are the compiled-in defaults the settings cache falls back to (see
// internal/settings); the database remains the source of truth for
// enabled/default/keep-warm once written.
type EnginesConfig struct {
	DiscoveryRoots             []string      `koanf:"discovery_roots"`
	PortRangeStart             int           `koanf:"port_range_start"`
	PortRangeEnd               int           `koanf:"port_range_end"`
	HealthCheckTimeout         time.Duration `koanf:"health_check_timeout"`
	StartTimeout               time.Duration `koanf:"start_timeout"`
	LoadTimeout                time.Duration `koanf:"load_timeout"`
	ShutdownGraceWindow        time.Duration `koanf:"shutdown_grace_window"`
	AutoStopTickInterval       time.Duration `koanf:"auto_stop_tick_interval"`
	InactivityTimeoutMinutes   int           `koanf:"inactivity_timeout_minutes"`
	DiscoveryModeTimeout       time.Duration `koanf:"discovery_mode_timeout"`
	StatusBroadcastInterval    time.Duration `koanf:"status_broadcast_interval"`
	SingleActivePerKind        bool          `koanf:"single_active_per_kind"`
}

// RunnerConfig configures the local-subprocess, local-Docker, and
// remote-Docker-over-SSH runner backends.
type RunnerConfig struct {
	SharedSamplesDir       string        `koanf:"shared_samples_dir"`
	ModelsDirTemplate      string        `koanf:"models_dir_template"`
	GPUEnabled             bool          `koanf:"gpu_enabled"`
	ContainerNamePrefix    string        `koanf:"container_name_prefix"`
	ExcludedContainers     []string      `koanf:"excluded_containers"`
	PullInactivityTimeout  time.Duration `koanf:"pull_inactivity_timeout"`
	PullProgressMinChange  int           `koanf:"pull_progress_min_change"`
	SSHConnectTimeout      time.Duration `koanf:"ssh_connect_timeout"`
}

// HTTPClientConfig configures the engine HTTP client's retry/restart policy.
type HTTPClientConfig struct {
	RequestTimeout        time.Duration `koanf:"request_timeout"`
	LoadingRetryDelay      time.Duration `koanf:"loading_retry_delay"`
	LoadingCumulativeCap   time.Duration `koanf:"loading_cumulative_cap"`
	ServerErrorMaxAttempts int          `koanf:"server_error_max_attempts"`
}

// EventBusConfig configures the in-memory pub/sub bus.
type EventBusConfig struct {
	SubscriberQueueSize int           `koanf:"subscriber_queue_size"`
	KeepaliveInterval   time.Duration `koanf:"keepalive_interval"`
}

// AutochainConfig configures synthesis<->analysis chaining defaults; the
// actual live values are read through the settings cache, but these are the
// compiled-in fallbacks.
type AutochainConfig struct {
	AutoAnalyzeSegment    bool   `koanf:"auto_analyze_segment"`
	AutoAnalyzeChapter    bool   `koanf:"auto_analyze_chapter"`
	AutoRegenerateDefects string `koanf:"auto_regenerate_defects"` // disabled|bundled|per-segment
	MaxRegenerateAttempts int    `koanf:"max_regenerate_attempts"`
}

// ServerConfig configures the illustrative HTTP/SSE edge.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// LoggingConfig configures the zerolog-based logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
