package config

import "time"

// defaultConfig returns a Config struct with all sensible default values.
// These are applied first, then overridden by config file and environment.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/engine-core.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		JobStore: JobStoreConfig{
			Path:               "/data/jobstore",
			LockRetryAttempts:  5,
			LockRetryBaseDelay: 100 * time.Millisecond,
		},
		Worker: WorkerConfig{
			PollInterval: 1 * time.Second,
		},
		Engines: EnginesConfig{
			DiscoveryRoots:           []string{"/data/engines"},
			PortRangeStart:           8766,
			PortRangeEnd:             8966,
			HealthCheckTimeout:       5 * time.Second,
			StartTimeout:             30 * time.Second,
			LoadTimeout:              300 * time.Second,
			ShutdownGraceWindow:      30 * time.Second,
			AutoStopTickInterval:     60 * time.Second,
			InactivityTimeoutMinutes: 5,
			DiscoveryModeTimeout:     30 * time.Second,
			StatusBroadcastInterval:  15 * time.Second,
			SingleActivePerKind:      true,
		},
		Runner: RunnerConfig{
			SharedSamplesDir:      "/data/samples",
			ModelsDirTemplate:     "/data/models/%s",
			GPUEnabled:            false,
			ContainerNamePrefix:   "audiobook-",
			ExcludedContainers: []string{
				"audiobook-maker-backend",
				"audiobook-backend",
				"audiobook-maker-frontend",
				"audiobook-maker-db",
			},
			PullInactivityTimeout: 60 * time.Second,
			PullProgressMinChange: 2,
			SSHConnectTimeout:     10 * time.Second,
		},
		HTTPClient: HTTPClientConfig{
			RequestTimeout:         300 * time.Second,
			LoadingRetryDelay:      1 * time.Second,
			LoadingCumulativeCap:   300 * time.Second,
			ServerErrorMaxAttempts: 3,
		},
		EventBus: EventBusConfig{
			SubscriberQueueSize: 256,
			KeepaliveInterval:   30 * time.Second,
		},
		Autochain: AutochainConfig{
			AutoAnalyzeSegment:    false,
			AutoAnalyzeChapter:    false,
			AutoRegenerateDefects: "disabled",
			MaxRegenerateAttempts: 3,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8765,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
