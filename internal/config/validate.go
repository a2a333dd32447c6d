package config

import "fmt"

// Validate checks that configuration values are internally consistent. It
// does not check filesystem existence of paths; that happens at open time.
func (c *Config) Validate() error {
	if err := c.validateEngines(); err != nil {
		return err
	}
	if err := c.validateJobStore(); err != nil {
		return err
	}
	if err := c.validateHTTPClient(); err != nil {
		return err
	}
	return c.validateAutochain()
}

func (c *Config) validateEngines() error {
	if c.Engines.PortRangeStart <= 0 {
		return fmt.Errorf("engines.port_range_start must be positive")
	}
	if c.Engines.PortRangeEnd <= c.Engines.PortRangeStart {
		return fmt.Errorf("engines.port_range_end must be greater than port_range_start")
	}
	if c.Engines.InactivityTimeoutMinutes <= 0 {
		return fmt.Errorf("engines.inactivity_timeout_minutes must be positive")
	}
	if len(c.Engines.DiscoveryRoots) == 0 {
		return fmt.Errorf("engines.discovery_roots must contain at least one path")
	}
	return nil
}

func (c *Config) validateJobStore() error {
	if c.JobStore.LockRetryAttempts <= 0 {
		return fmt.Errorf("jobstore.lock_retry_attempts must be positive")
	}
	if c.JobStore.Path == "" {
		return fmt.Errorf("jobstore.path is required")
	}
	return nil
}

func (c *Config) validateHTTPClient() error {
	if c.HTTPClient.ServerErrorMaxAttempts <= 0 {
		return fmt.Errorf("httpclient.server_error_max_attempts must be positive")
	}
	if c.HTTPClient.LoadingCumulativeCap <= 0 {
		return fmt.Errorf("httpclient.loading_cumulative_cap must be positive")
	}
	return nil
}

func (c *Config) validateAutochain() error {
	switch c.Autochain.AutoRegenerateDefects {
	case "disabled", "bundled", "per-segment":
	default:
		return fmt.Errorf("autochain.auto_regenerate_defects must be one of disabled|bundled|per-segment, got %q", c.Autochain.AutoRegenerateDefects)
	}
	if c.Autochain.MaxRegenerateAttempts < 0 {
		return fmt.Errorf("autochain.max_regenerate_attempts must be non-negative")
	}
	return nil
}
