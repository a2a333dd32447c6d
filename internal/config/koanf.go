package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found is used.
var DefaultConfigPaths = []string{
	"engine-core.yaml",
	"engine-core.yml",
	"/etc/engine-core/config.yaml",
	"/etc/engine-core/config.yml",
}

// ConfigPathEnvVar overrides the config file search with an explicit path.
const ConfigPathEnvVar = "ENGINE_CORE_CONFIG_PATH"

// envPrefix selects the environment variables to load and is stripped from
// each name before it's translated into a koanf dotted path.
const envPrefix = "ENGINE_CORE_"

// Load loads configuration from defaults, an optional YAML file, and
// environment variables, in that order of increasing precedence, then
// validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider(envPrefix, "__", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths lists koanf paths that arrive as comma-separated strings
// from the environment but must be unmarshaled as string slices.
var sliceConfigPaths = []string{
	"engines.discovery_roots",
	"runner.excluded_containers",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc strips envPrefix from an environment variable name and
// lowercases the rest. Double underscores are left for the env provider,
// which nests on them into child keys; single underscores stay within a key
// name, matching the koanf struct tags, e.g.
// ENGINE_CORE_WORKER__POLL_INTERVAL -> worker.poll_interval.
func envTransformFunc(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, envPrefix))
}

// GetKoanfInstance returns a fresh Koanf instance for advanced callers
// (tests, tooling) that want to inspect layered values directly.
func GetKoanfInstance() *koanf.Koanf {
	return koanf.New(".")
}
