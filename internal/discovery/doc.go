// Package discovery scans the configured catalog roots for variant
// descriptor files and merges them into the engine variant registry (spec
// §4.3: "a registry of variants discovered from disk + catalog +
// database (merged; database is source of truth for
// enabled/default/keep-warm/parameters; disk/catalog is source of truth
// for constraints/capabilities)").
//
// Descriptors are YAML, parsed with the same koanf/file/yaml stack
// internal/config uses to load the main configuration file (see
// internal/config/koanf.go) rather than a bare yaml.Unmarshal, so the two
// on-disk-config concerns in this codebase share one parsing idiom.
package discovery
