// Package models holds the shared domain types for engines, jobs, segments,
// analysis results, and events. Nothing here talks to a database or an HTTP
// client; it is the vocabulary the rest of the packages share.
package models

import "time"

// EngineKind classifies what an engine variant is used for.
type EngineKind string

const (
	EngineKindSynthesis     EngineKind = "synthesis"
	EngineKindTranscription EngineKind = "transcription"
	EngineKindAnalysis      EngineKind = "analysis"
	EngineKindText          EngineKind = "text"
)

// VariantSource records where a variant definition came from.
type VariantSource string

const (
	VariantSourceBundled VariantSource = "bundled"
	VariantSourceCatalog VariantSource = "catalog"
	VariantSourceUser    VariantSource = "user_supplied"
)

// VariantRuntimeState is the in-memory lifecycle state of a running variant,
// tracked by the engine manager. It is not persisted.
type VariantRuntimeState string

const (
	VariantStateStopped  VariantRuntimeState = "stopped"
	VariantStateStarting VariantRuntimeState = "starting"
	VariantStateRunning  VariantRuntimeState = "running"
	VariantStateStopping VariantRuntimeState = "stopping"
)

// Capabilities declares what a variant can do.
type Capabilities struct {
	SupportsModelHotswap bool `json:"supportsModelHotswap"`
	SupportsVoiceCloning bool `json:"supportsVoiceCloning"`
	SupportsStreaming    bool `json:"supportsStreaming"`
}

// LanguageConstraint overrides the default constraints for one language.
type LanguageConstraint struct {
	Language     string `json:"language"`
	MinLength    int    `json:"minLength"`
	MaxLength    int    `json:"maxLength"`
	SampleRateHz int    `json:"sampleRateHz,omitempty"`
}

// Constraints declares input and audio limits for a variant, with optional
// per-language overrides.
type Constraints struct {
	MinInputLength int                   `json:"minInputLength"`
	MaxInputLength int                   `json:"maxInputLength"`
	SampleRateHz   int                   `json:"sampleRateHz"`
	AudioFormat    string                `json:"audioFormat"`
	PerLanguage    []LanguageConstraint  `json:"perLanguage,omitempty"`
}

// MaxLengthFor returns the max input length for a language, honoring any
// per-language override; falls back to the variant-wide default.
func (c Constraints) MaxLengthFor(language string) int {
	for _, lc := range c.PerLanguage {
		if lc.Language == language && lc.MaxLength > 0 {
			return lc.MaxLength
		}
	}
	return c.MaxInputLength
}

// LaunchKind distinguishes how a variant's process is launched.
type LaunchKind string

const (
	LaunchKindSubprocess   LaunchKind = "subprocess"
	LaunchKindLocalDocker  LaunchKind = "local_docker"
	LaunchKindRemoteDocker LaunchKind = "remote_docker"
)

// LaunchDescriptor is the launch-time recipe for a variant: either a binary
// path (subprocess) or an image reference + tag (Docker, local or remote).
type LaunchDescriptor struct {
	Kind       LaunchKind `json:"kind"`
	BinaryPath string     `json:"binaryPath,omitempty"`
	Image      string     `json:"image,omitempty"`
	Tag        string     `json:"tag,omitempty"`
	// SSHHost identifies the remote Docker host for LaunchKindRemoteDocker;
	// it is also the second component of the variant id ("xtts:docker:host-a").
	SSHHost string `json:"sshHost,omitempty"`
}

// EngineVariant is a concrete deployment of an inference engine.
//
// VariantID is composed of a base name and a host identifier, e.g.
// "xtts:local" or "xtts:docker:remote-a". ParseVariantID splits it.
type EngineVariant struct {
	VariantID   string        `json:"variantId"`
	BaseName    string        `json:"baseName"`
	HostID      string        `json:"hostId"`
	Kind        EngineKind    `json:"kind"`
	Source      VariantSource `json:"source"`
	Installed   bool          `json:"installed"`
	Enabled     bool          `json:"enabled"`
	Default     bool          `json:"default"`
	KeepWarm    bool          `json:"keepWarm"`
	Languages   []string      `json:"languages"`
	Capability  Capabilities  `json:"capabilities"`
	Constraint  Constraints   `json:"constraints"`
	Launch      LaunchDescriptor `json:"launch"`
	ConfigHash  string        `json:"configHash"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// ParseVariantID splits a variant id into its base name and host identifier.
// The host identifier may itself contain colons (e.g. "docker:remote-a"), so
// the split occurs on the first colon only.
func ParseVariantID(variantID string) (base, host string, ok bool) {
	for i := 0; i < len(variantID); i++ {
		if variantID[i] == ':' {
			return variantID[:i], variantID[i+1:], true
		}
	}
	return variantID, "", false
}

// EngineModel is a named weights/configuration bundle selectable within a
// variant.
type EngineModel struct {
	VariantID   string    `json:"variantId"`
	Name        string    `json:"name"`
	DisplayName string    `json:"displayName"`
	Default     bool      `json:"default"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}
