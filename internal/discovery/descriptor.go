package discovery

// descriptor is the on-disk shape of one engine variant catalog entry.
// Field names follow this codebase's koanf snake_case convention (see
// internal/config.Config), not the REST camelCase wire contract — catalog
// files are operator-authored configuration, not an API payload.
type descriptor struct {
	BaseName  string   `koanf:"base_name"`
	HostID    string   `koanf:"host_id"`
	Kind      string   `koanf:"kind"`
	Source    string   `koanf:"source"` // bundled|catalog|user_supplied; defaults to catalog
	Languages []string `koanf:"languages"`

	Capabilities struct {
		SupportsModelHotswap bool `koanf:"supports_model_hotswap"`
		SupportsVoiceCloning bool `koanf:"supports_voice_cloning"`
		SupportsStreaming    bool `koanf:"supports_streaming"`
	} `koanf:"capabilities"`

	Constraints struct {
		MinInputLength int    `koanf:"min_input_length"`
		MaxInputLength int    `koanf:"max_input_length"`
		SampleRateHz   int    `koanf:"sample_rate_hz"`
		AudioFormat    string `koanf:"audio_format"`
		PerLanguage    []struct {
			Language     string `koanf:"language"`
			MinLength    int    `koanf:"min_length"`
			MaxLength    int    `koanf:"max_length"`
			SampleRateHz int    `koanf:"sample_rate_hz"`
		} `koanf:"per_language"`
	} `koanf:"constraints"`

	Launch struct {
		Kind       string `koanf:"kind"` // subprocess|local_docker|remote_docker
		BinaryPath string `koanf:"binary_path"`
		Image      string `koanf:"image"`
		Tag        string `koanf:"tag"`
		SSHHost    string `koanf:"ssh_host"`
	} `koanf:"launch"`
}
