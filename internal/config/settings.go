package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds all configuration options for the engine.
//
// Provider base URLs and the proxy rotation list are configuration data, not
// code: mirrors come and go, and retiring one must not require a rebuild.
type Settings struct {
	// Cache settings
	CacheDirCandidates []string `yaml:"cache_dir_candidates"`
	MinValidFileSize   int64    `yaml:"min_valid_file_size"`
	CacheInfoTTL       Duration `yaml:"cache_info_ttl"`
	ProgressStaleAfter Duration `yaml:"progress_stale_after"`

	// Download settings
	InitialChunkSize  int64    `yaml:"initial_chunk_size"`
	ChunkSize         int64    `yaml:"chunk_size"`
	MaxRetryAttempts  int      `yaml:"max_retry_attempts"`
	RetryDelay        Duration `yaml:"retry_delay"`
	ChunkTimeout      Duration `yaml:"chunk_timeout"`

	// Monitor settings
	MonitorInterval      Duration `yaml:"monitor_interval"`
	StallPolls           int      `yaml:"stall_polls"`
	CompletionPercent    float64  `yaml:"completion_percent"`
	OpportunisticPercent float64  `yaml:"opportunistic_percent"`

	// HTTP settings
	RequestTimeout  Duration `yaml:"request_timeout"`
	FetchRetries    int      `yaml:"fetch_retries"`
	BackoffBase     Duration `yaml:"backoff_base"`
	BackoffMaxJitter Duration `yaml:"backoff_max_jitter"`
	UserAgent       string   `yaml:"user_agent"`
	Proxies         []string `yaml:"proxies"`

	// Resolution settings
	RaceSize        int      `yaml:"race_size"`
	StrategyTimeout Duration `yaml:"strategy_timeout"`
	OverallTimeout  Duration `yaml:"overall_timeout"`

	// Provider base URLs, tried in order within each strategy
	YouTubeHosts []string `yaml:"youtube_hosts"`
	AudiusHosts  []string `yaml:"audius_hosts"`
	JamendoHosts []string `yaml:"jamendo_hosts"`
	ArchiveHosts []string `yaml:"archive_hosts"`

	// JamendoClientID authenticates Jamendo API calls.
	JamendoClientID string `yaml:"jamendo_client_id"`

	// Prefetch settings
	PrefetchQueueCap int `yaml:"prefetch_queue_cap"`

	// Tag settings
	ModifyTags        bool `yaml:"modify_tags"`
	EmbedArtwork      bool `yaml:"embed_artwork"`
	ArtworkMaxSize    int  `yaml:"artwork_max_size"`
	ConvertArtworkJPG bool `yaml:"convert_artwork_jpg"`
}

// Duration wraps time.Duration with YAML (un)marshalling in the usual
// "3s" / "500ms" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// DefaultSettings returns settings with default values.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()
	return &Settings{
		CacheDirCandidates: []string{
			filepath.Join(homeDir, ".cache", "trackcache"),
			filepath.Join(os.TempDir(), "trackcache"),
		},
		MinValidFileSize:   64 << 10,
		CacheInfoTTL:       Duration(5 * time.Second),
		ProgressStaleAfter: Duration(5 * time.Minute),

		InitialChunkSize: 256 << 10,
		ChunkSize:        1 << 20,
		MaxRetryAttempts: 3,
		RetryDelay:       Duration(2 * time.Second),
		ChunkTimeout:     Duration(30 * time.Second),

		MonitorInterval:      Duration(3 * time.Second),
		StallPolls:           3,
		CompletionPercent:    98,
		OpportunisticPercent: 30,

		RequestTimeout:   Duration(15 * time.Second),
		FetchRetries:     3,
		BackoffBase:      Duration(500 * time.Millisecond),
		BackoffMaxJitter: Duration(time.Second),
		UserAgent:        "trackcache/1.0",
		Proxies: []string{
			"https://api.allorigins.win/raw?url=",
			"https://corsproxy.io/?",
			"https://proxy.cors.sh/",
		},

		RaceSize:        3,
		StrategyTimeout: Duration(3 * time.Second),
		OverallTimeout:  Duration(20 * time.Second),

		YouTubeHosts: []string{
			"https://pipedapi.kavin.rocks",
			"https://pipedapi.adminforge.de",
			"https://api.piped.private.coffee",
		},
		AudiusHosts: []string{
			"https://discoveryprovider.audius.co",
			"https://discoveryprovider2.audius.co",
			"https://discoveryprovider3.audius.co",
		},
		JamendoHosts: []string{
			"https://api.jamendo.com/v3.0",
		},
		ArchiveHosts: []string{
			"https://archive.org",
		},
		JamendoClientID: "2c9a11b9",

		PrefetchQueueCap: 8,

		ModifyTags:        true,
		EmbedArtwork:      true,
		ArtworkMaxSize:    1000,
		ConvertArtworkJPG: true,
	}
}

// Load reads settings from a YAML file.
//
// A missing file is not an error: defaults are returned so first runs work
// without any setup.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSettings(), nil
		}
		return nil, err
	}

	settings := DefaultSettings()
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

// Save writes settings to a YAML file, creating parent directories as
// needed.
func (s *Settings) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfigPath returns the default location of the config file.
func DefaultConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "trackcache", "config.yaml")
}
