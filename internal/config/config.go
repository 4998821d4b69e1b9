package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "IRONTEMPLE"
	defaultStorageBackend      = StorageBackendFile
	defaultStoragePath         = "irontemple.json"
	defaultStorageQuotaBytes   = 5 * 1024 * 1024
	defaultRemoteBaseURL       = "http://localhost:5000/api/"
	defaultRemoteTimeoutSecond = 30
	defaultSyncMaxRetry        = 3
	defaultPollIntervalSeconds = 5
	defaultStatsWeeksWindow    = 4
	defaultLogLevel            = "info"
	defaultDevRemoteAddress    = "127.0.0.1:5000"
)

// Storage backends accepted by storage.backend.
const (
	StorageBackendMemory = "memory"
	StorageBackendFile   = "file"
	StorageBackendSQLite = "sqlite"
)

// AppConfig captures runtime configuration for the CLI and its components.
type AppConfig struct {
	StorageBackend    string
	StoragePath       string
	StorageQuotaBytes int64
	RemoteBaseURL     string
	RemoteTimeout     time.Duration
	SyncMaxRetry      int
	PollInterval      time.Duration
	StatsWeeksWindow  int
	LogLevel          string
	DevRemoteAddress  string
	DevSigningSecret  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("storage.backend", defaultStorageBackend)
	configViper.SetDefault("storage.path", defaultStoragePath)
	configViper.SetDefault("storage.quota_bytes", defaultStorageQuotaBytes)
	configViper.SetDefault("remote.base_url", defaultRemoteBaseURL)
	configViper.SetDefault("remote.timeout_seconds", defaultRemoteTimeoutSecond)
	configViper.SetDefault("sync.max_retry", defaultSyncMaxRetry)
	configViper.SetDefault("sync.poll_interval_seconds", defaultPollIntervalSeconds)
	configViper.SetDefault("stats.weeks_window", defaultStatsWeeksWindow)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("devremote.address", defaultDevRemoteAddress)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		StorageBackend:    strings.ToLower(strings.TrimSpace(configViper.GetString("storage.backend"))),
		StoragePath:       configViper.GetString("storage.path"),
		StorageQuotaBytes: configViper.GetInt64("storage.quota_bytes"),
		RemoteBaseURL:     configViper.GetString("remote.base_url"),
		RemoteTimeout:     time.Duration(configViper.GetInt("remote.timeout_seconds")) * time.Second,
		SyncMaxRetry:      configViper.GetInt("sync.max_retry"),
		PollInterval:      time.Duration(configViper.GetInt("sync.poll_interval_seconds")) * time.Second,
		StatsWeeksWindow:  configViper.GetInt("stats.weeks_window"),
		LogLevel:          configViper.GetString("log.level"),
		DevRemoteAddress:  configViper.GetString("devremote.address"),
		DevSigningSecret:  configViper.GetString("devremote.signing_secret"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireDevSigningSecret reports an error when the dev remote cannot sign tokens.
func (c AppConfig) RequireDevSigningSecret() error {
	if strings.TrimSpace(c.DevSigningSecret) == "" {
		return fmt.Errorf("devremote.signing_secret is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	switch c.StorageBackend {
	case StorageBackendMemory, StorageBackendFile, StorageBackendSQLite:
	default:
		return fmt.Errorf("storage.backend must be one of memory, file, sqlite; got %q", c.StorageBackend)
	}
	if c.StorageBackend != StorageBackendMemory && strings.TrimSpace(c.StoragePath) == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.StorageQuotaBytes < 0 {
		return fmt.Errorf("storage.quota_bytes must not be negative")
	}
	if strings.TrimSpace(c.RemoteBaseURL) == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("remote.timeout_seconds must be positive")
	}
	if c.SyncMaxRetry <= 0 {
		return fmt.Errorf("sync.max_retry must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval_seconds must be positive")
	}
	if c.StatsWeeksWindow <= 0 {
		return fmt.Errorf("stats.weeks_window must be positive")
	}
	return nil
}
