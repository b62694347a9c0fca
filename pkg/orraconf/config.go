// Package orraconf is a convenience viper-backed loader for the handful of
// environment variables a typical caller of the SDK wants to source from a
// file or the environment (§6/§9 of SPEC_FULL.md). No other package of the
// module imports it — the core pkg/orra facade included — so the SDK itself
// keeps reading none of these directly, as spec.md §6 requires.
package orraconf

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/orra-dev/orra-sdk-go/pkg/orralog"
)

// PersistenceMethod names which identity.Store mode examples/ should wire
// up, mirroring the Python original's PersistenceConfig.method.
type PersistenceMethod string

const (
	PersistenceFile   PersistenceMethod = "file"
	PersistenceCustom PersistenceMethod = "custom"
)

// Config is the set of construction-time options a host application may
// source from the environment or a config file rather than hardcoding.
type Config struct {
	URL               string            `mapstructure:"url"`
	APIKey            string            `mapstructure:"api_key"`
	ServiceKeyPath    string            `mapstructure:"service_key_path"`
	LogLevel          string            `mapstructure:"log_level"`
	PersistenceMethod PersistenceMethod `mapstructure:"persistence_method"`
}

// Load reads ORRA_URL, ORRA_API_KEY, ORRA_SERVICE_KEY_PATH, ORRA_LOG_LEVEL
// and ORRA_PERSISTENCE_METHOD from the environment (and, if present, from a
// config file named by configPath), matching the teacher's pkg/conf pattern
// of an env-bound, mapstructure-tagged struct read through one viper.New.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_level", "info")
	v.SetDefault("persistence_method", string(PersistenceFile))

	_ = v.BindEnv("url", "ORRA_URL")
	_ = v.BindEnv("api_key", "ORRA_API_KEY")
	_ = v.BindEnv("service_key_path", "ORRA_SERVICE_KEY_PATH")
	_ = v.BindEnv("log_level", "ORRA_LOG_LEVEL")
	_ = v.BindEnv("persistence_method", "ORRA_PERSISTENCE_METHOD")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("orraconf: read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("orraconf: decode configuration: %w", err)
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("orraconf: ORRA_URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("orraconf: ORRA_API_KEY is required")
	}

	return cfg, nil
}

// Level converts the loaded LogLevel string into an orralog.Level.
func (c *Config) Level() orralog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return orralog.LevelDebug
	case "warn", "warning":
		return orralog.LevelWarn
	case "error":
		return orralog.LevelError
	default:
		return orralog.LevelInfo
	}
}

// WatchLogLevel re-reads configPath on change and calls apply with the
// refreshed level, built on viper.WatchConfig (backed by fsnotify, already
// in the teacher's transitive dependency closure) so a host application can
// lower or raise verbosity without a restart.
func WatchLogLevel(configPath string, apply func(orralog.Level)) error {
	if configPath == "" {
		return fmt.Errorf("orraconf: WatchLogLevel requires a config file path")
	}
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetDefault("log_level", "info")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("orraconf: read config file: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg := &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			return
		}
		apply(cfg.Level())
	})
	v.WatchConfig()
	return nil
}
