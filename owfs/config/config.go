package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/overwatch-fs/owfs"
	"github.com/ZanzyTHEbar/overwatch-fs/owfs/filesystem/common"

	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Watch   WatchConfig   `mapstructure:"watch"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// WatchConfig stores polling engine settings.
type WatchConfig struct {
	DetectionIntervalMs int      `mapstructure:"detectionIntervalMs"`
	MaxConcurrentScans  int      `mapstructure:"maxConcurrentScans"`
	IgnoreFile          string   `mapstructure:"ignoreFile"`
	Include             []string `mapstructure:"include"`
	Exclude             []string `mapstructure:"exclude"`
	ErrorBuffer         int      `mapstructure:"errorBuffer"`
}

// Interval returns the detection interval as a duration
func (w WatchConfig) Interval() time.Duration {
	return time.Duration(w.DetectionIntervalMs) * time.Millisecond
}

// LogConfig stores logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig stores Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

var AppConfig Config

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetDefault("watch.detectionIntervalMs", internal.DefaultDetectionInterval.Milliseconds())
	v.SetDefault("watch.maxConcurrentScans", internal.DefaultMaxConcurrentScans)
	v.SetDefault("watch.ignoreFile", "")
	v.SetDefault("watch.include", []string{})
	v.SetDefault("watch.exclude", []string{})
	v.SetDefault("watch.errorBuffer", internal.DefaultErrorBuffer)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", internal.DefaultMetricsAddr)

	v.SetEnvPrefix(internal.DefaultAppName)
	v.AutomaticEnv()                                   // Read in environment variables that match
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // watch.detectionIntervalMs becomes OVERWATCH_WATCH_DETECTIONINTERVALMS

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; defaults will be used.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &cfg, nil
}

// Validate checks values that cannot be expressed as viper defaults
func (c *Config) Validate() error {
	interval := c.Watch.Interval()
	if interval < internal.MinDetectionInterval || interval > internal.MaxDetectionInterval {
		return fmt.Errorf("%w: watch.detectionIntervalMs must be between %d and %d, got %d", common.ErrIntervalOutOfRange,
			internal.MinDetectionInterval.Milliseconds(), internal.MaxDetectionInterval.Milliseconds(), c.Watch.DetectionIntervalMs)
	}
	if c.Watch.MaxConcurrentScans < 1 {
		return fmt.Errorf("watch.maxConcurrentScans must be at least 1, got %d", c.Watch.MaxConcurrentScans)
	}
	if c.Watch.ErrorBuffer < 0 {
		return fmt.Errorf("watch.errorBuffer cannot be negative, got %d", c.Watch.ErrorBuffer)
	}
	return nil
}
