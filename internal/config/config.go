// Package config loads the application configuration with viper, applying
// defaults for every key so the binary runs without a config file.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Assistant AssistantConfig `mapstructure:"assistant"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AssistantConfig holds the tunables of the stub reasoning engine. The
// keyword lists and confidence cutoffs are heuristics, kept in config so
// tuning them is not a code change.
type AssistantConfig struct {
	VideoKeywords       []string `mapstructure:"video_keywords"`
	AnomalyKeywords     []string `mapstructure:"anomaly_keywords"`
	MediumConfidenceMin int      `mapstructure:"medium_confidence_min"`
	HighConfidenceMin   int      `mapstructure:"high_confidence_min"`
	DefaultRangeDays    int      `mapstructure:"default_range_days"`
	MaxFollowUps        int      `mapstructure:"max_follow_ups"`
	TopVideoLimit       int      `mapstructure:"top_video_limit"`
	AnomalyLimit        int      `mapstructure:"anomaly_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8100")
	v.SetDefault("database.path", "assistant.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("assistant.video_keywords", []string{"film", "video", "wideo", "top", "best", "strongest", "najlep", "najmocniej"})
	v.SetDefault("assistant.anomaly_keywords", []string{"anomal", "drop", "spike", "risk", "trend", "spad", "skok", "ryzyk"})
	v.SetDefault("assistant.medium_confidence_min", 3)
	v.SetDefault("assistant.high_confidence_min", 5)
	v.SetDefault("assistant.default_range_days", 30)
	v.SetDefault("assistant.max_follow_ups", 4)
	v.SetDefault("assistant.top_video_limit", 3)
	v.SetDefault("assistant.anomaly_limit", 3)
}

// Load reads the YAML file at path when it exists and unmarshals it over the
// defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration with no file applied.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}
