// Package config loads the engine's YAML configuration, grounded on
// collab_server/main.go's initConfig/CollabConfig: a viper-backed
// struct with mapstructure tags, searched across a few conventional
// paths so the binary can be started from the repo root or its own
// directory.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level engine configuration for cmd/bayoud.
type Config struct {
	Storage struct {
		// Backend is "bolt" or "memory". memory is for local dev/tests;
		// bolt is the durable production backend.
		Backend string `mapstructure:"backend"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"Storage"`

	FormatVersion string `mapstructure:"formatVersion"`

	Caret struct {
		IdleThreshold   time.Duration `mapstructure:"idleThreshold"`
		ReapInterval    time.Duration `mapstructure:"reapInterval"`
	} `mapstructure:"Caret"`

	Redis struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"Redis"`

	ClusterLock struct {
		Enabled bool          `mapstructure:"enabled"`
		LeaseTTL time.Duration `mapstructure:"leaseTTL"`
	} `mapstructure:"ClusterLock"`

	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"Kafka"`

	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"Mysql"`

	// Preload is the set of document IDs bayoud opens (and keeps live,
	// with its idle reaper running) at startup, since there is no
	// transport layer here to open documents on demand.
	Preload []string `mapstructure:"preload"`
}

// Default fills in the values a single-process, no-external-deps
// deployment needs to run: memory storage, cluster lock disabled,
// Kafka export disabled.
func Default() *Config {
	cfg := &Config{}
	cfg.Storage.Backend = "memory"
	cfg.FormatVersion = "1"
	cfg.Caret.IdleThreshold = 10 * time.Minute
	cfg.Caret.ReapInterval = 30 * time.Second
	cfg.ClusterLock.LeaseTTL = 30 * time.Second
	return cfg
}

// Load reads bayouConfig.yaml from the conventional search paths,
// falling back to Default() values for anything unset.
func Load() (*Config, error) {
	cfg := Default()
	v := viper.New()
	v.SetConfigName("bayouConfig")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return cfg, nil
		}
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
