// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The ltdhub Authors

// Package config loads the hub settings and per-device profiles from YAML
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds process-wide settings
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Redis   RedisConfig   `yaml:"redis"`
	Adapter AdapterConfig `yaml:"adapter"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	KeyPrefix  string `yaml:"key_prefix"`
	HistoryLen int64  `yaml:"history_len"`
}

type AdapterConfig struct {
	ReadBufferSize int           `yaml:"read_buffer_size"`
	StatsInterval  time.Duration `yaml:"stats_interval"`
}

// LoadConfig reads a config file over the defaults
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return config, nil
}

// DefaultConfig returns the settings used when no config file is given
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   10,
			KeyPrefix:  "ltd",
			HistoryLen: 1000,
		},
		Adapter: AdapterConfig{
			ReadBufferSize: 256,
			StatsInterval:  10 * time.Second,
		},
	}
}
