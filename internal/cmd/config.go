package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port     int    `yaml:"port"`
		MediaDir string `yaml:"media_dir"`
	} `yaml:"server"`
	Database struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"database"`
	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`
	Tracks struct {
		KeepHistory bool `yaml:"keep_history"`
	} `yaml:"tracks"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = 8080
	cfg.Server.MediaDir = "./media"
	cfg.NATS.URL = "nats://localhost:4222"
	return &cfg
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides
	cfg.Server.Port = getEnvAsInt("PORT", cfg.Server.Port)
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.NATS.URL = url
	}
	if dir := os.Getenv("MEDIA_DIR"); dir != "" {
		cfg.Server.MediaDir = dir
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
