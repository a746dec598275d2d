// Package config loads and validates the wosbot configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/whiteout-project/wosbot/internal/logging"
)

// Config represents the main configuration.
type Config struct {
	Version   string           `yaml:"version"`
	Database  *DatabaseConfig  `yaml:"database"`
	Gateway   *GatewayConfig   `yaml:"gateway"`
	Discord   *DiscordConfig   `yaml:"discord"`
	GameAPI   *GameAPIConfig   `yaml:"game_api"`
	Scheduler *SchedulerConfig `yaml:"scheduler"`
	Refresh   *RefreshConfig   `yaml:"refresh"`
	Logging   *logging.Config  `yaml:"logging"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig holds the status server binding.
type GatewayConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DiscordConfig holds the outbound Discord client settings.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// GameAPIConfig holds the remote game API settings.
type GameAPIConfig struct {
	BaseURL string `yaml:"base_url"`
	Secret  string `yaml:"secret"`
}

// SchedulerConfig holds queue admission settings.
type SchedulerConfig struct {
	// WakeIntervalMs is how often the queue re-checks resume-eligible processes.
	WakeIntervalMs int `yaml:"wake_interval_ms"`
}

// RefreshConfig holds the refresh engine's pacing and rendering limits.
type RefreshConfig struct {
	// PerCallDelayMs is the minimum spacing between consecutive API calls.
	PerCallDelayMs int `yaml:"per_call_delay_ms"`
	// RateLimitDelayMs is the back-off after a rate-limited API response.
	RateLimitDelayMs int `yaml:"rate_limit_delay_ms"`
	// MaxEmbedsPerMessage bounds grouped change blocks per notification.
	MaxEmbedsPerMessage int `yaml:"max_embeds_per_message"`
	// MaxDescriptionLength bounds a single change block's rendered text.
	MaxDescriptionLength int `yaml:"max_description_length"`
	// ExistThreshold is the non-existence strike count before deletion.
	ExistThreshold int `yaml:"exist_threshold"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Version: "1.0",
		Database: &DatabaseConfig{
			Path: filepath.Join(homeDir, ".wosbot", "data"),
		},
		Gateway: &GatewayConfig{
			Host: "127.0.0.1",
			Port: 9310,
		},
		Discord: &DiscordConfig{},
		GameAPI: &GameAPIConfig{
			BaseURL: "https://wos-giftcode-api.centurygame.com/api",
		},
		Scheduler: &SchedulerConfig{
			WakeIntervalMs: 5000,
		},
		Refresh: &RefreshConfig{
			PerCallDelayMs:       2000,
			RateLimitDelayMs:     60000,
			MaxEmbedsPerMessage:  10,
			MaxDescriptionLength: 4096,
			ExistThreshold:       3,
		},
		Logging: logging.DefaultConfig(),
	}
}

// Load loads configuration from a file, layered over defaults.
// Environment variables in the file are expanded before parsing.
func Load(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Database != nil {
		config.Database.Path = expandPath(config.Database.Path)
	}
	return config, nil
}

// Save saves configuration to a file.
func Save(config *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// DefaultConfigPath returns the default configuration path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".wosbot", "config.yaml")
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Gateway != nil && (c.Gateway.Port < 1 || c.Gateway.Port > 65535) {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if c.GameAPI == nil || c.GameAPI.BaseURL == "" {
		return fmt.Errorf("game API base URL is required")
	}
	if c.Refresh != nil {
		if c.Refresh.PerCallDelayMs < 0 {
			return fmt.Errorf("per_call_delay_ms must not be negative")
		}
		if c.Refresh.ExistThreshold < 1 {
			return fmt.Errorf("exist_threshold must be at least 1")
		}
	}
	return nil
}
