// Package config handles configuration loading, validation, and
// persistence for aircast.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultTimeoutSec = 5
)

// Config is the root configuration structure for aircast.
type Config struct {
	mu   sync.RWMutex
	path string

	Device      DeviceConfig      `json:"device"`
	Application ApplicationConfig `json:"application"`
}

// DeviceConfig holds receiver connection defaults. An empty host means
// the receiver is found by discovery at startup.
type DeviceConfig struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	TimeoutSec int    `json:"timeout_sec"`
}

// ApplicationConfig holds everything that is not about the receiver.
type ApplicationConfig struct {
	Encoder EncoderConfig `json:"encoder"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
}

// EncoderConfig holds ffmpeg/ffprobe settings. Empty paths mean lookup
// on PATH.
type EncoderConfig struct {
	FFmpegPath  string `json:"ffmpeg_path"`
	FFprobePath string `json:"ffprobe_path"`
	TempDir     string `json:"temp_dir"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// HistoryConfig holds playback history database settings.
type HistoryConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Port:       7000,
			TimeoutSec: DefaultTimeoutSec,
		},
		Application: ApplicationConfig{
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			History: HistoryConfig{
				Enabled: true,
				Path:    filepath.Join(DefaultConfigDir, "history.db"),
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxBackups: 5,
				Console:    true,
			},
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults
// on first run.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetDevice returns a copy of the device configuration.
func (c *Config) GetDevice() DeviceConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Device
}

// SetDevice updates the device configuration.
func (c *Config) SetDevice(data DeviceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Device = data
}

// GetApplication returns a copy of the application configuration.
func (c *Config) GetApplication() ApplicationConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Application
}

// SetApplication updates the application configuration.
func (c *Config) SetApplication(data ApplicationConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Application = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
