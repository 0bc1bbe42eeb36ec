package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateDevice(&cfg.Device, result)
	validateApplication(&cfg.Application, result)

	return result
}

func validateDevice(data *DeviceConfig, result *ValidationResult) {
	if data.Port < 1 || data.Port > 65535 {
		result.AddError("device.port", fmt.Sprintf("invalid port number: %d (must be 1-65535)", data.Port))
	}

	if data.TimeoutSec < 1 {
		result.AddError("device.timeout_sec", "timeout must be at least 1 second")
	} else if data.TimeoutSec > 60 {
		result.AddWarning("device.timeout_sec",
			fmt.Sprintf("timeout of %ds will make failures very slow to surface", data.TimeoutSec))
	}
}

func validateApplication(data *ApplicationConfig, result *ValidationResult) {
	// Encoder paths, when given, must exist.
	for field, path := range map[string]string{
		"application.encoder.ffmpeg_path":  data.Encoder.FFmpegPath,
		"application.encoder.ffprobe_path": data.Encoder.FFprobePath,
	} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			result.AddWarning(field, fmt.Sprintf("binary does not exist: %s", path))
		}
	}

	if data.Encoder.TempDir != "" {
		if _, err := os.Stat(data.Encoder.TempDir); os.IsNotExist(err) {
			result.AddError("application.encoder.temp_dir",
				fmt.Sprintf("directory does not exist: %s", data.Encoder.TempDir))
		}
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application.mqtt.port", "invalid MQTT port")
		}
		if data.MQTT.UseTLS && (data.MQTT.CertFile == "") != (data.MQTT.KeyFile == "") {
			result.AddError("application.mqtt.cert_file",
				"client certificate and key must be given together")
		}
	}

	// History
	if data.History.Enabled && strings.TrimSpace(data.History.Path) == "" {
		result.AddError("application.history.path", "history database path is required when enabled")
	}
}
