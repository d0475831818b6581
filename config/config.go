package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/keelhq/llm-warden/detect"
)

// Load loads configuration from file and environment variables. A missing
// config file is not an error; defaults apply.
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/llm-warden/")
	viper.AddConfigPath("$HOME/.llm-warden/")

	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig fails fast on malformed values so no component ever sees
// them. Component constructors re-validate their own slice of the config.
func validateConfig(config *Config) error {
	if config.Service.Name == "" {
		return fmt.Errorf("service name must not be empty")
	}

	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}
	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	switch config.Detector.Mode {
	case detect.ModeDetect, detect.ModeRedact, detect.ModeMask:
	default:
		return fmt.Errorf("invalid detector mode: %s (must be detect, redact, or mask)", config.Detector.Mode)
	}
	if config.Detector.ConfidenceThreshold < 0 || config.Detector.ConfidenceThreshold > 1 {
		return fmt.Errorf("detector confidence threshold must be in [0,1]")
	}

	if config.Budget.PerRequestCeiling <= 0 {
		return fmt.Errorf("budget per-request ceiling must be positive")
	}

	if config.Confidence.MinConfidence < 0 || config.Confidence.MinConfidence > 1 {
		return fmt.Errorf("confidence minimum must be in [0,1]")
	}
	if config.Confidence.MaxUncertainty < 0 || config.Confidence.MaxUncertainty > 1 {
		return fmt.Errorf("uncertainty maximum must be in [0,1]")
	}

	switch config.Audit.MinLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid audit level: %s", config.Audit.MinLevel)
	}

	return nil
}

// Watch starts watching the configuration file for changes. Invalid reloads
// are dropped; the previous configuration stays active.
func Watch(callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := viper.Unmarshal(newConfig); err != nil {
			return
		}
		if err := validateConfig(newConfig); err != nil {
			return
		}
		callback(newConfig)
	})
	return nil
}
