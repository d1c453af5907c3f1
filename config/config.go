package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"laneway/log"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".laneway"), nil
}

// Config represents the application configuration
type Config struct {
	// Lanes is the number of concurrent execution lanes.
	Lanes int `json:"lanes"`
	// WindowSeconds is the metrics retention horizon in seconds.
	WindowSeconds int `json:"window_seconds"`
	// PollIntervalMS bounds how long an idle scheduler tick waits for output.
	PollIntervalMS int `json:"poll_interval_ms"`
	// DefaultShell runs each work item's command line.
	DefaultShell string `json:"default_shell"`
	// UsePTY allocates a pseudo-terminal for spawned processes.
	UsePTY bool `json:"use_pty"`
	// DisplayWidth truncates monitor lines to this many columns.
	DisplayWidth int `json:"display_width"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Lanes:          4,
		WindowSeconds:  8,
		PollIntervalMS: 50,
		DefaultShell:   "/bin/sh",
		UsePTY:         false,
		DisplayWidth:   100,
	}
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}

	return &config
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// SaveConfig exports the saveConfig function for use by other packages
func SaveConfig(config *Config) error {
	return saveConfig(config)
}
