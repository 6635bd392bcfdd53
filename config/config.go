package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log   LogConfig   `yaml:"log"`
	Fleet FleetConfig `yaml:"fleet"`
	Web   WebConfig   `yaml:"web"`
	MQTT  MQTTConfig  `yaml:"mqtt"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level           string `yaml:"level"`            // debug, info, warn, error
	TimestampFormat string `yaml:"timestamp_format"` // "time" or "unix"
}

// FleetConfig contains the UDP endpoints to probe and session tuning
type FleetConfig struct {
	Host             string `yaml:"host"`              // Peer address the vehicles listen on
	Ports            []int  `yaml:"ports"`             // UDP ports to probe
	NameOffset       int    `yaml:"name_offset"`       // Display name is БВС-<port - name_offset>
	HandshakeTimeout int    `yaml:"handshake_timeout"` // Seconds to wait for the first heartbeat
	RescanInterval   int    `yaml:"rescan_interval"`   // Seconds between discovery passes (0 disables)
	StaleAfter       int    `yaml:"stale_after"`       // Seconds without heartbeat before a UAV goes offline
}

// WebConfig contains web server settings
type WebConfig struct {
	Port int `yaml:"port"`
}

// MQTTConfig contains optional fleet snapshot publishing settings
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`   // e.g. tcp://localhost:1883
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Interval int    `yaml:"interval"` // Seconds between snapshots
}

// Load reads configuration from a YAML file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Fleet.Host == "" {
		cfg.Fleet.Host = "127.0.0.1"
	}
	if len(cfg.Fleet.Ports) == 0 {
		cfg.Fleet.Ports = []int{14550}
	}
	if cfg.Fleet.NameOffset == 0 {
		cfg.Fleet.NameOffset = 219
	}
	if cfg.Fleet.HandshakeTimeout <= 0 {
		cfg.Fleet.HandshakeTimeout = 5
	}
	if cfg.Fleet.RescanInterval < 0 {
		cfg.Fleet.RescanInterval = 0
	}
	if cfg.Fleet.StaleAfter <= 0 {
		cfg.Fleet.StaleAfter = 60
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8000
	}
	if cfg.MQTT.Enabled {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "uav-system-gcs"
		}
		if cfg.MQTT.Topic == "" {
			cfg.MQTT.Topic = "gcs/fleet"
		}
		if cfg.MQTT.Interval <= 0 {
			cfg.MQTT.Interval = 5
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	for _, port := range c.Fleet.Ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("fleet.ports entry %d must be between 1 and 65535", port)
		}
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be between 1 and 65535")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker cannot be empty when mqtt is enabled")
	}
	return nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
