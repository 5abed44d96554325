// internal/config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Poller   PollerConfig `yaml:"poller"`
	LogLevel string       `yaml:"log_level"`
}

// ---- POLLER ----

type PollerConfig struct {
	// ScanIntervalS is the poll interval in seconds,
	// clamped to [10, 600] by Normalize.
	ScanIntervalS int `yaml:"scan_interval_s"`

	// Devices are the configured targets. Empty means discovery-scan
	// mode: poll every matching advertisement.
	Devices []DeviceConfig `yaml:"devices"`

	// MQTT output (optional, opt-in).
	MQTT *MQTTConfig `yaml:"mqtt"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	Address    string `yaml:"address"`
	DeviceType string `yaml:"device_type"`
}

// ---- MQTT ----

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
}

// Load reads and decodes the YAML config file.
// Callers run Validate, then Normalize, before using the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}
