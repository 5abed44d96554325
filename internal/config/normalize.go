// internal/config/normalize.go
package config

import (
	"time"

	"github.com/tamzrod/renogy-poller/internal/protocol"
	"github.com/tamzrod/renogy-poller/internal/scheduler"
)

// Scan interval bounds in seconds, derived from the scheduler's
// duration-typed constants. Clamping happens here so the rest of the
// program never sees an out-of-range interval.
const (
	DefaultScanIntervalS = int(scheduler.DefaultScanInterval / time.Second)
	MinScanIntervalS     = int(scheduler.MinScanInterval / time.Second)
	MaxScanIntervalS     = int(scheduler.MaxScanInterval / time.Second)
)

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	// ------------------------------------------------------------
	// SCAN INTERVAL CLAMPING
	// ------------------------------------------------------------

	switch {
	case cfg.Poller.ScanIntervalS == 0:
		cfg.Poller.ScanIntervalS = DefaultScanIntervalS
	case cfg.Poller.ScanIntervalS < MinScanIntervalS:
		cfg.Poller.ScanIntervalS = MinScanIntervalS
	case cfg.Poller.ScanIntervalS > MaxScanIntervalS:
		cfg.Poller.ScanIntervalS = MaxScanIntervalS
	}

	// ------------------------------------------------------------
	// DEFAULTS
	// ------------------------------------------------------------

	for i := range cfg.Poller.Devices {
		d := &cfg.Poller.Devices[i]
		if d.DeviceType == "" {
			d.DeviceType = protocol.DeviceTypeController
		}
	}

	if cfg.Poller.MQTT != nil {
		if cfg.Poller.MQTT.ClientID == "" {
			cfg.Poller.MQTT.ClientID = "renogy-poller"
		}
		if cfg.Poller.MQTT.TopicPrefix == "" {
			cfg.Poller.MQTT.TopicPrefix = "renogy"
		}
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}
