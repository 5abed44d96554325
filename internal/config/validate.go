// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/tamzrod/renogy-poller/internal/protocol"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	seen := make(map[string]bool)

	for i, d := range cfg.Poller.Devices {
		if d.Address == "" {
			return fmt.Errorf("device %d: address is required", i)
		}
		if !validAddress(d.Address) {
			return fmt.Errorf("device %d: malformed address %q", i, d.Address)
		}

		key := strings.ToUpper(d.Address)
		if seen[key] {
			return fmt.Errorf("device address %q configured twice", d.Address)
		}
		seen[key] = true

		if d.DeviceType != "" {
			if err := validDeviceType(d.DeviceType); err != nil {
				return fmt.Errorf("device %q: %w", d.Address, err)
			}
		}
	}

	if cfg.Poller.MQTT != nil && cfg.Poller.MQTT.Broker == "" {
		return fmt.Errorf("mqtt block present but broker is empty")
	}

	return nil
}

// validDeviceType separates recognized-but-not-pollable types from
// typos: "battery" names real hardware without a register table yet,
// "toaster" does not.
func validDeviceType(t string) error {
	if _, err := protocol.Commands(t); err == nil {
		return nil
	}
	for _, known := range protocol.KnownDeviceTypes() {
		if t == known {
			return fmt.Errorf("device_type %q has no register table yet (supported: %s)",
				t, strings.Join(protocol.SupportedDeviceTypes(), ", "))
		}
	}
	return fmt.Errorf("unknown device_type %q (known: %s)",
		t, strings.Join(protocol.KnownDeviceTypes(), ", "))
}

// validAddress accepts the colon-separated MAC form BLE stacks report.
func validAddress(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 6 {
		return false
	}
	for _, p := range parts {
		if len(p) != 2 || !hexByte(p) {
			return false
		}
	}
	return true
}

func hexByte(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
		if !ok {
			return false
		}
	}
	return true
}
