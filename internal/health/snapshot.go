// internal/health/snapshot.go

// Package health turns device state into the payloads publishers
// deliver. No IO. No side effects.
package health

import (
	"time"

	"github.com/tamzrod/renogy-poller/internal/device"
)

// Snapshot represents exactly what a publisher is allowed to deliver
// about a device's condition. No logic, no memory of the past beyond
// current state.
type Snapshot struct {
	Address      string
	Name         string
	Available    bool
	FailureCount int
	RSSI         int
	LastSeen     time.Time
}

// FromDevice captures the device's current condition.
func FromDevice(d *device.Device) Snapshot {
	return Snapshot{
		Address:      d.Address,
		Name:         d.Name(),
		Available:    d.IsAvailable(),
		FailureCount: d.FailureCount(),
		RSSI:         d.RSSI(),
		LastSeen:     d.LastSeen(),
	}
}
