// internal/device/device.go

// Package device holds per-physical-device state: identity, merged
// telemetry, and the availability hysteresis that decides when an
// unreachable device stops being polled and when it gets another chance.
package device

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// MaxFailures is how many consecutive failed polls mark a device
	// unavailable.
	MaxFailures = 3

	// UnavailableRetryInterval rate-limits reconnection attempts to an
	// unavailable device: at most one per window.
	UnavailableRetryInterval = 10 * time.Minute
)

const defaultName = "Unknown Renogy Device"

// Device is the mutable state for one physical Renogy device.
// The sighting fields (name, rssi, lastSeen) are mutex-guarded: the
// discovery scan updates them from its own goroutine. Everything else
// has a single writer, the holder of the device's poll slot.
type Device struct {
	Address    string
	DeviceType string

	mu       sync.Mutex
	name     string
	rssi     int
	lastSeen time.Time

	failureCount    int
	available       bool
	lastUnavailable time.Time

	data map[string]any

	log logrus.FieldLogger
	// Now supplies wall-clock time; swapped out in tests.
	Now func() time.Time
}

// New creates a device first seen at addr.
func New(addr, name, deviceType string, log logrus.FieldLogger) *Device {
	if name == "" {
		name = defaultName
	}
	return &Device{
		Address:    addr,
		name:       name,
		DeviceType: deviceType,
		available:  true,
		data:       make(map[string]any),
		log:        log.WithField("device", addr),
		Now:        time.Now,
	}
}

// Name returns the advertised device name, or a placeholder if no
// advertisement carried one yet.
func (d *Device) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

// setName records a name learned from an advertisement. No-op when the
// name is unchanged.
func (d *Device) setName(name string) {
	d.mu.Lock()
	old := d.name
	d.name = name
	d.mu.Unlock()
	if old != name {
		d.log.Debugf("device name updated from %q to %q", old, name)
	}
}

// RSSI returns the signal strength of the last sighting, 0 if unknown.
func (d *Device) RSSI() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rssi
}

// LastSeen returns when the device last advertised or answered.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// IsAvailable reports whether the device is currently considered reachable.
func (d *Device) IsAvailable() bool {
	return d.available && d.failureCount < MaxFailures
}

// FailureCount returns the current consecutive-failure count.
func (d *Device) FailureCount() int {
	return d.failureCount
}

// Data returns a copy of the merged telemetry.
func (d *Device) Data() map[string]any {
	out := make(map[string]any, len(d.data))
	for k, v := range d.data {
		out[k] = v
	}
	return out
}

// MergeData folds one command's parsed fields into the device telemetry.
// Additive: fields from other commands survive.
func (d *Device) MergeData(fields map[string]any) {
	for k, v := range fields {
		d.data[k] = v
	}
}

// Seen records an advertisement or connection-level sighting.
func (d *Device) Seen(rssi int) {
	d.mu.Lock()
	d.rssi = rssi
	d.lastSeen = d.Now()
	d.mu.Unlock()
}

// UpdateAvailability folds one poll attempt's outcome into the
// availability machine.
//
//	success           -> failures reset to 0, device available
//	failure below cap -> count up, stay available
//	failure at cap    -> unavailable, retry window starts
func (d *Device) UpdateAvailability(success bool) {
	if success {
		if d.failureCount > 0 {
			d.log.Infof("communication restored after %d consecutive failures", d.failureCount)
		}
		d.failureCount = 0
		if !d.available {
			d.log.Debug("device is now available")
			d.available = true
			d.lastUnavailable = time.Time{}
		}
		return
	}

	d.failureCount++
	d.log.Infof("communication failure (%d of %d)", d.failureCount, MaxFailures)

	if d.failureCount >= MaxFailures && d.available {
		d.log.Warnf("marked unavailable after %d consecutive failures", MaxFailures)
		d.available = false
		d.lastUnavailable = d.Now()
	}
}

// ShouldRetryConnection gates poll attempts against an unavailable device.
//
// First check after going unavailable arms the window and says no.
// Subsequent checks say no until the window elapses, then yes exactly
// once per window.
func (d *Device) ShouldRetryConnection() bool {
	if d.IsAvailable() {
		return true
	}

	if d.lastUnavailable.IsZero() {
		d.lastUnavailable = d.Now()
		return false
	}

	if !d.Now().Before(d.lastUnavailable.Add(UnavailableRetryInterval)) {
		d.log.Debug("retry interval reached for unavailable device, attempting reconnection")
		d.lastUnavailable = d.Now()
		return true
	}

	return false
}
