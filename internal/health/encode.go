// internal/health/encode.go
package health

import (
	"encoding/json"

	"github.com/tamzrod/renogy-poller/internal/device"
)

// Availability payloads. Protocol-locked: consumers key on these
// exact strings.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// AvailabilityPayload maps a snapshot onto the availability wire value.
func AvailabilityPayload(s Snapshot) string {
	if s.Available {
		return PayloadOnline
	}
	return PayloadOffline
}

// statePayload is the JSON shape of the telemetry topic.
type statePayload struct {
	Address   string         `json:"address"`
	Name      string         `json:"name"`
	RSSI      int            `json:"rssi,omitempty"`
	LastSeen  string         `json:"last_seen,omitempty"`
	Telemetry map[string]any `json:"telemetry"`
}

// EncodeState renders the telemetry payload for one device.
func EncodeState(d *device.Device) ([]byte, error) {
	s := FromDevice(d)
	p := statePayload{
		Address:   s.Address,
		Name:      s.Name,
		RSSI:      s.RSSI,
		Telemetry: d.Data(),
	}
	if !s.LastSeen.IsZero() {
		p.LastSeen = s.LastSeen.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return json.Marshal(p)
}
