// internal/health/encode_test.go
package health

import (
	"encoding/json"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tamzrod/renogy-poller/internal/device"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestAvailabilityPayload(t *testing.T) {
	d := device.New("AA:BB:CC:DD:EE:FF", "BT-TH-1234", "controller", testLogger())

	assert.Equal(t, "online", AvailabilityPayload(FromDevice(d)))

	for i := 0; i < device.MaxFailures; i++ {
		d.UpdateAvailability(false)
	}
	assert.Equal(t, "offline", AvailabilityPayload(FromDevice(d)))
}

func TestEncodeState(t *testing.T) {
	d := device.New("AA:BB:CC:DD:EE:FF", "BT-TH-1234", "controller", testLogger())
	d.MergeData(map[string]any{"battery_voltage": 13.2, "pv_power": 30})
	d.Seen(-55)

	raw, err := EncodeState(d)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", got["address"])
	assert.Equal(t, "BT-TH-1234", got["name"])
	assert.Equal(t, float64(-55), got["rssi"])
	assert.NotEmpty(t, got["last_seen"])

	telemetry, ok := got["telemetry"].(map[string]any)
	require.True(t, ok, "telemetry block missing: %v", got)
	assert.Equal(t, 13.2, telemetry["battery_voltage"])
}
