// internal/decoder/decoder.go

// Package decoder turns validated Modbus response payloads into telemetry
// fields. Pure functions, no IO: the session owns when to call it, the
// device model owns where the fields go.
package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tamzrod/renogy-poller/internal/protocol"
)

var (
	ErrUnknownRegister   = errors.New("decoder: no field layout for register")
	ErrTruncatedPayload  = errors.New("decoder: payload shorter than register block")
	ErrUnknownDeviceType = errors.New("decoder: unsupported device type")
)

// Registers with a known field layout (controller).
const (
	RegDeviceInfo  uint16 = 12
	RegDeviceID    uint16 = 26
	RegBatteryType uint16 = 57348
	RegCharging    uint16 = 256
)

// batteryTypes maps the register 57348 value.
var batteryTypes = map[uint16]string{
	1: "open",
	2: "sealed",
	3: "gel",
	4: "lithium",
	5: "custom",
}

// chargingStatuses maps the low byte of the last charging-block word.
var chargingStatuses = map[byte]string{
	0: "deactivated",
	1: "activated",
	2: "mppt",
	3: "equalizing",
	4: "boost",
	5: "floating",
	6: "current limiting",
}

// Decode extracts the telemetry fields covered by one register block.
//
// raw is the full Modbus response (id, fc, byte count, data, crc).
// Fields from different registers are additive; callers merge.
func Decode(raw []byte, deviceType string, register uint16) (map[string]any, error) {
	if deviceType != protocol.DeviceTypeController {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDeviceType, deviceType)
	}
	payload, err := payloadOf(raw)
	if err != nil {
		return nil, err
	}

	switch register {
	case RegDeviceInfo:
		return decodeDeviceInfo(payload)
	case RegDeviceID:
		return decodeDeviceID(payload)
	case RegBatteryType:
		return decodeBatteryType(payload)
	case RegCharging:
		return decodeCharging(payload)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRegister, register)
	}
}

// payloadOf slices the register data out of a Modbus read response.
func payloadOf(raw []byte) ([]byte, error) {
	if len(raw) < 5 {
		return nil, ErrTruncatedPayload
	}
	count := int(raw[2])
	if len(raw) < 3+count {
		return nil, fmt.Errorf("%w: byte count %d, have %d data bytes", ErrTruncatedPayload, count, len(raw)-3)
	}
	return raw[3 : 3+count], nil
}

// word reads big-endian word i of payload.
func word(payload []byte, i int) uint16 {
	return uint16(payload[2*i])<<8 | uint16(payload[2*i+1])
}

// temperature decodes a sign-bit temperature byte (bit 7 = negative).
func temperature(b byte) int {
	v := int(b & 0x7F)
	if b&0x80 != 0 {
		return -v
	}
	return v
}

func decodeDeviceInfo(payload []byte) (map[string]any, error) {
	if len(payload) < 16 {
		return nil, ErrTruncatedPayload
	}
	model := strings.TrimRight(strings.TrimSpace(string(payload[:16])), "\x00")
	if model == "" {
		return nil, errors.New("decoder: empty model string")
	}
	return map[string]any{"model": model}, nil
}

func decodeDeviceID(payload []byte) (map[string]any, error) {
	if len(payload) < 2 {
		return nil, ErrTruncatedPayload
	}
	return map[string]any{"device_id": int(word(payload, 0))}, nil
}

func decodeBatteryType(payload []byte) (map[string]any, error) {
	if len(payload) < 2 {
		return nil, ErrTruncatedPayload
	}
	name, ok := batteryTypes[word(payload, 0)]
	if !ok {
		name = "unknown"
	}
	return map[string]any{"battery_type": name}, nil
}

// decodeCharging handles the 34-word charging/PV block at register 256.
func decodeCharging(payload []byte) (map[string]any, error) {
	if len(payload) < 68 {
		return nil, fmt.Errorf("%w: charging block needs 68 bytes, have %d", ErrTruncatedPayload, len(payload))
	}

	temps := word(payload, 3)
	status := word(payload, 32)

	chargingStatus, ok := chargingStatuses[byte(status&0xFF)]
	if !ok {
		chargingStatus = "unknown"
	}
	loadStatus := "off"
	if status&0x8000 != 0 {
		loadStatus = "on"
	}

	return map[string]any{
		"battery_percentage":          int(word(payload, 0)),
		"battery_voltage":             float64(word(payload, 1)) * 0.1,
		"battery_current":             float64(word(payload, 2)) * 0.01,
		"controller_temperature":      temperature(byte(temps >> 8)),
		"battery_temperature":         temperature(byte(temps & 0xFF)),
		"load_voltage":                float64(word(payload, 4)) * 0.1,
		"load_current":                float64(word(payload, 5)) * 0.01,
		"load_power":                  int(word(payload, 6)),
		"pv_voltage":                  float64(word(payload, 7)) * 0.1,
		"pv_current":                  float64(word(payload, 8)) * 0.01,
		"pv_power":                    int(word(payload, 9)),
		"max_charging_power_today":    int(word(payload, 15)),
		"max_discharging_power_today": int(word(payload, 16)),
		"charging_amp_hours_today":    int(word(payload, 17)),
		"discharging_amp_hours_today": int(word(payload, 18)),
		"power_generation_today":      int(word(payload, 19)),
		"power_consumption_today":     int(word(payload, 20)),
		"power_generation_total":      float64(uint32(word(payload, 28))<<16|uint32(word(payload, 29))) * 0.001,
		"load_status":                 loadStatus,
		"charging_status":             chargingStatus,
	}, nil
}
