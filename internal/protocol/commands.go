// internal/protocol/commands.go
package protocol

import "fmt"

// Wire constants shared by every Renogy BT-1/BT-2 module.
const (
	// DefaultDeviceID is the Modbus unit id Renogy devices answer to.
	DefaultDeviceID byte = 0xFF

	// NotifyCharUUID carries responses; WriteCharUUID takes requests.
	NotifyCharUUID = "0000fff1-0000-1000-8000-00805f9b34fb"
	WriteCharUUID  = "0000ffd1-0000-1000-8000-00805f9b34fb"

	// AdvertisedNamePrefix identifies Renogy BT modules during discovery.
	AdvertisedNamePrefix = "BT-TH-"
)

// Device types selectable in configuration. Recognized types without a
// command table are rejected at config validation, not at poll time.
const (
	DeviceTypeController = "controller"
	DeviceTypeBattery    = "battery"
	DeviceTypeInverter   = "inverter"
)

// KnownDeviceTypes lists every recognized device type, pollable or not.
func KnownDeviceTypes() []string {
	return []string{DeviceTypeController, DeviceTypeBattery, DeviceTypeInverter}
}

// Command is one read in the per-device-type poll sequence.
// Geometry only: no semantics.
type Command struct {
	Name         string
	FunctionCode byte
	Register     uint16
	Words        uint16
}

// commandTables maps device type -> ordered poll sequence.
// Extend here when a new device type gains register documentation;
// only the controller table is populated today.
var commandTables = map[string][]Command{
	DeviceTypeController: {
		{Name: "device_info", FunctionCode: 3, Register: 12, Words: 8},
		{Name: "device_id", FunctionCode: 3, Register: 26, Words: 1},
		{Name: "battery", FunctionCode: 3, Register: 57348, Words: 1},
		{Name: "pv", FunctionCode: 3, Register: 256, Words: 34},
	},
}

// Commands returns the poll sequence for a device type.
func Commands(deviceType string) ([]Command, error) {
	cmds, ok := commandTables[deviceType]
	if !ok {
		return nil, fmt.Errorf("protocol: no command table for device type %q", deviceType)
	}
	return cmds, nil
}

// SupportedDeviceTypes lists the device types that have a command table.
func SupportedDeviceTypes() []string {
	out := make([]string, 0, len(commandTables))
	for t := range commandTables {
		out = append(out, t)
	}
	return out
}
