package model

import "fmt"

// DeviceType identifies a class of controllable device.
type DeviceType string

const (
	ElectricStorage    DeviceType = "electric_storage"
	ElectricVehicleV1G DeviceType = "electric_vehicle_v1g"
	SpaceHeating       DeviceType = "space_heating"
	WaterHeater        DeviceType = "water_heater"
)

// ParseDeviceType converts a registry type tag into a DeviceType.
func ParseDeviceType(s string) (DeviceType, error) {
	switch DeviceType(s) {
	case ElectricStorage, ElectricVehicleV1G, SpaceHeating, WaterHeater:
		return DeviceType(s), nil
	}
	return "", fmt.Errorf("%w: unknown device type %q", ErrInvalidInput, s)
}

// DeviceSpec is the static configuration of one physical device, snapshotted
// from the registry at the start of a control cycle and immutable afterwards.
// Lower priority means higher importance; ascending sort gives the dispatch
// and curtailment order.
type DeviceSpec struct {
	EntityID       string     `json:"entity_id"`
	Type           DeviceType `json:"type"`
	Priority       int        `json:"priority"`
	CriticalAction float64    `json:"critical_action"`
	ThermalZone    string     `json:"thermal_zone,omitempty"`

	// Attrs holds the type specific capacity, efficiency and comfort
	// parameters. Retrievers convert them into typed parameter structs
	// and apply defaults for missing keys.
	Attrs map[string]float64 `json:"attrs,omitempty"`
}

// Attr returns a named attribute, falling back to def when absent.
func (d DeviceSpec) Attr(name string, def float64) float64 {
	if v, ok := d.Attrs[name]; ok {
		return v
	}
	return def
}

// DeviceFlags selects which device types take part in a control cycle.
type DeviceFlags struct {
	SpaceHeating    bool `json:"space_heating"`
	ElectricStorage bool `json:"electric_storage"`
	ElectricVehicle bool `json:"electric_vehicle"`
	WaterHeater     bool `json:"water_heater"`
}

// Types lists the enabled device types in the fixed aggregation order.
func (f DeviceFlags) Types() []DeviceType {
	var out []DeviceType
	if f.SpaceHeating {
		out = append(out, SpaceHeating)
	}
	if f.ElectricStorage {
		out = append(out, ElectricStorage)
	}
	if f.ElectricVehicle {
		out = append(out, ElectricVehicleV1G)
	}
	if f.WaterHeater {
		out = append(out, WaterHeater)
	}
	return out
}

// Any reports whether at least one device type is enabled.
func (f DeviceFlags) Any() bool {
	return f.SpaceHeating || f.ElectricStorage || f.ElectricVehicle || f.WaterHeater
}
