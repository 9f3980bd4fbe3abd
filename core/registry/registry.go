// Package registry holds an immutable snapshot of the site's controllable
// devices and the selection helpers shared by the problem builder, the
// result interpreter and the real-time controller.
package registry

import (
	"sort"

	"github.com/gridflex/clpu/core/model"
)

// Registry is a read-only device snapshot. The solve path and the
// controller each take their own snapshot at session start, so neither
// needs a lock while a control cycle runs.
type Registry struct {
	devices []model.DeviceSpec
}

// New builds a registry from a device list. The slice is copied.
func New(devices []model.DeviceSpec) *Registry {
	r := &Registry{devices: make([]model.DeviceSpec, len(devices))}
	copy(r.devices, devices)
	return r
}

// Len returns the number of devices in the snapshot.
func (r *Registry) Len() int { return len(r.devices) }

// All returns every device in snapshot order.
func (r *Registry) All() []model.DeviceSpec {
	out := make([]model.DeviceSpec, len(r.devices))
	copy(out, r.devices)
	return out
}

// Contains reports whether a device with the given entity id exists.
func (r *Registry) Contains(entityID string) bool {
	for _, d := range r.devices {
		if d.EntityID == entityID {
			return true
		}
	}
	return false
}

// Get returns the device with the given entity id.
func (r *Registry) Get(entityID string) (model.DeviceSpec, bool) {
	for _, d := range r.devices {
		if d.EntityID == entityID {
			return d, true
		}
	}
	return model.DeviceSpec{}, false
}

// OfType returns the devices of one type, in snapshot order.
func (r *Registry) OfType(t model.DeviceType) []model.DeviceSpec {
	var out []model.DeviceSpec
	for _, d := range r.devices {
		if d.Type == t {
			out = append(out, d)
		}
	}
	return out
}

// CountByType returns the number of devices of one type.
func (r *Registry) CountByType(t model.DeviceType) int {
	n := 0
	for _, d := range r.devices {
		if d.Type == t {
			n++
		}
	}
	return n
}

// EntityIDs returns the entity ids of every device of one type.
func (r *Registry) EntityIDs(t model.DeviceType) []string {
	var out []string
	for _, d := range r.devices {
		if d.Type == t {
			out = append(out, d.EntityID)
		}
	}
	return out
}

// AttrValues returns the named numeric attribute of every device of one
// type that carries it.
func (r *Registry) AttrValues(t model.DeviceType, name string) []float64 {
	var out []float64
	for _, d := range r.devices {
		if d.Type != t {
			continue
		}
		if v, ok := d.Attrs[name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// SortedByPriority collects the devices of the requested types and sorts
// the concatenation ascending by priority. Ties keep snapshot order.
func (r *Registry) SortedByPriority(flags model.DeviceFlags) []model.DeviceSpec {
	var out []model.DeviceSpec
	for _, t := range flags.Types() {
		out = append(out, r.OfType(t)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Flags reports which device types are present in the snapshot.
func (r *Registry) Flags() model.DeviceFlags {
	var f model.DeviceFlags
	for _, d := range r.devices {
		switch d.Type {
		case model.SpaceHeating:
			f.SpaceHeating = true
		case model.ElectricStorage:
			f.ElectricStorage = true
		case model.ElectricVehicleV1G:
			f.ElectricVehicle = true
		case model.WaterHeater:
			f.WaterHeater = true
		}
	}
	return f
}
