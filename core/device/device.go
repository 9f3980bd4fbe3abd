// Package device contains the per-device-type optimization formulations.
// Each model converts its retrieved parameters and forecasts into a
// Fragment: local objective terms, local constraints and a dispatch power
// expression the problem builder couples into the grid balance. Devices
// never see each other's internals.
package device

import (
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/solver"
)

// Decision variable base names. The result interpreter locates solved
// series by these names, so they are part of the contract with core/mpc.
// Per-device models qualify them with the entity id through VarName; the
// space heating model formulates all zones jointly and keeps the bare name.
const (
	VarStorageCharge    = "electric_storage_charge_power"
	VarStorageDischarge = "electric_storage_discharge_power"
	VarStorageResidual  = "electric_storage_residual_energy"

	VarVehicleSwitch   = "electric_vehicle_switch"
	VarVehicleCharge   = "electric_vehicle_charge_power"
	VarVehicleResidual = "electric_vehicle_residual_energy"

	VarZoneTemperature = "smart_thermostats_x_temperature"
	VarHeaterPower     = "smart_thermostats_u_heaters"

	VarWaterHeaterPower = "water_heater_power"
	VarWaterTemperature = "water_heater_temperature"
)

// VarName qualifies a variable base name with its owning entity, so several
// devices of the same type can coexist in one solver model.
func VarName(base, entityID string) string { return base + "/" + entityID }

// Fragment is one device model's contribution to the global problem. The
// dispatch expression has exactly K entries, the device's net power draw in
// kW per step, signed (negative means injection).
type Fragment struct {
	Objective   []solver.Term
	Constraints []solver.Constraint
	Dispatch    solver.Expr
}

// Model formulates one device type over a horizon. Implementations register
// their decision variables on the shared solver model.
type Model interface {
	Formulate(sm *solver.Model, h model.Horizon) (Fragment, error)
}
