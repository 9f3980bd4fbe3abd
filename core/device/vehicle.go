package device

import (
	"fmt"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/solver"
)

// ElectricVehicleV1G models a unidirectional EV charger. A binary switch
// gates the charge power through the externally supplied plugged-in mask,
// so charging only happens while the vehicle is branched and switched on.
type ElectricVehicleV1G struct {
	params retriever.VehicleParams
	log    logger.Logger
}

// NewElectricVehicleV1G builds the vehicle model from retrieved parameters.
func NewElectricVehicleV1G(p retriever.VehicleParams, log logger.Logger) *ElectricVehicleV1G {
	return &ElectricVehicleV1G{params: p, log: log}
}

// Formulate builds the vehicle fragment over the horizon.
func (d *ElectricVehicleV1G) Formulate(sm *solver.Model, h model.Horizon) (Fragment, error) {
	if err := h.Validate(); err != nil {
		return Fragment{}, err
	}
	k := h.Steps()
	dt := h.DeltaHours()
	p := d.params

	if p.Branched.Len() != k {
		return Fragment{}, fmt.Errorf("%w: branched mask has %d samples, horizon needs %d",
			model.ErrInvalidInput, p.Branched.Len(), k)
	}
	branched := p.Branched.Values
	for i, v := range branched {
		if v != 0 && v != 1 {
			return Fragment{}, fmt.Errorf("%w: branched mask entry %d is %v, must be 0 or 1",
				model.ErrInvalidInput, i, v)
		}
	}

	capacity := p.EnergyCapacity
	initial := p.InitialEnergy
	minEnergy := p.MinResidualEnergy / 100 * capacity
	maxEnergy := p.MaxResidualEnergy / 100 * capacity
	if initial > maxEnergy {
		d.log.Warnf("initial residual energy %.2f kWh exceeds maximum %.2f kWh for %s, raising maximum to capacity",
			initial, maxEnergy, p.EntityID)
		maxEnergy = capacity
	}
	if initial < minEnergy {
		d.log.Warnf("initial residual energy %.2f kWh is below minimum %.2f kWh for %s, lowering minimum to zero",
			initial, minEnergy, p.EntityID)
		minEnergy = 0
	}

	desired := p.DesiredState / 100 * capacity

	sw := sm.Vec(VarName(VarVehicleSwitch, p.EntityID), k, solver.Binary())
	charge := sm.Vec(VarName(VarVehicleCharge, p.EntityID), k, solver.NonNeg())
	residual := sm.Vec(VarName(VarVehicleResidual, p.EntityID), k+1, solver.NonNeg())

	deviation := solver.Scale(
		solver.Sub(solver.ConstScalar(desired, k), residual.Slice(0, k)), 1/p.NormFactor)

	cons := []solver.Constraint{
		solver.UpperBound(residual.Expr(), maxEnergy),
		solver.LowerBound(residual.Expr(), minEnergy),
		solver.Equal(residual.Slice(0, 1), solver.ConstScalar(initial, 1)),
		// charge[k] = switch[k] * branched[k] * rated power
		solver.Equal(charge.Expr(), solver.MulElem(solver.Scale(sw.Expr(), p.PowerCapacity), branched)),
		solver.UpperBound(charge.Expr(), p.PowerCapacity),
		// residual[k+1] = decay*residual[k] + eta_c*charge[k]*dt
		solver.Equal(residual.Slice(1, k+1), solver.Add(
			solver.Scale(residual.Slice(0, k), p.DecayFactor),
			solver.Scale(charge.Expr(), p.ChargingEfficiency*dt),
		)),
	}
	if p.HasFinalSoC {
		cons = append(cons, solver.GreaterEq(
			residual.Slice(k, k+1),
			solver.ConstScalar(p.FinalSoCRequirement/100*capacity, 1)))
	}

	return Fragment{
		Objective:   []solver.Term{solver.SumSquares(deviation, p.Priority)},
		Constraints: cons,
		Dispatch:    charge.Expr(),
	}, nil
}
