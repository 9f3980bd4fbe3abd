package device

import (
	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/solver"
)

// ElectricStorage models one stationary battery. Charging and discharging
// are separate nonnegative variables; the residual energy state carries one
// extra sample for the post-horizon boundary.
type ElectricStorage struct {
	params retriever.StorageParams
	log    logger.Logger
}

// NewElectricStorage builds the battery model from retrieved parameters.
func NewElectricStorage(p retriever.StorageParams, log logger.Logger) *ElectricStorage {
	return &ElectricStorage{params: p, log: log}
}

// Formulate builds the battery fragment over the horizon.
func (d *ElectricStorage) Formulate(sm *solver.Model, h model.Horizon) (Fragment, error) {
	if err := h.Validate(); err != nil {
		return Fragment{}, err
	}
	k := h.Steps()
	dt := h.DeltaHours()
	p := d.params

	capacity := p.EnergyCapacity
	initial := p.InitialSoC / 100 * capacity
	minEnergy := p.MinResidualEnergy / 100 * capacity
	maxEnergy := p.MaxResidualEnergy / 100 * capacity

	// A sensed state outside the configured band widens the band instead of
	// making the whole multi-device problem infeasible.
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
	final := p.FinalSoCRequirement / 100 * capacity

	charge := sm.Vec(VarName(VarStorageCharge, p.EntityID), k, solver.NonNeg())
	discharge := sm.Vec(VarName(VarStorageDischarge, p.EntityID), k, solver.NonNeg())
	residual := sm.Vec(VarName(VarStorageResidual, p.EntityID), k+1, solver.NonNeg())

	deviation := solver.Scale(
		solver.Sub(solver.ConstScalar(desired, k), residual.Slice(0, k)), 1/capacity)

	cons := []solver.Constraint{
		solver.UpperBound(residual.Expr(), maxEnergy),
		solver.LowerBound(residual.Expr(), minEnergy),
		solver.Equal(residual.Slice(0, 1), solver.ConstScalar(initial, 1)),
		solver.GreaterEq(residual.Slice(k, k+1), solver.ConstScalar(final, 1)),
		solver.UpperBound(charge.Expr(), p.PowerCapacity),
		solver.UpperBound(discharge.Expr(), p.PowerCapacity),
		// residual[k+1] = decay*residual[k] + (eta_c*charge[k] - discharge[k]/eta_d)*dt
		solver.Equal(residual.Slice(1, k+1), solver.Add(
			solver.Scale(residual.Slice(0, k), p.DecayFactor),
			solver.Sub(
				solver.Scale(charge.Expr(), p.ChargingEfficiency*dt),
				solver.Scale(discharge.Expr(), dt/p.DischargingEfficiency),
			),
		)),
	}

	return Fragment{
		Objective:   []solver.Term{solver.SumSquares(deviation, p.Priority)},
		Constraints: cons,
		Dispatch:    solver.Sub(charge.Expr(), discharge.Expr()),
	}, nil
}
