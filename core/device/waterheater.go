package device

import (
	"fmt"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/solver"
)

const (
	// waterNormFactor normalizes tank temperature deviations in degrees.
	waterNormFactor = 50.0
	// relaxedMaxTemperature replaces an overridden tank maximum.
	relaxedMaxTemperature = 100.0
	// ambientLossCoefficient is the tank standing loss in W per degree.
	ambientLossCoefficient = 2.0
)

// WaterHeater models a single node hot water tank. Heater power raises the
// tank temperature; draws replace hot water with inlet water and the tank
// leaks heat to its surrounding room.
type WaterHeater struct {
	params retriever.WaterHeaterParams
	log    logger.Logger
}

// NewWaterHeater builds the tank model from retrieved parameters.
func NewWaterHeater(p retriever.WaterHeaterParams, log logger.Logger) *WaterHeater {
	return &WaterHeater{params: p, log: log}
}

// Formulate builds the water heater fragment over the horizon.
func (d *WaterHeater) Formulate(sm *solver.Model, h model.Horizon) (Fragment, error) {
	if err := h.Validate(); err != nil {
		return Fragment{}, err
	}
	k := h.Steps()
	dt := h.DeltaHours()
	p := d.params

	if !p.DrawPreferences.StartsAt(h.Start) {
		return Fragment{}, fmt.Errorf("%w: consumption preferences start %v, horizon starts %v",
			model.ErrInvalidInput, firstTime(p.DrawPreferences), h.Start)
	}
	draw, err := p.DrawPreferences.ClipTo(k)
	if err != nil {
		return Fragment{}, fmt.Errorf("consumption preferences for %s: %w", p.EntityID, err)
	}

	minTemp, maxTemp := p.MinTemperature, p.MaxTemperature
	if p.InitialTemperature < minTemp {
		d.log.Warnf("initial tank temperature %.1f for %s is below the minimum %.1f, lowering minimum to zero",
			p.InitialTemperature, p.EntityID, minTemp)
		minTemp = 0
	}
	if p.InitialTemperature > maxTemp {
		d.log.Warnf("initial tank temperature %.1f for %s is above the maximum %.1f, raising maximum to %.0f",
			p.InitialTemperature, p.EntityID, maxTemp, relaxedMaxTemperature)
		maxTemp = relaxedMaxTemperature
	}

	power := sm.Vec(VarName(VarWaterHeaterPower, p.EntityID), k, solver.NonNeg())
	temp := sm.Vec(VarName(VarWaterTemperature, p.EntityID), k+1, solver.NonNeg())

	deviation := solver.Scale(
		solver.Sub(solver.ConstScalar(p.DesiredState, k), temp.Slice(0, k)), 1/waterNormFactor)

	// T[s+1] = T[s] + (1000*P[s] - C*flow[s]*(T[s]-T_inlet) - loss*(T[s]-T_ambient)) * dt/(C*V)
	// with power in kW, the tank constant C in Wh per degree per litre and
	// flow converted from litres per minute.
	cv := p.TankConstant * p.TankVolume
	tempCoef := make([]float64, k)
	balanceConst := make([]float64, k)
	for s := 0; s < k; s++ {
		flow := draw[s] / 1000 / 60
		tempCoef[s] = 1 - (p.TankConstant*flow+ambientLossCoefficient)*dt/cv
		balanceConst[s] = (p.TankConstant*flow*p.InletTemperature + ambientLossCoefficient*p.AmbientTemperature) * dt / cv
	}

	cons := []solver.Constraint{
		solver.Equal(temp.Slice(0, 1), solver.ConstScalar(p.InitialTemperature, 1)),
		solver.LowerBound(temp.Expr(), minTemp),
		solver.UpperBound(temp.Expr(), maxTemp),
		solver.UpperBound(power.Expr(), p.PowerCapacity),
		solver.Equal(temp.Slice(1, k+1), solver.SumExprs(
			solver.MulElem(temp.Slice(0, k), tempCoef),
			solver.Scale(power.Expr(), 1000*dt/cv),
			solver.Const(balanceConst),
		)),
	}

	return Fragment{
		Objective:   []solver.Term{solver.SumSquares(deviation, p.Priority)},
		Constraints: cons,
		Dispatch:    power.Expr(),
	}, nil
}

func firstTime(s model.Series) any {
	if len(s.Times) == 0 {
		return "none"
	}
	return s.Times[0]
}
