package device

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/solver"
)

// Space heating tuning constants, shared across installations.
const (
	// heatingNormFactor normalizes temperature deviations, roughly the
	// usable setpoint span in degrees.
	heatingNormFactor = 10.0
	// totalHeaterPower is the site heater budget in kW, shared equally
	// across zones.
	totalHeaterPower = 16.0
	// heaterRampLimit bounds the heater power change per step in kW.
	heaterRampLimit = 2.0
	// peakComfortScale weighs the worst-case comfort violation against the
	// average one.
	peakComfortScale = 100.0
	// relaxedMaxSetpoint replaces an overridden zone maximum.
	relaxedMaxSetpoint = 30.0
)

// SpaceHeating models every heated thermal zone jointly through the learned
// linear state space model. One heater per zone.
type SpaceHeating struct {
	data retriever.SpaceHeatingData
	log  logger.Logger
}

// NewSpaceHeating builds the zone group model from retrieved data.
func NewSpaceHeating(data retriever.SpaceHeatingData, log logger.Logger) *SpaceHeating {
	return &SpaceHeating{data: data, log: log}
}

// Formulate builds the space heating fragment over the horizon. Zone order
// follows the retrieved data; temperatures are states, heater powers are
// controls, weather is an exogenous driver.
func (d *SpaceHeating) Formulate(sm *solver.Model, h model.Horizon) (Fragment, error) {
	if err := h.Validate(); err != nil {
		return Fragment{}, err
	}
	k := h.Steps()
	zones := len(d.data.Zones)
	tm := d.data.Model
	if len(tm.Ax) != zones || len(tm.Au) != zones || len(tm.Aw) != zones {
		return Fragment{}, fmt.Errorf("%w: thermal model covers %d zones, retrieved %d",
			model.ErrInvalidInput, len(tm.Ax), zones)
	}
	drivers := 0
	if zones > 0 {
		drivers = len(tm.Aw[0])
	}

	weather, err := d.data.OutdoorForecast.ClipTo(k)
	if err != nil {
		return Fragment{}, fmt.Errorf("weather forecast: %w", err)
	}

	// Per-zone series and bounds, flattened column major (zone fastest).
	setpoints := make([]float64, zones*k)
	weights := make([]float64, zones*k)
	minBound := make([]float64, zones*k)
	maxBound := make([]float64, zones*k)
	initial := make([]float64, zones)
	for z, zone := range d.data.Zones {
		sp, err := zone.SetpointPreferences.ClipTo(k)
		if err != nil {
			return Fragment{}, fmt.Errorf("setpoint preferences for %s: %w", zone.EntityID, err)
		}
		occ, err := zone.OccupancyPreferences.ClipTo(k)
		if err != nil {
			return Fragment{}, fmt.Errorf("occupancy preferences for %s: %w", zone.EntityID, err)
		}

		lo, hi := zone.MinSetpoint, zone.MaxSetpoint
		if zone.InitialTemperature < lo {
			d.log.Warnf("initial temperature %.1f for %s is below the minimum setpoint %.1f, lowering minimum to zero",
				zone.InitialTemperature, zone.EntityID, lo)
			lo = 0
		}
		if zone.InitialTemperature > hi {
			d.log.Warnf("initial temperature %.1f for %s is above the maximum setpoint %.1f, raising maximum to %.0f",
				zone.InitialTemperature, zone.EntityID, hi, relaxedMaxSetpoint)
			hi = relaxedMaxSetpoint
		}

		initial[z] = zone.InitialTemperature
		for s := 0; s < k; s++ {
			idx := s*zones + z
			setpoints[idx] = sp[s]
			weights[idx] = zone.Priority * occ[s]
			minBound[idx] = lo
			maxBound[idx] = hi
		}
	}

	x := sm.Var(VarZoneTemperature, zones, k)
	u := sm.Var(VarHeaterPower, zones, k, solver.NonNeg())

	deviation := solver.Scale(solver.Sub(solver.Const(setpoints), x.Expr()), 1/heatingNormFactor)
	terms := []solver.Term{
		solver.WeightedSumSquares(deviation, weights),
		solver.MaxAbs(deviation, weights, peakComfortScale),
	}

	cons := []solver.Constraint{
		solver.Equal(x.Col(0), solver.Const(initial)),
		solver.UpperBound(u.Expr(), totalHeaterPower/float64(zones)),
		solver.GreaterEq(x.Expr(), solver.Const(minBound)),
		solver.LessEq(x.Expr(), solver.Const(maxBound)),
	}

	if k > 1 {
		cons = append(cons, solver.AbsUpperBound(
			solver.Sub(u.ColRange(1, k), u.ColRange(0, k-1)), heaterRampLimit)...)

		// x[:,s+1] = Ax*x[:,s] + Au*u[:,s+1] + Aw*w[:,s+1]
		ax := denseFromRows(tm.Ax, zones, zones)
		au := denseFromRows(tm.Au, zones, zones)
		awContrib := make([]float64, zones*(k-1))
		for s := 0; s < k-1; s++ {
			for z := 0; z < zones; z++ {
				for j := 0; j < drivers; j++ {
					// Single weather driver today; the model shape allows more.
					awContrib[s*zones+z] += tm.Aw[z][j] * weather[s+1]
				}
			}
		}
		cons = append(cons, solver.Equal(x.ColRange(1, k), solver.SumExprs(
			solver.MatMulEach(ax, x.ColRange(0, k-1), k-1),
			solver.MatMulEach(au, u.ColRange(1, k), k-1),
			solver.Const(awContrib),
		)))
	}

	return Fragment{
		Objective:   terms,
		Constraints: cons,
		Dispatch:    u.ColSums(),
	}, nil
}

func denseFromRows(rows [][]float64, r, c int) *mat.Dense {
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, rows[i][j])
		}
	}
	return out
}
