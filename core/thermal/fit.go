package thermal

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/solver"
)

const (
	// maxStateGain keeps the learned dynamics stable.
	maxStateGain = 0.9995
	// minHeaterGain guarantees every heater keeps a usable control authority.
	minHeaterGain = 0.0015
)

// FitWeights are the ridge regularization weights of the three matrices.
type FitWeights struct {
	States   float64
	Heaters  float64
	External float64
}

// DefaultFitWeights mirror the historically tuned values.
func DefaultFitWeights() FitWeights { return FitWeights{States: 1, Heaters: 1, External: 1} }

// TrainingSet holds aligned historic samples for the fit. All slices must
// share one sample count; the last temperature sample has no successor and
// only serves as a regression target.
type TrainingSet struct {
	// Temperatures is the indoor temperature per zone, degrees Celsius.
	Temperatures [][]float64
	// HeaterPowers is the heater power per zone in kW, nonnegative.
	HeaterPowers [][]float64
	// Outdoor is the outdoor temperature, degrees Celsius.
	Outdoor []float64
}

func (ts TrainingSet) samples() int {
	n := len(ts.Outdoor)
	for _, s := range ts.Temperatures {
		if len(s) < n {
			n = len(s)
		}
	}
	for _, s := range ts.HeaterPowers {
		if len(s) < n {
			n = len(s)
		}
	}
	return n
}

// NewTrainingSet aligns the per zone temperature and heater histories with
// the outdoor history on their common time window. Histories can start late,
// end early or carry gaps; only instants present in every series survive, so
// a reading is never regressed against one taken at a different time.
func NewTrainingSet(temps, heaters []model.Series, outdoor model.Series) (TrainingSet, error) {
	series := make([]model.Series, 0, len(temps)+len(heaters)+1)
	series = append(series, temps...)
	series = append(series, heaters...)
	series = append(series, outdoor)

	counts := make(map[int64]int)
	for _, s := range series {
		for _, t := range s.Times {
			counts[t.Unix()]++
		}
	}
	shared := make([]int64, 0, outdoor.Len())
	for _, t := range outdoor.Times {
		if counts[t.Unix()] == len(series) {
			shared = append(shared, t.Unix())
		}
	}
	if len(shared) < 2 {
		return TrainingSet{}, fmt.Errorf("%w: %d samples in the common time window, need at least 2",
			model.ErrLearningFailure, len(shared))
	}

	at := func(s model.Series) []float64 {
		byTime := make(map[int64]float64, s.Len())
		for i, t := range s.Times {
			byTime[t.Unix()] = s.Values[i]
		}
		out := make([]float64, len(shared))
		for i, sec := range shared {
			out[i] = byTime[sec]
		}
		return out
	}

	ts := TrainingSet{Outdoor: at(outdoor)}
	for _, s := range temps {
		ts.Temperatures = append(ts.Temperatures, at(s))
	}
	for _, s := range heaters {
		ts.HeaterPowers = append(ts.HeaterPowers, at(s))
	}
	return ts, nil
}

// Fit learns the zone dynamics x[t+1] = Ax*x[t] + Au*u[t] + Aw*w[t] by ridge
// regression, one independent problem per zone. Au is diagonal: each zone is
// driven by its own heater only. The returned model carries a zero SavedAt;
// the caller stamps it.
func Fit(ts TrainingSet, w FitWeights) (model.ThermalModel, error) {
	zones := len(ts.Temperatures)
	if zones == 0 || len(ts.HeaterPowers) != zones {
		return model.ThermalModel{}, fmt.Errorf("%w: %d temperature zones, %d heater zones",
			model.ErrLearningFailure, zones, len(ts.HeaterPowers))
	}
	samples := ts.samples()
	if samples < 2 {
		return model.ThermalModel{}, fmt.Errorf("%w: %d aligned samples, need at least 2",
			model.ErrLearningFailure, samples)
	}
	steps := samples - 1

	// Regression matrices over the first steps samples.
	xt := mat.NewDense(steps, zones, nil)
	for t := 0; t < steps; t++ {
		for j := 0; j < zones; j++ {
			xt.Set(t, j, ts.Temperatures[j][t])
		}
	}
	wt := mat.NewDense(steps, 1, nil)
	for t := 0; t < steps; t++ {
		wt.Set(t, 0, ts.Outdoor[t])
	}

	out := model.ThermalModel{
		Zones: zones,
		Ax:    make([][]float64, zones),
		Au:    make([][]float64, zones),
		Aw:    make([][]float64, zones),
	}

	for z := 0; z < zones; z++ {
		ut := mat.NewDense(steps, 1, nil)
		target := make([]float64, steps)
		for t := 0; t < steps; t++ {
			ut.Set(t, 0, ts.HeaterPowers[z][t])
			target[t] = ts.Temperatures[z][t+1]
		}

		sm := solver.NewModel()
		ax := sm.Vec("ax", zones, solver.NonNeg())
		au := sm.Vec("au", 1, solver.NonNeg())
		aw := sm.Vec("aw", 1, solver.NonNeg())

		residual := solver.Sub(solver.SumExprs(
			solver.MatMulEach(xt, ax.Expr(), 1),
			solver.MatMulEach(ut, au.Expr(), 1),
			solver.MatMulEach(wt, aw.Expr(), 1),
		), solver.Const(target))

		prob := solver.NewProblem(sm)
		prob.AddTerm(
			solver.SumSquares(residual, 1),
			solver.SumSquares(ax.Expr(), w.States),
			solver.SumSquares(au.Expr(), w.Heaters),
			solver.SumSquares(aw.Expr(), w.External),
		)
		prob.AddConstraint(
			solver.UpperBound(ax.Expr(), maxStateGain),
			solver.LowerBound(au.Expr(), minHeaterGain),
		)

		sol, err := prob.Solve()
		if err != nil {
			return model.ThermalModel{}, fmt.Errorf("%w: zone %d: %v", model.ErrLearningFailure, z, err)
		}
		if !sol.Status.SolutionPresent() {
			return model.ThermalModel{}, fmt.Errorf("%w: zone %d fit ended with status %s",
				model.ErrLearningFailure, z, sol.Status)
		}

		out.Ax[z] = sol.VecValue("ax")
		out.Au[z] = make([]float64, zones)
		out.Au[z][z] = sol.VecValue("au")[0]
		out.Aw[z] = sol.VecValue("aw")
	}
	return out, nil
}
