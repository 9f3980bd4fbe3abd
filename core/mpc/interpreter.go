package mpc

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/gridflex/clpu/core/device"
	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/solver"
)

// Result series field names, shared with the persistence layer.
const (
	FieldChargePower    = "charge_power"
	FieldDischargePower = "discharge_power"
	FieldResidualEnergy = "residual_energy"
	FieldBatteryPower   = "battery_power"
	FieldStateOfCharge  = "state_of_charge"
	FieldSwitchState    = "switch_state"
	FieldHeaterPower    = "heater_power"
	FieldTemperature    = "temperature"
	FieldPower          = "power"
)

// ResultSink persists interpreted result series. Failures are logged and
// never abort a control cycle.
type ResultSink interface {
	WriteSeries(ctx context.Context, measurement, entityID, field string, s model.Series) error
}

// DeviceResult is the interpreted trajectory of one device: its named result
// series plus the control column that goes into the schedule.
type DeviceResult struct {
	EntityID string
	Type     model.DeviceType
	Priority float64
	Series   map[string]model.Series
	Control  []float64
}

// Outcome is the interpreted cycle: the schedule to push to the devices and
// the per device result series, ascending by priority.
type Outcome struct {
	Schedule *model.ControlSchedule
	Results  []DeviceResult
}

// ScheduleTimes lists the commanded step times of a horizon. The solved
// trajectory covers ceil(span/interval) steps but only floor(span/interval)
// are commanded; a trailing partial step never reaches the devices.
func ScheduleTimes(h model.Horizon) []time.Time {
	n := int(h.Stop.Sub(h.Start) / h.Interval)
	ts := make([]time.Time, n)
	for i := range ts {
		ts[i] = h.Start.Add(time.Duration(i) * h.Interval)
	}
	return ts
}

// Interpreter converts a solved cycle into the control schedule and the
// result series, and hands the series to the sink.
type Interpreter struct {
	sink ResultSink
	log  logger.Logger
}

// NewInterpreter creates an interpreter. A nil sink skips persistence.
func NewInterpreter(sink ResultSink, log logger.Logger) *Interpreter {
	return &Interpreter{sink: sink, log: log}
}

// Interpret reconstructs per device series from the solution, assembles the
// priority ordered control schedule and persists the results.
func (it *Interpreter) Interpret(ctx context.Context, res *Result) (*Outcome, error) {
	sol := res.Solution
	if !sol.Status.SolutionPresent() {
		return nil, fmt.Errorf("%w: cannot interpret status %s", model.ErrSolverFailure, sol.Status)
	}
	b := res.Built
	times := ScheduleTimes(b.Horizon)
	n := len(times)

	var results []DeviceResult

	if b.Flags.SpaceHeating {
		x := sol.Value(device.VarZoneTemperature)
		u := sol.Value(device.VarHeaterPower)
		for z, zone := range b.Heating.Zones {
			temp := matRow(x, z, n)
			power := matRow(u, z, n)
			results = append(results, DeviceResult{
				EntityID: zone.EntityID,
				Type:     model.SpaceHeating,
				Priority: zone.Priority,
				Series: map[string]model.Series{
					FieldHeaterPower: makeSeries(times, power),
					FieldTemperature: makeSeries(times, temp),
				},
				// The commanded value is the planned zone temperature,
				// pushed as a virtual setpoint.
				Control: temp,
			})
		}
	}

	for _, p := range b.Storage {
		charge := vecValue(sol, device.VarStorageCharge, p.EntityID, n)
		discharge := vecValue(sol, device.VarStorageDischarge, p.EntityID, n)
		residual := vecValue(sol, device.VarStorageResidual, p.EntityID, n)
		netPower := make([]float64, n)
		soc := make([]float64, n)
		for i := 0; i < n; i++ {
			netPower[i] = round3(charge[i] - discharge[i])
			soc[i] = round3(residual[i] / p.EnergyCapacity * 100)
		}
		results = append(results, DeviceResult{
			EntityID: p.EntityID,
			Type:     model.ElectricStorage,
			Priority: p.Priority,
			Series: map[string]model.Series{
				FieldChargePower:    makeSeries(times, charge),
				FieldDischargePower: makeSeries(times, discharge),
				FieldResidualEnergy: makeSeries(times, residual),
				FieldBatteryPower:   makeSeries(times, netPower),
				FieldStateOfCharge:  makeSeries(times, soc),
			},
			Control: netPower,
		})
	}

	for _, p := range b.Vehicles {
		charge := vecValue(sol, device.VarVehicleCharge, p.EntityID, n)
		residual := vecValue(sol, device.VarVehicleResidual, p.EntityID, n)
		sw := vecValue(sol, device.VarVehicleSwitch, p.EntityID, n)
		soc := make([]float64, n)
		for i := 0; i < n; i++ {
			soc[i] = round3(residual[i] / p.EnergyCapacity * 100)
		}
		results = append(results, DeviceResult{
			EntityID: p.EntityID,
			Type:     model.ElectricVehicleV1G,
			Priority: p.Priority,
			Series: map[string]model.Series{
				FieldChargePower:    makeSeries(times, charge),
				FieldResidualEnergy: makeSeries(times, residual),
				FieldStateOfCharge:  makeSeries(times, soc),
				FieldSwitchState:    makeSeries(times, sw),
			},
			Control: charge,
		})
	}

	for _, p := range b.Water {
		power := vecValue(sol, device.VarWaterHeaterPower, p.EntityID, n)
		temp := vecValue(sol, device.VarWaterTemperature, p.EntityID, n)
		results = append(results, DeviceResult{
			EntityID: p.EntityID,
			Type:     model.WaterHeater,
			Priority: p.Priority,
			Series: map[string]model.Series{
				FieldPower:       makeSeries(times, power),
				FieldTemperature: makeSeries(times, temp),
			},
			Control: power,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Priority < results[j].Priority
	})

	schedule := model.NewControlSchedule(times)
	for _, r := range results {
		if err := schedule.AddEntity(r.EntityID, r.Control); err != nil {
			return nil, err
		}
	}

	it.persist(ctx, results)
	return &Outcome{Schedule: schedule, Results: results}, nil
}

func (it *Interpreter) persist(ctx context.Context, results []DeviceResult) {
	if it.sink == nil {
		return
	}
	for _, r := range results {
		fields := make([]string, 0, len(r.Series))
		for f := range r.Series {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			if err := it.sink.WriteSeries(ctx, string(r.Type), r.EntityID, f, r.Series[f]); err != nil {
				it.log.Warnf("persisting %s/%s for %s: %v", r.Type, f, r.EntityID, err)
			}
		}
	}
}

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// vecValue reads the first n entries of an entity qualified vector variable,
// rounded to the persisted precision.
func vecValue(sol *solver.Solution, base, entityID string, n int) []float64 {
	vals := sol.VecValue(device.VarName(base, entityID))
	out := make([]float64, n)
	for i := 0; i < n && i < len(vals); i++ {
		out[i] = round3(vals[i])
	}
	return out
}

// matRow reads the first n entries of row r, rounded.
func matRow(m *mat.Dense, r, n int) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = round3(m.At(r, i))
	}
	return out
}

func makeSeries(times []time.Time, values []float64) model.Series {
	return model.Series{Times: times, Values: values}
}
