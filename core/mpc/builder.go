// Package mpc couples the per device formulations into one site level
// problem, runs the solver over it and interprets the solution back into a
// control schedule and result series.
package mpc

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/core/device"
	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/registry"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/solver"
)

// StorageSource retrieves electric storage parameters for the cycle.
type StorageSource interface {
	Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) ([]retriever.StorageParams, error)
}

// VehicleSource retrieves V1G vehicle parameters for the cycle.
type VehicleSource interface {
	Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) ([]retriever.VehicleParams, error)
}

// HeatingSource retrieves the space heating data for the cycle.
type HeatingSource interface {
	Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) (retriever.SpaceHeatingData, error)
}

// WaterSource retrieves water heater parameters for the cycle.
type WaterSource interface {
	Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) ([]retriever.WaterHeaterParams, error)
}

// Sources bundles the data collaborators one control cycle draws from.
type Sources struct {
	Storage  StorageSource
	Vehicles VehicleSource
	Heating  HeatingSource
	Water    WaterSource
	Loads    retriever.LoadForecastReader
}

// Builder assembles the global control problem: every enabled device type is
// retrieved and formulated, the dispatch powers are summed with the non
// controllable load forecast into the net grid power, and the site level
// price term and power cap close the coupling.
type Builder struct {
	reg *registry.Registry
	src Sources
	log logger.Logger
}

// NewBuilder creates a builder over a registry snapshot and its sources.
func NewBuilder(reg *registry.Registry, src Sources, log logger.Logger) *Builder {
	return &Builder{reg: reg, src: src, log: log}
}

// Built is the assembled problem plus everything the result interpreter
// needs to reconstruct per device series from the solution.
type Built struct {
	Horizon model.Horizon
	// Flags reflects the types that actually made it into the problem;
	// enabled types without registered devices are cleared.
	Flags   model.DeviceFlags
	Model   *solver.Model
	Problem *solver.Problem
	// Net is the net grid power expression, one entry per step in kW.
	Net    solver.Expr
	Prices []float64
	Limits []float64
	Loads  []float64

	Storage  []retriever.StorageParams
	Vehicles []retriever.VehicleParams
	Heating  retriever.SpaceHeatingData
	Water    []retriever.WaterHeaterParams
}

// alignGlobal validates a site level series against the horizon. Every
// global series must start exactly at the horizon start and cover it.
func alignGlobal(name string, s model.Series, h model.Horizon) ([]float64, error) {
	if !s.StartsAt(h.Start) {
		return nil, fmt.Errorf("%w: %s series does not start at %s", model.ErrAlignmentMismatch, name, h.Start)
	}
	vals, err := s.ClipTo(h.Steps())
	if err != nil {
		return nil, fmt.Errorf("%s series: %w", name, err)
	}
	return vals, nil
}

// Build retrieves all enabled devices and assembles the coupled problem over
// the horizon. Prices are per kWh, limits are the grid import cap in kW.
// Enabled types with no registered devices are skipped with a warning; a
// cycle with no devices at all is an error.
func (b *Builder) Build(ctx context.Context, h model.Horizon, flags model.DeviceFlags, prices, limits model.Series) (*Built, error) {
	if err := h.Validate(); err != nil {
		return nil, err
	}
	k := h.Steps()

	priceV, err := alignGlobal("price", prices, h)
	if err != nil {
		return nil, err
	}
	limitV, err := alignGlobal("power limit", limits, h)
	if err != nil {
		return nil, err
	}
	loadSeries, err := b.src.Loads.NonControllableLoads(ctx, h.Start, h.Stop)
	if err != nil {
		return nil, fmt.Errorf("non controllable loads: %w", err)
	}
	loadV, err := alignGlobal("non controllable load", loadSeries, h)
	if err != nil {
		return nil, err
	}

	sm := solver.NewModel()
	prob := solver.NewProblem(sm)
	built := &Built{
		Horizon: h, Flags: flags,
		Model: sm, Problem: prob,
		Prices: priceV, Limits: limitV, Loads: loadV,
	}

	var dispatch []solver.Expr
	add := func(f device.Fragment) {
		prob.AddTerm(f.Objective...)
		prob.AddConstraint(f.Constraints...)
		dispatch = append(dispatch, f.Dispatch)
	}

	if flags.SpaceHeating {
		devs := b.reg.OfType(model.SpaceHeating)
		if len(devs) == 0 {
			b.log.Warnf("space heating enabled but no thermal zones registered, skipping")
			built.Flags.SpaceHeating = false
		} else {
			data, err := b.src.Heating.Retrieve(ctx, devs, h.Start, h.Stop)
			if err != nil {
				return nil, fmt.Errorf("space heating data: %w", err)
			}
			frag, err := device.NewSpaceHeating(data, b.log).Formulate(sm, h)
			if err != nil {
				return nil, fmt.Errorf("space heating formulation: %w", err)
			}
			built.Heating = data
			add(frag)
		}
	}

	if flags.ElectricStorage {
		devs := b.reg.OfType(model.ElectricStorage)
		if len(devs) == 0 {
			b.log.Warnf("electric storage enabled but no devices registered, skipping")
			built.Flags.ElectricStorage = false
		} else {
			params, err := b.src.Storage.Retrieve(ctx, devs, h.Start, h.Stop)
			if err != nil {
				return nil, fmt.Errorf("electric storage data: %w", err)
			}
			for _, p := range params {
				frag, err := device.NewElectricStorage(p, b.log).Formulate(sm, h)
				if err != nil {
					return nil, fmt.Errorf("electric storage %s formulation: %w", p.EntityID, err)
				}
				add(frag)
			}
			built.Storage = params
		}
	}

	if flags.ElectricVehicle {
		devs := b.reg.OfType(model.ElectricVehicleV1G)
		if len(devs) == 0 {
			b.log.Warnf("electric vehicle enabled but no devices registered, skipping")
			built.Flags.ElectricVehicle = false
		} else {
			params, err := b.src.Vehicles.Retrieve(ctx, devs, h.Start, h.Stop)
			if err != nil {
				return nil, fmt.Errorf("electric vehicle data: %w", err)
			}
			for _, p := range params {
				frag, err := device.NewElectricVehicleV1G(p, b.log).Formulate(sm, h)
				if err != nil {
					return nil, fmt.Errorf("electric vehicle %s formulation: %w", p.EntityID, err)
				}
				add(frag)
			}
			built.Vehicles = params
		}
	}

	if flags.WaterHeater {
		devs := b.reg.OfType(model.WaterHeater)
		if len(devs) == 0 {
			b.log.Warnf("water heater enabled but no devices registered, skipping")
			built.Flags.WaterHeater = false
		} else {
			params, err := b.src.Water.Retrieve(ctx, devs, h.Start, h.Stop)
			if err != nil {
				return nil, fmt.Errorf("water heater data: %w", err)
			}
			for _, p := range params {
				frag, err := device.NewWaterHeater(p, b.log).Formulate(sm, h)
				if err != nil {
					return nil, fmt.Errorf("water heater %s formulation: %w", p.EntityID, err)
				}
				add(frag)
			}
			built.Water = params
		}
	}

	if len(dispatch) == 0 {
		return nil, fmt.Errorf("%w: no controllable devices take part in the cycle", model.ErrInvalidInput)
	}

	net := solver.Const(loadV)
	for _, d := range dispatch {
		net = solver.Add(net, d)
	}
	built.Net = net

	prob.AddTerm(solver.Linear(priceV, net))
	prob.AddConstraint(solver.LessEq(net, solver.Const(limitV)))

	b.log.Debugw("control problem assembled", map[string]any{
		"steps":      k,
		"dispatches": len(dispatch),
	})
	return built, nil
}
