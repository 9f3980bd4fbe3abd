package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
)

// VehicleParams is the parameter set of one V1G electric vehicle.
type VehicleParams struct {
	EntityID string
	Priority float64

	EnergyCapacity     float64
	PowerCapacity      float64
	ChargingEfficiency float64
	MinResidualEnergy  float64
	MaxResidualEnergy  float64
	DecayFactor        float64
	DesiredState       float64
	// NormFactor scales the comfort term; defaults to the energy capacity.
	NormFactor     float64
	CriticalAction float64

	// FinalSoCRequirement applies only when HasFinalSoC is set.
	FinalSoCRequirement float64
	HasFinalSoC         bool

	// InitialEnergy is the live residual energy in kWh at retrieval time.
	InitialEnergy float64
	// Branched is the plugged-in mask over the horizon, one entry per step.
	Branched model.Series
}

// VehicleRetriever loads V1G vehicle parameters and live data.
type VehicleRetriever struct {
	states StateReader
	prefs  PreferenceReader
	log    logger.Logger
}

// NewVehicleRetriever builds a retriever over the given collaborators.
func NewVehicleRetriever(states StateReader, prefs PreferenceReader, log logger.Logger) *VehicleRetriever {
	return &VehicleRetriever{states: states, prefs: prefs, log: log}
}

// Retrieve assembles the parameters of every vehicle over the range.
func (r *VehicleRetriever) Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) ([]VehicleParams, error) {
	out := make([]VehicleParams, 0, len(devices))
	for _, d := range devices {
		p := VehicleParams{
			EntityID:           d.EntityID,
			Priority:           float64(d.Priority),
			EnergyCapacity:     attr(r.log, d, "energy_capacity", 40),
			PowerCapacity:      attr(r.log, d, "power_capacity", 7.2),
			ChargingEfficiency: attr(r.log, d, "charging_efficiency", 0.99),
			MinResidualEnergy:  attr(r.log, d, "min_residual_energy", 25),
			MaxResidualEnergy:  attr(r.log, d, "max_residual_energy", 95),
			DecayFactor:        attr(r.log, d, "decay_factor", 0.99),
			DesiredState:       attr(r.log, d, "desired_state", 90),
			CriticalAction:     d.CriticalAction,
		}
		p.NormFactor = d.Attr("norm_factor", p.EnergyCapacity)
		if v, ok := d.Attrs["final_soc_requirement"]; ok {
			p.FinalSoCRequirement = v
			p.HasFinalSoC = true
		}

		state, err := r.states.DeviceState(ctx, d.EntityID)
		if err != nil {
			return nil, fmt.Errorf("vehicle state for %s: %w", d.EntityID, err)
		}
		p.InitialEnergy = state

		branched, err := r.prefs.Preferences(ctx, PrefVehicleBranched, d.EntityID, start, stop)
		if err != nil {
			return nil, fmt.Errorf("branched preferences for %s: %w", d.EntityID, err)
		}
		p.Branched = branched

		out = append(out, p)
	}
	return out, nil
}
