package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
)

// StorageParams is the full parameter set of one electric storage unit.
// Energies are in kWh, powers in kW, states of charge in percent.
type StorageParams struct {
	EntityID string
	Priority float64

	CriticalState      float64
	DesiredState       float64
	PowerCapacity      float64
	CriticalAction     float64
	ActivationAction   float64
	DeactivationAction float64
	DischargeAction    float64

	ModulationCapability bool
	DischargeCapability  bool

	FinalSoCRequirement   float64
	EnergyCapacity        float64
	ChargingEfficiency    float64
	DischargingEfficiency float64
	MinResidualEnergy     float64
	MaxResidualEnergy     float64
	DecayFactor           float64

	// InitialSoC is the live state of charge in percent at retrieval time.
	InitialSoC float64
	// SoCPreferences is the desired state of charge series over the horizon.
	SoCPreferences model.Series
}

// StorageRetriever loads electric storage parameters and live data.
type StorageRetriever struct {
	states StateReader
	prefs  PreferenceReader
	log    logger.Logger
}

// NewStorageRetriever builds a retriever over the given collaborators.
func NewStorageRetriever(states StateReader, prefs PreferenceReader, log logger.Logger) *StorageRetriever {
	return &StorageRetriever{states: states, prefs: prefs, log: log}
}

// Retrieve assembles the parameters of every storage device over the range.
func (r *StorageRetriever) Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) ([]StorageParams, error) {
	out := make([]StorageParams, 0, len(devices))
	for _, d := range devices {
		p := StorageParams{
			EntityID:              d.EntityID,
			Priority:              float64(d.Priority),
			CriticalState:         attr(r.log, d, "critical_state", 20),
			DesiredState:          attr(r.log, d, "desired_state", 90),
			PowerCapacity:         attr(r.log, d, "power_capacity", 4.5),
			CriticalAction:        d.CriticalAction,
			ActivationAction:      attr(r.log, d, "activation_action", 4.5),
			DeactivationAction:    attr(r.log, d, "deactivation_action", 0),
			DischargeAction:       attr(r.log, d, "discharge_action", -4.5),
			ModulationCapability:  attr(r.log, d, "modulation_capability", 1) != 0,
			DischargeCapability:   attr(r.log, d, "discharge_capability", 1) != 0,
			FinalSoCRequirement:   attr(r.log, d, "final_soc_requirement", 50),
			EnergyCapacity:        attr(r.log, d, "energy_capacity", 15),
			ChargingEfficiency:    attr(r.log, d, "charging_efficiency", 0.98),
			DischargingEfficiency: attr(r.log, d, "discharging_efficiency", 0.98),
			MinResidualEnergy:     attr(r.log, d, "min_residual_energy", 30),
			MaxResidualEnergy:     attr(r.log, d, "max_residual_energy", 95),
			DecayFactor:           attr(r.log, d, "decay_factor", 0.995),
		}

		soc, err := r.states.DeviceStateField(ctx, d.EntityID, FieldStorageSoC)
		if err != nil {
			return nil, fmt.Errorf("storage state for %s: %w", d.EntityID, err)
		}
		p.InitialSoC = soc

		prefs, err := r.prefs.Preferences(ctx, PrefBatterySoC, d.EntityID, start, stop)
		if err != nil {
			return nil, fmt.Errorf("soc preferences for %s: %w", d.EntityID, err)
		}
		p.SoCPreferences = prefs

		out = append(out, p)
	}
	return out, nil
}
