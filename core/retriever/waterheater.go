package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
)

// defaultAmbient stands in when a water heater has no thermal zone.
const defaultAmbient = 20.0

// WaterHeaterParams is the parameter set of one water heater tank.
// Temperatures are in Celsius, the tank volume in litres.
type WaterHeaterParams struct {
	EntityID string
	Priority float64

	CriticalState      float64
	DesiredState       float64
	PowerCapacity      float64
	CriticalAction     float64
	ActivationAction   float64
	DeactivationAction float64

	TankVolume       float64
	MinTemperature   float64
	MaxTemperature   float64
	InletTemperature float64
	// TankConstant is the water heat capacity in Wh per degree per litre.
	TankConstant float64

	// InitialTemperature is the live tank temperature at retrieval time.
	InitialTemperature float64
	// AmbientTemperature is the temperature of the room holding the tank.
	AmbientTemperature float64
	// DrawPreferences is the expected hot water consumption series.
	DrawPreferences model.Series
}

// WaterHeaterRetriever loads water heater parameters and live data.
type WaterHeaterRetriever struct {
	states StateReader
	prefs  PreferenceReader
	log    logger.Logger
}

// NewWaterHeaterRetriever builds a retriever over the given collaborators.
func NewWaterHeaterRetriever(states StateReader, prefs PreferenceReader, log logger.Logger) *WaterHeaterRetriever {
	return &WaterHeaterRetriever{states: states, prefs: prefs, log: log}
}

// Retrieve assembles the parameters of every water heater over the range.
func (r *WaterHeaterRetriever) Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) ([]WaterHeaterParams, error) {
	out := make([]WaterHeaterParams, 0, len(devices))
	for _, d := range devices {
		p := WaterHeaterParams{
			EntityID:           d.EntityID,
			Priority:           float64(d.Priority),
			CriticalState:      attr(r.log, d, "critical_state", 40),
			DesiredState:       attr(r.log, d, "desired_state", 90),
			PowerCapacity:      attr(r.log, d, "power_capacity", 4.5),
			CriticalAction:     d.CriticalAction,
			ActivationAction:   attr(r.log, d, "activation_action", 1.5),
			DeactivationAction: attr(r.log, d, "deactivation_action", 0),
			TankVolume:         attr(r.log, d, "tank_volume", 270),
			MinTemperature:     attr(r.log, d, "min_temperature", 30),
			MaxTemperature:     attr(r.log, d, "max_temperature", 90),
			InletTemperature:   attr(r.log, d, "inlet_temperature", 16),
			TankConstant:       attr(r.log, d, "water_heater_constant", 4190.0/3600.0),
		}

		temp, err := r.states.DeviceStateField(ctx, d.EntityID, FieldWaterTemperature)
		if err != nil {
			return nil, fmt.Errorf("tank temperature for %s: %w", d.EntityID, err)
		}
		p.InitialTemperature = temp

		if d.ThermalZone != "" {
			ambient, err := r.states.DeviceState(ctx, d.ThermalZone)
			if err != nil {
				return nil, fmt.Errorf("ambient temperature for %s: %w", d.EntityID, err)
			}
			p.AmbientTemperature = ambient
		} else {
			r.log.Warnf("device %s has no thermal zone, using ambient %v", d.EntityID, defaultAmbient)
			p.AmbientTemperature = defaultAmbient
		}

		draw, err := r.prefs.Preferences(ctx, PrefWaterDraw, d.EntityID, start, stop)
		if err != nil {
			return nil, fmt.Errorf("consumption preferences for %s: %w", d.EntityID, err)
		}
		p.DrawPreferences = draw

		out = append(out, p)
	}
	return out, nil
}
