package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
)

// ZoneParams is the parameter set of one heated thermal zone.
type ZoneParams struct {
	EntityID string
	Priority float64

	MinSetpoint float64
	MaxSetpoint float64

	// InitialTemperature is the live zone temperature at retrieval time.
	InitialTemperature float64
	// SetpointPreferences is the occupant setpoint series over the horizon.
	SetpointPreferences model.Series
	// OccupancyPreferences is the occupancy weight series over the horizon.
	OccupancyPreferences model.Series
}

// SpaceHeatingData bundles the per-zone parameters with the shared thermal
// model and outdoor temperature forecast.
type SpaceHeatingData struct {
	Zones           []ZoneParams
	OutdoorForecast model.Series
	Model           model.ThermalModel
}

// ThermalModelProvider yields the thermal dynamics model for the given
// zones, learning or reloading it as needed.
type ThermalModelProvider interface {
	Model(ctx context.Context, zones []string) (model.ThermalModel, error)
}

// SpaceHeatingRetriever loads thermal zone parameters, live data and the
// zone dynamics model.
type SpaceHeatingRetriever struct {
	states  StateReader
	prefs   PreferenceReader
	weather WeatherReader
	models  ThermalModelProvider
	log     logger.Logger
}

// NewSpaceHeatingRetriever builds a retriever over the given collaborators.
func NewSpaceHeatingRetriever(states StateReader, prefs PreferenceReader, weather WeatherReader, models ThermalModelProvider, log logger.Logger) *SpaceHeatingRetriever {
	return &SpaceHeatingRetriever{states: states, prefs: prefs, weather: weather, models: models, log: log}
}

// Retrieve assembles the space heating data over the range. Zone order
// follows the device slice; the thermal model is requested for the same
// order so state indices line up.
func (r *SpaceHeatingRetriever) Retrieve(ctx context.Context, devices []model.DeviceSpec, start, stop time.Time) (SpaceHeatingData, error) {
	data := SpaceHeatingData{Zones: make([]ZoneParams, 0, len(devices))}
	zoneIDs := make([]string, 0, len(devices))

	for _, d := range devices {
		z := ZoneParams{
			EntityID:    d.EntityID,
			Priority:    float64(d.Priority),
			MinSetpoint: attr(r.log, d, "min_setpoint", 15),
			MaxSetpoint: attr(r.log, d, "max_setpoint", 25),
		}

		temp, err := r.states.DeviceState(ctx, d.EntityID)
		if err != nil {
			return SpaceHeatingData{}, fmt.Errorf("zone temperature for %s: %w", d.EntityID, err)
		}
		z.InitialTemperature = temp

		sp, err := r.prefs.Preferences(ctx, PrefSetpoint, d.EntityID, start, stop)
		if err != nil {
			return SpaceHeatingData{}, fmt.Errorf("setpoint preferences for %s: %w", d.EntityID, err)
		}
		z.SetpointPreferences = sp

		occ, err := r.prefs.Preferences(ctx, PrefOccupancy, d.EntityID, start, stop)
		if err != nil {
			return SpaceHeatingData{}, fmt.Errorf("occupancy preferences for %s: %w", d.EntityID, err)
		}
		z.OccupancyPreferences = occ

		data.Zones = append(data.Zones, z)
		zoneIDs = append(zoneIDs, d.EntityID)
	}

	forecast, err := r.weather.WeatherForecast(ctx, WeatherTemperature, start, stop)
	if err != nil {
		return SpaceHeatingData{}, fmt.Errorf("temperature forecast: %w", err)
	}
	data.OutdoorForecast = forecast

	tm, err := r.models.Model(ctx, zoneIDs)
	if err != nil {
		return SpaceHeatingData{}, fmt.Errorf("thermal model: %w", err)
	}
	data.Model = tm

	return data, nil
}
