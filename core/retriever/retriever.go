// Package retriever assembles the typed input data each device formulation
// needs, from the building core API collaborators. Static parameters come
// from the device registry record with per-field defaults, dynamic data
// (states, preferences, forecasts) from the data endpoints.
package retriever

import (
	"context"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
)

// PreferenceKind names a preference data series exposed by the core API.
type PreferenceKind string

const (
	PrefSetpoint        PreferenceKind = "setpoint-preferences"
	PrefOccupancy       PreferenceKind = "occupancy_preferences"
	PrefBatterySoC      PreferenceKind = "electric-battery-soc-preferences"
	PrefVehicleBranched PreferenceKind = "vehicle-branched-preferences"
	PrefVehicleSoC      PreferenceKind = "vehicle-soc-preferences"
	PrefWaterDraw       PreferenceKind = "water-heater-consumption-preferences"
)

// HistoricKind names a historical data series exposed by the core API.
type HistoricKind string

const (
	HistoricZoneTemperature    HistoricKind = "tz_temperature"
	HistoricZoneSetpoint       HistoricKind = "tz-historic-setpoint"
	HistoricZoneConsumption    HistoricKind = "tz-electric-consumption"
	HistoricNonControllable    HistoricKind = "non-controllable-loads"
	HistoricVehicleConsumption HistoricKind = "vehicle-consumption"
)

// WeatherVariable names a weather series.
type WeatherVariable string

const WeatherTemperature WeatherVariable = "temperature"

// Device state fields.
const (
	FieldStorageSoC       = "electric_storage_soc"
	FieldWaterTemperature = "water_heater_temperature"
)

// DeviceReader lists the installed devices.
type DeviceReader interface {
	Devices(ctx context.Context) ([]model.DeviceSpec, error)
}

// StateReader reads the live state of one device.
type StateReader interface {
	// DeviceState reads the default state value of the entity.
	DeviceState(ctx context.Context, entityID string) (float64, error)
	// DeviceStateField reads a named state field of the entity.
	DeviceStateField(ctx context.Context, entityID, field string) (float64, error)
}

// PreferenceReader reads a preference series for one device over a range.
type PreferenceReader interface {
	Preferences(ctx context.Context, kind PreferenceKind, deviceID string, start, stop time.Time) (model.Series, error)
}

// WeatherReader reads weather series.
type WeatherReader interface {
	WeatherForecast(ctx context.Context, variable WeatherVariable, start, stop time.Time) (model.Series, error)
	WeatherHistoric(ctx context.Context, variable WeatherVariable, start, stop time.Time) (model.Series, error)
}

// HistoricReader reads historical site data. An empty deviceID queries the
// whole site.
type HistoricReader interface {
	Historic(ctx context.Context, kind HistoricKind, deviceID string, start, stop time.Time) (model.Series, error)
}

// LoadForecastReader reads the non-controllable load forecast.
type LoadForecastReader interface {
	NonControllableLoads(ctx context.Context, start, stop time.Time) (model.Series, error)
}

// ConsumptionReader reads the live total building consumption.
type ConsumptionReader interface {
	TotalConsumption(ctx context.Context) (float64, error)
}

// CommandWriter pushes setpoints and schedules to the devices.
type CommandWriter interface {
	WriteSetpoint(ctx context.Context, entityID string, setpoint float64) error
	WriteSchedule(ctx context.Context, schedule *model.ControlSchedule) error
}

// attr reads a static parameter from the registry record, logging when the
// default has to stand in.
func attr(log logger.Logger, d model.DeviceSpec, name string, def float64) float64 {
	if v, ok := d.Attrs[name]; ok {
		return v
	}
	log.Warnf("%s not found for entity_id %q, using default value %v", name, d.EntityID, def)
	return def
}
