package retriever

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/infra/logger"
)

type fakeStates struct {
	byEntity map[string]float64
	byField  map[string]float64 // keyed entity + "/" + field
	err      error
}

func (f *fakeStates) DeviceState(_ context.Context, entityID string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.byEntity[entityID], nil
}

func (f *fakeStates) DeviceStateField(_ context.Context, entityID, field string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.byField[entityID+"/"+field], nil
}

type fakePrefs struct {
	series map[PreferenceKind]model.Series
	calls  []PreferenceKind
}

func (f *fakePrefs) Preferences(_ context.Context, kind PreferenceKind, _ string, _, _ time.Time) (model.Series, error) {
	f.calls = append(f.calls, kind)
	return f.series[kind], nil
}

type fakeWeather struct{ forecast model.Series }

func (f *fakeWeather) WeatherForecast(_ context.Context, _ WeatherVariable, _, _ time.Time) (model.Series, error) {
	return f.forecast, nil
}

func (f *fakeWeather) WeatherHistoric(_ context.Context, _ WeatherVariable, _, _ time.Time) (model.Series, error) {
	return model.Series{}, nil
}

type fakeModels struct{ zones []string }

func (f *fakeModels) Model(_ context.Context, zones []string) (model.ThermalModel, error) {
	f.zones = zones
	return model.DefaultThermalModel(len(zones), time.Now()), nil
}

func horizonRange() (time.Time, time.Time) {
	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	return start, start.Add(2 * time.Hour)
}

func TestStorageRetrieverDefaults(t *testing.T) {
	start, stop := horizonRange()
	states := &fakeStates{byField: map[string]float64{"battery1/" + FieldStorageSoC: 42}}
	prefs := &fakePrefs{series: map[PreferenceKind]model.Series{
		PrefBatterySoC: {Times: []time.Time{start}, Values: []float64{80}},
	}}
	r := NewStorageRetriever(states, prefs, logger.NopLogger{})

	got, err := r.Retrieve(context.Background(), []model.DeviceSpec{
		{EntityID: "battery1", Type: model.ElectricStorage, Priority: 13,
			Attrs: map[string]float64{"energy_capacity": 10}},
	}, start, stop)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d", len(got))
	}
	p := got[0]
	if p.EnergyCapacity != 10 {
		t.Fatalf("explicit attr lost: %v", p.EnergyCapacity)
	}
	if p.ChargingEfficiency != 0.98 || p.DecayFactor != 0.995 || p.MinResidualEnergy != 30 {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.InitialSoC != 42 {
		t.Fatalf("initial soc = %v", p.InitialSoC)
	}
	if p.SoCPreferences.Len() != 1 || p.SoCPreferences.Values[0] != 80 {
		t.Fatalf("preferences = %+v", p.SoCPreferences)
	}
}

func TestStorageRetrieverStateError(t *testing.T) {
	start, stop := horizonRange()
	boom := errors.New("api down")
	r := NewStorageRetriever(&fakeStates{err: boom}, &fakePrefs{}, logger.NopLogger{})
	_, err := r.Retrieve(context.Background(), []model.DeviceSpec{{EntityID: "battery1"}}, start, stop)
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped state error, got %v", err)
	}
}

func TestSpaceHeatingRetriever(t *testing.T) {
	start, stop := horizonRange()
	states := &fakeStates{byEntity: map[string]float64{"tz1": 19.5, "tz2": 21}}
	prefs := &fakePrefs{series: map[PreferenceKind]model.Series{
		PrefSetpoint:  {Times: []time.Time{start}, Values: []float64{21}},
		PrefOccupancy: {Times: []time.Time{start}, Values: []float64{1}},
	}}
	weather := &fakeWeather{forecast: model.Series{Times: []time.Time{start}, Values: []float64{-10}}}
	models := &fakeModels{}
	r := NewSpaceHeatingRetriever(states, prefs, weather, models, logger.NopLogger{})

	data, err := r.Retrieve(context.Background(), []model.DeviceSpec{
		{EntityID: "tz1", Type: model.SpaceHeating, Priority: 1},
		{EntityID: "tz2", Type: model.SpaceHeating, Priority: 2,
			Attrs: map[string]float64{"min_setpoint": 17}},
	}, start, stop)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(data.Zones) != 2 {
		t.Fatalf("zones = %d", len(data.Zones))
	}
	if data.Zones[0].MinSetpoint != 15 || data.Zones[0].MaxSetpoint != 25 {
		t.Fatalf("zone defaults: %+v", data.Zones[0])
	}
	if data.Zones[1].MinSetpoint != 17 {
		t.Fatalf("explicit min setpoint lost: %v", data.Zones[1].MinSetpoint)
	}
	if data.Zones[0].InitialTemperature != 19.5 || data.Zones[1].InitialTemperature != 21 {
		t.Fatalf("initial temperatures: %+v", data.Zones)
	}
	if data.OutdoorForecast.Values[0] != -10 {
		t.Fatalf("forecast = %+v", data.OutdoorForecast)
	}
	// The model must be requested in zone order.
	if len(models.zones) != 2 || models.zones[0] != "tz1" || models.zones[1] != "tz2" {
		t.Fatalf("model zones = %v", models.zones)
	}
	if len(data.Model.Ax) != 2 {
		t.Fatalf("model dimension = %d", len(data.Model.Ax))
	}
}

func TestWaterHeaterRetrieverAmbientFallback(t *testing.T) {
	start, stop := horizonRange()
	states := &fakeStates{
		byEntity: map[string]float64{"tz1": 22},
		byField:  map[string]float64{"wh1/" + FieldWaterTemperature: 55, "wh2/" + FieldWaterTemperature: 60},
	}
	prefs := &fakePrefs{series: map[PreferenceKind]model.Series{
		PrefWaterDraw: {Times: []time.Time{start}, Values: []float64{12}},
	}}
	r := NewWaterHeaterRetriever(states, prefs, logger.NopLogger{})

	got, err := r.Retrieve(context.Background(), []model.DeviceSpec{
		{EntityID: "wh1", Type: model.WaterHeater, ThermalZone: "tz1"},
		{EntityID: "wh2", Type: model.WaterHeater},
	}, start, stop)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if got[0].AmbientTemperature != 22 {
		t.Fatalf("zone ambient = %v", got[0].AmbientTemperature)
	}
	if got[1].AmbientTemperature != defaultAmbient {
		t.Fatalf("fallback ambient = %v", got[1].AmbientTemperature)
	}
	if got[0].TankVolume != 270 || got[0].InletTemperature != 16 {
		t.Fatalf("tank defaults: %+v", got[0])
	}
	if got[0].InitialTemperature != 55 || got[1].InitialTemperature != 60 {
		t.Fatalf("tank temperatures: %v %v", got[0].InitialTemperature, got[1].InitialTemperature)
	}
}

func TestVehicleRetriever(t *testing.T) {
	start, stop := horizonRange()
	states := &fakeStates{byEntity: map[string]float64{"ev1": 18}}
	prefs := &fakePrefs{series: map[PreferenceKind]model.Series{
		PrefVehicleBranched: {Times: []time.Time{start}, Values: []float64{1}},
	}}
	r := NewVehicleRetriever(states, prefs, logger.NopLogger{})

	got, err := r.Retrieve(context.Background(), []model.DeviceSpec{
		{EntityID: "ev1", Type: model.ElectricVehicleV1G, Priority: 13,
			Attrs: map[string]float64{"energy_capacity": 60, "final_soc_requirement": 70}},
	}, start, stop)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	p := got[0]
	if p.NormFactor != 60 {
		t.Fatalf("norm factor should default to capacity, got %v", p.NormFactor)
	}
	if !p.HasFinalSoC || p.FinalSoCRequirement != 70 {
		t.Fatalf("final soc: %+v", p)
	}
	if p.ChargingEfficiency != 0.99 || p.DecayFactor != 0.99 || p.MinResidualEnergy != 25 {
		t.Fatalf("vehicle defaults: %+v", p)
	}
	if p.InitialEnergy != 18 || p.Branched.Len() != 1 {
		t.Fatalf("dynamic data: %+v", p)
	}
}
