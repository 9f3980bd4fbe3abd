package coreapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/infra/logger"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, logger.NopLogger{})
}

func TestDevicesParsesFlatRecords(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices" {
			t.Errorf("path %s", r.URL.Path)
		}
		w.Write([]byte(`{"content": [
			{"entity_id": "battery1", "type": "electric_storage", "priority": 13,
			 "critical_action": 4.5, "energy_capacity": 10, "charge_efficiency": 0.95},
			{"entity_id": "tz1", "type": "space_heating", "priority": 40, "thermal_zone": "tz1"},
			{"entity_id": "noprio", "type": "water_heater"},
			{"entity_id": "mystery", "type": "fusion_reactor", "priority": 1}
		]}`))
	})

	devices, err := c.Devices(context.Background())
	if err != nil {
		t.Fatalf("devices: %v", err)
	}
	// The record without a priority and the unknown type are dropped.
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d: %+v", len(devices), devices)
	}
	b := devices[0]
	if b.EntityID != "battery1" || b.Type != model.ElectricStorage || b.Priority != 13 {
		t.Fatalf("battery record %+v", b)
	}
	if b.CriticalAction != 4.5 {
		t.Fatalf("critical action %v", b.CriticalAction)
	}
	if b.Attrs["energy_capacity"] != 10 || b.Attrs["charge_efficiency"] != 0.95 {
		t.Fatalf("attrs %v", b.Attrs)
	}
	if _, ok := b.Attrs["critical_action"]; ok {
		t.Fatal("identity fields must not leak into attrs")
	}
	if devices[1].ThermalZone != "tz1" {
		t.Fatalf("thermal zone %q", devices[1].ThermalZone)
	}
}

func TestDeviceStateField(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/devices/state/wh1" {
			t.Errorf("path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("field"); got != retriever.FieldWaterTemperature {
			t.Errorf("field %q", got)
		}
		w.Write([]byte(`52.5`))
	})

	v, err := c.DeviceStateField(context.Background(), "wh1", retriever.FieldWaterTemperature)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if v != 52.5 {
		t.Fatalf("state = %v", v)
	}
}

func TestTotalConsumption(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/building/consumption" {
			t.Errorf("path %s", r.URL.Path)
		}
		w.Write([]byte(`{"total_consumption": -8.2}`))
	})

	v, err := c.TotalConsumption(context.Background())
	if err != nil {
		t.Fatalf("consumption: %v", err)
	}
	if v != -8.2 {
		t.Fatalf("consumption = %v", v)
	}
}

func TestPreferencesReturnsSortedSeries(t *testing.T) {
	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	stop := start.Add(2 * time.Hour)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/preferences/setpoint-preferences" {
			t.Errorf("path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("device_id") != "tz1" {
			t.Errorf("device_id %q", q.Get("device_id"))
		}
		if q.Get("start") != start.Format(time.RFC3339) || q.Get("stop") != stop.Format(time.RFC3339) {
			t.Errorf("range %q..%q", q.Get("start"), q.Get("stop"))
		}
		// Out of order on purpose, the client sorts.
		w.Write([]byte(`{
			"2024-01-15T06:10:00Z": 21,
			"2024-01-15T06:00:00Z": 20
		}`))
	})

	s, err := c.Preferences(context.Background(), retriever.PrefSetpoint, "tz1", start, stop)
	if err != nil {
		t.Fatalf("preferences: %v", err)
	}
	if s.Len() != 2 || !s.Times[0].Equal(start) || s.Values[0] != 20 || s.Values[1] != 21 {
		t.Fatalf("series %+v", s)
	}
}

func TestHistoricOmitsEmptyDeviceID(t *testing.T) {
	start := time.Date(2024, 1, 8, 6, 0, 0, 0, time.UTC)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/historic/tz_temperature" {
			t.Errorf("path %s", r.URL.Path)
		}
		if _, ok := r.URL.Query()["device_id"]; ok {
			t.Error("empty device id must not be sent")
		}
		w.Write([]byte(`{"2024-01-08T06:00:00Z": 19.5}`))
	})

	s, err := c.Historic(context.Background(), retriever.HistoricZoneTemperature, "", start, start.Add(time.Hour))
	if err != nil {
		t.Fatalf("historic: %v", err)
	}
	if s.Len() != 1 || s.Values[0] != 19.5 {
		t.Fatalf("series %+v", s)
	}
}

func TestWeatherEndpoints(t *testing.T) {
	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	var paths []string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"2024-01-15T06:00:00Z": -12}`))
	})

	if _, err := c.WeatherForecast(context.Background(), retriever.WeatherTemperature, start, start.Add(time.Hour)); err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if _, err := c.WeatherHistoric(context.Background(), retriever.WeatherTemperature, start, start.Add(time.Hour)); err != nil {
		t.Fatalf("historic: %v", err)
	}
	if len(paths) != 2 || paths[0] != "/data/weather/forecast/temperature" || paths[1] != "/data/weather/historic/temperature" {
		t.Fatalf("paths %v", paths)
	}
}

func TestNonControllableLoadsUnwrapsForecast(t *testing.T) {
	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/forecast/non-controllable-loads" {
			t.Errorf("path %s", r.URL.Path)
		}
		w.Write([]byte(`{"forecast": {"2024-01-15T06:00:00Z": 5.1, "2024-01-15T06:10:00Z": 5.4}}`))
	})

	s, err := c.NonControllableLoads(context.Background(), start, start.Add(20*time.Minute))
	if err != nil {
		t.Fatalf("loads: %v", err)
	}
	if s.Len() != 2 || s.Values[0] != 5.1 || s.Values[1] != 5.4 {
		t.Fatalf("series %+v", s)
	}
}

func TestWriteSetpoint(t *testing.T) {
	var method, path, setpoint string
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		setpoint = r.URL.Query().Get("setpoint")
	})

	if err := c.WriteSetpoint(context.Background(), "wh1", 30.5); err != nil {
		t.Fatalf("setpoint: %v", err)
	}
	if method != http.MethodPost || path != "/devices/setpoint/wh1" || setpoint != "30.5" {
		t.Fatalf("%s %s setpoint=%s", method, path, setpoint)
	}
}

func TestWriteScheduleUsesMPCPriority(t *testing.T) {
	start := time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	var path string
	var body map[string]map[string]float64
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
	})

	sched := model.NewControlSchedule([]time.Time{start, start.Add(10 * time.Minute)})
	if err := sched.AddEntity("wh1", []float64{4.5, 0}); err != nil {
		t.Fatalf("add entity: %v", err)
	}
	if err := c.WriteSchedule(context.Background(), sched); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if path != "/devices/schedule/25" {
		t.Fatalf("path %s", path)
	}
	if body["wh1"][start.Format(time.RFC3339)] != 4.5 {
		t.Fatalf("body %v", body)
	}
}

func TestErrorStatusSurfacesBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "meter offline", http.StatusBadGateway)
	})

	_, err := c.TotalConsumption(context.Background())
	if err == nil {
		t.Fatal("expected an error for a 502")
	}
	if !strings.Contains(err.Error(), "502") || !strings.Contains(err.Error(), "meter offline") {
		t.Fatalf("error %v", err)
	}
}
