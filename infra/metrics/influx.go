package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/realtime"
)

// InfluxSink writes cycle records, curtailment events and the interpreted
// MPC result series to an InfluxDB instance using the official client. It
// doubles as the interpreter's result sink.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
	now      func() time.Time
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg Config, log logger.Logger) *InfluxSink {
	base := strings.TrimSuffix(cfg.InfluxURL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.InfluxToken,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.InfluxOrg, cfg.InfluxBucket),
		log:      log,
		now:      time.Now,
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink when the health check fails, so a missing backend never blocks
// the control path.
func NewInfluxSinkWithFallback(cfg Config, log logger.Logger) Sink {
	sink := NewInfluxSink(cfg, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			log.Errorf("influx health check error: %v", err)
		} else {
			log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() { s.client.Close() }

// WriteSeries persists one interpreted result column, one point per sample.
func (s *InfluxSink) WriteSeries(ctx context.Context, measurement, entityID, field string, series model.Series) error {
	for i, t := range series.Times {
		p := write.NewPointWithMeasurement(measurement).
			AddTag("entity_id", entityID).
			AddField(field, series.Values[i]).
			SetTime(t)
		if err := s.writeAPI.WritePoint(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycle writes one point per MPC solve.
func (s *InfluxSink) RecordCycle(rec CycleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("mpc_cycle").
		AddTag("status", rec.Status).
		AddField("objective", rec.Objective).
		AddField("steps", rec.Steps).
		AddField("solve_seconds", rec.SolveTime.Seconds()).
		SetTime(s.now())
	if rec.SessionID != "" {
		p.AddTag("session_id", rec.SessionID)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCurtailment writes one point per controller event.
func (s *InfluxSink) RecordCurtailment(e realtime.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("curtailment_event").
		AddTag("kind", e.Kind.String()).
		AddField("consumption_kw", e.Consumption).
		AddField("limit_kw", e.Limit).
		SetTime(s.now())
	// An exhausted sweep is site wide and carries no entity.
	if e.EntityID != "" {
		p.AddTag("entity_id", e.EntityID)
	}
	return s.writeAPI.WritePoint(ctx, p)
}
