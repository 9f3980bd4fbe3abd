// Package metrics records observability data for the two halves of a
// control cycle: MPC solve outcomes and real-time curtailment actions.
package metrics

import (
	"context"
	"time"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/realtime"
)

// CycleRecord summarises one MPC solve.
type CycleRecord struct {
	SessionID string
	Status    string
	Objective float64
	Steps     int
	SolveTime time.Duration
}

// Sink records control cycle observability events.
type Sink interface {
	RecordCycle(rec CycleRecord) error
	RecordCurtailment(e realtime.Event) error
}

// Config selects and locates the metric backends.
type Config struct {
	PromEnabled   bool   `koanf:"prometheus_enabled"`
	PromAddr      string `koanf:"prometheus_addr"`
	InfluxEnabled bool   `koanf:"influx_enabled"`
	InfluxURL     string `koanf:"influx_url"`
	InfluxToken   string `koanf:"influx_token"`
	InfluxOrg     string `koanf:"influx_org"`
	InfluxBucket  string `koanf:"influx_bucket"`
}

// NopSink implements Sink and the MPC result sink with no-op methods.
type NopSink struct{}

func (NopSink) RecordCycle(CycleRecord) error          { return nil }
func (NopSink) RecordCurtailment(realtime.Event) error { return nil }
func (NopSink) WriteSeries(context.Context, string, string, string, model.Series) error {
	return nil
}
