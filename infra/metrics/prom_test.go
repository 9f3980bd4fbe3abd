package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gridflex/clpu/core/realtime"
)

func TestPromSinkRecordsCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	if err := sink.RecordCycle(CycleRecord{Status: "solved", SolveTime: 200 * time.Millisecond}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := sink.RecordCycle(CycleRecord{Status: "infeasible"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	expected := `
# HELP mpc_cycles_total Total number of MPC solve cycles by solver status
# TYPE mpc_cycles_total counter
mpc_cycles_total{status="infeasible"} 1
mpc_cycles_total{status="solved"} 1
`
	if err := testutil.CollectAndCompare(sink.cycles, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}

func TestPromSinkRecordsCurtailments(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPromSink(reg)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}

	events := []realtime.Event{
		{Kind: realtime.EventCurtailed, EntityID: "wh1", Consumption: 10, Limit: 7},
		{Kind: realtime.EventCurtailed, EntityID: "wh1", Consumption: 9, Limit: 7},
		{Kind: realtime.EventExhausted, Consumption: 8, Limit: 7},
	}
	for _, e := range events {
		if err := sink.RecordCurtailment(e); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	expected := `
# HELP curtailment_actions_total Total number of critical setpoint writes by entity
# TYPE curtailment_actions_total counter
curtailment_actions_total{entity_id="wh1"} 2
`
	if err := testutil.CollectAndCompare(sink.curtailments, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
	if got := testutil.ToFloat64(sink.exhausted); got != 1 {
		t.Errorf("exhausted = %v", got)
	}
}

func TestPromSinkReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPromSink(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPromSink(reg); err != nil {
		t.Fatalf("second registration must reuse collectors: %v", err)
	}
}
