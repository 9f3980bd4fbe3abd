package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gridflex/clpu/core/realtime"
)

// PromSink records control cycle events in Prometheus metrics.
type PromSink struct {
	cycles       *prometheus.CounterVec
	solveTime    prometheus.Histogram
	curtailments *prometheus.CounterVec
	exhausted    prometheus.Counter
}

// NewPromSink registers the control cycle metrics on the provided registerer.
// If reg is nil, the default registerer is used. Collectors that are already
// registered are reused.
func NewPromSink(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mpc_cycles_total",
		Help: "Total number of MPC solve cycles by solver status",
	}, []string{"status"})
	solveTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mpc_solve_duration_seconds",
		Help:    "Wall clock duration of one MPC build and solve",
		Buckets: prometheus.DefBuckets,
	})
	curtailments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "curtailment_actions_total",
		Help: "Total number of critical setpoint writes by entity",
	}, []string{"entity_id"})
	exhausted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "curtailment_exhausted_total",
		Help: "Total number of sweeps that left the site above the limit",
	})

	s := &PromSink{cycles: cycles, solveTime: solveTime, curtailments: curtailments, exhausted: exhausted}
	if err := register(reg, &s.cycles); err != nil {
		return nil, err
	}
	if err := registerHistogram(reg, &s.solveTime); err != nil {
		return nil, err
	}
	if err := register(reg, &s.curtailments); err != nil {
		return nil, err
	}
	if err := registerCounter(reg, &s.exhausted); err != nil {
		return nil, err
	}
	return s, nil
}

func register(reg prometheus.Registerer, vec **prometheus.CounterVec) error {
	if err := reg.Register(*vec); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*vec = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return nil
}

func registerHistogram(reg prometheus.Registerer, h *prometheus.Histogram) error {
	if err := reg.Register(*h); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*h = are.ExistingCollector.(prometheus.Histogram)
	}
	return nil
}

func registerCounter(reg prometheus.Registerer, c *prometheus.Counter) error {
	if err := reg.Register(*c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return err
		}
		*c = are.ExistingCollector.(prometheus.Counter)
	}
	return nil
}

// RecordCycle counts the cycle under its solver status and observes the
// solve duration.
func (s *PromSink) RecordCycle(rec CycleRecord) error {
	s.cycles.WithLabelValues(rec.Status).Inc()
	s.solveTime.Observe(rec.SolveTime.Seconds())
	return nil
}

// RecordCurtailment counts setpoint writes per entity and exhausted sweeps.
func (s *PromSink) RecordCurtailment(e realtime.Event) error {
	if e.Kind == realtime.EventExhausted {
		s.exhausted.Inc()
		return nil
	}
	s.curtailments.WithLabelValues(e.EntityID).Inc()
	return nil
}
