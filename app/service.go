// Package app wires the configuration into a running service: the core API
// client, the thermal learner, the MPC pipeline, the real-time controller
// and the MQTT trigger that drives them.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/config"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/mpc"
	"github.com/gridflex/clpu/core/realtime"
	"github.com/gridflex/clpu/core/registry"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/session"
	"github.com/gridflex/clpu/core/thermal"
	"github.com/gridflex/clpu/infra/coreapi"
	"github.com/gridflex/clpu/infra/logger"
	"github.com/gridflex/clpu/infra/metrics"
	"github.com/gridflex/clpu/infra/mqtt"
	"github.com/gridflex/clpu/internal/eventbus"
	"github.com/gridflex/clpu/jobs"
)

// Service orchestrates one site's cold load pickup mitigation.
type Service struct {
	cfg     *config.Config
	log     logger.Logger
	api     *coreapi.Client
	learner *thermal.Learner
	sink    metrics.Sink
	results mpc.ResultSink
	bus     *eventbus.Bus[realtime.Event]
	sched   *jobs.Scheduler
	trigger *mqtt.Trigger

	mqttClient *mqtt.Client
}

// New creates a Service from the configuration. The broker connection is
// deferred to Run.
func New(cfg *config.Config) (*Service, error) {
	if err := logger.SetLevel(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}
	s := &Service{
		cfg: cfg,
		log: logger.New("service"),
		api: coreapi.New(cfg.CoreAPI, logger.New("core-api")),
		bus: eventbus.New[realtime.Event](),
	}

	store := thermal.NewStore(cfg.Thermal.ModelDir)
	s.learner = thermal.NewLearner(s.api, s.api, store, logger.New("thermal"),
		thermal.WithStaleness(cfg.Thermal.Staleness),
		thermal.WithTrainingWindow(cfg.Thermal.TrainingWindow),
		thermal.WithFitWeights(cfg.Thermal.Weights.FitWeights()))

	var sinks []metrics.Sink
	if cfg.Metrics.PromEnabled {
		sink, err := metrics.NewPromSink(nil)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics, logger.New("influx-sink"))
		if influx, ok := sink.(*metrics.InfluxSink); ok {
			s.results = influx
		}
		sinks = append(sinks, sink)
	}
	switch len(sinks) {
	case 0:
		s.sink = metrics.NopSink{}
	case 1:
		s.sink = sinks[0]
	default:
		s.sink = metrics.NewMultiSink(sinks...)
	}

	s.sched = jobs.NewScheduler(s.solveCycle, s.controlCycle, logger.New("jobs"),
		jobs.WithLeadTime(cfg.MPC.LeadTime))
	s.trigger = mqtt.NewTrigger(s.api, s.sched, logger.New("mqtt-trigger"))
	return s, nil
}

// Run connects to the broker and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	events := s.bus.Subscribe()
	go metrics.Watch(ctx, events, s.sink, s.log)

	if s.cfg.Metrics.PromEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PromAddr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	client, err := mqtt.Connect(s.cfg.MQTT, nil)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	s.mqttClient = client
	if err := client.Subscribe(s.trigger.Handler()); err != nil {
		client.Close()
		return fmt.Errorf("mqtt subscribe: %w", err)
	}
	s.log.Infof("listening for mpc requests on %s", s.cfg.MQTT.Topic)

	<-ctx.Done()
	s.Close()
	return nil
}

// Close tears down the scheduler, the broker connection and the event bus.
func (s *Service) Close() {
	s.sched.Shutdown()
	if s.mqttClient != nil {
		s.mqttClient.Close()
	}
	s.bus.Close()
}

// solveCycle is the predictive half of a cycle: retrieve, build, solve,
// interpret and push the schedule.
func (s *Service) solveCycle(ctx context.Context, req jobs.CycleRequest) error {
	log := logger.New("mpc")
	sources := mpc.Sources{
		Storage:  retriever.NewStorageRetriever(s.api, s.api, log),
		Vehicles: retriever.NewVehicleRetriever(s.api, s.api, log),
		Heating:  retriever.NewSpaceHeatingRetriever(s.api, s.api, s.api, s.learner, log),
		Water:    retriever.NewWaterHeaterRetriever(s.api, s.api, log),
		Loads:    s.api,
	}
	exec := mpc.NewExecutor(mpc.NewBuilder(req.Devices, sources, log), log)

	started := time.Now()
	res, err := exec.Run(ctx, req.Horizon, req.Flags, req.Prices, req.Limits)
	rec := metrics.CycleRecord{
		Status:    "error",
		Steps:     req.Horizon.Steps(),
		SolveTime: time.Since(started),
	}
	if res != nil {
		rec.Status = res.Solution.Status.String()
		rec.Objective = res.Solution.Objective
	}
	if merr := s.sink.RecordCycle(rec); merr != nil {
		s.log.Warnf("recording cycle: %v", merr)
	}
	if err != nil {
		return err
	}

	outcome, err := mpc.NewInterpreter(s.results, log).Interpret(ctx, res)
	if err != nil {
		return err
	}
	if err := s.api.WriteSchedule(ctx, outcome.Schedule); err != nil {
		return fmt.Errorf("pushing schedule: %w", err)
	}
	s.log.Infof("schedule with %d entities pushed over %d steps",
		len(outcome.Schedule.Entities), len(outcome.Schedule.Times))
	return nil
}

// Snapshot fetches the current device inventory.
func (s *Service) Snapshot(ctx context.Context) (*registry.Registry, error) {
	devices, err := s.api.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshotting devices: %w", err)
	}
	return registry.New(devices), nil
}

// Solve runs one MPC cycle immediately, outside the scheduler.
func (s *Service) Solve(ctx context.Context, req jobs.CycleRequest) error {
	return s.solveCycle(ctx, req)
}

// Learn refreshes the thermal model for the site's heating zones, relearning
// unless the stored model is still fresh.
func (s *Service) Learn(ctx context.Context) error {
	reg, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	zones := reg.EntityIDs(model.SpaceHeating)
	if len(zones) == 0 {
		return fmt.Errorf("no space heating zones registered")
	}
	m, err := s.learner.Model(ctx, zones)
	if err != nil {
		return err
	}
	s.log.Infof("thermal model for %d zones, learned at %s", m.Zones, m.SavedAt)
	return nil
}

// controlCycle is the reactive half: it enforces the session's power limit
// schedule until the session ends.
func (s *Service) controlCycle(ctx context.Context, sess *session.ControlSession) {
	devices := sess.Devices.SortedByPriority(sess.Flags)
	ctrl := realtime.New(devices, sess.Limits, s.api, s.api, s.bus,
		s.cfg.Realtime.ControllerConfig(), logger.New("realtime"))
	ctrl.Run(ctx)
}
