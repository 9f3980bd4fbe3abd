package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/registry"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/core/session"
	"github.com/gridflex/clpu/jobs"
)

// DefaultTopic is the grid function topic the operator publishes MPC
// requests on.
const DefaultTopic = "grid_function/mpc"

// snapshotTimeout bounds the device inventory fetch on request arrival.
const snapshotTimeout = 30 * time.Second

// CycleScheduler is the jobs surface the trigger drives.
type CycleScheduler interface {
	Schedule(ctx context.Context, req jobs.CycleRequest) (*session.ControlSession, error)
	StopActive() bool
}

// request is the wire format of one MPC trigger message. A message without
// params stops the active session.
type request struct {
	Params *requestParams `json:"params"`
}

type requestParams struct {
	SpaceHeating    bool               `json:"space_heating"`
	ElectricStorage bool               `json:"electric_storage"`
	ElectricVehicle bool               `json:"electric_vehicle"`
	WaterHeater     bool               `json:"water_heater"`
	Start           string             `json:"start"`
	Stop            string             `json:"stop"`
	Interval        int                `json:"interval"`
	Prices          map[string]float64 `json:"prices"`
	PowerLimit      map[string]float64 `json:"power_limit"`
}

// Trigger decodes MPC request messages and turns them into control cycles.
// The device inventory is snapshotted at request time so a cycle is immune
// to registry changes while it runs.
type Trigger struct {
	devices retriever.DeviceReader
	sched   CycleScheduler
	log     logger.Logger
}

// NewTrigger creates a trigger over the device source and the scheduler.
func NewTrigger(devices retriever.DeviceReader, sched CycleScheduler, log logger.Logger) *Trigger {
	return &Trigger{devices: devices, sched: sched, log: log}
}

// Handler adapts HandleMessage to the paho callback signature.
func (t *Trigger) Handler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		if err := t.HandleMessage(context.Background(), msg.Payload()); err != nil {
			t.log.Errorf("handling mpc request: %v", err)
		}
	}
}

// HandleMessage processes one trigger payload.
func (t *Trigger) HandleMessage(ctx context.Context, payload []byte) error {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decode mpc request: %w", err)
	}
	if req.Params == nil {
		t.log.Infof("received mpc request with no parameters, stopping the real time control job")
		t.sched.StopActive()
		return nil
	}
	t.log.Infof("received mpc request for [%s, %s)", req.Params.Start, req.Params.Stop)

	cycle, err := toCycleRequest(*req.Params)
	if err != nil {
		return err
	}

	snapCtx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	devices, err := t.devices.Devices(snapCtx)
	if err != nil {
		return fmt.Errorf("snapshotting devices: %w", err)
	}
	cycle.Devices = registry.New(devices)

	if _, err := t.sched.Schedule(ctx, cycle); err != nil {
		return fmt.Errorf("scheduling control cycle: %w", err)
	}
	return nil
}

// toCycleRequest validates and converts the wire parameters.
func toCycleRequest(p requestParams) (jobs.CycleRequest, error) {
	start, err := time.Parse(time.RFC3339, p.Start)
	if err != nil {
		return jobs.CycleRequest{}, fmt.Errorf("%w: bad start %q", model.ErrInvalidInput, p.Start)
	}
	stop, err := time.Parse(time.RFC3339, p.Stop)
	if err != nil {
		return jobs.CycleRequest{}, fmt.Errorf("%w: bad stop %q", model.ErrInvalidInput, p.Stop)
	}
	prices, err := parsePoints(p.Prices)
	if err != nil {
		return jobs.CycleRequest{}, fmt.Errorf("prices: %w", err)
	}
	limits, err := parsePoints(p.PowerLimit)
	if err != nil {
		return jobs.CycleRequest{}, fmt.Errorf("power limit: %w", err)
	}
	return jobs.CycleRequest{
		Horizon: model.NewHorizon(start, stop, p.Interval),
		Flags: model.DeviceFlags{
			SpaceHeating:    p.SpaceHeating,
			ElectricStorage: p.ElectricStorage,
			ElectricVehicle: p.ElectricVehicle,
			WaterHeater:     p.WaterHeater,
		},
		Prices: prices,
		Limits: limits,
	}, nil
}

func parsePoints(raw map[string]float64) (model.Series, error) {
	points := make(map[time.Time]float64, len(raw))
	for ts, v := range raw {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return model.Series{}, fmt.Errorf("%w: bad timestamp %q", model.ErrInvalidInput, ts)
		}
		points[t] = v
	}
	return model.SeriesFromMap(points), nil
}
