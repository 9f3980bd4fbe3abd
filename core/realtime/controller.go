// Package realtime enforces the grid power limit between MPC cycles. A
// polling loop compares the live building consumption against the currently
// applicable limit and, on a breach, forces curtailable devices to their
// critical setpoints in ascending priority order under a per device debounce.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/internal/eventbus"
)

// EventKind classifies a controller event.
type EventKind int

const (
	// EventCurtailed reports one device forced to its critical action.
	EventCurtailed EventKind = iota
	// EventExhausted reports a breach that survived a full curtailment sweep.
	EventExhausted
)

func (k EventKind) String() string {
	switch k {
	case EventCurtailed:
		return "curtailed"
	default:
		return "exhausted"
	}
}

// Event is published on the bus for every curtailment action and every
// exhausted sweep. Power values are in kW, consumption positive.
type Event struct {
	Kind        EventKind
	EntityID    string
	Consumption float64
	Limit       float64
}

// Config tunes the control loop.
type Config struct {
	// PollInterval is the loop period.
	PollInterval time.Duration
	// SecurityMargin is subtracted from the limit before comparing, unless
	// the limit itself is smaller than the margin.
	SecurityMargin float64
	// Debounce is the minimum time between two adjustments of one device.
	Debounce time.Duration
	// BatteryDebounce replaces Debounce for storage devices, which tolerate
	// switching far less.
	BatteryDebounce time.Duration
	// HoldLastLimit keeps enforcing the final limit after the schedule ends
	// instead of stopping the controller.
	HoldLastLimit bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		SecurityMargin:  0.5,
		Debounce:        5 * time.Second,
		BatteryDebounce: 30 * time.Second,
	}
}

// errScheduleOver stops the loop when the limit schedule no longer applies.
var errScheduleOver = errors.New("power limit schedule exhausted")

// Controller is the real-time curtailment loop of one control session. It is
// single threaded: ticks never overlap and stop is cooperative through the
// context.
type Controller struct {
	devices     []model.DeviceSpec
	limits      model.PowerLimitSchedule
	consumption retriever.ConsumptionReader
	commands    retriever.CommandWriter
	bus         *eventbus.Bus[Event]
	cfg         Config
	log         logger.Logger

	now        func() time.Time
	lastChange map[string]time.Time
}

// Option configures a controller.
type Option func(*Controller)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// New creates a controller over a priority sorted device list and a limit
// schedule. A nil bus disables event publication. Last adjustment times are
// seeded one minute in the past so the first breach can act immediately.
func New(devices []model.DeviceSpec, limits model.PowerLimitSchedule, consumption retriever.ConsumptionReader, commands retriever.CommandWriter, bus *eventbus.Bus[Event], cfg Config, log logger.Logger, opts ...Option) *Controller {
	c := &Controller{
		devices:     devices,
		limits:      limits,
		consumption: consumption,
		commands:    commands,
		bus:         bus,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastChange = make(map[string]time.Time, len(devices))
	seed := c.now().Add(-time.Minute)
	for _, d := range devices {
		c.lastChange[d.EntityID] = seed
	}
	return c
}

// Run executes the polling loop until the context is cancelled or the limit
// schedule runs out. Individual tick failures are logged and the loop
// continues; only schedule exhaustion ends it from the inside.
func (c *Controller) Run(ctx context.Context) {
	c.log.Infof("starting real time control with %d curtailable devices", len(c.devices))
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if err := c.tick(ctx); err != nil {
			if errors.Is(err, errScheduleOver) {
				c.log.Infof("no applicable power limit found, stopping real time control")
				return
			}
			c.log.Errorf("real time control tick: %v", err)
		}
		select {
		case <-ctx.Done():
			c.log.Infof("real time control stopped")
			return
		case <-ticker.C:
		}
	}
}

// tick is one full poll, compare and sweep pass.
func (c *Controller) tick(ctx context.Context) error {
	now := c.now()
	limit, ok := c.limits.At(now)
	if !ok && c.cfg.HoldLastLimit {
		limit, ok = c.limits.Last()
	}
	if !ok {
		return errScheduleOver
	}

	power, err := c.totalPower(ctx)
	if err != nil {
		return err
	}

	threshold := limit - c.cfg.SecurityMargin
	if limit < c.cfg.SecurityMargin {
		threshold = limit
	}
	if power <= threshold {
		c.log.Debugf("total power %.2f kW within the %.2f kW threshold, no action needed", power, threshold)
		return nil
	}
	c.log.Infof("total power %.2f kW above the %.2f kW threshold, curtailing", power, threshold)

	for _, d := range c.devices {
		if !c.canAdjust(d, now) {
			c.log.Debugf("debounce active for %s, skipping", d.EntityID)
			continue
		}
		if err := c.commands.WriteSetpoint(ctx, d.EntityID, d.CriticalAction); err != nil {
			c.log.Errorf("curtailing %s: %v", d.EntityID, err)
			continue
		}
		c.log.Infof("set setpoint %v for device %s", d.CriticalAction, d.EntityID)
		c.lastChange[d.EntityID] = now
		c.publish(Event{Kind: EventCurtailed, EntityID: d.EntityID, Consumption: power, Limit: limit})
	}

	// Re-read after the sweep: if the site is still above the raw limit
	// every available lever has been pulled.
	after, err := c.totalPower(ctx)
	if err != nil {
		return err
	}
	if after > limit {
		c.log.Warnf("no more loads to curtail and total power %.2f kW is still above the %.2f kW limit", after, limit)
		c.publish(Event{Kind: EventExhausted, Consumption: after, Limit: limit})
	}
	return nil
}

// totalPower reads the live consumption, sign flipped so that consumption is
// positive and production negative.
func (c *Controller) totalPower(ctx context.Context) (float64, error) {
	v, err := c.consumption.TotalConsumption(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading total consumption: %w", err)
	}
	return -v, nil
}

func (c *Controller) canAdjust(d model.DeviceSpec, now time.Time) bool {
	debounce := c.cfg.Debounce
	if d.Type == model.ElectricStorage || strings.Contains(strings.ToLower(d.EntityID), "battery") {
		debounce = c.cfg.BatteryDebounce
	}
	return now.Sub(c.lastChange[d.EntityID]) > debounce
}

func (c *Controller) publish(e Event) {
	if c.bus != nil {
		c.bus.Publish(e)
	}
}
