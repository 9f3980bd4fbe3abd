// Package jobs schedules the two halves of a control cycle: the MPC solve a
// few minutes before the horizon starts and the real-time controller at the
// horizon start. Exactly one session is active at a time; a new request
// replaces the previous session and an empty stop request ends it.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/registry"
	"github.com/gridflex/clpu/core/session"
)

// defaultLeadTime is how long before the horizon start the solve fires, so
// the schedule is ready when the window opens.
const defaultLeadTime = 10 * time.Minute

// CycleRequest carries everything one control cycle needs.
type CycleRequest struct {
	Horizon model.Horizon
	Flags   model.DeviceFlags
	Devices *registry.Registry
	Prices  model.Series
	Limits  model.Series
}

// SolveFunc runs the MPC half of a cycle: build, solve, interpret, post.
type SolveFunc func(ctx context.Context, req CycleRequest) error

// ControlFunc runs the real-time half until its context is cancelled.
type ControlFunc func(ctx context.Context, s *session.ControlSession)

// Scheduler arms the cycle jobs on wall clock timers.
type Scheduler struct {
	solve    SolveFunc
	control  ControlFunc
	log      logger.Logger
	leadTime time.Duration
	now      func() time.Time

	mu     sync.Mutex
	active *session.ControlSession
	timers []*time.Timer
}

// Option configures a scheduler.
type Option func(*Scheduler)

// WithLeadTime overrides how early the solve fires.
func WithLeadTime(d time.Duration) Option { return func(s *Scheduler) { s.leadTime = d } }

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// NewScheduler creates a scheduler over the two job bodies.
func NewScheduler(solve SolveFunc, control ControlFunc, log logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		solve:    solve,
		control:  control,
		log:      log,
		leadTime: defaultLeadTime,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule arms one cycle: the solve at max(start-leadTime, now) and the
// controller at the horizon start. A still pending or running session is
// replaced.
func (s *Scheduler) Schedule(ctx context.Context, req CycleRequest) (*session.ControlSession, error) {
	if err := req.Horizon.Validate(); err != nil {
		return nil, err
	}
	limits := model.PowerLimitSchedule{Steps: req.Limits, End: req.Horizon.Stop}
	sess := session.New(req.Horizon, req.Flags, req.Devices, limits)

	s.mu.Lock()
	if s.active != nil {
		s.log.Warnf("replacing control session %s with %s", s.active.ID, sess.ID)
		s.active.End()
	}
	s.active = sess
	s.mu.Unlock()

	now := s.now()
	solveDelay := req.Horizon.Start.Add(-s.leadTime).Sub(now)
	if solveDelay < 0 {
		solveDelay = 0
	}
	controlDelay := req.Horizon.Start.Sub(now)
	if controlDelay < 0 {
		controlDelay = 0
	}
	s.log.Infof("session %s: solve job in %s, control job at %s", sess.ID, solveDelay, req.Horizon.Start)

	s.addTimer(solveDelay, func() {
		if err := s.solve(ctx, req); err != nil {
			s.log.Errorf("mpc job for session %s: %v", sess.ID, err)
		}
	})
	s.addTimer(controlDelay, func() {
		runCtx, err := sess.Begin(ctx)
		if err != nil {
			s.log.Warnf("skipping control job: %v", err)
			return
		}
		defer sess.End()
		s.control(runCtx, sess)
	})
	return sess, nil
}

// StopActive ends the current session, pending or running. Returns whether
// there was one.
func (s *Scheduler) StopActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		s.log.Infof("no control session to stop")
		return false
	}
	s.log.Infof("stopping control session %s", s.active.ID)
	s.active.End()
	s.active = nil
	return true
}

// Shutdown stops pending timers and ends the active session. Jobs already
// running finish on their own cancelled contexts.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	if s.active != nil {
		s.active.End()
		s.active = nil
	}
}

func (s *Scheduler) addTimer(d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, time.AfterFunc(d, fn))
}
