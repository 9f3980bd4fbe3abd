// Package session ties one control cycle together: an identity, the horizon,
// the device snapshot taken at request time and the power limit schedule the
// real-time controller enforces. A session runs at most once.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/registry"
)

type state int

const (
	statePending state = iota
	stateRunning
	stateDone
)

func (s state) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateRunning:
		return "running"
	default:
		return "done"
	}
}

// ControlSession is one scheduled control cycle. The registry snapshot and
// the limit schedule are immutable; the predictive and reactive halves read
// them without locking.
type ControlSession struct {
	ID      uuid.UUID
	Horizon model.Horizon
	Flags   model.DeviceFlags
	Devices *registry.Registry
	Limits  model.PowerLimitSchedule

	mu     sync.Mutex
	st     state
	cancel context.CancelFunc
}

// New creates a pending session.
func New(h model.Horizon, flags model.DeviceFlags, devices *registry.Registry, limits model.PowerLimitSchedule) *ControlSession {
	return &ControlSession{
		ID:      uuid.New(),
		Horizon: h,
		Flags:   flags,
		Devices: devices,
		Limits:  limits,
	}
}

// Begin transitions the session to running and returns the context its
// real-time controller lives under. A session begins at most once; a second
// Begin, or one after End, fails.
func (s *ControlSession) Begin(parent context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st != statePending {
		return nil, fmt.Errorf("session %s is %s, cannot begin", s.ID, s.st)
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.st = stateRunning
	return ctx, nil
}

// End finishes the session, cancelling its context if it is running. Ending
// a pending session prevents it from ever beginning. Idempotent.
func (s *ControlSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.st = stateDone
}

// Active reports whether the session is currently running.
func (s *ControlSession) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st == stateRunning
}
