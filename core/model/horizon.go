package model

import (
	"fmt"
	"math"
	"time"
)

// Horizon is the planning window [Start, Stop) divided into equal steps of
// Interval minutes. All series handed to the optimizer are aligned to it.
type Horizon struct {
	Start    time.Time
	Stop     time.Time
	Interval time.Duration
}

// NewHorizon builds a horizon with the given step length in minutes.
func NewHorizon(start, stop time.Time, intervalMinutes int) Horizon {
	return Horizon{Start: start, Stop: stop, Interval: time.Duration(intervalMinutes) * time.Minute}
}

// Validate checks the basic horizon invariants.
func (h Horizon) Validate() error {
	if !h.Stop.After(h.Start) {
		return fmt.Errorf("%w: stop %s is not after start %s", ErrInvalidHorizon, h.Stop, h.Start)
	}
	if h.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive", ErrInvalidHorizon)
	}
	return nil
}

// Steps returns K = ceil((stop-start)/interval).
func (h Horizon) Steps() int {
	span := h.Stop.Sub(h.Start).Minutes()
	return int(math.Ceil(span / h.Interval.Minutes()))
}

// DeltaHours is the step length expressed in hours, used to convert power
// into energy in the balance equations.
func (h Horizon) DeltaHours() float64 {
	return h.Interval.Hours()
}

// StepTimes returns the K step start times. The stop timestamp is excluded
// per the half-open convention.
func (h Horizon) StepTimes() []time.Time {
	k := h.Steps()
	ts := make([]time.Time, k)
	for i := 0; i < k; i++ {
		ts[i] = h.Start.Add(time.Duration(i) * h.Interval)
	}
	return ts
}
