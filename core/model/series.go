package model

import (
	"fmt"
	"sort"
	"time"
)

// Series is a time indexed sequence of scalars aligned to a horizon.
type Series struct {
	Times  []time.Time
	Values []float64
}

// NewSeries builds a series from parallel slices.
func NewSeries(times []time.Time, values []float64) (Series, error) {
	if len(times) != len(values) {
		return Series{}, fmt.Errorf("%w: %d timestamps for %d values", ErrInvalidInput, len(times), len(values))
	}
	return Series{Times: times, Values: values}, nil
}

// SeriesFromMap builds a series from a timestamp keyed map, sorted by time.
func SeriesFromMap(m map[time.Time]float64) Series {
	times := make([]time.Time, 0, len(m))
	for t := range m {
		times = append(times, t)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	values := make([]float64, len(times))
	for i, t := range times {
		values[i] = m[t]
	}
	return Series{Times: times, Values: values}
}

// Len returns the number of samples.
func (s Series) Len() int { return len(s.Values) }

// StartsAt reports whether the first sample timestamp equals t.
func (s Series) StartsAt(t time.Time) bool {
	return len(s.Times) > 0 && s.Times[0].Equal(t)
}

// ClipTo validates the series against a horizon of k steps and returns
// exactly k values. Series of length k+1 (boundary inclusive) lose their
// final sample; any other length is an alignment error.
func (s Series) ClipTo(k int) ([]float64, error) {
	switch s.Len() {
	case k:
		return s.Values, nil
	case k + 1:
		return s.Values[:k], nil
	default:
		return nil, fmt.Errorf("%w: series has %d samples, horizon needs %d", ErrAlignmentMismatch, s.Len(), k)
	}
}

// PowerLimitSchedule is a step function of grid power limits covering a
// control session. The limit at time t is the value of the most recent step
// at or before t; the schedule ends at End.
type PowerLimitSchedule struct {
	Steps Series
	End   time.Time
}

// NewPowerLimitSchedule sorts the given limit points and closes the schedule
// at end.
func NewPowerLimitSchedule(points map[time.Time]float64, end time.Time) PowerLimitSchedule {
	return PowerLimitSchedule{Steps: SeriesFromMap(points), End: end}
}

// At resolves the applicable limit at t. ok is false when t falls outside
// the schedule range [first step, End).
func (p PowerLimitSchedule) At(t time.Time) (float64, bool) {
	if p.Steps.Len() == 0 {
		return 0, false
	}
	if t.Before(p.Steps.Times[0]) || !t.Before(p.End) {
		return 0, false
	}
	// Last step with timestamp <= t.
	idx := sort.Search(p.Steps.Len(), func(i int) bool { return p.Steps.Times[i].After(t) }) - 1
	if idx < 0 {
		return 0, false
	}
	return p.Steps.Values[idx], true
}

// Last returns the final step value of the schedule.
func (p PowerLimitSchedule) Last() (float64, bool) {
	if p.Steps.Len() == 0 {
		return 0, false
	}
	return p.Steps.Values[p.Steps.Len()-1], true
}
