package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// ControlSchedule is the final MPC output: one commanded value per entity
// per horizon step. Entities keeps the deterministic, priority sorted column
// order that downstream consumers rely on.
type ControlSchedule struct {
	Entities []string
	Times    []time.Time
	// Values is indexed [entity][step].
	Values map[string][]float64
}

// NewControlSchedule initialises an empty schedule over the given step times.
func NewControlSchedule(times []time.Time) *ControlSchedule {
	return &ControlSchedule{Times: times, Values: make(map[string][]float64)}
}

// AddEntity appends a column. The series must span every schedule step.
func (c *ControlSchedule) AddEntity(entityID string, values []float64) error {
	if len(values) != len(c.Times) {
		return fmt.Errorf("%w: entity %s has %d values for %d steps", ErrInvalidInput, entityID, len(values), len(c.Times))
	}
	if _, ok := c.Values[entityID]; !ok {
		c.Entities = append(c.Entities, entityID)
	}
	c.Values[entityID] = values
	return nil
}

// round3 matches the interpreter's rounding policy for persisted results.
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }

// MarshalWire encodes the schedule into the external wire format:
// entity id -> ISO timestamp -> value, values rounded to 3 decimals.
func (c *ControlSchedule) MarshalWire() ([]byte, error) {
	out := make(map[string]map[string]float64, len(c.Entities))
	for _, id := range c.Entities {
		col := make(map[string]float64, len(c.Times))
		for i, t := range c.Times {
			col[t.Format(time.RFC3339)] = round3(c.Values[id][i])
		}
		out[id] = col
	}
	return json.Marshal(out)
}

// UnmarshalWire decodes the external wire format back into a schedule.
// Entity columns are ordered lexicographically since the wire format does
// not carry the priority order.
func UnmarshalWire(data []byte) (*ControlSchedule, error) {
	var raw map[string]map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	sched := &ControlSchedule{Values: make(map[string][]float64)}
	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		col := raw[id]
		times := make([]time.Time, 0, len(col))
		for ts := range col {
			t, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return nil, fmt.Errorf("%w: bad timestamp %q", ErrInvalidInput, ts)
			}
			times = append(times, t)
		}
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		if sched.Times == nil {
			sched.Times = times
		}
		values := make([]float64, len(times))
		for i, t := range times {
			values[i] = col[t.Format(time.RFC3339)]
		}
		sched.Entities = append(sched.Entities, id)
		sched.Values[id] = values
	}
	return sched, nil
}
