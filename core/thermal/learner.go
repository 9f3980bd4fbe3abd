// Package thermal learns the linear zone dynamics used by the space heating
// formulation from historic temperature, heater consumption and weather
// series. Learned models are persisted and reused until they go stale; when
// learning is impossible the conservative default model stands in, so a
// control cycle never fails on the thermal model.
package thermal

import (
	"context"
	"fmt"
	"time"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
)

const (
	// defaultStaleness is how long a stored model stays valid.
	defaultStaleness = 24 * time.Hour
	// defaultTrainingWindow is how far back the historic queries reach.
	defaultTrainingWindow = 7 * 24 * time.Hour
)

// Learner resolves the thermal model for a control cycle: reuse a fresh
// stored model, otherwise relearn from historic data, otherwise fall back.
// It implements retriever.ThermalModelProvider.
type Learner struct {
	historic retriever.HistoricReader
	weather  retriever.WeatherReader
	store    *Store
	log      logger.Logger

	staleness time.Duration
	window    time.Duration
	weights   FitWeights
	now       func() time.Time
}

// Option configures a learner.
type Option func(*Learner)

// WithStaleness overrides how long a stored model stays valid.
func WithStaleness(d time.Duration) Option { return func(l *Learner) { l.staleness = d } }

// WithTrainingWindow overrides the historic data range.
func WithTrainingWindow(d time.Duration) Option { return func(l *Learner) { l.window = d } }

// WithFitWeights overrides the regularization weights.
func WithFitWeights(w FitWeights) Option { return func(l *Learner) { l.weights = w } }

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(l *Learner) { l.now = now } }

// NewLearner creates a learner over the given collaborators.
func NewLearner(historic retriever.HistoricReader, weather retriever.WeatherReader, store *Store, log logger.Logger, opts ...Option) *Learner {
	l := &Learner{
		historic:  historic,
		weather:   weather,
		store:     store,
		log:       log,
		staleness: defaultStaleness,
		window:    defaultTrainingWindow,
		weights:   DefaultFitWeights(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Model returns the thermal model for the given zones. A stored model newer
// than the staleness threshold is reused as is. Otherwise the learner fits a
// new model from historic data; if that fails it falls back to the stored
// model regardless of age, and as a last resort to the default model. The
// fallback path never returns an error.
func (l *Learner) Model(ctx context.Context, zones []string) (model.ThermalModel, error) {
	now := l.now()

	stored, err := l.store.Load()
	haveStored := err == nil && stored.Zones == len(zones)
	if err != nil {
		l.log.Debugf("no stored thermal model: %v", err)
	}
	if haveStored && stored.Age(now) <= l.staleness {
		l.log.Infof("thermal model from %s is still valid", stored.SavedAt)
		return stored, nil
	}

	m, err := l.learn(ctx, zones, now)
	if err == nil {
		l.log.Infof("learned a new thermal model for %d zones", m.Zones)
		l.save(m)
		return m, nil
	}
	l.log.Warnf("thermal model learning failed: %v", err)

	if haveStored {
		l.log.Warnf("reusing the stored thermal model from %s", stored.SavedAt)
		return stored, nil
	}

	l.log.Warnf("providing the default thermal model")
	def := model.DefaultThermalModel(len(zones), now)
	l.save(def)
	return def, nil
}

func (l *Learner) save(m model.ThermalModel) {
	if err := l.store.Save(m); err != nil {
		l.log.Warnf("persisting thermal model: %v", err)
	}
}

func (l *Learner) learn(ctx context.Context, zones []string, now time.Time) (model.ThermalModel, error) {
	if len(zones) == 0 {
		return model.ThermalModel{}, fmt.Errorf("%w: no zones to learn", model.ErrLearningFailure)
	}
	start, stop := now.Add(-l.window), now

	var temps, heaters []model.Series
	for _, id := range zones {
		temp, err := l.historic.Historic(ctx, retriever.HistoricZoneTemperature, id, start, stop)
		if err != nil {
			return model.ThermalModel{}, fmt.Errorf("%w: temperature history for %s: %v", model.ErrLearningFailure, id, err)
		}
		cons, err := l.historic.Historic(ctx, retriever.HistoricZoneConsumption, id, start, stop)
		if err != nil {
			return model.ThermalModel{}, fmt.Errorf("%w: consumption history for %s: %v", model.ErrLearningFailure, id, err)
		}
		temps = append(temps, temp)
		heaters = append(heaters, cons)
	}
	outdoor, err := l.weather.WeatherHistoric(ctx, retriever.WeatherTemperature, start, stop)
	if err != nil {
		return model.ThermalModel{}, fmt.Errorf("%w: weather history: %v", model.ErrLearningFailure, err)
	}

	// Histories from different sensors rarely cover identical ranges, so
	// the fit input is restricted to their common time window.
	ts, err := NewTrainingSet(temps, heaters, outdoor)
	if err != nil {
		return model.ThermalModel{}, err
	}
	for z, p := range ts.HeaterPowers {
		ts.HeaterPowers[z] = heaterKW(p)
	}

	m, err := Fit(ts, l.weights)
	if err != nil {
		return model.ThermalModel{}, err
	}
	m.SavedAt = now
	return m, nil
}

// heaterKW converts metered consumption, negative watts, into nonnegative
// heater power in kW.
func heaterKW(vals []float64) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		if kw := -v / 1000; kw > 0 {
			out[i] = kw
		}
	}
	return out
}
