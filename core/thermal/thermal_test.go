package thermal

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"
	"time"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/retriever"
	"github.com/gridflex/clpu/infra/logger"
)

// Known two zone dynamics used to synthesize training data.
var (
	trueAx = [][]float64{{0.90, 0.05}, {0.03, 0.92}}
	trueAu = []float64{0.05, 0.04}
	trueAw = []float64{0.002, 0.003}
)

// synthesize simulates the true dynamics with varied heater and weather
// excitation. Consumption is returned in the metered convention, negative
// watts.
func synthesize(samples int) (temps [][]float64, consumption [][]float64, outdoor []float64) {
	temps = [][]float64{make([]float64, samples), make([]float64, samples)}
	consumption = [][]float64{make([]float64, samples), make([]float64, samples)}
	outdoor = make([]float64, samples)
	temps[0][0], temps[1][0] = 20, 21

	powers := [][]float64{make([]float64, samples), make([]float64, samples)}
	for t := 0; t < samples; t++ {
		outdoor[t] = -10 + float64(t%11)
		for z := 0; z < 2; z++ {
			powers[z][t] = float64((t*7+z*3)%5) + 0.5
			consumption[z][t] = -powers[z][t] * 1000
		}
	}
	for t := 0; t+1 < samples; t++ {
		for z := 0; z < 2; z++ {
			next := trueAu[z]*powers[z][t] + trueAw[z]*outdoor[t]
			for j := 0; j < 2; j++ {
				next += trueAx[z][j] * temps[j][t]
			}
			temps[z][t+1] = next
		}
	}
	return temps, consumption, outdoor
}

func TestFitRecoversKnownDynamics(t *testing.T) {
	temps, consumption, outdoor := synthesize(60)
	ts := TrainingSet{
		Temperatures: temps,
		HeaterPowers: [][]float64{heaterKW(consumption[0]), heaterKW(consumption[1])},
		Outdoor:      outdoor,
	}
	m, err := Fit(ts, FitWeights{States: 1e-6, Heaters: 1e-6, External: 1e-6})
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	for z := 0; z < 2; z++ {
		for j := 0; j < 2; j++ {
			if diff := math.Abs(m.Ax[z][j] - trueAx[z][j]); diff > 0.05 {
				t.Fatalf("Ax[%d][%d] = %v, want %v", z, j, m.Ax[z][j], trueAx[z][j])
			}
		}
		if diff := math.Abs(m.Au[z][z] - trueAu[z]); diff > 0.05 {
			t.Fatalf("Au[%d] = %v, want %v", z, m.Au[z][z], trueAu[z])
		}
		for j := 0; j < 2; j++ {
			if z != j && m.Au[z][j] != 0 {
				t.Fatalf("Au off diagonal [%d][%d] = %v", z, j, m.Au[z][j])
			}
		}
	}
}

func TestFitRejectsShortData(t *testing.T) {
	ts := TrainingSet{
		Temperatures: [][]float64{{20}},
		HeaterPowers: [][]float64{{1}},
		Outdoor:      []float64{-5},
	}
	if _, err := Fit(ts, DefaultFitWeights()); !errors.Is(err, model.ErrLearningFailure) {
		t.Fatalf("expected ErrLearningFailure, got %v", err)
	}
}

func TestTrainingSetPairsSamplesByTimestamp(t *testing.T) {
	// Three series over different ranges; only samples 2 to 4 are shared.
	temp := stamped([]float64{10, 11, 12, 13}, 1)
	heat := stamped([]float64{0, 1, 2, 3, 4, 5}, 0)
	outdoor := stamped([]float64{20, 21, 22}, 2)

	ts, err := NewTrainingSet([]model.Series{temp}, []model.Series{heat}, outdoor)
	if err != nil {
		t.Fatalf("align: %v", err)
	}
	assertVals := func(name string, got, want []float64) {
		if len(got) != len(want) {
			t.Fatalf("%s: got %v, want %v", name, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%s: got %v, want %v", name, got, want)
			}
		}
	}
	assertVals("temperatures", ts.Temperatures[0], []float64{11, 12, 13})
	assertVals("heater powers", ts.HeaterPowers[0], []float64{2, 3, 4})
	assertVals("outdoor", ts.Outdoor, []float64{20, 21, 22})
}

func TestTrainingSetRejectsDisjointWindows(t *testing.T) {
	temp := stamped([]float64{20, 21}, 0)
	heat := stamped([]float64{1, 1}, 10)
	outdoor := stamped([]float64{-5, -5}, 0)
	if _, err := NewTrainingSet([]model.Series{temp}, []model.Series{heat}, outdoor); !errors.Is(err, model.ErrLearningFailure) {
		t.Fatalf("expected ErrLearningFailure, got %v", err)
	}
}

type fakeHistoric struct {
	data map[string]model.Series
	err  error
}

func (f *fakeHistoric) Historic(_ context.Context, kind retriever.HistoricKind, deviceID string, _, _ time.Time) (model.Series, error) {
	if f.err != nil {
		return model.Series{}, f.err
	}
	return f.data[string(kind)+"/"+deviceID], nil
}

type fakeWeather struct {
	s   model.Series
	err error
}

func (f *fakeWeather) WeatherForecast(context.Context, retriever.WeatherVariable, time.Time, time.Time) (model.Series, error) {
	return f.s, f.err
}

func (f *fakeWeather) WeatherHistoric(context.Context, retriever.WeatherVariable, time.Time, time.Time) (model.Series, error) {
	return f.s, f.err
}

var (
	testNow       = time.Date(2024, 1, 15, 6, 0, 0, 0, time.UTC)
	trainingStart = testNow.Add(-24 * time.Hour)
)

// stamped turns synthesized values into a series sampled every 10 minutes,
// shifted by offset samples from the training start.
func stamped(values []float64, offset int) model.Series {
	times := make([]time.Time, len(values))
	for i := range values {
		times[i] = trainingStart.Add(time.Duration(offset+i) * 10 * time.Minute)
	}
	return model.Series{Times: times, Values: values}
}

func trainingFakes(samples int) (*fakeHistoric, *fakeWeather) {
	temps, consumption, outdoor := synthesize(samples)
	hist := &fakeHistoric{data: map[string]model.Series{
		string(retriever.HistoricZoneTemperature) + "/tz1": stamped(temps[0], 0),
		string(retriever.HistoricZoneTemperature) + "/tz2": stamped(temps[1], 0),
		string(retriever.HistoricZoneConsumption) + "/tz1": stamped(consumption[0], 0),
		string(retriever.HistoricZoneConsumption) + "/tz2": stamped(consumption[1], 0),
	}}
	return hist, &fakeWeather{s: stamped(outdoor, 0)}
}

func clock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestLearnerReusesFreshModel(t *testing.T) {
	store := NewStore(t.TempDir())
	fresh := model.DefaultThermalModel(2, testNow.Add(-time.Hour))
	if err := store.Save(fresh); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Failing collaborators prove the learner never queries them.
	l := NewLearner(&fakeHistoric{err: errors.New("down")}, &fakeWeather{err: errors.New("down")},
		store, logger.NopLogger{}, WithClock(clock(testNow)))
	m, err := l.Model(context.Background(), []string{"tz1", "tz2"})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if !m.SavedAt.Equal(fresh.SavedAt) {
		t.Fatalf("saved date %v, want stored %v", m.SavedAt, fresh.SavedAt)
	}
}

func TestLearnerRelearnsStaleModel(t *testing.T) {
	store := NewStore(t.TempDir())
	stale := model.DefaultThermalModel(2, testNow.Add(-48*time.Hour))
	if err := store.Save(stale); err != nil {
		t.Fatalf("save: %v", err)
	}

	hist, weather := trainingFakes(60)
	l := NewLearner(hist, weather, store, logger.NopLogger{},
		WithClock(clock(testNow)), WithFitWeights(FitWeights{1e-6, 1e-6, 1e-6}))
	m, err := l.Model(context.Background(), []string{"tz1", "tz2"})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if !m.SavedAt.Equal(testNow) {
		t.Fatalf("saved date %v, want relearn at %v", m.SavedAt, testNow)
	}
	reloaded, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reloaded.SavedAt.Equal(testNow) {
		t.Fatalf("store still holds the stale model from %v", reloaded.SavedAt)
	}
}

func TestLearnerAlignsOffsetHistories(t *testing.T) {
	// Sensor retention differs: tz1 temperature starts two samples late,
	// tz1 consumption ends early, tz2 consumption starts one sample late.
	// Pairing by index would regress readings taken at different times.
	temps, consumption, outdoor := synthesize(63)
	hist := &fakeHistoric{data: map[string]model.Series{
		string(retriever.HistoricZoneTemperature) + "/tz1": stamped(temps[0][2:], 2),
		string(retriever.HistoricZoneTemperature) + "/tz2": stamped(temps[1], 0),
		string(retriever.HistoricZoneConsumption) + "/tz1": stamped(consumption[0][:60], 0),
		string(retriever.HistoricZoneConsumption) + "/tz2": stamped(consumption[1][1:], 1),
	}}
	weather := &fakeWeather{s: stamped(outdoor, 0)}

	l := NewLearner(hist, weather, NewStore(t.TempDir()), logger.NopLogger{},
		WithClock(clock(testNow)), WithFitWeights(FitWeights{1e-6, 1e-6, 1e-6}))
	m, err := l.Model(context.Background(), []string{"tz1", "tz2"})
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if !m.SavedAt.Equal(testNow) {
		t.Fatalf("expected a relearned model, got one from %v", m.SavedAt)
	}
	for z := 0; z < 2; z++ {
		for j := 0; j < 2; j++ {
			if diff := math.Abs(m.Ax[z][j] - trueAx[z][j]); diff > 0.05 {
				t.Fatalf("Ax[%d][%d] = %v, want %v", z, j, m.Ax[z][j], trueAx[z][j])
			}
		}
		if diff := math.Abs(m.Au[z][z] - trueAu[z]); diff > 0.05 {
			t.Fatalf("Au[%d] = %v, want %v", z, m.Au[z][z], trueAu[z])
		}
	}
}

func TestLearnerFallsBackToStoredModel(t *testing.T) {
	store := NewStore(t.TempDir())
	stale := model.DefaultThermalModel(2, testNow.Add(-48*time.Hour))
	if err := store.Save(stale); err != nil {
		t.Fatalf("save: %v", err)
	}

	l := NewLearner(&fakeHistoric{err: errors.New("down")}, &fakeWeather{err: errors.New("down")},
		store, logger.NopLogger{}, WithClock(clock(testNow)))
	m, err := l.Model(context.Background(), []string{"tz1", "tz2"})
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if !m.SavedAt.Equal(stale.SavedAt) {
		t.Fatalf("saved date %v, want the stored stale model", m.SavedAt)
	}
}

func TestLearnerDefaultsWithoutData(t *testing.T) {
	store := NewStore(t.TempDir())
	// Empty historic series: not an API failure, just no data yet.
	l := NewLearner(&fakeHistoric{data: map[string]model.Series{}}, &fakeWeather{},
		store, logger.NopLogger{}, WithClock(clock(testNow)))
	m, err := l.Model(context.Background(), []string{"tz1", "tz2"})
	if err != nil {
		t.Fatalf("fallback must not error: %v", err)
	}
	if m.Zones != 2 || m.Ax[0][0] != 0.98 || m.Au[1][1] != 0.02 {
		t.Fatalf("unexpected default model: %+v", m)
	}
	// The default is persisted for the next cycle.
	if _, err := store.Load(); err != nil {
		t.Fatalf("default model was not persisted: %v", err)
	}
}

func TestStoreKeepsDatedCopies(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	if err := store.Save(model.DefaultThermalModel(1, testNow)); err != nil {
		t.Fatalf("save: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected latest plus one dated copy, found %d files", len(entries))
	}
}
