package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/gridflex/clpu/core/model"
	"github.com/gridflex/clpu/core/registry"
	"github.com/gridflex/clpu/core/session"
	"github.com/gridflex/clpu/infra/logger"
)

func testRequest(start time.Time) CycleRequest {
	h := model.NewHorizon(start, start.Add(2*time.Hour), 10)
	return CycleRequest{
		Horizon: h,
		Flags:   model.DeviceFlags{WaterHeater: true},
		Devices: registry.New(nil),
		Limits:  model.Series{Times: []time.Time{start}, Values: []float64{7}},
	}
}

func TestScheduleRunsSolveThenControl(t *testing.T) {
	solved := make(chan struct{})
	controlStarted := make(chan struct{})
	controlDone := make(chan struct{})

	s := NewScheduler(
		func(context.Context, CycleRequest) error {
			close(solved)
			return nil
		},
		func(ctx context.Context, _ *session.ControlSession) {
			close(controlStarted)
			<-ctx.Done()
			close(controlDone)
		},
		logger.NopLogger{},
	)
	defer s.Shutdown()

	// The start is almost immediate, so the solve lead time collapses to now.
	sess, err := s.Schedule(context.Background(), testRequest(time.Now().Add(50*time.Millisecond)))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	wait := func(ch chan struct{}, what string) {
		t.Helper()
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("%s never happened", what)
		}
	}
	wait(solved, "solve job")
	wait(controlStarted, "control job start")

	if !s.StopActive() {
		t.Fatal("expected an active session to stop")
	}
	wait(controlDone, "control job stop")
	if sess.Active() {
		t.Fatal("session should be done after StopActive")
	}
}

func TestStopWithoutSession(t *testing.T) {
	s := NewScheduler(
		func(context.Context, CycleRequest) error { return nil },
		func(context.Context, *session.ControlSession) {},
		logger.NopLogger{},
	)
	if s.StopActive() {
		t.Fatal("nothing to stop")
	}
}

func TestScheduleReplacesPendingSession(t *testing.T) {
	s := NewScheduler(
		func(context.Context, CycleRequest) error { return nil },
		func(ctx context.Context, _ *session.ControlSession) { <-ctx.Done() },
		logger.NopLogger{},
	)
	defer s.Shutdown()

	// Both sessions start far in the future; neither control job fires.
	first, err := s.Schedule(context.Background(), testRequest(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	second, err := s.Schedule(context.Background(), testRequest(time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// The replaced session can never begin.
	if _, err := first.Begin(context.Background()); err == nil {
		t.Fatal("replaced session must not begin")
	}
	if _, err := second.Begin(context.Background()); err != nil {
		t.Fatalf("current session should be able to begin: %v", err)
	}
	second.End()
}

func TestScheduleRejectsInvalidHorizon(t *testing.T) {
	s := NewScheduler(
		func(context.Context, CycleRequest) error { return nil },
		func(context.Context, *session.ControlSession) {},
		logger.NopLogger{},
	)
	req := testRequest(time.Now())
	req.Horizon.Stop = req.Horizon.Start.Add(-time.Hour)
	if _, err := s.Schedule(context.Background(), req); err == nil {
		t.Fatal("expected an invalid horizon error")
	}
}
