package metrics

import (
	"context"

	"github.com/gridflex/clpu/core/logger"
	"github.com/gridflex/clpu/core/realtime"
)

// Watch drains controller events into a sink until the context ends or the
// channel closes. Recording failures are logged, never propagated; metrics
// must not disturb the control path.
func Watch(ctx context.Context, events <-chan realtime.Event, sink Sink, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := sink.RecordCurtailment(e); err != nil {
				log.Warnf("recording curtailment event: %v", err)
			}
		}
	}
}
