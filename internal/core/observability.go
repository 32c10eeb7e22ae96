package core

import (
	"context"
	"time"
)

// MetricsRecorder receives one observation per facade operation. Implementations
// must be safe for concurrent use.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around facade operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan terminates a single traced operation.
type TraceSpan interface {
	End(err error)
}

type noopSpan struct{}

func (noopSpan) End(error) {}

func (s *EntityStore) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	start := time.Now()
	span := TraceSpan(noopSpan{})
	if s.tracer != nil {
		ctx, span = s.tracer.Start(ctx, operation)
	}
	return ctx, func(err error) {
		span.End(err)
		if s.metrics != nil {
			s.metrics.Observe(ctx, operation, err == nil, time.Since(start))
		}
	}
}
