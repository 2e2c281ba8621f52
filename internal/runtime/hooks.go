package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sickenflow/internal/runtime/correlation"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
)

// JobContext describes one message as it passes through the worker.
type JobContext struct {
	// Queue is the request queue the message came from.
	Queue       string
	MessageUUID string
	// CorrelationID is the correlation_id metadata value, if any.
	CorrelationID string
	Metadata      message.Metadata
	Context       context.Context
	StartedAt     time.Time
	// Duration is only set for OnJobDone and OnJobError.
	Duration time.Duration
	// Correlation is zero until the payload has been decoded.
	Correlation correlation.Context
	// Outcome is only set for OnJobDone and OnJobError.
	Outcome Outcome
}

// JobHooks are optional callbacks around every message. Nil hooks are skipped.
// Hooks run on the worker goroutine and must not block.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	// OnJobDone runs after the response was published or a duplicate skipped.
	OnJobDone func(ctx JobContext)
	// OnJobError runs for dropped messages and delivery failures.
	OnJobError func(ctx JobContext, err error)
}

// Merge returns hooks that call h first, then other.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h JobHooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h JobHooks) finish(ctx JobContext, err error) {
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

// LoggingHooks logs job lifecycle events.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	fields := func(ctx JobContext) loggingpkg.LogFields {
		f := loggingpkg.LogFields{
			"queue":          ctx.Queue,
			"message_uuid":   ctx.MessageUUID,
			"correlation_id": ctx.CorrelationID,
		}
		if ctx.Duration > 0 {
			f["duration_ms"] = ctx.Duration.Milliseconds()
		}
		if ctx.Outcome != "" {
			f["outcome"] = string(ctx.Outcome)
		}
		for k, v := range ctx.Correlation.Fields() {
			if v != "" {
				f[k] = v
			}
		}
		return f
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			logger.Info("Job completed", fields(ctx))
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, fields(ctx))
		},
	}
}

// MetricsHooks forwards lifecycle events to counters keyed by queue and outcome.
func MetricsHooks(onStart func(queue string), onDone, onError func(queue string, outcome Outcome)) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			if onStart != nil {
				onStart(ctx.Queue)
			}
		},
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.Queue, ctx.Outcome)
			}
		},
		OnJobError: func(ctx JobContext, _ error) {
			if onError != nil {
				onError(ctx.Queue, ctx.Outcome)
			}
		},
	}
}

// AlertingHooks calls alertFunc for every failed job.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
