package runtime

import (
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	idspkg "github.com/drblury/sickenflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/sickenflow/internal/runtime/metadata"
)

const tracerName = "sickenflow-worker"

// MiddlewareBuilder constructs a handler middleware for the given worker.
type MiddlewareBuilder func(*Worker) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes one link of the processing chain. Either
// Middleware or Builder must be set; a Builder returning nil is skipped.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain installed by NewWorker, outermost first.
// The chain has no retry: a failed generation is dropped.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each message carries a correlation_id.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs payload and metadata of each message at debug
// level. A nil logger uses the worker's logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(w *Worker) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = w.logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps the handler in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(w *Worker) (message.HandlerMiddleware, error) {
			return tracerMiddleware(w.conf.RequestQueue), nil
		},
	}
}

// RecovererMiddleware turns a panic in the handler into an error, so the
// message is dropped instead of killing the worker.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (r MiddlewareRegistration) build(w *Worker) (message.HandlerMiddleware, error) {
	switch {
	case r.Middleware != nil:
		return r.Middleware, nil
	case r.Builder != nil:
		return r.Builder(w)
	default:
		return nil, errors.New("middleware registration requires Middleware or Builder")
	}
}

// buildHandler wraps h with regs so that regs[0] is the outermost middleware.
func (w *Worker) buildHandler(h message.HandlerFunc, regs []MiddlewareRegistration) (message.HandlerFunc, error) {
	built := make([]message.HandlerMiddleware, 0, len(regs))
	for _, reg := range regs {
		mw, err := reg.build(w)
		if err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return nil, fmt.Errorf("middleware %s: %w", name, err)
		}
		if mw != nil {
			built = append(built, mw)
		}
	}
	for i := len(built) - 1; i >= 0; i-- {
		h = built[i](h)
	}
	return h, nil
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.CorrelationID(msg.Metadata.Get(metadatapkg.KeyCorrelationID)))
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(queue string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "ProcessMessage")
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("messaging.destination.name", queue),
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.correlation_id", msg.Metadata.Get(metadatapkg.KeyCorrelationID)),
			)
			out, err := h(msg)
			if err != nil {
				span.RecordError(err)
			}
			return out, err
		}
	}
}
