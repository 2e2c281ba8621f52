package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/sickenflow/internal/runtime/codec"
	configpkg "github.com/drblury/sickenflow/internal/runtime/config"
	"github.com/drblury/sickenflow/internal/runtime/correlation"
	"github.com/drblury/sickenflow/internal/runtime/dedupe"
	"github.com/drblury/sickenflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
	idspkg "github.com/drblury/sickenflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/sickenflow/internal/runtime/metadata"
	"github.com/drblury/sickenflow/internal/runtime/store"
)

var errResponseCount = errors.New("handler must produce exactly one response")

// inFlightBackoff delays returning a message another replica is answering.
var inFlightBackoff = time.Second

// job collects what the pipeline learned about one message so the loop can
// log, persist and report it after the handler returns.
type job struct {
	request     codec.InboundRequest
	correlation correlation.Context
	answer      string
}

type jobKey struct{}

func withJob(ctx context.Context, j *job) context.Context {
	return context.WithValue(ctx, jobKey{}, j)
}

// jobFromContext falls back to a detached job when a custom middleware
// replaced the message context.
func jobFromContext(ctx context.Context) *job {
	if j, ok := ctx.Value(jobKey{}).(*job); ok {
		return j
	}
	return &job{}
}

// process is the innermost handler: decode, generate, build and encode.
// It returns exactly one response message.
func (w *Worker) process(msg *message.Message) ([]*message.Message, error) {
	j := jobFromContext(msg.Context())

	w.setState(StateDecoding)
	req, err := w.codec.Decode(msg.Payload)
	if err != nil {
		return nil, err
	}
	j.request = req
	j.correlation = correlation.FromRequest(req, w.conf.SenderID)

	trace.SpanFromContext(msg.Context()).SetAttributes(
		attribute.String("sicken.chat_uuid", j.correlation.ChatUUID),
		attribute.String("sicken.socketio_session_id", j.correlation.SocketIOSessionID),
	)

	w.setState(StateGenerating)
	answer, err := w.gateway.Generate(msg.Context(), req.Question)
	if err != nil {
		w.stats.setDependency(depGateway, DependencyStatusDegraded, err.Error())
		return nil, errspkg.NewGenerationError(err)
	}
	w.stats.setDependency(depGateway, DependencyStatusHealthy, "")
	j.answer = answer

	payload, err := w.codec.Encode(dispatch.Build(j.correlation, answer))
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}

	md := metadatapkg.New(
		metadatapkg.KeyCorrelationID, msg.Metadata.Get(metadatapkg.KeyCorrelationID),
		metadatapkg.KeyRequestUUID, msg.UUID,
		metadatapkg.KeyChatUUID, j.correlation.ChatUUID,
		metadatapkg.KeySocketIOSessionID, j.correlation.SocketIOSessionID,
	)
	return []*message.Message{dispatch.NewResponseMessage(payload, md)}, nil
}

// handle runs one message through the chain and settles it. Only a delivery
// failure is returned; it faults the worker.
func (w *Worker) handle(ctx context.Context, msg *message.Message) error {
	started := time.Now()
	w.stats.onReceive()
	w.metrics.begin()
	defer w.metrics.end()

	if w.conf.AckMode == configpkg.AckModeReceipt {
		msg.Ack()
	}

	j := &job{}
	msg.SetContext(withJob(ctx, j))
	jc := JobContext{
		Queue:         w.conf.RequestQueue,
		MessageUUID:   msg.UUID,
		CorrelationID: msg.Metadata.Get(metadatapkg.KeyCorrelationID),
		Metadata:      msg.Metadata,
		Context:       msg.Context(),
		StartedAt:     started,
	}
	w.hooks.start(jc)

	outcome, err := w.settle(ctx, msg, j)

	jc.Duration = time.Since(started)
	jc.Outcome = outcome
	jc.Correlation = j.correlation
	jc.CorrelationID = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	w.metrics.observe(outcome, jc.Duration.Seconds())
	w.stats.onFinish(outcome, jc.Duration, err)
	w.hooks.finish(jc, err)

	if outcome == OutcomeDeliveryFailed {
		w.markFaulted(err)
		return err
	}
	w.setState(StateIdle)
	return nil
}

func (w *Worker) settle(ctx context.Context, msg *message.Message, j *job) (Outcome, error) {
	key, owned, skip := w.claim(ctx, msg, j)
	if skip {
		return OutcomeDuplicate, nil
	}

	outcome, err := w.answer(ctx, msg, j, key)
	if owned && outcome != OutcomePublished {
		w.releaseClaim(ctx, key)
	}
	return outcome, err
}

// answer runs the handler chain and publishes its single response. The guard
// key is marked answered before the message is acked.
func (w *Worker) answer(ctx context.Context, msg *message.Message, j *job, key string) (Outcome, error) {
	out, err := w.handler(msg)
	if err == nil && len(out) != 1 {
		err = fmt.Errorf("%w, got %d", errResponseCount, len(out))
	}
	if err != nil {
		return w.drop(ctx, msg, j, err)
	}
	resp := out[0]

	w.setState(StateDispatching)
	if err := w.responses.PublishMessage(ctx, resp); err != nil {
		w.stats.setDependency(publisherDependency(w.responses.Queue()), DependencyStatusDegraded, errorDetails(err))
		w.logger.Error("Failed to publish response", err, w.messageFields(msg, j))
		if w.conf.AckMode == configpkg.AckModeDispatch {
			msg.Nack()
		}
		return OutcomeDeliveryFailed, err
	}
	w.stats.setDependency(publisherDependency(w.responses.Queue()), DependencyStatusHealthy, "")

	w.record(ctx, msg, j, resp)
	if w.guard != nil {
		w.markAnswered(ctx, key)
	}
	if w.conf.AckMode == configpkg.AckModeDispatch {
		msg.Ack()
	}
	w.logger.Debug("Published response", w.messageFields(msg, j).Add("response_uuid", resp.UUID))
	return OutcomePublished, nil
}

// drop logs err, forwards the request to the poison queue when configured and
// settles the message. Anything but a malformed payload counts as a failed
// generation, including recovered panics.
func (w *Worker) drop(ctx context.Context, msg *message.Message, j *job, err error) (Outcome, error) {
	outcome := OutcomeMalformed
	if !errspkg.IsMalformedPayload(err) {
		outcome = OutcomeGenerationFailed
		err = errspkg.NewGenerationError(err)
	}

	w.logger.Error("Dropping message", err, w.messageFields(msg, j).Add("outcome", string(outcome)))
	w.publishPoison(ctx, msg, err)

	if w.conf.AckMode == configpkg.AckModeDispatch {
		// shutting down mid-generation: let the broker hand it to the next worker
		if ctx.Err() != nil && outcome == OutcomeGenerationFailed {
			msg.Nack()
		} else {
			msg.Ack()
		}
	}
	return outcome, err
}

func (w *Worker) publishPoison(ctx context.Context, msg *message.Message, reason error) {
	if w.poison == nil {
		return
	}
	poisoned := msg.Copy()
	poisoned.UUID = idspkg.CreateULID()
	poisoned.Metadata.Set(metadatapkg.KeyPoisonReason, reason.Error())
	poisoned.Metadata.Set(metadatapkg.KeyRequestUUID, msg.UUID)

	if err := w.poison.PublishMessage(context.WithoutCancel(ctx), poisoned); err != nil {
		w.logger.Error("Failed to publish to poison queue", err, loggingpkg.LogFields{
			"queue":        w.poison.Queue(),
			"message_uuid": msg.UUID,
		})
	}
}

// record persists the exchange. Failures never affect the message.
func (w *Worker) record(ctx context.Context, msg *message.Message, j *job, resp *message.Message) {
	if w.store == nil {
		return
	}
	ex := store.Exchange{
		MessageUUID:       resp.UUID,
		RequestUUID:       msg.UUID,
		CorrelationID:     resp.Metadata.Get(metadatapkg.KeyCorrelationID),
		UserUUID:          j.correlation.UserUUID,
		ChatUUID:          j.correlation.ChatUUID,
		SocketIOSessionID: j.correlation.SocketIOSessionID,
		Question:          j.request.Question,
		Answer:            j.answer,
		RequestQueue:      w.conf.RequestQueue,
		ResponseQueue:     w.responses.Queue(),
	}
	if err := w.store.Record(context.WithoutCancel(ctx), ex); err != nil {
		w.stats.setDependency(depStore, DependencyStatusDegraded, err.Error())
		w.logger.Error("Failed to record exchange", err, w.messageFields(msg, j))
		return
	}
	w.stats.setDependency(depStore, DependencyStatusHealthy, "")
}

// guardKey identifies msg across redeliveries: the broker UUID when the
// producer set one, otherwise a hash of the payload.
func guardKey(msg *message.Message) string {
	if msg.UUID != "" {
		return msg.UUID
	}
	return "payload:" + strconv.FormatUint(xxhash.Sum64(msg.Payload), 16)
}

// claim reserves msg in the duplicate guard. skip is set when another
// delivery of the message was answered or is still being answered; the
// message is then settled here. An unreachable guard fails open.
func (w *Worker) claim(ctx context.Context, msg *message.Message, j *job) (key string, owned, skip bool) {
	if w.guard == nil {
		return "", false, false
	}
	key = guardKey(msg)
	status, err := w.guard.Claim(ctx, key)
	if err != nil {
		w.stats.setDependency(depDedupe, DependencyStatusDegraded, err.Error())
		w.logger.Error("Duplicate guard lookup failed, processing message", err, w.messageFields(msg, j).Add("guard_key", key))
		return key, false, false
	}
	w.stats.setDependency(depDedupe, DependencyStatusHealthy, "")

	switch status {
	case dedupe.StatusAnswered:
		w.logger.Info("Skipping already answered message", w.messageFields(msg, j).Add("guard_key", key))
		msg.Ack()
		return key, false, true
	case dedupe.StatusInFlight:
		// another replica holds the claim: hand the message back once it had
		// time to publish or release
		w.logger.Info("Message is being answered elsewhere, returning it", w.messageFields(msg, j).Add("guard_key", key))
		select {
		case <-ctx.Done():
		case <-time.After(inFlightBackoff):
		}
		msg.Nack()
		return key, false, true
	}
	return key, true, false
}

func (w *Worker) markAnswered(ctx context.Context, key string) {
	if err := w.guard.Mark(context.WithoutCancel(ctx), key); err != nil {
		w.stats.setDependency(depDedupe, DependencyStatusDegraded, err.Error())
		w.logger.Error("Failed to mark message as answered", err, loggingpkg.LogFields{"guard_key": key})
	}
}

func (w *Worker) releaseClaim(ctx context.Context, key string) {
	if err := w.guard.Release(context.WithoutCancel(ctx), key); err != nil {
		w.stats.setDependency(depDedupe, DependencyStatusDegraded, err.Error())
		w.logger.Error("Failed to release duplicate guard claim", err, loggingpkg.LogFields{"guard_key": key})
	}
}

func (w *Worker) messageFields(msg *message.Message, j *job) loggingpkg.LogFields {
	fields := loggingpkg.LogFields{
		"queue":          w.conf.RequestQueue,
		"message_uuid":   msg.UUID,
		"correlation_id": msg.Metadata.Get(metadatapkg.KeyCorrelationID),
	}
	if j.correlation.ChatUUID != "" {
		fields[codec.FieldChatUUID] = j.correlation.ChatUUID
		fields[codec.FieldSocketIOSessionID] = j.correlation.SocketIOSessionID
	}
	return fields
}
