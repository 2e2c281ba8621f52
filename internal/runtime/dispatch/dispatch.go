// Package dispatch builds response records and delivers them to the response
// queue.
package dispatch

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/sickenflow/internal/runtime/codec"
	"github.com/drblury/sickenflow/internal/runtime/correlation"
	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
	idspkg "github.com/drblury/sickenflow/internal/runtime/ids"
	metadatapkg "github.com/drblury/sickenflow/internal/runtime/metadata"
)

// Build attaches the correlation context to the generated answer.
func Build(cc correlation.Context, answer string) codec.OutboundResponse {
	return codec.OutboundResponse{
		UserUUID:          cc.UserUUID,
		ChatUUID:          cc.ChatUUID,
		SocketIOSessionID: cc.SocketIOSessionID,
		Message:           answer,
	}
}

// NewResponseMessage wraps an encoded response in a Watermill message with a
// fresh ULID, the response schema tag and a correlation id. md is copied.
func NewResponseMessage(payload []byte, md metadatapkg.Metadata) *message.Message {
	msg := message.NewMessage(idspkg.CreateULID(), payload)
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.Metadata[metadatapkg.KeyEventSchema] = metadatapkg.ResponseSchema
	msg.Metadata[metadatapkg.KeyCorrelationID] = idspkg.CorrelationID(msg.Metadata[metadatapkg.KeyCorrelationID])
	return msg
}

// Dispatcher publishes to one fixed queue. With RabbitMQ that is the default
// exchange with the queue name as routing key.
type Dispatcher struct {
	publisher message.Publisher
	queue     string
}

func New(publisher message.Publisher, queue string) (*Dispatcher, error) {
	if publisher == nil {
		return nil, errspkg.ErrPublisherRequired
	}
	if queue == "" {
		return nil, errspkg.ErrQueueRequired
	}
	return &Dispatcher{publisher: publisher, queue: queue}, nil
}

// Queue returns the destination queue name.
func (d *Dispatcher) Queue() string {
	return d.queue
}

// Publish sends an already encoded payload.
func (d *Dispatcher) Publish(ctx context.Context, payload []byte) error {
	return d.PublishMessage(ctx, NewResponseMessage(payload, nil))
}

// PublishMessage sends msg. Every failure is a *errors.DeliveryError.
func (d *Dispatcher) PublishMessage(ctx context.Context, msg *message.Message) error {
	if ctx != nil {
		msg.SetContext(ctx)
	}
	if err := d.publisher.Publish(d.queue, msg); err != nil {
		return &errspkg.DeliveryError{Queue: d.queue, Err: err}
	}
	return nil
}
