package rabbitmq

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	metadatapkg "github.com/drblury/sickenflow/internal/runtime/metadata"
)

// Marshaler maps AMQP properties onto Watermill messages for producers that
// do not speak Watermill's header convention. A delivery without the
// Watermill UUID header takes its UUID from message_id, then correlation_id.
// The correlation_id property also fills the correlation metadata when no
// header carries it.
type Marshaler struct {
	amqp.DefaultMarshaler
}

func (m Marshaler) Marshal(msg *message.Message) (amqp091.Publishing, error) {
	publishing, err := m.DefaultMarshaler.Marshal(msg)
	if err != nil {
		return publishing, err
	}
	publishing.MessageId = msg.UUID
	publishing.CorrelationId = msg.Metadata.Get(metadatapkg.KeyCorrelationID)
	publishing.ContentType = "application/json"
	return publishing, nil
}

func (m Marshaler) Unmarshal(delivery amqp091.Delivery) (*message.Message, error) {
	uuidKey := m.uuidHeaderKey()

	uuid := ""
	if raw, ok := delivery.Headers[uuidKey]; ok {
		s, isString := raw.(string)
		if !isString {
			return nil, fmt.Errorf("message UUID is not a string, but: %#v", raw)
		}
		uuid = s
	}
	if uuid == "" {
		uuid = delivery.MessageId
	}
	if uuid == "" {
		uuid = delivery.CorrelationId
	}

	msg := message.NewMessage(uuid, delivery.Body)
	msg.Metadata = make(message.Metadata, len(delivery.Headers))
	for key, value := range delivery.Headers {
		if key == uuidKey {
			continue
		}
		if s, ok := value.(string); ok {
			msg.Metadata[key] = s
			continue
		}
		msg.Metadata[key] = fmt.Sprint(value)
	}
	if delivery.CorrelationId != "" && msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, delivery.CorrelationId)
	}
	return msg, nil
}

func (m Marshaler) uuidHeaderKey() string {
	if m.MessageUUIDHeaderKey != "" {
		return m.MessageUUIDHeaderKey
	}
	return amqp.DefaultMessageUUIDHeaderKey
}
