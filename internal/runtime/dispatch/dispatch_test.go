package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/sickenflow/internal/runtime/codec"
	"github.com/drblury/sickenflow/internal/runtime/correlation"
	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
	metadatapkg "github.com/drblury/sickenflow/internal/runtime/metadata"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	msgs   []*message.Message
	err    error
}

func (r *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	for _, m := range msgs {
		r.topics = append(r.topics, topic)
		r.msgs = append(r.msgs, m)
	}
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type ctxKey struct{}

func TestBuildCopiesCorrelation(t *testing.T) {
	cc := correlation.Context{UserUUID: "u", ChatUUID: "c-1", SocketIOSessionID: "s-9"}
	resp := Build(cc, "X is Y.")
	assert.Equal(t, codec.OutboundResponse{UserUUID: "u", ChatUUID: "c-1", SocketIOSessionID: "s-9", Message: "X is Y."}, resp)
	assert.Equal(t, resp, Build(cc, "X is Y."))
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "q")
	assert.ErrorIs(t, err, errspkg.ErrPublisherRequired)
	_, err = New(&recordingPublisher{}, "")
	assert.ErrorIs(t, err, errspkg.ErrQueueRequired)
}

func TestNewResponseMessage(t *testing.T) {
	md := metadatapkg.Metadata{metadatapkg.KeyCorrelationID: "corr-1", "origin": "unit"}
	msg := NewResponseMessage([]byte(`{}`), md)

	_, err := ulid.Parse(msg.UUID)
	require.NoError(t, err)
	assert.Equal(t, "corr-1", msg.Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.Equal(t, metadatapkg.ResponseSchema, msg.Metadata.Get(metadatapkg.KeyEventSchema))
	assert.Equal(t, "unit", msg.Metadata.Get("origin"))

	msg.Metadata.Set("origin", "changed")
	assert.Equal(t, "unit", md["origin"])

	generated := NewResponseMessage(nil, nil)
	_, err = ulid.Parse(generated.Metadata.Get(metadatapkg.KeyCorrelationID))
	assert.NoError(t, err)
}

func TestPublishToFixedQueue(t *testing.T) {
	pub := &recordingPublisher{}
	d, err := New(pub, "sicken-responses")
	require.NoError(t, err)
	assert.Equal(t, "sicken-responses", d.Queue())

	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	require.NoError(t, d.Publish(ctx, []byte(`{"message":"a"}`)))

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, []string{"sicken-responses"}, pub.topics)
	assert.Equal(t, `{"message":"a"}`, string(pub.msgs[0].Payload))
	assert.Equal(t, "v", pub.msgs[0].Context().Value(ctxKey{}))
}

func TestPublishFailureIsDeliveryError(t *testing.T) {
	brokerDown := errors.New("connection reset")
	d, err := New(&recordingPublisher{err: brokerDown}, "sicken-responses")
	require.NoError(t, err)

	err = d.Publish(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errspkg.IsDelivery(err))
	assert.ErrorIs(t, err, brokerDown)

	var delivery *errspkg.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, "sicken-responses", delivery.Queue)
}
