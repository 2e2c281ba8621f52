package runtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/sickenflow/internal/runtime/config"
	"github.com/drblury/sickenflow/internal/runtime/gateway"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
)

const (
	testRequestQueue  = "sicken-requests"
	testResponseQueue = "sicken-responses"
	testSenderID      = "95a952c4-0deb-4382-9a51-1932c31c9bc0"
)

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func newTestConfig() *configpkg.Config {
	return &configpkg.Config{
		PubSubSystem:  "channel",
		RequestQueue:  testRequestQueue,
		ResponseQueue: testResponseQueue,
		SenderID:      testSenderID,
	}
}

func newTestPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	ps := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, watermill.NopLogger{})
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

// staticGateway answers every question with answer.
func staticGateway(answer string) gateway.Gateway {
	return gateway.GatewayFunc(func(context.Context, string) (string, error) {
		return answer, nil
	})
}

// newTestWorker builds a worker over ps with its own metrics registry.
func newTestWorker(t *testing.T, conf *configpkg.Config, ps *gochannel.GoChannel, deps WorkerDependencies) *Worker {
	t.Helper()
	if deps.Publisher == nil {
		deps.Publisher = ps
	}
	if deps.Subscriber == nil {
		deps.Subscriber = ps
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.NewRegistry()
	}
	w, err := NewWorker(context.Background(), conf, newTestLogger(), deps)
	if err != nil {
		t.Fatalf("NewWorker failed: %v", err)
	}
	t.Cleanup(func() { _ = w.Close(context.Background()) })
	return w
}

// runWorker runs w in the background and returns a func that stops it and
// yields Run's result.
func runWorker(t *testing.T, w *Worker) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	var once sync.Once
	var result error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(5 * time.Second):
				t.Fatal("worker did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func publishRequest(t *testing.T, ps message.Publisher, payload string) *message.Message {
	t.Helper()
	msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
	if err := ps.Publish(testRequestQueue, msg); err != nil {
		t.Fatalf("publish request: %v", err)
	}
	return msg
}

func subscribeResponses(t *testing.T, ps message.Subscriber, topic string) <-chan *message.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := ps.Subscribe(ctx, topic)
	if err != nil {
		t.Fatalf("subscribe %s: %v", topic, err)
	}
	return ch
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func assertNoMessage(t *testing.T, ch <-chan *message.Message, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message %s: %s", msg.UUID, msg.Payload)
	case <-time.After(wait):
	}
}

// eventually polls cond until it holds or the deadline passes.
func dependencyStatus(w *Worker, name string) string {
	for _, d := range w.Stats().Dependencies {
		if d.Name == name {
			return d.Status
		}
	}
	return ""
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

var errBrokerDown = errors.New("broker down")

// failingPublisher rejects publishes to failTopic and forwards the rest.
type failingPublisher struct {
	message.Publisher
	failTopic string
}

func (p *failingPublisher) Publish(topic string, msgs ...*message.Message) error {
	if topic == p.failTopic {
		return errBrokerDown
	}
	return p.Publisher.Publish(topic, msgs...)
}

// closingSubscriber returns an already closed channel, like a broker that
// dropped the connection.
type closingSubscriber struct{}

func (closingSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (closingSubscriber) Close() error { return nil }

type recordingServiceLogger struct {
	mu     sync.Mutex
	infos  int
	debugs int
	errors int
}

func (r *recordingServiceLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return r }

func (r *recordingServiceLogger) Debug(string, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debugs++
}

func (r *recordingServiceLogger) Info(string, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos++
}

func (r *recordingServiceLogger) Error(string, error, loggingpkg.LogFields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors++
}

func (r *recordingServiceLogger) Trace(string, loggingpkg.LogFields) {}

func (r *recordingServiceLogger) counts() (infos, debugs, errs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infos, r.debugs, r.errors
}
