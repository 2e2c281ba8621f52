package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/sickenflow/internal/runtime/codec"
	configpkg "github.com/drblury/sickenflow/internal/runtime/config"
	"github.com/drblury/sickenflow/internal/runtime/dedupe"
	"github.com/drblury/sickenflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
	"github.com/drblury/sickenflow/internal/runtime/gateway"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
	"github.com/drblury/sickenflow/internal/runtime/store"
	"github.com/drblury/sickenflow/transport"
)

// State is the position of the worker in its receive loop.
type State int32

const (
	StateIdle State = iota
	StateDecoding
	StateGenerating
	StateDispatching
	// StateFaulted is terminal. The process has to be restarted.
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDecoding:
		return "decoding"
	case StateGenerating:
		return "generating"
	case StateDispatching:
		return "dispatching"
	case StateFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	depGateway = "gateway"
	depStore   = "store"
	depDedupe  = "dedupe"
)

// WorkerDependencies holds the optional collaborators of a Worker. Nil fields
// are built from the configuration.
type WorkerDependencies struct {
	// Publisher and Subscriber replace the configured transport when both
	// are set. The caller keeps ownership and closes them.
	Publisher  message.Publisher
	Subscriber message.Subscriber
	// Registry resolves pubsub_system. Defaults to transport.DefaultRegistry.
	Registry *transport.Registry

	Gateway gateway.Gateway
	Store   store.ExchangeStore
	// Guard is only consulted with ack_mode=dispatch.
	Guard dedupe.Guard
	Hooks JobHooks

	// Registerer receives the worker metrics. Defaults to
	// prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer

	Middlewares               []MiddlewareRegistration // Appended after the default chain.
	DisableDefaultMiddlewares bool
}

type closer struct {
	name  string
	close func(context.Context) error
}

// Worker consumes requests from one queue, one at a time, and publishes one
// correlated response per answered request.
type Worker struct {
	conf   *configpkg.Config
	logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	caps       transport.Capabilities

	codec     codec.Codec
	gateway   gateway.Gateway
	responses *dispatch.Dispatcher
	poison    *dispatch.Dispatcher
	store     store.ExchangeStore
	guard     dedupe.Guard
	hooks     JobHooks
	handler   message.HandlerFunc

	registerer prometheus.Registerer
	metrics    *workerMetrics
	stats      *workerStats

	mu      sync.Mutex
	state   State
	running bool
	fault   error

	closers   []closer
	closeOnce sync.Once
	closeErr  error

	httpMu      sync.Mutex
	httpMuxes   map[int]*http.ServeMux
	httpServers map[int]*http.Server
}

// NewWorker validates conf and acquires every resource the worker owns. On
// error, whatever was already acquired is released again.
func NewWorker(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps WorkerDependencies) (_ *Worker, err error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating worker", loggingpkg.LogFields{
		"pubsub_system":  conf.PubSubSystem,
		"request_queue":  conf.RequestQueue,
		"response_queue": conf.ResponseQueue,
		"ack_mode":       conf.AckMode,
		"config":         conf.String(),
	})

	w := &Worker{
		conf:       conf,
		logger:     log,
		hooks:      deps.Hooks,
		registerer: deps.Registerer,
		state:      StateIdle,
	}
	if w.registerer == nil {
		w.registerer = prometheus.DefaultRegisterer
	}
	defer func() {
		if err != nil {
			_ = w.Close(context.WithoutCancel(ctx))
		}
	}()

	if err := w.setupTransport(ctx, deps); err != nil {
		return nil, err
	}
	if err := w.setupGateway(deps); err != nil {
		return nil, err
	}
	if err := w.setupStorage(ctx, deps); err != nil {
		return nil, err
	}

	if w.responses, err = dispatch.New(w.publisher, conf.ResponseQueue); err != nil {
		return nil, err
	}
	if conf.PoisonQueue != "" {
		if w.poison, err = dispatch.New(w.publisher, conf.PoisonQueue); err != nil {
			return nil, err
		}
	}

	if conf.QuestionInBody {
		w.codec = codec.Body()
	} else {
		w.codec = codec.New(conf.QuestionField)
	}

	if w.metrics, err = newWorkerMetrics(w.registerer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	dependencies := []string{subscriberDependency(conf.RequestQueue), publisherDependency(conf.ResponseQueue), depGateway}
	if w.store != nil {
		dependencies = append(dependencies, depStore)
	}
	if w.guard != nil {
		dependencies = append(dependencies, depDedupe)
	}
	w.stats = newWorkerStats(newResourceTracker(), dependencies...)

	var regs []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		regs = append(regs, DefaultMiddlewares()...)
	}
	regs = append(regs, deps.Middlewares...)
	if w.handler, err = w.buildHandler(w.process, regs); err != nil {
		return nil, err
	}

	w.registerHTTPEndpoints()
	return w, nil
}

func (w *Worker) setupTransport(ctx context.Context, deps WorkerDependencies) error {
	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}
	w.caps = registry.Capabilities(w.conf.PubSubSystem)

	if deps.Publisher != nil && deps.Subscriber != nil {
		w.publisher, w.subscriber = deps.Publisher, deps.Subscriber
	} else {
		tr, err := registry.Build(ctx, w.conf, loggingpkg.NewWatermillAdapter(w.logger))
		if err != nil {
			return fmt.Errorf("build %s transport: %w", w.conf.PubSubSystem, err)
		}
		w.publisher, w.subscriber = tr.Publisher, tr.Subscriber
		w.addCloser("transport", func(context.Context) error { return tr.Close() })
	}

	if w.conf.AckMode == configpkg.AckModeDispatch && !w.caps.SupportsRedelivery() {
		w.logger.Info("Transport cannot redeliver; ack_mode=dispatch behaves like receipt on failure", loggingpkg.LogFields{
			"pubsub_system": w.conf.PubSubSystem,
		})
	}

	if w.conf.MetricsEnabled {
		pub, sub, err := decorateTransport(w.registerer, w.caps.Name, w.publisher, w.subscriber)
		if err != nil {
			return fmt.Errorf("decorate transport with metrics: %w", err)
		}
		w.publisher, w.subscriber = pub, sub
	}
	return nil
}

func (w *Worker) setupGateway(deps WorkerDependencies) error {
	if deps.Gateway != nil {
		w.gateway = gateway.WithTimeout(deps.Gateway, w.conf.GenerationTimeout)
		return nil
	}
	g, err := gateway.New(w.conf)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	w.gateway = g
	return nil
}

func (w *Worker) setupStorage(ctx context.Context, deps WorkerDependencies) error {
	w.store = deps.Store
	if w.store == nil && w.conf.MongoURI != "" {
		s, err := store.NewMongoStore(ctx, w.conf.MongoURI, w.conf.MongoDatabase, w.conf.MongoCollection)
		if err != nil {
			return err
		}
		w.store = s
		w.addCloser("mongo", s.Close)
	}

	if w.conf.AckMode != configpkg.AckModeDispatch {
		if deps.Guard != nil || w.conf.RedisURL != "" {
			w.logger.Info("Duplicate guard is only used with ack_mode=dispatch", nil)
		}
		return nil
	}
	w.guard = deps.Guard
	if w.guard == nil && w.conf.RedisURL != "" {
		g, err := dedupe.NewRedisGuard(ctx, w.conf.RedisURL, w.conf.DedupeTTL)
		if err != nil {
			return err
		}
		w.guard = g
		w.addCloser("redis", func(context.Context) error { return g.Close() })
	}
	return nil
}

func (w *Worker) addCloser(name string, fn func(context.Context) error) {
	w.closers = append(w.closers, closer{name: name, close: fn})
}

// Start serves the status and metrics endpoints, then runs the receive loop.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.startHTTPServers(); err != nil {
		return err
	}
	return w.Run(ctx)
}

// Run consumes the request queue until ctx is cancelled (returns nil) or the
// worker faults. A fault is returned once; later calls return
// errors.ErrWorkerFaulted.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.beginRun(); err != nil {
		return err
	}
	defer w.endRun()

	msgs, err := w.subscriber.Subscribe(ctx, w.conf.RequestQueue)
	if err != nil {
		w.stats.setDependency(subscriberDependency(w.conf.RequestQueue), DependencyStatusDegraded, err.Error())
		return fmt.Errorf("subscribe %s: %w", w.conf.RequestQueue, err)
	}
	w.stats.setDependency(subscriberDependency(w.conf.RequestQueue), DependencyStatusHealthy, "")
	w.logger.Info("Consuming requests", loggingpkg.LogFields{
		"queue":    w.conf.RequestQueue,
		"ack_mode": w.conf.AckMode,
	})

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				w.stats.setDependency(subscriberDependency(w.conf.RequestQueue), DependencyStatusDegraded, "subscription closed")
				w.markFaulted(errspkg.ErrSubscriptionClosed)
				w.logger.Error("Subscription closed", errspkg.ErrSubscriptionClosed, loggingpkg.LogFields{"queue": w.conf.RequestQueue})
				return errspkg.ErrSubscriptionClosed
			}
			if ctx.Err() != nil {
				msg.Nack()
				return nil
			}
			if err := w.handle(ctx, msg); err != nil {
				return err
			}
		}
	}
}

func (w *Worker) beginRun() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateFaulted {
		return fmt.Errorf("%w: %v", errspkg.ErrWorkerFaulted, w.fault)
	}
	if w.running {
		return errspkg.ErrWorkerRunning
	}
	w.running = true
	return nil
}

func (w *Worker) endRun() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// State returns the current loop state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateFaulted {
		w.state = s
	}
}

func (w *Worker) markFaulted(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateFaulted
	w.fault = err
}

// Capabilities describes the transport the worker consumes from.
func (w *Worker) Capabilities() transport.Capabilities {
	return w.caps
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() WorkerStats {
	return w.stats.snapshot(WorkerStats{
		State:         w.State().String(),
		PubSubSystem:  w.conf.PubSubSystem,
		RequestQueue:  w.conf.RequestQueue,
		ResponseQueue: w.conf.ResponseQueue,
		AckMode:       w.conf.AckMode,
	})
}

// Close stops the HTTP servers and releases owned resources in reverse
// acquisition order. It is safe to call more than once.
func (w *Worker) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		errs := []error{w.shutdownHTTPServers(ctx)}
		for i := len(w.closers) - 1; i >= 0; i-- {
			c := w.closers[i]
			if err := c.close(ctx); err != nil {
				w.logger.Error("Failed to close resource", err, loggingpkg.LogFields{"resource": c.name})
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		w.closeErr = errors.Join(errs...)
	})
	return w.closeErr
}

func subscriberDependency(queue string) string {
	return "subscriber:" + queue
}

func publisherDependency(queue string) string {
	return "publisher:" + queue
}
