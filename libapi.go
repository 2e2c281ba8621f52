package sickenflow

import (
	runtimepkg "github.com/drblury/sickenflow/internal/runtime"
	"github.com/drblury/sickenflow/internal/runtime/codec"
	configpkg "github.com/drblury/sickenflow/internal/runtime/config"
	"github.com/drblury/sickenflow/internal/runtime/correlation"
	"github.com/drblury/sickenflow/internal/runtime/dedupe"
	"github.com/drblury/sickenflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/sickenflow/internal/runtime/errors"
	"github.com/drblury/sickenflow/internal/runtime/gateway"
	idspkg "github.com/drblury/sickenflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/sickenflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sickenflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/sickenflow/internal/runtime/metadata"
	"github.com/drblury/sickenflow/internal/runtime/store"
	"github.com/drblury/sickenflow/transport"

	// Register every bundled broker with the default transport registry.
	_ "github.com/drblury/sickenflow/transport/transports"
)

type (
	Config             = configpkg.Config
	Worker             = runtimepkg.Worker
	WorkerDependencies = runtimepkg.WorkerDependencies
	WorkerState        = runtimepkg.State
	WorkerStats        = runtimepkg.WorkerStats
	Outcome            = runtimepkg.Outcome

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	Codec            = codec.Codec
	InboundRequest   = codec.InboundRequest
	OutboundResponse = codec.OutboundResponse

	CorrelationContext = correlation.Context
	Dispatcher         = dispatch.Dispatcher

	Gateway           = gateway.Gateway
	GatewayFunc       = gateway.GatewayFunc
	OpenAIOptions     = gateway.OpenAIOptions
	AnthropicOptions  = gateway.AnthropicOptions
	Exchange          = store.Exchange
	ExchangeStore     = store.ExchangeStore
	DuplicateGuard    = dedupe.Guard
	GuardStatus       = dedupe.Status
	Metadata          = metadatapkg.Metadata
	LogFields         = loggingpkg.LogFields
	ServiceLogger     = loggingpkg.ServiceLogger
	ErrorCategory     = runtimepkg.ErrorCategory
	TransportConfig   = transport.Config
	TransportBuilder  = transport.Builder
	TransportRegistry = transport.Registry
	Capabilities      = transport.Capabilities

	ConfigValidationError = errspkg.ConfigValidationError
	MalformedPayloadError = errspkg.MalformedPayloadError
	GenerationError       = errspkg.GenerationError
	DeliveryError         = errspkg.DeliveryError
)

var (
	NewWorker  = runtimepkg.NewWorker
	LoadConfig = configpkg.Load

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware

	// Job lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewCodec               = codec.New
	NewBodyCodec           = codec.Body
	CorrelationFromRequest = correlation.FromRequest
	BuildResponse          = dispatch.Build
	NewDispatcher          = dispatch.New

	NewGateway          = gateway.New
	NewOpenAIGateway    = gateway.NewOpenAI
	NewAnthropicGateway = gateway.NewAnthropic
	WithTimeout         = gateway.WithTimeout

	NewMongoStore  = store.NewMongoStore
	NewMemoryStore = store.NewMemoryStore
	NewRedisGuard  = dedupe.NewRedisGuard

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrSubscriberRequired = errspkg.ErrSubscriberRequired
	ErrGatewayRequired    = errspkg.ErrGatewayRequired
	ErrQueueRequired      = errspkg.ErrQueueRequired
	ErrWorkerFaulted      = errspkg.ErrWorkerFaulted
	ErrWorkerRunning      = errspkg.ErrWorkerRunning
	ErrSubscriptionClosed = errspkg.ErrSubscriptionClosed
	ErrEmptyAnswer        = errspkg.ErrEmptyAnswer

	IsMalformedPayload = errspkg.IsMalformedPayload
	IsGeneration       = errspkg.IsGeneration
	IsDelivery         = errspkg.IsDelivery

	NewJSONLogger        = loggingpkg.NewJSONLogger
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopServiceLogger  = loggingpkg.NewNopServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

// Metadata keys set on outbound messages.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEventSchema   = metadatapkg.KeyEventSchema
	MetadataKeyRequestUUID   = metadatapkg.KeyRequestUUID
	MetadataKeyPoisonReason  = metadatapkg.KeyPoisonReason
	ResponseSchema           = metadatapkg.ResponseSchema
)

const (
	AckModeReceipt  = configpkg.AckModeReceipt
	AckModeDispatch = configpkg.AckModeDispatch

	BackendOpenAI    = configpkg.BackendOpenAI
	BackendAnthropic = configpkg.BackendAnthropic
)

const (
	GuardClaimed  = dedupe.StatusClaimed
	GuardInFlight = dedupe.StatusInFlight
	GuardAnswered = dedupe.StatusAnswered
)

const (
	StateIdle        = runtimepkg.StateIdle
	StateDecoding    = runtimepkg.StateDecoding
	StateGenerating  = runtimepkg.StateGenerating
	StateDispatching = runtimepkg.StateDispatching
	StateFaulted     = runtimepkg.StateFaulted
)

const (
	OutcomePublished        = runtimepkg.OutcomePublished
	OutcomeMalformed        = runtimepkg.OutcomeMalformed
	OutcomeGenerationFailed = runtimepkg.OutcomeGenerationFailed
	OutcomeDeliveryFailed   = runtimepkg.OutcomeDeliveryFailed
	OutcomeDuplicate        = runtimepkg.OutcomeDuplicate
)

// Error category constants reported in WorkerStats.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryMalformed  = runtimepkg.ErrorCategoryMalformed
	ErrorCategoryGeneration = runtimepkg.ErrorCategoryGeneration
	ErrorCategoryDelivery   = runtimepkg.ErrorCategoryDelivery
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)
