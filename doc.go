// Package sickenflow is a message-queue inference worker built on Watermill.
// It consumes text requests from a broker queue, asks a generative model for an
// answer and publishes a correlated response on a second queue. The broker
// (RabbitMQ, Kafka, NATS, AWS SQS or Go channels) is read from Config.
//
// A request is a JSON record carrying chat_uuid, socketio_session_id and the
// question. The response repeats both correlation fields, adds the worker's
// user_uuid and carries the generated text in message:
//
//	{"user_uuid":"...","chat_uuid":"...","socketio_session_id":"...","message":"..."}
//
// Worker runs one message at a time. Malformed requests and failed generations
// are dropped; a failed publish faults the worker so a supervisor can restart
// it. A minimal setup fills Config (or calls LoadConfig), creates a Worker with
// NewWorker and calls Start.
//
// # Transports
//
// Five transports are registered by importing this package:
//   - channel: In-memory Go channels for testing
//   - kafka: Consumer groups over Sarama
//   - rabbitmq: Durable AMQP queues with prefetch 1
//   - aws: SQS queues with LocalStack support
//   - nats: NATS core subjects
//
// # Model backends
//
// GeneratorBackend selects the OpenAI chat completions API (any compatible
// server through GeneratorBaseURL) or the Anthropic messages API. Embedders can
// pass their own Gateway in WorkerDependencies.
//
// # Middleware and hooks
//
// The default middleware chain injects correlation IDs, logs payloads, opens
// an OpenTelemetry span and recovers panics. Custom middleware can be added via
// WorkerDependencies.Middlewares. JobHooks observe every message with its
// outcome.
//
// # Optional persistence
//
// With MongoURI set every answered request is written to an exchange log. With
// AckMode "dispatch" and RedisURL set, redelivered requests that were already
// answered are acknowledged without generating again. Replicas claim each
// request in Redis first, so only one of them answers it.
package sickenflow
