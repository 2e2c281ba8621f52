package transport

// Capabilities describes what a broker guarantees to the worker.
type Capabilities struct {
	Name string

	// SupportsAck indicates the broker accepts explicit acknowledgement.
	SupportsAck bool
	// SupportsNack indicates a negative acknowledgement causes redelivery.
	SupportsNack bool
	// SupportsOrdering indicates delivery order is preserved per queue.
	SupportsOrdering bool
	// SupportsPrefetch indicates the broker can cap unacknowledged deliveries.
	SupportsPrefetch bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsRedelivery reports whether a message left unacknowledged or nacked
// will be delivered again. Dispatch-mode acknowledgement relies on it.
func (c Capabilities) SupportsRedelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

var (
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
	}

	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsAck:      true,
		SupportsNack:     false,
		SupportsOrdering: true,
		MaxMessageSize:   1048576,
	}

	RabbitMQCapabilities = Capabilities{
		Name:             "rabbitmq",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		SupportsPrefetch: true,
	}

	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576,
	}

	AWSCapabilities = Capabilities{
		Name:           "aws",
		SupportsAck:    true,
		SupportsNack:   true,
		MaxMessageSize: 262144,
	}
)
