// Package transports registers every built-in broker with the default
// transport registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/sickenflow/transport/aws"
	_ "github.com/drblury/sickenflow/transport/channel"
	_ "github.com/drblury/sickenflow/transport/kafka"
	_ "github.com/drblury/sickenflow/transport/nats"
	_ "github.com/drblury/sickenflow/transport/rabbitmq"
)
