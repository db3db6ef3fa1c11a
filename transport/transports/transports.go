// Package transports imports every built-in driver for auto-registration.
// Import it for side effects to make all drivers available to the default
// registry.
package transports

import (
	_ "github.com/drblury/herald/transport/aws"
	_ "github.com/drblury/herald/transport/channel"
	_ "github.com/drblury/herald/transport/fake"
	_ "github.com/drblury/herald/transport/http"
	_ "github.com/drblury/herald/transport/jetstream"
	_ "github.com/drblury/herald/transport/kafka"
	_ "github.com/drblury/herald/transport/nats"
	_ "github.com/drblury/herald/transport/rabbitmq"
	_ "github.com/drblury/herald/transport/redis"
)
