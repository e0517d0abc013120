// Package transports imports all built-in transports for auto-registration.
// Import this package to have all transports registered with the default
// registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/hrmesh/hrmesh/transport/aws"
	_ "github.com/hrmesh/hrmesh/transport/channel"
	_ "github.com/hrmesh/hrmesh/transport/kafka"
	_ "github.com/hrmesh/hrmesh/transport/nats"
	_ "github.com/hrmesh/hrmesh/transport/rabbitmq"
)
