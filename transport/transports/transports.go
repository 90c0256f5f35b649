// Package transports imports all built-in sources for auto-registration.
// Import this package to have every source registered with the default registry.
package transports

import (
	// Import all sources for side-effect registration
	_ "github.com/drblury/transitboard/transport/channel"
	_ "github.com/drblury/transitboard/transport/kafka"
)
