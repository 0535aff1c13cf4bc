package relay

import "github.com/google/wire"

// ProviderSet is relay providers.
var ProviderSet = wire.NewSet(
	NewHub,
	NewRelay,
	NewConsumer,
)
