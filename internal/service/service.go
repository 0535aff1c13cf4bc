// Package service implements the gateway's own HTTP endpoints: token
// issuance and refresh, health, and readiness style introspection.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(
	NewAuthService,
	NewHealthService,
)
