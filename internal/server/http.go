// Package server assembles the HTTP transport.
package server

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"

	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/gateway"
	"healthpay-gateway/internal/metrics"
	"healthpay-gateway/internal/relay"
	"healthpay-gateway/internal/server/middleware"
	"healthpay-gateway/internal/service"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer creates the gateway HTTP server. Exact-path endpoints
// register before the catch-all proxy handler; registration order decides
// precedence.
func NewHTTPServer(
	c *conf.Server,
	router *gateway.Router,
	rl *relay.Relay,
	auth *service.AuthService,
	health *service.HealthService,
	m *metrics.Metrics,
	logger log.Logger,
) *http.Server {
	opts := []http.ServerOption{
		http.Filter(
			middleware.RequestID(),
			middleware.Recovery(logger),
			middleware.Logging(logger),
		),
	}
	if c.HTTP.Network != "" {
		opts = append(opts, http.Network(c.HTTP.Network))
	}
	if c.HTTP.Addr != "" {
		opts = append(opts, http.Address(c.HTTP.Addr))
	}
	if c.HTTP.Timeout > 0 {
		opts = append(opts, http.Timeout(c.HTTP.Timeout))
	}

	srv := http.NewServer(opts...)

	srv.HandleFunc("/v2/health", health.HandleHealth)
	srv.Handle("/v2/metrics", m.Handler())
	srv.HandleFunc("/v2/auth/refresh", auth.HandleRefresh)
	srv.HandleFunc("/internal/v2/tokens", auth.HandleIssue)
	srv.HandleFunc("/v2/ws", rl.HandleWS)

	// Everything else goes through the proxy pipeline.
	srv.HandlePrefix("/", router)

	return srv
}
