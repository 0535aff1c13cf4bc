//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/data"
	"healthpay-gateway/internal/gateway"
	"healthpay-gateway/internal/metrics"
	"healthpay-gateway/internal/relay"
	"healthpay-gateway/internal/server"
	"healthpay-gateway/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Auth, *conf.RateLimit, *conf.Breaker, *conf.Relay, *conf.Gateway, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		data.ProviderSet,
		biz.ProviderSet,
		relay.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		metrics.New,
		gateway.NewRouter,
		newJWT,
		newAuditRetentionCron,
		newApp,
	))
}
