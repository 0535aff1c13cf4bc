package data

import (
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"healthpay-gateway/internal/biz"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewNatsConn,
	NewMysqlClient,
	NewRateLimitRepo,
	NewAuditLoggerImpl,
	wire.Bind(new(biz.RateLimitRepo), new(*RateLimitRepo)),
	wire.Bind(new(biz.AuditLogger), new(*AuditLoggerImpl)),
)

// Data holds the shared infrastructure clients. Any of them may be nil
// when the backing service is unavailable; repos degrade accordingly.
type Data struct {
	rdb *redis.Client
	nc  *nats.Conn
	db  *gorm.DB
	log *log.Helper
}

// NewData creates the shared data holder.
func NewData(rdb *redis.Client, nc *nats.Conn, db *gorm.DB, logger log.Logger) (*Data, func(), error) {
	l := log.NewHelper(logger)
	d := &Data{rdb: rdb, nc: nc, db: db, log: l}

	cleanup := func() {
		l.Info("closing the data resources")
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				l.Errorf("failed to close redis client: %v", err)
			}
		}
		if nc != nil {
			nc.Drain()
		}
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
		}
	}
	return d, cleanup, nil
}

// Nats exposes the bus connection for the relay consumer.
func (d *Data) Nats() *nats.Conn { return d.nc }
