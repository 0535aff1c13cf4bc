package data

import (
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"healthpay-gateway/internal/conf"
)

// NewMysqlClient opens the audit database. Auditing is optional: an empty
// DSN or a failed connection returns nil and the audit logger becomes a
// no-op.
func NewMysqlClient(c *conf.Data, logger log.Logger) *gorm.DB {
	l := log.NewHelper(logger)

	if c.Database == nil || c.Database.Source == "" {
		l.Info("audit database not configured, audit logging disabled")
		return nil
	}

	db, err := gorm.Open(mysql.Open(c.Database.Source), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		l.Errorf("failed to open audit database, audit logging disabled: %v", err)
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		l.Errorf("failed to access audit database pool: %v", err)
		return nil
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&GatewayAuditLog{}); err != nil {
		l.Errorf("failed to migrate audit schema: %v", err)
	}

	l.Info("connected to audit database")
	return db
}
