package main

import (
	"context"
	"time"

	"healthpay-gateway/internal/data"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// auditRetention is how long audit rows are kept before the nightly sweep
// removes them.
const auditRetention = 90 * 24 * time.Hour

// newAuditRetentionCron starts the daily audit log retention sweep.
// Runs at 03:00 every day.
func newAuditRetentionCron(audit *data.AuditLoggerImpl, logger log.Logger) *cron.Cron {
	helper := log.NewHelper(logger)

	c := cron.New()

	_, err := c.AddFunc("0 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		cutoff := time.Now().Add(-auditRetention)
		removed, err := audit.CleanupBefore(ctx, cutoff)
		if err != nil {
			helper.Errorw("msg", "audit retention sweep failed", "error", err)
			return
		}
		helper.Infow("msg", "audit retention sweep completed", "removed", removed)
	})
	if err != nil {
		helper.Errorw("msg", "failed to register audit retention cron job", "error", err)
		return nil
	}

	c.Start()
	helper.Info("audit retention cron job started: runs daily at 03:00")

	return c
}
