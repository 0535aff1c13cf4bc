package data

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

// GatewayAuditLog is one security or availability event kept for review.
type GatewayAuditLog struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	EventType string    `gorm:"size:64;index;not null"`
	Subject   string    `gorm:"size:128;index"`
	Detail    string    `gorm:"size:512"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName sets the table name for GatewayAuditLog.
func (GatewayAuditLog) TableName() string {
	return "gateway_audit_logs"
}

// AuditLoggerImpl writes audit events asynchronously so the request path
// never waits on the database. Events are dropped when the buffer is
// full or no database is configured.
type AuditLoggerImpl struct {
	data    *Data
	log     *log.Helper
	logChan chan *GatewayAuditLog
}

// NewAuditLoggerImpl creates the async audit logger and starts its writer.
func NewAuditLoggerImpl(data *Data, logger log.Logger) *AuditLoggerImpl {
	a := &AuditLoggerImpl{
		data:    data,
		log:     log.NewHelper(logger),
		logChan: make(chan *GatewayAuditLog, 1000),
	}
	if data.db != nil {
		go a.processLogs()
	}
	return a
}

func (a *AuditLoggerImpl) processLogs() {
	for entry := range a.logChan {
		if err := a.data.db.Create(entry).Error; err != nil {
			a.log.Errorf("failed to write audit log: %v", err)
		}
	}
}

func (a *AuditLoggerImpl) enqueue(eventType, subject, detail string) {
	if a.data.db == nil {
		return
	}
	entry := &GatewayAuditLog{
		EventType: eventType,
		Subject:   subject,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	select {
	case a.logChan <- entry:
	default:
		a.log.Warnf("audit log buffer full, dropping %s event", eventType)
	}
}

// LogBreakerOpened records a breaker trip.
func (a *AuditLoggerImpl) LogBreakerOpened(_ context.Context, service string, failures uint32) {
	a.enqueue(AuditBreakerOpened, service, fmt.Sprintf("failures=%d", failures))
}

// LogBreakerRecovered records a breaker closing after recovery.
func (a *AuditLoggerImpl) LogBreakerRecovered(_ context.Context, service string) {
	a.enqueue(AuditBreakerRecovered, service, "")
}

// LogTokenIssued records issuance of a token pair.
func (a *AuditLoggerImpl) LogTokenIssued(_ context.Context, userID, role string) {
	a.enqueue(AuditTokenIssued, userID, fmt.Sprintf("role=%s", role))
}

// LogTokenRefreshed records a successful refresh.
func (a *AuditLoggerImpl) LogTokenRefreshed(_ context.Context, userID string) {
	a.enqueue(AuditTokenRefreshed, userID, "")
}

// LogConnectionRejected records a refused WebSocket connection.
func (a *AuditLoggerImpl) LogConnectionRejected(_ context.Context, remoteAddr, reason string) {
	a.enqueue(AuditConnectionRejected, remoteAddr, reason)
}

// CleanupBefore deletes audit rows older than the cutoff and returns the
// number removed. The retention cron calls this daily.
func (a *AuditLoggerImpl) CleanupBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if a.data.db == nil {
		return 0, nil
	}
	res := a.data.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&GatewayAuditLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired audit logs: %w", res.Error)
	}
	return res.RowsAffected, nil
}
