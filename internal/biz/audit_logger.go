package biz

import "context"

// AuditLogger records security and availability events for compliance review.
// Implementations must not block the caller; writes happen asynchronously.
type AuditLogger interface {
	LogBreakerOpened(ctx context.Context, service string, failures uint32)
	LogBreakerRecovered(ctx context.Context, service string)
	LogTokenIssued(ctx context.Context, userID, role string)
	LogTokenRefreshed(ctx context.Context, userID string)
	LogConnectionRejected(ctx context.Context, remoteAddr, reason string)
}
