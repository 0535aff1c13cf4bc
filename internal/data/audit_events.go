package data

// Audit event types recorded in gateway_audit_logs.
const (
	AuditBreakerOpened      = "breaker_opened"
	AuditBreakerRecovered   = "breaker_recovered"
	AuditTokenIssued        = "token_issued"
	AuditTokenRefreshed     = "token_refreshed"
	AuditConnectionRejected = "connection_rejected"
)
