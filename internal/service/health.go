package service

import (
	"net/http"
	"time"

	"healthpay-gateway/internal/biz"
	"healthpay-gateway/internal/gateway"
	"healthpay-gateway/internal/relay"
)

// HealthService reports gateway liveness plus breaker and relay state.
type HealthService struct {
	breakers *biz.BreakerManager
	hub      *relay.Hub
	started  time.Time
}

// NewHealthService creates the health service.
func NewHealthService(breakers *biz.BreakerManager, hub *relay.Hub) *HealthService {
	return &HealthService{
		breakers: breakers,
		hub:      hub,
		started:  time.Now(),
	}
}

type healthResponse struct {
	Status        string                      `json:"status"`
	UptimeSeconds int64                       `json:"uptimeSeconds"`
	Breakers      map[string]biz.BreakerStats `json:"breakers"`
	Relay         relayStats                  `json:"relay"`
}

type relayStats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// HandleHealth serves GET /v2/health.
func (s *HealthService) HandleHealth(w http.ResponseWriter, r *http.Request) {
	connections, rooms := s.hub.Stats()
	gateway.WriteJSON(w, http.StatusOK, &healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started) / time.Second),
		Breakers:      s.breakers.Stats(),
		Relay:         relayStats{Connections: connections, Rooms: rooms},
	})
}
