package data

import (
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/nats-io/nats.go"

	"healthpay-gateway/internal/conf"
)

// reconnectDelay implements the configured exponential backoff for the
// nats client: base doubled per attempt, capped at max.
func reconnectDelay(rc *conf.Reconnect, attempts int) time.Duration {
	d := rc.Base << attempts
	if d > rc.Max || d < rc.Base {
		return rc.Max
	}
	return d
}

// NewNatsConn connects to the event bus using the relay's reconnect
// policy. A connection that cannot be established at startup returns
// nil and the relay runs without bus events until restart.
func NewNatsConn(c *conf.Data, rc *conf.Relay, logger log.Logger) *nats.Conn {
	l := log.NewHelper(logger)

	policy := rc.Reconnect
	nc, err := nats.Connect(c.Nats.URL,
		nats.Name(c.Nats.Name),
		nats.MaxReconnects(policy.MaxAttempts),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return reconnectDelay(policy, attempts)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warnf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Infof("nats reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			l.Warn("nats connection closed")
		}),
	)
	if err != nil {
		l.Errorf("nats unreachable at %s, event relay will serve no bus events: %v", c.Nats.URL, err)
		return nil
	}

	l.Infof("connected to nats at %s", c.Nats.URL)
	return nc
}
