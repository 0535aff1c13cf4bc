package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/nats-io/nats.go"

	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/data"
	"healthpay-gateway/internal/model"
	pkglog "healthpay-gateway/pkg/log"
)

// Consumer subscribes to the backend event bus and fans events out to
// hub rooms. It implements the kratos transport.Server interface so the
// application manages its lifecycle alongside the HTTP server.
type Consumer struct {
	cfg   *conf.Relay
	data  *data.Data
	hub   *Hub
	log   *pkglog.LogHelper
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	stop  context.CancelFunc

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewConsumer creates the bus consumer.
func NewConsumer(c *conf.Relay, d *data.Data, hub *Hub, logger log.Logger) *Consumer {
	return &Consumer{
		cfg:  c,
		data: d,
		hub:  hub,
		log:  pkglog.NewLogHelper(logger),
		now:  time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// Start subscribes to the configured subjects. Subscription failures are
// retried with exponential backoff; after the attempt budget is spent
// the relay keeps serving connected clients without bus events.
func (cs *Consumer) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	cs.stop = cancel

	if cs.data.Nats() == nil {
		cs.log.Relay("event bus unavailable, relay running without events")
		return nil
	}
	go cs.subscribeWithRetry(runCtx)
	return nil
}

func (cs *Consumer) subscribeWithRetry(ctx context.Context) {
	backoff := NewBackoff(cs.cfg.Reconnect)
	for {
		if err := cs.subscribe(); err == nil {
			cs.log.Relay("subscribed to event bus", "subjects", cs.cfg.Subjects)
			return
		} else {
			cs.log.Relay("bus subscription failed", "error", err)
		}

		delay, err := backoff.Next()
		if err != nil {
			cs.log.Relay("giving up on bus subscription, relay running without events")
			return
		}
		if err := cs.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (cs *Consumer) subscribe() error {
	nc := cs.data.Nats()
	var subs []*nats.Subscription
	for _, subject := range cs.cfg.Subjects {
		sub, err := nc.Subscribe(subject, func(m *nats.Msg) {
			cs.handleRaw(m.Data)
		})
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return err
		}
		subs = append(subs, sub)
	}
	cs.mu.Lock()
	cs.subs = subs
	cs.mu.Unlock()
	return nil
}

func (cs *Consumer) handleRaw(payload []byte) {
	var ev model.BusEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		cs.log.Relay("dropping malformed bus event", "error", err)
		return
	}
	cs.handleEvent(&ev)
}

// handleEvent maps a bus event onto room broadcasts. Unknown event types
// are ignored so new backend events never break the relay.
func (cs *Consumer) handleEvent(ev *model.BusEvent) {
	ts := cs.now().UTC().Format(time.RFC3339)

	switch ev.EventType {
	case model.EventWalletCredited, model.EventWalletDebited:
		var d model.WalletEventData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			cs.log.Relay("dropping malformed wallet event", "error", err)
			return
		}
		cs.hub.Broadcast(model.WalletRoom(ev.AggregateID), &model.PushMessage{
			Type: model.PushBalanceUpdate,
			Data: &model.BalanceUpdate{
				WalletID:  ev.AggregateID,
				Balance:   d.NewBalance,
				Currency:  d.Currency,
				Timestamp: ts,
			},
		})

	case model.EventTransactionRecorded:
		var d model.TransactionEventData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			cs.log.Relay("dropping malformed transaction event", "error", err)
			return
		}
		cs.hub.Broadcast(model.WalletRoom(d.WalletID), &model.PushMessage{
			Type: model.PushTransaction,
			Data: &model.TransactionNotification{
				TxnID:       d.TransactionID,
				Type:        d.Type,
				Amount:      d.Amount,
				Description: d.Description,
				Timestamp:   ts,
			},
		})

	case model.EventPaymentPending, model.EventPaymentCompleted, model.EventPaymentFailed:
		var d model.PaymentEventData
		if err := json.Unmarshal(ev.Data, &d); err != nil {
			cs.log.Relay("dropping malformed payment event", "error", err)
			return
		}
		msg := &model.PushMessage{
			Type: model.PushPaymentUpdate,
			Data: &model.PaymentStatusUpdate{
				PaymentID:       ev.AggregateID,
				Status:          d.Status,
				GatewayResponse: d.GatewayResponse,
				Timestamp:       ts,
			},
		}
		cs.hub.Broadcast(model.PaymentRoom(ev.AggregateID), msg)
		// Both wallet sides follow the payment without joining its room.
		if d.FromWalletID != "" {
			cs.hub.Broadcast(model.WalletRoom(d.FromWalletID), msg)
		}
		if d.ToWalletID != "" {
			cs.hub.Broadcast(model.WalletRoom(d.ToWalletID), msg)
		}
	}
}

// Stop unsubscribes and cancels any pending subscription retry.
func (cs *Consumer) Stop(ctx context.Context) error {
	if cs.stop != nil {
		cs.stop()
	}
	cs.mu.Lock()
	subs := cs.subs
	cs.subs = nil
	cs.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}
