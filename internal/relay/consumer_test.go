package relay

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthpay-gateway/internal/conf"
	"healthpay-gateway/internal/model"
)

func newTestConsumer(t *testing.T) (*Consumer, *Hub) {
	t.Helper()
	hub := newTestHub(t)
	cs := NewConsumer(&conf.Relay{
		Subjects:  []string{"healthpay.events.>"},
		Reconnect: &conf.Reconnect{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5},
	}, nil, hub, log.NewStdLogger(os.Stdout))
	cs.now = func() time.Time {
		return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	}
	return cs, hub
}

func decodePush(t *testing.T, c *Client) *model.PushMessage {
	t.Helper()
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(recv(t, c), &msg))
	return &model.PushMessage{Type: msg.Type, Data: msg.Data}
}

func TestConsumer_WalletCreditedMapsToBalanceUpdate(t *testing.T) {
	cs, hub := newTestConsumer(t)
	c := newTestClient("user-a", 4)
	hub.Register(c)
	hub.Join(model.WalletRoom("w1"), c)

	data, _ := json.Marshal(&model.WalletEventData{NewBalance: 250.5, Currency: "EGP"})
	cs.handleEvent(&model.BusEvent{
		EventType:   model.EventWalletCredited,
		AggregateID: "w1",
		Data:        data,
	})

	msg := decodePush(t, c)
	assert.Equal(t, model.PushBalanceUpdate, msg.Type)

	var upd model.BalanceUpdate
	require.NoError(t, json.Unmarshal(msg.Data.(json.RawMessage), &upd))
	assert.Equal(t, "w1", upd.WalletID)
	assert.Equal(t, 250.5, upd.Balance)
	assert.Equal(t, "EGP", upd.Currency)
	assert.Equal(t, "2026-01-15T12:00:00Z", upd.Timestamp)
}

func TestConsumer_TransactionRecordedRoutesByWallet(t *testing.T) {
	cs, hub := newTestConsumer(t)
	c := newTestClient("user-a", 4)
	hub.Register(c)
	hub.Join(model.WalletRoom("w7"), c)

	data, _ := json.Marshal(&model.TransactionEventData{
		WalletID:      "w7",
		TransactionID: "txn-1",
		Type:          "debit",
		Amount:        42,
		Description:   "pharmacy",
	})
	cs.handleEvent(&model.BusEvent{
		EventType:   model.EventTransactionRecorded,
		AggregateID: "txn-1",
		Data:        data,
	})

	msg := decodePush(t, c)
	assert.Equal(t, model.PushTransaction, msg.Type)

	var n model.TransactionNotification
	require.NoError(t, json.Unmarshal(msg.Data.(json.RawMessage), &n))
	assert.Equal(t, "txn-1", n.TxnID)
	assert.Equal(t, "debit", n.Type)
	assert.Equal(t, float64(42), n.Amount)
}

func TestConsumer_PaymentEventsMapToStatusUpdate(t *testing.T) {
	cs, hub := newTestConsumer(t)
	c := newTestClient("user-a", 4)
	hub.Register(c)
	hub.Join(model.PaymentRoom("p3"), c)

	for _, tc := range []struct {
		event  string
		status string
	}{
		{model.EventPaymentPending, "pending"},
		{model.EventPaymentCompleted, "completed"},
		{model.EventPaymentFailed, "failed"},
	} {
		data, _ := json.Marshal(&model.PaymentEventData{PaymentID: "p3", Status: tc.status})
		cs.handleEvent(&model.BusEvent{
			EventType:   tc.event,
			AggregateID: "p3",
			Data:        data,
		})

		msg := decodePush(t, c)
		assert.Equal(t, model.PushPaymentUpdate, msg.Type)

		var upd model.PaymentStatusUpdate
		require.NoError(t, json.Unmarshal(msg.Data.(json.RawMessage), &upd))
		assert.Equal(t, tc.status, upd.Status)
	}
}

// Payment updates also reach both wallet rooms, so wallet subscribers see
// payment progress without joining the payment room.
func TestConsumer_PaymentEventReachesWalletRooms(t *testing.T) {
	cs, hub := newTestConsumer(t)
	from := newTestClient("user-from", 4)
	to := newTestClient("user-to", 4)
	other := newTestClient("user-other", 4)
	hub.Register(from)
	hub.Register(to)
	hub.Register(other)
	hub.Join(model.WalletRoom("w-from"), from)
	hub.Join(model.WalletRoom("w-to"), to)
	hub.Join(model.WalletRoom("w-other"), other)

	data, _ := json.Marshal(&model.PaymentEventData{
		PaymentID:    "p9",
		Status:       "completed",
		FromWalletID: "w-from",
		ToWalletID:   "w-to",
	})
	cs.handleEvent(&model.BusEvent{
		EventType:   model.EventPaymentCompleted,
		AggregateID: "p9",
		Data:        data,
	})

	for _, c := range []*Client{from, to} {
		msg := decodePush(t, c)
		assert.Equal(t, model.PushPaymentUpdate, msg.Type)
	}
	assert.Empty(t, other.send, "unrelated wallet rooms must not receive the event")
}

// Cash-in style payments have no source wallet; only the destination side
// is notified.
func TestConsumer_PaymentEventSkipsEmptyWalletIDs(t *testing.T) {
	cs, hub := newTestConsumer(t)
	to := newTestClient("user-to", 4)
	hub.Register(to)
	hub.Join(model.WalletRoom("w-to"), to)

	data, _ := json.Marshal(&model.PaymentEventData{
		PaymentID:  "p9",
		Status:     "pending",
		ToWalletID: "w-to",
	})
	cs.handleEvent(&model.BusEvent{
		EventType:   model.EventPaymentPending,
		AggregateID: "p9",
		Data:        data,
	})

	assert.Len(t, to.send, 1)
}

func TestConsumer_UnknownEventIgnored(t *testing.T) {
	cs, hub := newTestConsumer(t)
	c := newTestClient("user-a", 4)
	hub.Register(c)
	hub.Join(model.WalletRoom("w1"), c)

	cs.handleEvent(&model.BusEvent{EventType: "SomethingNew", AggregateID: "w1"})
	assert.Empty(t, c.send)
}

func TestConsumer_MalformedPayloadDropped(t *testing.T) {
	cs, hub := newTestConsumer(t)
	c := newTestClient("user-a", 4)
	hub.Register(c)
	hub.Join(model.WalletRoom("w1"), c)

	cs.handleRaw([]byte("not json"))
	cs.handleEvent(&model.BusEvent{
		EventType:   model.EventWalletCredited,
		AggregateID: "w1",
		Data:        json.RawMessage(`"nope"`),
	})
	assert.Empty(t, c.send)
}
