package relay

import (
	"os"
	"testing"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthpay-gateway/internal/metrics"
	"healthpay-gateway/internal/model"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	return NewHub(metrics.New(), log.NewStdLogger(os.Stdout))
}

func newTestClient(userID string, buffer int) *Client {
	return &Client{
		send:   make(chan []byte, buffer),
		userID: userID,
		rooms:  make(map[string]struct{}),
	}
}

func recv(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case payload := <-c.send:
		return payload
	default:
		t.Fatal("expected a queued message")
		return nil
	}
}

func TestHub_BroadcastReachesRoomMembers(t *testing.T) {
	hub := newTestHub(t)
	a := newTestClient("user-a", 4)
	b := newTestClient("user-b", 4)
	c := newTestClient("user-c", 4)
	hub.Register(a)
	hub.Register(b)
	hub.Register(c)

	hub.Join(model.WalletRoom("w1"), a)
	hub.Join(model.WalletRoom("w1"), b)
	hub.Join(model.WalletRoom("w2"), c)

	hub.Broadcast(model.WalletRoom("w1"), &model.PushMessage{
		Type: model.PushBalanceUpdate,
		Data: &model.BalanceUpdate{WalletID: "w1", Balance: 100},
	})

	assert.Contains(t, string(recv(t, a)), "balance_update")
	assert.Contains(t, string(recv(t, b)), "balance_update")
	assert.Empty(t, c.send, "other rooms must not receive the event")
}

func TestHub_LeaveStopsDelivery(t *testing.T) {
	hub := newTestHub(t)
	a := newTestClient("user-a", 4)
	hub.Register(a)
	hub.Join(model.PaymentRoom("p1"), a)
	hub.Leave(model.PaymentRoom("p1"), a)

	hub.Broadcast(model.PaymentRoom("p1"), &model.PushMessage{Type: model.PushPaymentUpdate})
	assert.Empty(t, a.send)
}

// A subscriber with a full buffer is dropped rather than blocking the room.
func TestHub_SlowConsumerDropped(t *testing.T) {
	hub := newTestHub(t)
	slow := newTestClient("user-slow", 1)
	fast := newTestClient("user-fast", 4)
	hub.Register(slow)
	hub.Register(fast)
	hub.Join(model.WalletRoom("w1"), slow)
	hub.Join(model.WalletRoom("w1"), fast)

	msg := &model.PushMessage{Type: model.PushBalanceUpdate}
	hub.Broadcast(model.WalletRoom("w1"), msg)
	hub.Broadcast(model.WalletRoom("w1"), msg)

	connections, _ := hub.Stats()
	assert.Equal(t, 1, connections, "slow consumer should be unregistered")

	// The fast consumer keeps receiving.
	require.Len(t, fast.send, 2)
}

func TestHub_UnregisterIsIdempotent(t *testing.T) {
	hub := newTestHub(t)
	a := newTestClient("user-a", 4)
	hub.Register(a)
	hub.Join(model.UserRoom("user-a"), a)

	hub.Unregister(a)
	hub.Unregister(a)

	connections, rooms := hub.Stats()
	assert.Equal(t, 0, connections)
	assert.Equal(t, 0, rooms)
}

func TestHub_EmptyRoomsAreRemoved(t *testing.T) {
	hub := newTestHub(t)
	a := newTestClient("user-a", 4)
	hub.Register(a)
	hub.Join(model.WalletRoom("w1"), a)

	_, rooms := hub.Stats()
	require.Equal(t, 1, rooms)

	hub.Leave(model.WalletRoom("w1"), a)
	_, rooms = hub.Stats()
	assert.Equal(t, 0, rooms)
}
