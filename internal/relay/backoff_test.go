package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthpay-gateway/internal/conf"
)

func TestBackoff_DoublesUpToCap(t *testing.T) {
	b := NewBackoff(&conf.Reconnect{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 10})

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for _, w := range want {
		d, err := b.Next()
		require.NoError(t, err)
		assert.Equal(t, w, d)
	}
}

func TestBackoff_Exhaustion(t *testing.T) {
	b := NewBackoff(&conf.Reconnect{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 3})

	for i := 0; i < 3; i++ {
		_, err := b.Next()
		require.NoError(t, err)
	}
	_, err := b.Next()
	assert.ErrorIs(t, err, ErrBackoffExhausted)
}

func TestBackoff_ResetRestartsSequence(t *testing.T) {
	b := NewBackoff(&conf.Reconnect{Base: time.Second, Max: 30 * time.Second, MaxAttempts: 5})

	_, _ = b.Next()
	_, _ = b.Next()
	b.Reset()

	d, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}
