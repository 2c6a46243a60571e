package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchSubject(t *testing.T) {
	tests := []struct {
		pattern string
		subject string
		want    bool
	}{
		{"get.customers", "get.customers", true},
		{"get.customers", "get.customers.41", false},
		{"get.customers.*", "get.customers.41", true},
		{"get.customers.*", "get.customers", false},
		{"get.*.41", "get.customers.41", true},
		{"get.>", "get.customers.41", true},
		{"get.>", "get", false},
		{">", "pipeline.logging", true},
		{"pipeline.logging", "pipeline.metrics", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"|"+tt.subject, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchSubject(tt.pattern, tt.subject))
		})
	}
}

func TestMemoryBus_RequestReply(t *testing.T) {
	b := NewMemoryBus(WithRecording())
	_, err := b.Handle("get.customers.*", func(msg *Message) []byte {
		return append([]byte("reply:"), msg.Data...)
	})
	require.NoError(t, err)

	reply, err := b.Request(context.Background(), "get.customers.41", []byte("ping"), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "reply:ping", string(reply.Data))
}

func TestMemoryBus_RequestNoResponders(t *testing.T) {
	b := NewMemoryBus(WithRecording())

	_, err := b.Request(context.Background(), "get.nothing", nil, time.Second)
	assert.ErrorIs(t, err, ErrNoResponders)
}

func TestMemoryBus_RequestTimeout(t *testing.T) {
	b := NewMemoryBus(WithRecording())
	_, err := b.QueueSubscribe(context.Background(), "slow", "", func(ctx context.Context, msg *Message) {})
	require.NoError(t, err)

	_, err = b.Request(context.Background(), "slow", nil, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMemoryBus_Unhealthy(t *testing.T) {
	b := NewMemoryBus(WithRecording())
	b.SetHealthy(false)

	assert.False(t, b.IsHealthy())
	assert.Equal(t, StatusDisconnected, b.Status())
	assert.ErrorIs(t, b.Publish(context.Background(), "x", nil), ErrNotConnected)

	_, err := b.Request(context.Background(), "x", nil, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMemoryBus_QueueGroupDeliversOnce(t *testing.T) {
	b := NewMemoryBus(WithRecording())

	var mu sync.Mutex
	counts := map[string]int{}
	sub := func(name string) MessageHandler {
		return func(ctx context.Context, msg *Message) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		}
	}

	_, err := b.QueueSubscribe(context.Background(), "pipeline.logging", "workers", sub("a"))
	require.NoError(t, err)
	_, err = b.QueueSubscribe(context.Background(), "pipeline.logging", "workers", sub("b"))
	require.NoError(t, err)
	_, err = b.QueueSubscribe(context.Background(), "pipeline.logging", "", sub("tap"))
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Publish(context.Background(), "pipeline.logging", []byte("x")))
	}
	b.Flush()

	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 2, counts["b"])
	assert.Equal(t, 4, counts["tap"])
}

func TestMemoryBus_UnsubscribeAndRecorder(t *testing.T) {
	b := NewMemoryBus(WithRecording())
	received := 0
	sub, err := b.QueueSubscribe(context.Background(), "a.b", "", func(ctx context.Context, msg *Message) {
		received++
	})
	require.NoError(t, err)
	assert.Equal(t, "a.b", sub.Subject())

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, b.Publish(context.Background(), "a.b", []byte("1")))
	b.Flush()

	assert.Zero(t, received)
	require.Len(t, b.MessagesOn("a.b"), 1)
	assert.Equal(t, "1", string(b.MessagesOn("a.b")[0].Data))
}

func TestMemoryBus_Close(t *testing.T) {
	b := NewMemoryBus(WithRecording())
	require.NoError(t, b.Close(context.Background()))
	require.NoError(t, b.Close(context.Background()))

	assert.False(t, b.IsHealthy())
	_, err := b.QueueSubscribe(context.Background(), "x", "", func(context.Context, *Message) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "connected", StatusConnected.String())
	assert.Equal(t, "reconnecting", StatusReconnecting.String())
	assert.Equal(t, "unknown", ConnectionStatus(42).String())
}

func TestMemoryBus_RetainsNothingWithoutRecording(t *testing.T) {
	b := NewMemoryBus()
	_, err := b.Handle("get.x", func(msg *Message) []byte { return []byte("ok") })
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, b.Publish(context.Background(), "pipeline.logging", []byte("x")))
		_, err := b.Request(context.Background(), "get.x", nil, time.Second)
		require.NoError(t, err)
	}
	b.Flush()

	assert.Empty(t, b.Messages())
}
