package events

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalKeepsType(t *testing.T) {
	ev := New(SessionAdmitted, map[string]interface{}{"sessionId": "s-1", "queuePosition": 2})

	raw, err := Marshal(ev)
	require.NoError(t, err)

	got, err := Unmarshal(raw)
	require.NoError(t, err)
	assert.Equal(t, SessionAdmitted, got.EventType())
	assert.Equal(t, "s-1", String(got, "sessionId"))

	pos, ok := Int(got, "queuePosition")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok = Int(got, "missing")
	assert.False(t, ok)
}

func TestUnmarshalRejectsUntyped(t *testing.T) {
	_, err := Unmarshal([]byte(`{"data":{}}`))
	assert.Error(t, err)
}

func TestChannelBusDelivers(t *testing.T) {
	bus := NewChannelBus(watermill.NopLogger{})
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Event, 1)
	require.NoError(t, bus.Subscribe(ctx, func(_ context.Context, ev Event) error {
		received <- ev
		return nil
	}))

	require.NoError(t, bus.Publish(ctx, New(MessageRelayed, map[string]interface{}{"text": "Привіт"})))

	select {
	case ev := <-received:
		assert.Equal(t, MessageRelayed, ev.EventType())
		assert.Equal(t, "Привіт", String(ev, "text"))
	case <-time.After(2 * time.Second):
		t.Fatal("event was not delivered")
	}
}
