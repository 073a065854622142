package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesMatchingType(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(HostUpdated)
	defer cancel()

	bus.Publish(Event{Type: HostUpdated, HostID: "h1"})

	select {
	case ev := <-ch:
		assert.Equal(t, HostUpdated, ev.Type)
		assert.Equal(t, "h1", ev.HostID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event")
	}
}

func TestSubscribeFiltersOtherTypes(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(ProcessMetrics)
	defer cancel()

	bus.Publish(Event{Type: HostUpdated, HostID: "h1"})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeAllTypes(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Event{Type: HostUpdated})
	bus.Publish(Event{Type: ProcessError})

	require.Equal(t, HostUpdated, (<-ch).Type)
	require.Equal(t, ProcessError, (<-ch).Type)
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(HostUpdated)

	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())

	// Cancel twice is safe
	cancel()
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	_, cancel := bus.Subscribe(HostUpdated)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			bus.Publish(Event{Type: HostUpdated})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
