package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(RunChannel("run-1"))
	defer sub.Close()

	bus.Publish(Event{Type: EventTypeNodeStarted, RunID: "run-1", Timestamp: time.Now()})

	select {
	case evt := <-sub.Events():
		assert.Equal(t, EventTypeNodeStarted, evt.Type)
	case <-time.After(time.Second):
		t.Fatal("expected event, got none")
	}
}

func TestBus_PublishIgnoresOtherChannels(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(RunChannel("run-1"))
	defer sub.Close()

	bus.Publish(Event{Type: EventTypeNodeStarted, RunID: "run-2", Timestamp: time.Now()})

	select {
	case evt := <-sub.Events():
		t.Fatalf("unexpected event delivered: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_DropsOnFullQueueWithoutBlocking(t *testing.T) {
	bus := NewBus(1)
	sub := bus.Subscribe(RunChannel("run-1"))
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(Event{Type: EventTypeProgress, RunID: "run-1", Timestamp: time.Now()})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
}

func TestBus_CloseRemovesSubscriber(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe(RunChannel("run-1"))
	require.Equal(t, 1, bus.SubscriberCount(RunChannel("run-1")))

	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount(RunChannel("run-1")))

	_, ok := <-sub.Events()
	assert.False(t, ok, "subscriber channel should be closed")
}
