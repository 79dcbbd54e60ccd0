package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, sub *Subscriber) Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestPublishReachesOnlyMatchingRoom(t *testing.T) {
	bus := NewBus(8, nil)
	defer bus.Close()

	a, err := bus.Subscribe("org-a")
	require.NoError(t, err)
	b, err := bus.Subscribe("org-b")
	require.NoError(t, err)

	bus.Publish("org-a", KindNotificationsUpdate)

	ev := recvEvent(t, a)
	assert.Equal(t, KindNotificationsUpdate, ev.Kind)

	select {
	case ev := <-b.Events():
		t.Fatalf("org-b should not receive org-a events, got %v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRoomPreservesSendOrder(t *testing.T) {
	bus := NewBus(16, nil)
	defer bus.Close()

	sub, err := bus.Subscribe("org-a")
	require.NoError(t, err)

	bus.Publish("org-a", KindNotificationsUpdate)
	bus.Publish("org-a", KindIntegrationsUpdate)
	bus.Publish("org-a", KindNotificationsUpdate)

	assert.Equal(t, KindNotificationsUpdate, recvEvent(t, sub).Kind)
	assert.Equal(t, KindIntegrationsUpdate, recvEvent(t, sub).Kind)
	assert.Equal(t, KindNotificationsUpdate, recvEvent(t, sub).Kind)
}

func TestSlowConsumerDropsOldest(t *testing.T) {
	bus := NewBus(2, nil)
	defer bus.Close()

	sub, err := bus.Subscribe("org-a")
	require.NoError(t, err)

	// Fill the queue past its depth without draining.
	for i := 0; i < 10; i++ {
		bus.Publish("org-a", KindNotificationsUpdate)
	}
	bus.Publish("org-a", KindIntegrationsUpdate)

	// Give the dispatcher time to process.
	time.Sleep(100 * time.Millisecond)

	// The queue holds at most 2 events and the newest survived.
	var got []Event
	for {
		select {
		case ev := <-sub.Events():
			got = append(got, ev)
			continue
		default:
		}
		break
	}
	require.NotEmpty(t, got)
	assert.LessOrEqual(t, len(got), 2)
	assert.Equal(t, KindIntegrationsUpdate, got[len(got)-1].Kind)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(8, nil)
	defer bus.Close()

	sub, err := bus.Subscribe("org-a")
	require.NoError(t, err)
	bus.Unsubscribe(sub)

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestPublishToEmptyRoomDoesNotBlock(t *testing.T) {
	bus := NewBus(8, nil)
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish("nobody-home", KindNotificationsUpdate)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on an empty room")
	}
}
