package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch := b.Subscribe("inst-1")
	defer b.Unsubscribe("inst-1", ch)

	b.Publish(Event{Type: EventReady, InstanceID: "inst-1", Data: "ok"})

	select {
	case evt := <-ch:
		assert.Equal(t, EventReady, evt.Type)
		assert.Equal(t, "inst-1", evt.InstanceID)
		assert.NotZero(t, evt.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBus_PublishWithoutSubscribers(t *testing.T) {
	b := New()
	// Must not block or panic.
	b.Publish(Event{Type: EventMessage, InstanceID: "nobody"})
	assert.Equal(t, 0, b.SubscriberCount("nobody"))
}

func TestBus_PublishIsolatedPerInstance(t *testing.T) {
	b := New()
	chA := b.Subscribe("a")
	chB := b.Subscribe("b")
	defer b.Unsubscribe("a", chA)
	defer b.Unsubscribe("b", chB)

	b.Publish(Event{Type: EventMessage, InstanceID: "a"})

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("subscriber for instance a got nothing")
	}
	select {
	case evt := <-chB:
		t.Fatalf("subscriber for instance b received %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	slow := b.Subscribe("inst")
	fast := b.Subscribe("inst")
	defer b.Unsubscribe("inst", slow)
	defer b.Unsubscribe("inst", fast)

	// Overflow the slow subscriber; nobody drains it.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer+50; i++ {
			b.Publish(Event{Type: EventMessage, InstanceID: "inst", Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	// The fast subscriber still got a full buffer of events.
	received := 0
	for {
		select {
		case <-fast:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer, received)
}

func TestBus_UnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch := b.Subscribe("inst")
	b.Unsubscribe("inst", ch)

	_, open := <-ch
	require.False(t, open)
	assert.Equal(t, 0, b.SubscriberCount("inst"))

	// Unknown channel is a no-op.
	b.Unsubscribe("inst", make(chan Event))
}
