// Package bus fans protocol events out to realtime subscribers, one
// subscription list per instance. Publishing never blocks: subscribers
// that fall behind their buffer simply miss events.
package bus

import (
	"sync"
	"time"
)

// EventType identifies what a published Event carries.
type EventType string

const (
	EventQR           EventType = "qr"
	EventPairingCode  EventType = "pairing_code"
	EventReady        EventType = "ready"
	EventDisconnected EventType = "disconnected"
	EventLoggedOut    EventType = "logged_out"
	EventMessage      EventType = "message"
	EventMessageAck   EventType = "message_ack"
	EventCall         EventType = "call"
	EventHistorySync  EventType = "history_sync"
	// EventStatus is only synthesized for the initial WebSocket snapshot.
	EventStatus EventType = "status"
)

// Event is the unit delivered to subscribers, JSON-ready for the wire.
type Event struct {
	Type       EventType `json:"type"`
	InstanceID string    `json:"instanceId"`
	Data       any       `json:"data"`
	Timestamp  int64     `json:"timestamp"`
}

const subscriberBuffer = 100

type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

func New() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

// Subscribe returns a new buffered channel that receives every event
// published for the given instance. The caller must Unsubscribe when done.
func (b *Bus) Subscribe(instanceID string) chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[instanceID] = append(b.subs[instanceID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Channels not obtained from Subscribe
// for this instance are ignored.
func (b *Bus) Unsubscribe(instanceID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[instanceID]
	for i, sub := range subs {
		if sub == ch {
			b.subs[instanceID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}
	if len(b.subs[instanceID]) == 0 {
		delete(b.subs, instanceID)
	}
}

// Publish stamps the event and delivers it to every subscriber of its
// instance. Full subscriber buffers drop the event rather than block.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = time.Now().Unix()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[evt.InstanceID] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// SubscriberCount reports how many channels are attached to an instance.
func (b *Bus) SubscriberCount(instanceID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[instanceID])
}
