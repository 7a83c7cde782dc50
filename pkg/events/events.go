package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType names a topic on the bus
type EventType string

const (
	EventNodeUpdate EventType = "node_update"
	EventJobUpdate  EventType = "job_update"
)

// QueueSize is the per-subscriber buffer. When a subscriber falls this far
// behind, the oldest queued event is discarded to admit the new one.
const QueueSize = 64

// Event is one bus message. Payload is the current view of the node or job
// the event concerns. Dropped is the cumulative number of events this
// subscriber has lost; it is stamped at enqueue time, so only events queued
// after an overflow carry the updated figure.
type Event struct {
	ID      string      `json:"id"`
	Type    EventType   `json:"type"`
	NodeID  string      `json:"node_id,omitempty"`
	JobID   string      `json:"job_id,omitempty"`
	At      time.Time   `json:"at"`
	Payload interface{} `json:"payload,omitempty"`
	Dropped uint64      `json:"dropped,omitempty"`
}

// NodeUpdate builds a node_update event
func NodeUpdate(nodeID string, payload interface{}) Event {
	return Event{Type: EventNodeUpdate, NodeID: nodeID, At: time.Now().UTC(), Payload: payload}
}

// JobUpdate builds a job_update event
func JobUpdate(jobID string, payload interface{}) Event {
	return Event{Type: EventJobUpdate, JobID: jobID, At: time.Now().UTC(), Payload: payload}
}

// Subscription is one consumer's bounded queue on a single topic
type Subscription struct {
	C <-chan Event

	ch      chan Event
	sendMu  sync.Mutex
	dropped atomic.Uint64
}

// Dropped returns how many events this subscriber has lost so far
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// offer enqueues without ever blocking the publisher. On a full queue the
// oldest event is discarded first. Senders serialize on sendMu, so after one
// discard a slot is guaranteed.
func (s *Subscription) offer(ev Event) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ev.Dropped = s.dropped.Load()
	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
		// Consumer drained concurrently; the retry below will fit.
	}

	ev.Dropped = s.dropped.Load()
	select {
	case s.ch <- ev:
	default:
	}
}

// Broker fans events out to per-topic subscribers. Publish never blocks;
// slow consumers lose their oldest events instead of stalling writers.
type Broker struct {
	mu   sync.RWMutex
	subs map[EventType]map[*Subscription]struct{}
}

// NewBroker creates an empty broker
func NewBroker() *Broker {
	return &Broker{
		subs: make(map[EventType]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new consumer on one topic
func (b *Broker) Subscribe(topic EventType) *Subscription {
	sub := &Subscription{ch: make(chan Event, QueueSize)}
	sub.C = sub.ch

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*Subscription]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	return sub
}

// Unsubscribe removes a consumer and closes its channel. The close happens
// under the write lock, so it never races a publish.
func (b *Broker) Unsubscribe(topic EventType, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[topic]; ok {
		if _, member := set[sub]; member {
			delete(set, sub)
			close(sub.ch)
		}
	}
}

// Publish delivers the event to every subscriber of its topic. Events get an
// id here so retried publishes of the same view stay distinguishable.
func (b *Broker) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[ev.Type] {
		sub.offer(ev)
	}
}

// SubscriberCount returns the number of consumers on a topic
func (b *Broker) SubscriberCount(topic EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
