/*
Package events provides an in-memory event broker for EdgeMesh's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting registry
and job changes to interested subscribers. It supports topic-based subscriptions
with asynchronous event delivery, enabling loose coupling between the repository
that produces state changes and the SSE streams and collectors that consume them.

# Architecture

EdgeMesh's event system provides non-blocking pub/sub messaging with bounded
per-subscriber queues:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-based (node_update, job_update)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → per-topic subscriber set       │          │
	│  │       ↓                                      │          │
	│  │  Subscription queues (buffer: 64 each)      │          │
	│  │       ↓                                      │          │
	│  │  Full queue: oldest event discarded,        │          │
	│  │  Dropped counter incremented                 │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Event Types                       │          │
	│  │                                              │          │
	│  │  node_update:                                │          │
	│  │    - registration, heartbeat                 │          │
	│  │    - policy change                           │          │
	│  │    - STALE / OFFLINE demotion                │          │
	│  │                                              │          │
	│  │  job_update:                                 │          │
	│  │    - creation, progress counts               │          │
	│  │    - completion, failure, cancellation       │          │
	│  └────────────────────────────────────────────┘           │
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  API Server: SSE streams to dashboards      │          │
	│  │  Metrics: Prometheus counters per event     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Event Broker:
  - Central message bus keyed by topic
  - Manages subscriber lifecycle
  - Non-blocking publish (bounded queues)
  - No background goroutine; publish fans out inline

Event:
  - ID: Unique per publish, stamped by the broker
  - Type: Topic (node_update or job_update)
  - NodeID / JobID: The entity the event concerns
  - At: When the event occurred (UTC)
  - Payload: Current view of the node or job
  - Dropped: Cumulative events this subscriber has lost

Subscription:
  - C: Receive-only channel of Event values
  - Buffered (64 events) to handle bursts
  - Created via broker.Subscribe(topic)
  - Closed via broker.Unsubscribe(topic, sub)
  - Dropped() reports losses so far

# Event Flow

Publish Flow:
 1. Publisher calls broker.Publish(event)
 2. Broker looks up the topic's subscriber set under a read lock
 3. Event offered to each subscription queue
 4. Full queue: oldest event discarded, Dropped incremented
 5. Publish returns without ever blocking

Subscribe Flow:
 1. Consumer calls broker.Subscribe(topic)
 2. New bounded queue created and registered
 3. Consumer ranges over sub.C in its own goroutine

Unsubscribe Flow:
 1. Consumer calls broker.Unsubscribe(topic, sub)
 2. Subscription removed from the topic set
 3. Channel closed under the write lock, never racing a publish

# Usage

Creating a Broker:

	import "github.com/edgemesh/edgemesh/pkg/events"

	broker := events.NewBroker()

Subscribing to Events:

	sub := broker.Subscribe(events.EventJobUpdate)
	defer broker.Unsubscribe(events.EventJobUpdate, sub)

	go func() {
		for ev := range sub.C {
			fmt.Printf("Event: %s job=%s\n", ev.Type, ev.JobID)
		}
	}()

Publishing Events:

	broker.Publish(events.JobUpdate("job-123", jobSnapshot))
	broker.Publish(events.NodeUpdate("rpi-01", nodeSnapshot))

Detecting Loss:

	sub := broker.Subscribe(events.EventNodeUpdate)
	defer broker.Unsubscribe(events.EventNodeUpdate, sub)

	for ev := range sub.C {
		if ev.Dropped > 0 {
			// This consumer fell behind at some point; the payload is
			// still the current view, so just note the gap.
			fmt.Printf("lost %d events so far\n", ev.Dropped)
		}
		render(ev)
	}

Complete Example:

	package main

	import (
		"fmt"
		"time"
		"github.com/edgemesh/edgemesh/pkg/events"
	)

	func main() {
		broker := events.NewBroker()

		sub := broker.Subscribe(events.EventJobUpdate)
		defer broker.Unsubscribe(events.EventJobUpdate, sub)

		go func() {
			for ev := range sub.C {
				fmt.Printf("[%s] %s: %s\n",
					ev.At.Format("15:04:05"),
					ev.Type,
					ev.JobID)
			}
		}()

		broker.Publish(events.JobUpdate("job-123", nil))
		broker.Publish(events.JobUpdate("job-456", nil))

		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - pkg/repository: Publishes node and job state changes
  - pkg/api: Bridges subscriptions onto SSE responses
  - pkg/metrics: Counts events and drops for Prometheus

# Design Patterns

Non-Blocking Publish:
  - Publish offers to each bounded queue
  - Returns immediately (no waiting)
  - Oldest events dropped when a queue is full
  - Trade-off: Writers never stall on slow dashboards

Drop-Oldest Overflow:
  - A full queue sheds its oldest entry to admit the new one
  - The newest state always gets through
  - Dropped counter stamped onto subsequent events
  - Consumers can detect and report gaps

Fan-Out Pattern:
  - Single event broadcast to all topic subscribers
  - Each subscriber gets own queue
  - Independent processing rates

Fire-and-Forget:
  - No acknowledgment from subscribers
  - No retry on delivery failure
  - Suitable for monitoring; the database stays the source of truth

# Performance Characteristics

Event Publishing:
  - Latency: < 1µs per subscriber (channel send)
  - Non-blocking: Never waits for consumers
  - Read lock only; subscriptions change rarely

Event Delivery:
  - Buffer: 64 events per subscriber
  - Overflow: Oldest dropped, never newest
  - Concurrent publishers serialize per subscription

Memory Usage:
  - Broker: ~1KB baseline
  - Per subscriber: queue capacity times event size
  - Payloads are pointers to already-built snapshots

Subscriber Count:
  - Recommended: < 100 subscribers (LAN dashboards)
  - Impact: Linear with subscriber count

# Troubleshooting

Common Issues:

Events Not Received:
  - Symptom: Subscriber receives no events
  - Check: Topic matches (node_update vs job_update)
  - Check: Subscriber goroutine draining sub.C
  - Solution: Subscribe to the right topic before changes happen

Events Dropped:
  - Symptom: Dropped counter nonzero on received events
  - Cause: Consumer slower than publish rate
  - Check: sub.Dropped() growth over time
  - Solution: Drain faster; the payload is a full snapshot, so
    skipped intermediate states are recoverable

Send on Closed Channel:
  - Symptom: Panic in a publisher
  - Cause: Unsubscribe raced a publish (should not happen)
  - Check: Unsubscribe goes through the broker, not close(sub.C)
  - Solution: Never close the channel yourself

Memory Leak:
  - Symptom: Increasing memory usage over time
  - Cause: Subscribers not unsubscribed
  - Check: SubscriberCount() grows
  - Solution: Always defer broker.Unsubscribe(topic, sub)

# Use Cases

Live Dashboard Updates:
  - API server subscribes per SSE request
  - Streams node and job snapshots to browsers
  - Users see heartbeats and progress in real time

Metrics Collection:
  - Collector subscribes to both topics
  - Updates Prometheus counters per event
  - Low-overhead monitoring without polling the database

# Limitations

Current Limitations:
  - In-memory only (no persistence)
  - No event replay or history
  - No guaranteed delivery (best effort)
  - No ordering across topics

Workarounds:
  - Persistence: The repository's database is the source of truth
  - History: The repository keeps a per-node ring of recent heartbeats
  - Guaranteed delivery: Poll the REST API instead

# Best Practices

Do:
  - Always defer broker.Unsubscribe(topic, sub)
  - Drain sub.C in a dedicated goroutine
  - Treat payloads as read-only snapshots
  - Watch Dropped() on long-lived consumers

Don't:
  - Block between receives on sub.C
  - Mutate event payloads (shared across subscribers)
  - Rely on event delivery for critical state transitions
  - Close subscription channels directly

# See Also

  - pkg/repository for the state changes that become events
  - pkg/api for SSE streaming
  - Pub/sub pattern: https://en.wikipedia.org/wiki/Publish%E2%80%93subscribe_pattern
*/
package events
