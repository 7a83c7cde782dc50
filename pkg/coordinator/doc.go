/*
Package coordinator assembles and runs the whole server process.

A Coordinator owns every long-lived component: the SQLite store, the
repository, the event broker, the staleness and lease monitors, the
metrics collector, and the HTTP API. It exists so that cmd/edgemesh
and the integration tests construct the process the same way, from a
single Config, with one Start and one Stop.

# Architecture

	┌───────────────────── COORDINATOR ─────────────────────┐
	│                                                         │
	│   config.Config                                         │
	│        │                                                │
	│        ▼                                                │
	│   storage.Open ──► Migrate                              │
	│        │                                                │
	│        ▼                                                │
	│   repository.New ◄── events.NewBroker                   │
	│        │                                                │
	│        ├──► monitor.NewStaleMonitor   (status sweeps)   │
	│        ├──► monitor.NewLeaseMonitor   (task recovery)   │
	│        ├──► metrics.NewCollector      (gauge polling)   │
	│        └──► api.NewServer             (HTTP surface)    │
	│                                                         │
	└─────────────────────────────────────────────────────────┘

Construction is eager and fallible; New opens the database and applies
pending migrations before returning. Start is infallible and only
launches goroutines. A failure of the HTTP listener after Start is
asynchronous and surfaces on Err.

# Lifecycle

Startup order:

 1. Monitors (so sweeps cover any rows restored from disk)
 2. Metrics collector
 3. HTTP listener, in its own goroutine

Shutdown reverses it with a 10 second ceiling:

 1. HTTP server drains inflight requests
 2. Collector stops
 3. Monitors stop
 4. Store closes

Stop is safe to call after a listener failure; the API shutdown is
logged but never blocks the rest of the teardown.

# Usage

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(cfg)
	if err != nil {
		return err
	}
	coord.Start()

	select {
	case err := <-coord.Err():
		log.Error().Err(err).Msg("API server failed")
	case <-ctx.Done():
	}

	return coord.Stop()

In Tests:

	cfg := config.Default()
	cfg.Port = freePort(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "coordinator.db")

	coord, err := coordinator.New(cfg)
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}
	coord.Start()
	t.Cleanup(func() { _ = coord.Stop() })

Repository() exposes the data layer so tests can assert on state
directly instead of going through HTTP.

# Integration Points

This package integrates with:

  - pkg/config: The single source of ports, paths and intervals
  - pkg/storage: Opened and migrated during New
  - pkg/repository: Built over store + broker, handed to everything
  - pkg/monitor: Staleness and lease recovery loops
  - pkg/metrics: Collector plus component health registration
  - pkg/api: The HTTP surface, started last

# Design Patterns

Composition Root Pattern:
  - The only place the full object graph is wired
  - Every other package receives its dependencies

Fallible New, Infallible Start:
  - New does I/O and can fail; Start cannot
  - Callers decide when goroutines begin

Error Channel Pattern:
  - Err() carries at most one fatal listener error
  - main selects on it next to the signal context

# Troubleshooting

Process Exits Immediately:
  - Symptom: New returns an error before Start
  - Check: DB path writable, no other process holding the file
  - Check: Migration failure details in the wrapped error

Port Conflicts:
  - Symptom: Err() fires right after Start
  - Check: ListenAddr already bound by another process

Slow Shutdown:
  - Symptom: Stop takes the full 10 seconds
  - Cause: Open SSE streams count as inflight requests
  - Note: The drain deadline bounds it; streams are then severed

# See Also

  - cmd/edgemesh for the serve command built on this package
  - pkg/monitor for what the background loops enforce
  - pkg/api for the HTTP surface lifecycle
*/
package coordinator
