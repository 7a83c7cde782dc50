/*
Package config defines and loads the coordinator's configuration.

One Config struct carries every tunable: listen address, logging,
database path, CORS, the agent shared secret, and the six timing
windows that drive staleness and lease recovery. Values resolve in a
fixed order so operators always know which source wins.

# Resolution Order

 1. Built-in defaults (Default)
 2. YAML file, when a path is given
 3. Environment variables
 4. Command-line flags (applied by cmd/edgemesh)

Later sources override earlier ones field by field. Load performs
steps 1-3 and validates; flags are layered on top by the CLI before
the coordinator is built.

# YAML File

	host: 0.0.0.0
	port: 8000
	log_level: info
	log_json: false
	db_path: coordinator.db
	cors_origins:
	  - http://localhost:5173
	shared_secret: ""

	node_stale_seconds: 15
	heartbeat_ttl_seconds: 60
	task_lease_seconds: 30
	task_poll_seconds: 2
	stale_scan_seconds: 5
	recovery_scan_seconds: 3

# Environment Variables

	COORDINATOR_HOST                    listen host
	COORDINATOR_PORT                    listen port
	COORDINATOR_LOG_LEVEL               debug, info, warn, error
	COORDINATOR_DB_PATH                 SQLite file path
	COORDINATOR_CORS_ORIGINS            comma-separated origins
	EDGE_MESH_SHARED_SECRET             agent-plane secret
	NODE_STALE_SECONDS                  silence before STALE
	COORDINATOR_HEARTBEAT_TTL_SECONDS   silence before OFFLINE
	TASK_LEASE_SECONDS                  lease length for pulled tasks
	TASK_POLL_SECONDS                   poll hint returned to agents
	NODE_STALE_SCAN_SECONDS             staleness sweep period
	TASK_RECOVERY_INTERVAL_SECONDS      lease recovery sweep period

A malformed integer in any of these fails Load rather than being
silently ignored.

# Timing Model

The durations form one coherent liveness model:

	heartbeat ──► node fresh
	   │
	   │  node_stale_seconds of silence
	   ▼
	 STALE  (kept out of scheduling)
	   │
	   │  heartbeat_ttl_seconds of silence (total)
	   ▼
	 OFFLINE

Validate enforces heartbeat_ttl_seconds >= node_stale_seconds so the
two-step decay cannot invert. Sweep periods only bound detection
latency; the thresholds themselves are always measured from the last
heartbeat, so a slow sweep never extends a node's freshness.

Accessors return time.Duration so the rest of the codebase never
multiplies by time.Second itself: StaleAfter, OfflineAfter,
LeaseDuration, StaleScanInterval, RecoveryScanInterval, ListenAddr.

# Usage

	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return err
	}
	fmt.Println(cfg.ListenAddr())

In Tests:

	cfg := config.Default()
	cfg.Port = freePort(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")

Default() is valid as-is; tests shorten the windows when they need
staleness or lease expiry to happen within the test budget, keeping
ttl >= stale.

# Validation

Validate rejects configurations the process cannot run with:

  - port outside [1,65535]
  - empty db_path
  - any non-positive timing window
  - heartbeat_ttl_seconds < node_stale_seconds

It does not reach the network or filesystem; a bad DB path surfaces
later from storage.Open with a more specific error.

# See Also

  - cmd/edgemesh for the flag layer on top of Load
  - pkg/coordinator for how the windows reach each component
  - pkg/monitor for the sweeps driven by the scan intervals
*/
package config
