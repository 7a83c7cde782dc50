/*
Package log provides structured logging for EdgeMesh using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

EdgeMesh's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("monitor")                 │          │
	│  │  - WithNodeID("mac-mini-01")                │          │
	│  │  - WithJobID("job-abc123")                  │          │
	│  │  - WithTaskID("task-def456")                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "monitor",                  │          │
	│  │    "time": "2026-03-02T10:30:00Z",         │          │
	│  │    "message": "task lease reclaimed"        │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF task lease reclaimed component=monitor │   │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all EdgeMesh packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithNodeID: Add node ID context
  - WithJobID: Add job ID context
  - WithTaskID: Add task ID context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Scoring candidate: CPU=22%, running=1"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Job created: EMBEDDINGS (10 tasks)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Node marked STALE (no heartbeat for 16s)"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to persist result: database is locked"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Cannot open database: %v"

# Usage

Initializing the Logger:

	import "github.com/edgemesh/edgemesh/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/edgemesh.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("Coordinator initialized successfully")
	log.Debug("Scanning for expired leases")
	log.Warn("High retry rate detected")
	log.Error("Failed to open event stream")
	log.Fatal("Cannot start without database") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("job_id", "job-123").
		Int("task_count", 10).
		Msg("Job created")

	log.Logger.Error().
		Err(err).
		Str("node_id", "rpi-01").
		Msg("Heartbeat rejected")

Component Loggers:

	// Create component-specific logger
	monitorLog := log.WithComponent("monitor")
	monitorLog.Info().Msg("Starting stale scan loop")
	monitorLog.Debug().Str("node_id", "rpi-01").Msg("Node still fresh")

	// Multiple context fields
	taskLog := log.WithComponent("repository").
		With().Str("node_id", "rpi-01").
		Str("task_id", "task-123").Logger()
	taskLog.Info().Msg("Task leased")
	taskLog.Error().Err(err).Msg("Result rejected")

Context Logger Helpers:

	// Node-specific logs
	nodeLog := log.WithNodeID("mac-mini-01")
	nodeLog.Info().Msg("Node registered")

	// Job-specific logs
	jobLog := log.WithJobID("job-xyz789")
	jobLog.Info().Msg("Job completed")

	// Task-specific logs
	taskLog := log.WithTaskID("task-def456")
	taskLog.Info().Msg("Task requeued")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/edgemesh/edgemesh/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("EdgeMesh starting")

		// Component-specific logging
		monitorLog := log.WithComponent("monitor")
		monitorLog.Info().
			Str("node_id", "rpi-01").
			Int("reclaimed", 2).
			Msg("Expired leases returned to queue")

		// Error logging
		err := errors.New("database is locked")
		log.Logger.Error().
			Err(err).
			Str("component", "storage").
			Msg("Failed to persist heartbeat")

		log.Info("EdgeMesh stopped")
	}

# Integration Points

This package integrates with:

  - pkg/coordinator: Logs process lifecycle and component startup
  - pkg/repository: Logs registry and dispatch decisions
  - pkg/monitor: Logs staleness demotions and lease reclaims
  - pkg/api: Logs HTTP requests and stream lifecycle
  - pkg/metrics: Logs collector lifecycle

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"coordinator","time":"2026-03-02T10:30:00Z","message":"Coordinator started"}
	{"level":"info","component":"repository","job_id":"job-123","time":"2026-03-02T10:30:01Z","message":"Job created"}
	{"level":"error","component":"api","node_id":"rpi-01","error":"node not found","time":"2026-03-02T10:30:02Z","message":"Heartbeat rejected"}

Console Format (Development):

	10:30:00 INF Coordinator started component=coordinator
	10:30:01 INF Job created component=repository job_id=job-123
	10:30:02 ERR Heartbeat rejected component=api node_id=rpi-01 error="node not found"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides stack trace information
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Throughput:
  - JSON: ~2M log lines per second
  - Console: ~1M log lines per second
  - Bottleneck: I/O write speed
  - Heartbeat-heavy clusters should stay at Info level

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production with many heartbeating nodes
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Check: Embedded quotes or control characters
  - Solution: Use .Str() instead of string interpolation

# Log Rotation

File-Based Logging:

EdgeMesh doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/edgemesh
	/var/log/edgemesh/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u edgemesh -f

# Security

Log Content:
  - Never log the shared secret or request headers
  - Redact tokens and credentials from payloads
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() for stack traces
  - Include context (node ID, job ID, task ID)

Don't:
  - Log sensitive data (shared secrets, payload contents)
  - Use Debug level in production
  - Log per-heartbeat at Info on large fleets
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
