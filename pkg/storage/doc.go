/*
Package storage provides SQLite-backed state persistence for EdgeMesh's cluster data.

The storage package owns the coordinator's single database file: opening it with
the right pragmas, applying versioned schema migrations, and handing the
connection to the repository layer. Nodes, jobs, tasks, and results all live in
one SQLite file with WAL journaling, so a coordinator is a single binary plus a
single file on disk.

# Architecture

EdgeMesh uses SQLite (modernc.org/sqlite, pure Go) for embedded, transactional
storage with zero external services:

	┌──────────────────── SQLITE STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Store                           │          │
	│  │  - Opens/creates the database file          │          │
	│  │  - Connection pragmas (WAL, busy_timeout)   │          │
	│  │  - Single connection (MaxOpenConns=1)       │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Migrations                        │          │
	│  │  - Versioned, ordered, idempotent           │          │
	│  │  - Each applied in its own transaction      │          │
	│  │  - Recorded in schema_migrations            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Schema                          │          │
	│  │                                              │          │
	│  │  nodes:    registry row per worker          │          │
	│  │            (capabilities/metrics/policy     │          │
	│  │             as JSON columns)                 │          │
	│  │  jobs:     one row per submitted job        │          │
	│  │  tasks:    N rows per job, lease columns    │          │
	│  │  results:  append-only execution reports    │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Store:
  - Wraps *sql.DB for the coordinator's database
  - Open(path) creates parent directories and verifies connectivity
  - ":memory:" path for throwaway test databases
  - DB() exposes the handle to the repository layer

Migrations:
  - Ordered list of versioned SQL steps
  - Migrate(ctx) applies whatever is missing, returns applied versions
  - Pending(ctx) previews without applying (used by the migrate tool)
  - schema_migrations table records completion

Schema Tables:
  - nodes: One row per registered worker, JSON columns for the
    capability/metrics/policy documents
  - jobs: Parent records with status and completion timestamps
  - tasks: Child records carrying retries, lease expiry, assignment
  - results: Append-only log of every submitted execution report

# Connection Pragmas

The DSN sets four pragmas on open:

  - busy_timeout(5000): Writers wait up to 5s instead of failing
    immediately with SQLITE_BUSY
  - journal_mode(WAL): Readers never block the writer
  - foreign_keys(1): tasks.job_id and results.task_id enforced
  - synchronous(NORMAL): Safe with WAL, much faster than FULL

The pool is pinned to one connection. SQLite serializes writers anyway;
a single connection keeps Go-side transactions from deadlocking against
the driver's own pool.

# Usage

Opening a Store:

	import "github.com/edgemesh/edgemesh/pkg/storage"

	store, err := storage.Open("/var/lib/edgemesh/coordinator.db")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Applying Migrations:

	applied, err := store.Migrate(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range applied {
		fmt.Printf("applied %s\n", v)
	}

Previewing Migrations:

	pending, err := store.Pending(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	if len(pending) == 0 {
		fmt.Println("schema is current")
	}

In-Memory Database (tests):

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}

# Timestamp Convention

All timestamp columns are TEXT holding fixed-width UTC strings. The
repository owns the format and renders every time.Time through one
helper, so lexicographic comparison in SQL (lease_expires_at <= ?) is
also chronological comparison. SQLite has no native datetime type;
fixing the format at one layer keeps every query correct.

# Integration Points

This package integrates with:

  - pkg/repository: Runs all queries through Store.DB()
  - pkg/coordinator: Opens and migrates the store at startup
  - cmd/edgemesh-migrate: Standalone migration tool with backup/dry-run

# Design Patterns

Versioned Migration Pattern:
  - Schema changes only ever append a new migration
  - Old coordinators upgrade by replaying missing versions
  - Each migration transactional: applies fully or not at all

Single Writer Pattern:
  - MaxOpenConns(1) makes the Go pool mirror SQLite's writer model
  - busy_timeout absorbs the rare contention from external readers

JSON Column Pattern:
  - Capability, metrics, and policy documents stored as JSON text
  - Schema stays stable as these documents grow fields
  - Queried columns (status, last_seen, lease_expires_at) stay relational

# Performance Characteristics

Write Performance:
  - Single insert/update: ~100µs (WAL, synchronous=NORMAL)
  - Transaction batch: Thousands of rows per second
  - Bottleneck: fsync frequency on the WAL

Read Performance:
  - Point lookups: ~10µs (primary key)
  - List queries: Indexed on status, job_id, lease_expires_at
  - Readers never block the writer under WAL

Scale Envelope:
  - Designed for LAN fleets: tens of nodes, thousands of tasks
  - A Raspberry Pi class coordinator sustains hundreds of
    pulls/results per second on flash storage

# Troubleshooting

Common Issues:

Database Is Locked:
  - Symptom: "database is locked" errors
  - Cause: External process holding a write transaction
  - Check: Other tools opened without busy_timeout
  - Solution: Close external connections; the 5s busy_timeout
    covers brief overlap

Migration Fails Midway:
  - Symptom: Migrate returns an error naming a version
  - Effect: That version rolled back; earlier ones remain applied
  - Solution: Fix the cause and re-run; completed versions are skipped

Corrupt Database:
  - Symptom: "database disk image is malformed"
  - Cause: Filesystem corruption, power loss on non-journaled media
  - Solution: Restore the .backup the migrate tool writes, or
    re-register nodes against a fresh file

WAL File Grows:
  - Symptom: coordinator.db-wal keeps growing
  - Cause: A long-lived read transaction pinning the WAL
  - Solution: Find the held statement; checkpointing resumes once
    readers finish

# Best Practices

Do:
  - Run migrations before serving traffic (coordinator.New does)
  - Back up the file before schema upgrades (the migrate tool does)
  - Keep the database on local storage, not network mounts
  - Use ":memory:" in tests for speed and isolation

Don't:
  - Open the live file from other processes while the coordinator runs
  - Edit schema_migrations by hand
  - Reorder or rewrite existing migration entries

# See Also

  - pkg/repository for the queries that run against this schema
  - cmd/edgemesh-migrate for operational schema management
  - SQLite WAL mode: https://www.sqlite.org/wal.html
  - modernc.org/sqlite: https://pkg.go.dev/modernc.org/sqlite
*/
package storage
