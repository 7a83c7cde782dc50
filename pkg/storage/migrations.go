package storage

// migration is one versioned schema step. Versions sort lexicographically;
// keep the zero-padded numeric prefix when adding entries.
type migration struct {
	version string
	sql     string
}

// Timestamp columns hold fixed-width UTC strings so lexicographic comparison
// in SQL matches chronological order. The repository owns the format.
var migrations = []migration{
	{
		version: "0001_init",
		sql: `
CREATE TABLE IF NOT EXISTS nodes (
    node_id            TEXT PRIMARY KEY,
    display_name       TEXT NOT NULL,
    ip                 TEXT NOT NULL,
    port               INTEGER NOT NULL,
    status             TEXT NOT NULL,
    capabilities_json  TEXT NOT NULL,
    metrics_json       TEXT NOT NULL,
    policy_json        TEXT NOT NULL,
    last_seen          TEXT NOT NULL,
    created_at         TEXT NOT NULL,
    updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id           TEXT PRIMARY KEY,
    type         TEXT NOT NULL,
    status       TEXT NOT NULL,
    error        TEXT,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    started_at   TEXT,
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS tasks (
    id               TEXT PRIMARY KEY,
    job_id           TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    type             TEXT NOT NULL,
    payload_json     TEXT NOT NULL,
    status           TEXT NOT NULL,
    assigned_node_id TEXT,
    retries          INTEGER NOT NULL DEFAULT 0,
    max_retries      INTEGER NOT NULL DEFAULT 2,
    lease_expires_at TEXT,
    error            TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    started_at       TEXT,
    completed_at     TEXT
);

CREATE TABLE IF NOT EXISTS results (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id     TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
    node_id     TEXT NOT NULL,
    success     INTEGER NOT NULL,
    output_json TEXT,
    duration_ms INTEGER NOT NULL,
    created_at  TEXT NOT NULL
);
`,
	},
	{
		version: "0002_indexes",
		sql: `
CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status);
CREATE INDEX IF NOT EXISTS idx_nodes_last_seen ON nodes(last_seen);
CREATE INDEX IF NOT EXISTS idx_tasks_job_id ON tasks(job_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assigned_node_id ON tasks(assigned_node_id);
CREATE INDEX IF NOT EXISTS idx_tasks_lease_expires_at ON tasks(lease_expires_at);
CREATE INDEX IF NOT EXISTS idx_results_task_id ON results(task_id);
CREATE INDEX IF NOT EXISTS idx_results_node_id ON results(node_id);
CREATE INDEX IF NOT EXISTS idx_results_created_at ON results(created_at);
`,
	},
}
