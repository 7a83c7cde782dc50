package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/log"
	"github.com/edgemesh/edgemesh/pkg/storage"
	"github.com/edgemesh/edgemesh/pkg/types"
)

var (
	// ErrNotFound is returned when a node, job or task does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned for an illegal operator job transition
	ErrConflict = errors.New("conflict")
)

// timeLayout is fixed-width UTC so lexicographic comparison of stored
// strings matches chronological order. RFC3339Nano trims trailing zeros and
// would break SQL range scans on these columns.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// newID builds ids like job-3f9a2c81d04e: a prefix plus twelve hex chars
func newID(prefix string) string {
	u := uuid.New()
	return prefix + "-" + hex.EncodeToString(u[:])[:12]
}

// Options tunes the repository's leasing and staleness behavior
type Options struct {
	StaleAfter    time.Duration
	OfflineAfter  time.Duration
	LeaseDuration time.Duration
	HistoryLimit  int
}

func (o Options) withDefaults() Options {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 15 * time.Second
	}
	if o.OfflineAfter <= 0 {
		o.OfflineAfter = 60 * time.Second
	}
	if o.LeaseDuration <= 0 {
		o.LeaseDuration = 30 * time.Second
	}
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 100
	}
	return o
}

// Repository owns every read and write against the store and publishes
// node_update/job_update events after its transactions commit. Heartbeat
// metrics history is kept in memory only; it is a debugging aid, not state.
type Repository struct {
	store  *storage.Store
	broker *events.Broker
	logger zerolog.Logger
	opts   Options
	now    func() time.Time

	historyMu sync.Mutex
	history   map[string][]types.NodeMetrics
}

// New creates a Repository on an opened, migrated store
func New(store *storage.Store, broker *events.Broker, opts Options) *Repository {
	return &Repository{
		store:   store,
		broker:  broker,
		logger:  log.WithComponent("repository"),
		opts:    opts.withDefaults(),
		now:     time.Now,
		history: make(map[string][]types.NodeMetrics),
	}
}

// SetClock replaces the wall clock, for tests
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// withTx runs fn inside one transaction, rolling back on any error
func (r *Repository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.store.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *Repository) publish(evs ...events.Event) {
	if r.broker == nil {
		return
	}
	for _, ev := range evs {
		r.broker.Publish(ev)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// StatusCounts reports the stored status distribution of jobs and tasks.
// Gauge collectors poll it; enumerating absent statuses is the caller's
// concern.
func (r *Repository) StatusCounts(ctx context.Context) (map[types.JobStatus]int, map[types.TaskStatus]int, error) {
	jobs := make(map[types.JobStatus]int)
	tasks := make(map[types.TaskStatus]int)

	countInto := func(rows *sql.Rows, add func(status string, n int)) error {
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			add(status, n)
		}
		return rows.Err()
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
		if err != nil {
			return fmt.Errorf("failed to count jobs: %w", err)
		}
		if err := countInto(rows, func(status string, n int) { jobs[types.JobStatus(status)] = n }); err != nil {
			return err
		}

		rows, err = tx.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
		if err != nil {
			return fmt.Errorf("failed to count tasks: %w", err)
		}
		return countInto(rows, func(status string, n int) { tasks[types.TaskStatus(status)] = n })
	})
	if err != nil {
		return nil, nil, err
	}
	return jobs, tasks, nil
}
