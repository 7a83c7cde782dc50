package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/types"
)

// defaultMaxRetries is applied to tasks whose spec does not override it
const defaultMaxRetries = 2

const jobColumns = "id, type, status, error, created_at, updated_at, started_at, completed_at"

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		j                      types.Job
		jobType, status        string
		errText                sql.NullString
		createdAt, updatedAt   string
		startedAt, completedAt sql.NullString
	)
	err := row.Scan(&j.ID, &jobType, &status, &errText, &createdAt, &updatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	j.Type = types.TaskType(jobType)
	j.Status = types.JobStatus(status)
	j.Error = errText.String
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if j.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

func getJobTx(ctx context.Context, tx *sql.Tx, jobID string) (*types.Job, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", jobID)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return j, err
}

// deriveJobStatus computes a job's status from its tasks. Stored terminal
// statuses are sticky: an operator cancellation or forced completion never
// reopens because a task report arrives later.
func deriveJobStatus(stored types.JobStatus, tasks []*types.Task) types.JobStatus {
	if stored.Terminal() {
		return stored
	}
	if len(tasks) == 0 {
		return stored
	}

	succeeded := 0
	failed := false
	started := false
	for _, t := range tasks {
		switch t.Status {
		case types.TaskStatusSucceeded:
			succeeded++
		case types.TaskStatusFailed:
			failed = true
		}
		if t.Status == types.TaskStatusRunning || t.StartedAt != nil {
			started = true
		}
	}

	switch {
	case succeeded == len(tasks):
		return types.JobStatusCompleted
	case failed:
		return types.JobStatusFailed
	case started:
		return types.JobStatusRunning
	default:
		return types.JobStatusQueued
	}
}

// enrichJobTx fills the derived progress fields and recomputes status from
// the job's tasks. It never writes; mutation paths persist their own
// recomputation.
func enrichJobTx(ctx context.Context, tx *sql.Tx, job *types.Job) error {
	tasks, err := listJobTasksTx(ctx, tx, job.ID)
	if err != nil {
		return err
	}

	job.TotalTasks = len(tasks)
	job.CompletedTasks = 0
	job.FailedTasks = 0
	job.TotalRetries = 0
	for _, t := range tasks {
		switch t.Status {
		case types.TaskStatusSucceeded:
			job.CompletedTasks++
		case types.TaskStatusFailed:
			job.FailedTasks++
		}
		job.TotalRetries += t.Retries
	}
	job.Status = deriveJobStatus(job.Status, tasks)

	rows, err := tx.QueryContext(ctx, `
		SELECT assigned_node_id FROM tasks WHERE job_id = ? AND assigned_node_id IS NOT NULL
		UNION
		SELECT r.node_id FROM results r JOIN tasks t ON r.task_id = t.id WHERE t.job_id = ?
		ORDER BY 1`, job.ID, job.ID)
	if err != nil {
		return fmt.Errorf("failed to collect assigned nodes: %w", err)
	}
	defer rows.Close()

	job.AssignedNodes = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		job.AssignedNodes = append(job.AssignedNodes, id)
	}
	return rows.Err()
}

// CreateJob inserts a job and all its tasks in one transaction. Specs carry
// opaque payloads; a nil payload is stored as an empty object.
func (r *Repository) CreateJob(ctx context.Context, taskType types.TaskType, specs []types.TaskSpec) (*types.Job, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("job requires at least one task")
	}

	now := r.now()
	jobID := newID("job")
	var job *types.Job

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, type, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)`,
			jobID, string(taskType), string(types.JobStatusQueued),
			formatTime(now), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		for _, spec := range specs {
			payload := "{}"
			if len(spec.Payload) > 0 {
				payload = string(spec.Payload)
			}
			maxRetries := defaultMaxRetries
			if spec.MaxRetries != nil {
				maxRetries = *spec.MaxRetries
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO tasks (id, job_id, type, payload_json, status, retries, max_retries, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)`,
				newID("task"), jobID, string(taskType), payload,
				string(types.TaskStatusQueued), maxRetries,
				formatTime(now), formatTime(now),
			)
			if err != nil {
				return fmt.Errorf("failed to insert task: %w", err)
			}
		}

		if job, err = getJobTx(ctx, tx, jobID); err != nil {
			return err
		}
		return enrichJobTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("job_id", jobID).Str("type", string(taskType)).Int("tasks", len(specs)).Msg("Job created")
	r.publish(events.JobUpdate(jobID, job))
	return job, nil
}

// GetJob returns one job with derived progress fields
func (r *Repository) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	var job *types.Job
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		if job, err = getJobTx(ctx, tx, jobID); err != nil {
			return err
		}
		return enrichJobTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// JobFilter narrows ListJobs. Zero values mean no constraint. NodeID keeps
// jobs the node touched, through a live assignment or a recorded result.
type JobFilter struct {
	Status   types.JobStatus
	TaskType types.TaskType
	NodeID   string
}

// ListJobs returns jobs newest first
func (r *Repository) ListJobs(ctx context.Context, filter JobFilter) ([]*types.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	var conds []string
	var args []interface{}

	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TaskType != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(filter.TaskType))
	}
	if filter.NodeID != "" {
		conds = append(conds, `id IN (
			SELECT job_id FROM tasks WHERE assigned_node_id = ?
			UNION
			SELECT t.job_id FROM results r JOIN tasks t ON r.task_id = t.id WHERE r.node_id = ?)`)
		args = append(args, filter.NodeID, filter.NodeID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	var jobs []*types.Job
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		jobs = jobs[:0]
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return err
			}
			jobs = append(jobs, j)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, j := range jobs {
			if err := enrichJobTx(ctx, tx, j); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJobTasks returns a job's tasks in insertion order
func (r *Repository) GetJobTasks(ctx context.Context, jobID string) ([]*types.Task, error) {
	var tasks []*types.Task
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getJobTx(ctx, tx, jobID); err != nil {
			return err
		}
		var err error
		tasks, err = listJobTasksTx(ctx, tx, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// legalTransitions is the operator-driven state machine. Task-driven
// progress never goes through here.
var legalTransitions = map[types.JobStatus][]types.JobStatus{
	types.JobStatusQueued:  {types.JobStatusRunning, types.JobStatusCancelled},
	types.JobStatusRunning: {types.JobStatusCompleted, types.JobStatusFailed, types.JobStatusCancelled},
}

// TransitionJobStatus applies an operator transition, stamping started_at
// and completed_at as the job enters and leaves the running state.
func (r *Repository) TransitionJobStatus(ctx context.Context, jobID string, to types.JobStatus, errMsg string) (*types.Job, error) {
	now := r.now()
	var job *types.Job

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}

		allowed := false
		for _, next := range legalTransitions[current.Status] {
			if next == to {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("job %s cannot move from %s to %s: %w", jobID, current.Status, to, ErrConflict)
		}

		startedAt := formatNullableTime(current.StartedAt)
		completedAt := formatNullableTime(current.CompletedAt)
		if to == types.JobStatusRunning && !startedAt.Valid {
			startedAt = sql.NullString{String: formatTime(now), Valid: true}
		}
		if to.Terminal() && !completedAt.Valid {
			completedAt = sql.NullString{String: formatTime(now), Valid: true}
		}
		errVal := sql.NullString{String: errMsg, Valid: errMsg != ""}
		if errMsg == "" && current.Error != "" {
			errVal = sql.NullString{String: current.Error, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error = ?, started_at = ?, completed_at = ?, updated_at = ?
			WHERE id = ?`,
			string(to), errVal, startedAt, completedAt, formatTime(now), jobID,
		)
		if err != nil {
			return fmt.Errorf("failed to transition job: %w", err)
		}

		if job, err = getJobTx(ctx, tx, jobID); err != nil {
			return err
		}
		return enrichJobTx(ctx, tx, job)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("job_id", jobID).Str("status", string(to)).Msg("Job transitioned by operator")
	r.publish(events.JobUpdate(jobID, job))
	return job, nil
}
