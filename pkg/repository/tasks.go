package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/scheduler"
	"github.com/edgemesh/edgemesh/pkg/types"
)

const taskColumns = "id, job_id, type, payload_json, status, assigned_node_id, retries, max_retries, lease_expires_at, error, created_at, updated_at, started_at, completed_at"

func scanTask(row rowScanner) (*types.Task, error) {
	var (
		t                         types.Task
		taskType, status, payload string
		assignedNodeID, errText   sql.NullString
		leaseExpiresAt            sql.NullString
		createdAt, updatedAt      string
		startedAt, completedAt    sql.NullString
	)
	err := row.Scan(
		&t.ID, &t.JobID, &taskType, &payload, &status,
		&assignedNodeID, &t.Retries, &t.MaxRetries, &leaseExpiresAt, &errText,
		&createdAt, &updatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Type = types.TaskType(taskType)
	t.Status = types.TaskStatus(status)
	t.Payload = json.RawMessage(payload)
	t.AssignedNodeID = assignedNodeID.String
	t.Error = errText.String
	if t.LeaseExpiresAt, err = parseNullableTime(leaseExpiresAt); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseNullableTime(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func getTaskTx(ctx context.Context, tx *sql.Tx, taskID string) (*types.Task, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return t, err
}

func listJobTasksTx(ctx context.Context, tx *sql.Tx, jobID string) ([]*types.Task, error) {
	rows, err := tx.QueryContext(ctx,
		"SELECT "+taskColumns+" FROM tasks WHERE job_id = ? ORDER BY created_at, rowid", jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// recomputeJobTx re-derives a job's status from its tasks and persists the
// result. Entering RUNNING stamps started_at; entering a terminal state
// stamps completed_at. A job failing inherits the message of its most
// recently failed task; a job completing sheds any stale attempt error.
func recomputeJobTx(ctx context.Context, tx *sql.Tx, jobID string, now time.Time) (*types.Job, error) {
	job, err := getJobTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	tasks, err := listJobTasksTx(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}

	derived := deriveJobStatus(job.Status, tasks)
	if derived != job.Status {
		startedAt := formatNullableTime(job.StartedAt)
		completedAt := formatNullableTime(job.CompletedAt)
		if derived == types.JobStatusRunning && !startedAt.Valid {
			startedAt = sql.NullString{String: formatTime(now), Valid: true}
		}
		if derived.Terminal() && !completedAt.Valid {
			completedAt = sql.NullString{String: formatTime(now), Valid: true}
		}

		errVal := sql.NullString{String: job.Error, Valid: job.Error != ""}
		switch derived {
		case types.JobStatusFailed:
			var latest *types.Task
			for _, t := range tasks {
				if t.Status != types.TaskStatusFailed || t.Error == "" {
					continue
				}
				if latest == nil || t.UpdatedAt.After(latest.UpdatedAt) {
					latest = t
				}
			}
			if latest != nil {
				errVal = sql.NullString{String: latest.Error, Valid: true}
			}
		case types.JobStatusCompleted:
			errVal = sql.NullString{}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, error = ?, started_at = ?, completed_at = ?, updated_at = ?
			WHERE id = ?`,
			string(derived), errVal, startedAt, completedAt, formatTime(now), jobID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to recompute job: %w", err)
		}
		if job, err = getJobTx(ctx, tx, jobID); err != nil {
			return nil, err
		}
	}

	if err := enrichJobTx(ctx, tx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// PullTask hands the calling node at most one leased task. The eligibility
// decision and the claim are one transaction over one node snapshot, so a
// cap tightened a moment ago is already binding. The caller only wins a
// task when it is the first entry of the dispatch order; an eligible but
// outranked node leaves the task for the better-placed one to collect.
func (r *Repository) PullTask(ctx context.Context, nodeID string) (*types.Task, error) {
	now := r.now()
	var claimed *types.Task
	var job *types.Job

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		claimed, job = nil, nil

		caller, err := getNodeTx(ctx, tx, nodeID)
		if err != nil {
			if isNotFound(err) {
				return nil
			}
			return err
		}
		if caller.Status != types.NodeStatusOnline {
			return nil
		}

		snapshot, err := listNodesTx(ctx, tx)
		if err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT `+taskColumnsPrefixed("t")+`
			FROM tasks t JOIN jobs j ON t.job_id = j.id
			WHERE t.status = ? AND j.status != ?
			ORDER BY t.created_at ASC, t.id ASC`,
			string(types.TaskStatusQueued), string(types.JobStatusCancelled),
		)
		if err != nil {
			return fmt.Errorf("failed to list queued tasks: %w", err)
		}
		var candidates []*types.Task
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, t)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, task := range candidates {
			req := scheduler.Request{
				TaskType:    task.Type,
				RequiresGPU: scheduler.RequiresGPU(task.Payload),
				Now:         now,
				StaleAfter:  r.opts.StaleAfter,
			}
			first := scheduler.First(snapshot, req)
			if first == nil || first.Identity.NodeID != nodeID {
				continue
			}

			lease := now.Add(r.opts.LeaseDuration)
			startedAt := formatNullableTime(task.StartedAt)
			if !startedAt.Valid {
				startedAt = sql.NullString{String: formatTime(now), Valid: true}
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, assigned_node_id = ?, lease_expires_at = ?, started_at = ?, updated_at = ?
				WHERE id = ?`,
				string(types.TaskStatusRunning), nodeID, formatTime(lease),
				startedAt, formatTime(now), task.ID,
			)
			if err != nil {
				return fmt.Errorf("failed to claim task: %w", err)
			}

			if claimed, err = getTaskTx(ctx, tx, task.ID); err != nil {
				return err
			}
			if job, err = recomputeJobTx(ctx, tx, task.JobID, now); err != nil {
				return err
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed != nil {
		r.logger.Debug().Str("task_id", claimed.ID).Str("node_id", nodeID).Msg("Task leased")
		r.publish(events.JobUpdate(claimed.JobID, job))
	}
	return claimed, nil
}

// failTaskTx applies one failed attempt: back to the queue while retries
// remain, terminal FAILED once the budget is spent.
func failTaskTx(ctx context.Context, tx *sql.Tx, task *types.Task, errText string, now time.Time) error {
	if task.Retries < task.MaxRetries {
		_, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = ?, retries = retries + 1, assigned_node_id = NULL, lease_expires_at = NULL, error = ?, updated_at = ?
			WHERE id = ?`,
			string(types.TaskStatusQueued), errText, formatTime(now), task.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to requeue task: %w", err)
		}
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, lease_expires_at = NULL, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(types.TaskStatusFailed), errText, formatTime(now), formatTime(now), task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}

// SubmitResult records one execution report. Every report lands in the
// results table; only a report from the current lease holder for a live
// task moves the task. Anything else is accepted as history and answered
// with Accepted="stale".
func (r *Repository) SubmitResult(ctx context.Context, taskID string, req types.SubmitResultRequest) (*types.SubmitResultResponse, error) {
	now := r.now()
	resp := &types.SubmitResultResponse{}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		task, err := getTaskTx(ctx, tx, taskID)
		if err != nil {
			return err
		}

		output := sql.NullString{}
		if len(req.Output) > 0 {
			output = sql.NullString{String: string(req.Output), Valid: true}
		}
		success := 0
		if req.Success {
			success = 1
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO results (task_id, node_id, success, output_json, duration_ms, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			taskID, req.NodeID, success, output, req.DurationMS, formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result: %w", err)
		}

		if task.AssignedNodeID != req.NodeID || task.Status.Terminal() {
			resp.Accepted = "stale"
			resp.Task = task
			job, err := recomputeJobTx(ctx, tx, task.JobID, now)
			if err != nil {
				return err
			}
			resp.Job = job
			return nil
		}

		if req.Success {
			_, err = tx.ExecContext(ctx, `
				UPDATE tasks SET status = ?, lease_expires_at = NULL, error = NULL, completed_at = ?, updated_at = ?
				WHERE id = ?`,
				string(types.TaskStatusSucceeded), formatTime(now), formatTime(now), taskID,
			)
			if err != nil {
				return fmt.Errorf("failed to mark task succeeded: %w", err)
			}
		} else {
			errText := req.Error
			if errText == "" {
				errText = "task failed"
			}
			if err := failTaskTx(ctx, tx, task, errText, now); err != nil {
				return err
			}
		}

		resp.Accepted = "ok"
		if resp.Task, err = getTaskTx(ctx, tx, taskID); err != nil {
			return err
		}
		if resp.Job, err = recomputeJobTx(ctx, tx, task.JobID, now); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if resp.Accepted == "ok" {
		r.logger.Debug().Str("task_id", taskID).Str("node_id", req.NodeID).Bool("success", req.Success).Msg("Result recorded")
		r.publish(events.JobUpdate(resp.Task.JobID, resp.Job))
	}
	return resp, nil
}

// ReclaimExpiredLeases requeues or fails every RUNNING task whose lease has
// lapsed, as if a failure report with error "lease_expired" had arrived.
// No result row is written; the node never reported anything.
func (r *Repository) ReclaimExpiredLeases(ctx context.Context, now time.Time) ([]*types.Task, error) {
	var reclaimed []*types.Task
	jobs := make(map[string]*types.Job)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		reclaimed = reclaimed[:0]
		rows, err := tx.QueryContext(ctx, `
			SELECT `+taskColumns+` FROM tasks
			WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?
			ORDER BY lease_expires_at`,
			string(types.TaskStatusRunning), formatTime(now),
		)
		if err != nil {
			return fmt.Errorf("failed to list expired leases: %w", err)
		}
		var expired []*types.Task
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return err
			}
			expired = append(expired, t)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, task := range expired {
			if err := failTaskTx(ctx, tx, task, "lease_expired", now); err != nil {
				return err
			}
			fresh, err := getTaskTx(ctx, tx, task.ID)
			if err != nil {
				return err
			}
			reclaimed = append(reclaimed, fresh)
		}

		for _, task := range expired {
			if _, seen := jobs[task.JobID]; seen {
				continue
			}
			job, err := recomputeJobTx(ctx, tx, task.JobID, now)
			if err != nil {
				return err
			}
			jobs[task.JobID] = job
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, task := range reclaimed {
		r.logger.Warn().Str("task_id", task.ID).Int("retries", task.Retries).Msg("Lease expired, task reclaimed")
	}
	for jobID, job := range jobs {
		r.publish(events.JobUpdate(jobID, job))
	}
	return reclaimed, nil
}

// ExecutionMetrics aggregates the results history: success counts, duration
// percentiles overall and per task type, per-node reliability, and the
// completion rate over the trailing minute.
func (r *Repository) ExecutionMetrics(ctx context.Context) (*types.ExecutionMetrics, error) {
	rows, err := r.store.DB().QueryContext(ctx, `
		SELECT r.success, r.duration_ms, r.node_id, r.created_at, t.type
		FROM results r JOIN tasks t ON r.task_id = t.id`)
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}
	defer rows.Close()

	type sample struct {
		success  bool
		duration int64
		nodeID   string
		created  time.Time
		taskType types.TaskType
	}
	var samples []sample
	for rows.Next() {
		var (
			success   int
			duration  int64
			nodeID    string
			createdAt string
			taskType  string
		)
		if err := rows.Scan(&success, &duration, &nodeID, &createdAt, &taskType); err != nil {
			return nil, err
		}
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample{success == 1, duration, nodeID, created, types.TaskType(taskType)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	metrics := &types.ExecutionMetrics{
		NodeReliability: make(map[string]float64),
		PerType:         make(map[types.TaskType]types.DurationStats),
	}

	var allDurations []int64
	perType := make(map[types.TaskType][]int64)
	perTypeCounts := make(map[types.TaskType][2]int)
	nodeTotals := make(map[string][2]int)
	windowStart := r.now().Add(-time.Minute)
	recent := 0

	for _, s := range samples {
		metrics.TotalResults++
		if s.success {
			metrics.SuccessResults++
		} else {
			metrics.FailedResults++
		}
		allDurations = append(allDurations, s.duration)
		perType[s.taskType] = append(perType[s.taskType], s.duration)

		counts := perTypeCounts[s.taskType]
		if s.success {
			counts[0]++
		} else {
			counts[1]++
		}
		perTypeCounts[s.taskType] = counts

		totals := nodeTotals[s.nodeID]
		totals[1]++
		if s.success {
			totals[0]++
		}
		nodeTotals[s.nodeID] = totals

		if s.created.After(windowStart) {
			recent++
		}
	}

	metrics.AvgDurationMS = meanOf(allDurations)
	metrics.MedianDurationMS = medianOf(allDurations)
	metrics.P95DurationMS = p95Of(allDurations)
	metrics.ThroughputTasksPerMinute = float64(recent)

	for nodeID, totals := range nodeTotals {
		metrics.NodeReliability[nodeID] = float64(totals[0]) / float64(totals[1])
	}
	for tt, durations := range perType {
		counts := perTypeCounts[tt]
		metrics.PerType[tt] = types.DurationStats{
			Total:            counts[0] + counts[1],
			Success:          counts[0],
			Failed:           counts[1],
			AvgDurationMS:    meanOf(durations),
			MedianDurationMS: medianOf(durations),
			P95DurationMS:    p95Of(durations),
		}
	}
	return metrics, nil
}

func taskColumnsPrefixed(alias string) string {
	return alias + ".id, " + alias + ".job_id, " + alias + ".type, " + alias + ".payload_json, " +
		alias + ".status, " + alias + ".assigned_node_id, " + alias + ".retries, " + alias + ".max_retries, " +
		alias + ".lease_expires_at, " + alias + ".error, " + alias + ".created_at, " + alias + ".updated_at, " +
		alias + ".started_at, " + alias + ".completed_at"
}

func meanOf(durations []int64) *float64 {
	if len(durations) == 0 {
		return nil
	}
	var sum int64
	for _, d := range durations {
		sum += d
	}
	v := float64(sum) / float64(len(durations))
	return &v
}

func medianOf(durations []int64) *float64 {
	if len(durations) == 0 {
		return nil
	}
	sorted := append([]int64(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	var v float64
	if len(sorted)%2 == 1 {
		v = float64(sorted[mid])
	} else {
		v = float64(sorted[mid-1]+sorted[mid]) / 2
	}
	return &v
}

// p95Of uses nearest-rank: the smallest value such that 95% of samples are
// at or below it.
func p95Of(durations []int64) *float64 {
	if len(durations) == 0 {
		return nil
	}
	sorted := append([]int64(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(float64(len(sorted)) * 0.95))
	if rank < 1 {
		rank = 1
	}
	v := float64(sorted[rank-1])
	return &v
}
