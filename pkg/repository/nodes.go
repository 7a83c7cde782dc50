package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/scheduler"
	"github.com/edgemesh/edgemesh/pkg/types"
)

const nodeColumns = "node_id, display_name, ip, port, status, capabilities_json, metrics_json, policy_json, last_seen, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(row rowScanner) (*types.Node, error) {
	var (
		n                                 types.Node
		status                            string
		capsJSON, metricsJSON, policyJSON string
		lastSeen, createdAt, updatedAt    string
	)
	err := row.Scan(
		&n.Identity.NodeID, &n.Identity.DisplayName, &n.Identity.IP, &n.Identity.Port,
		&status, &capsJSON, &metricsJSON, &policyJSON,
		&lastSeen, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	n.Status = types.NodeStatus(status)
	if err := json.Unmarshal([]byte(capsJSON), &n.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to decode capabilities for %s: %w", n.Identity.NodeID, err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &n.Metrics); err != nil {
		return nil, fmt.Errorf("failed to decode metrics for %s: %w", n.Identity.NodeID, err)
	}
	if err := json.Unmarshal([]byte(policyJSON), &n.Policy); err != nil {
		return nil, fmt.Errorf("failed to decode policy for %s: %w", n.Identity.NodeID, err)
	}
	if n.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

func getNodeTx(ctx context.Context, tx *sql.Tx, nodeID string) (*types.Node, error) {
	row := tx.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE node_id = ?", nodeID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return n, err
}

func listNodesTx(ctx context.Context, tx *sql.Tx) ([]*types.Node, error) {
	rows, err := tx.QueryContext(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY node_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpsertNode registers a node or refreshes its registration. Identity and
// capabilities always come from the request; a stored policy survives
// re-registration unless the request carries one. Registration counts as
// liveness, so the node comes back ONLINE.
func (r *Repository) UpsertNode(ctx context.Context, req types.RegisterRequest) (*types.Node, error) {
	caps := req.Capabilities
	caps.Normalize()
	if req.Policy != nil {
		if err := req.Policy.Validate(); err != nil {
			return nil, err
		}
	}

	now := r.now()
	var node *types.Node
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := getNodeTx(ctx, tx, req.NodeID)
		if err != nil && !isNotFound(err) {
			return err
		}

		capsJSON, err := json.Marshal(caps)
		if err != nil {
			return fmt.Errorf("failed to encode capabilities: %w", err)
		}

		if existing == nil {
			policy := types.DefaultPolicy()
			if req.Policy != nil {
				policy = *req.Policy
			}
			policyJSON, err := json.Marshal(policy)
			if err != nil {
				return fmt.Errorf("failed to encode policy: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO nodes (node_id, display_name, ip, port, status, capabilities_json, metrics_json, policy_json, last_seen, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				req.NodeID, req.DisplayName, req.IP, req.Port, string(types.NodeStatusOnline),
				string(capsJSON), "{}", string(policyJSON),
				formatTime(now), formatTime(now), formatTime(now),
			)
			if err != nil {
				return fmt.Errorf("failed to insert node: %w", err)
			}
		} else {
			policy := existing.Policy
			if req.Policy != nil {
				policy = *req.Policy
			}
			policyJSON, err := json.Marshal(policy)
			if err != nil {
				return fmt.Errorf("failed to encode policy: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				UPDATE nodes SET display_name = ?, ip = ?, port = ?, status = ?, capabilities_json = ?, policy_json = ?, last_seen = ?, updated_at = ?
				WHERE node_id = ?`,
				req.DisplayName, req.IP, req.Port, string(types.NodeStatusOnline),
				string(capsJSON), string(policyJSON),
				formatTime(now), formatTime(now), req.NodeID,
			)
			if err != nil {
				return fmt.Errorf("failed to update node: %w", err)
			}
		}

		node, err = getNodeTx(ctx, tx, req.NodeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("node_id", req.NodeID).Str("ip", req.IP).Msg("Node registered")
	r.publish(events.NodeUpdate(node.Identity.NodeID, node))
	return node, nil
}

// RecordHeartbeat stores a liveness report. The node returns to ONLINE no
// matter what the sweep had decided, and the sample lands in the in-memory
// history ring.
func (r *Repository) RecordHeartbeat(ctx context.Context, req types.HeartbeatRequest) (*types.Node, error) {
	now := r.now()
	metrics := req.Metrics
	metrics.HeartbeatTS = now.UTC()

	metricsJSON, err := json.Marshal(metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}

	var node *types.Node
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := getNodeTx(ctx, tx, req.NodeID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE nodes SET status = ?, metrics_json = ?, last_seen = ?, updated_at = ?
			WHERE node_id = ?`,
			string(types.NodeStatusOnline), string(metricsJSON),
			formatTime(now), formatTime(now), req.NodeID,
		)
		if err != nil {
			return fmt.Errorf("failed to record heartbeat: %w", err)
		}
		node, err = getNodeTx(ctx, tx, req.NodeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.appendHistory(req.NodeID, metrics)
	r.publish(events.NodeUpdate(node.Identity.NodeID, node))
	return node, nil
}

// ensureNodeTx provisions a placeholder registry row when the node has never
// registered: the id doubles as display name, address 0.0.0.0:0, status
// UNKNOWN. The placeholder never schedules; the node's eventual registration
// fills in identity and capabilities and brings it ONLINE.
func ensureNodeTx(ctx context.Context, tx *sql.Tx, nodeID string, now time.Time) error {
	_, err := getNodeTx(ctx, tx, nodeID)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return err
	}

	caps := types.NodeCapabilities{}
	caps.Normalize()
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	policyJSON, err := json.Marshal(types.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("failed to encode policy: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (node_id, display_name, ip, port, status, capabilities_json, metrics_json, policy_json, last_seen, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nodeID, nodeID, "0.0.0.0", 0, string(types.NodeStatusUnknown),
		string(capsJSON), "{}", string(policyJSON),
		formatTime(now), formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to provision node %s: %w", nodeID, err)
	}
	return nil
}

// SetPolicy replaces a node's scheduling policy. Targeting a node that never
// registered provisions a placeholder row, so operators can pin caps before
// first contact and the policy survives the node's registration.
func (r *Repository) SetPolicy(ctx context.Context, nodeID string, policy types.NodePolicy) (*types.Node, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}

	now := r.now()
	var node *types.Node
	err = r.withTx(ctx, func(tx *sql.Tx) error {
		if err := ensureNodeTx(ctx, tx, nodeID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE nodes SET policy_json = ?, updated_at = ? WHERE node_id = ?",
			string(policyJSON), formatTime(now), nodeID,
		)
		if err != nil {
			return fmt.Errorf("failed to update policy: %w", err)
		}
		node, err = getNodeTx(ctx, tx, nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info().Str("node_id", nodeID).Msg("Node policy updated")
	r.publish(events.NodeUpdate(nodeID, node))
	return node, nil
}

// GetNode returns one node by id
func (r *Repository) GetNode(ctx context.Context, nodeID string) (*types.Node, error) {
	row := r.store.DB().QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE node_id = ?", nodeID)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return n, err
}

// ListNodes returns every registered node ordered by id
func (r *Repository) ListNodes(ctx context.Context) ([]*types.Node, error) {
	rows, err := r.store.DB().QueryContext(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY node_id")
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*types.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func (r *Repository) appendHistory(nodeID string, m types.NodeMetrics) {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	ring := append(r.history[nodeID], m)
	if len(ring) > r.opts.HistoryLimit {
		ring = ring[len(ring)-r.opts.HistoryLimit:]
	}
	r.history[nodeID] = ring
}

// MetricsHistory returns up to limit recent heartbeat samples, oldest first.
// A non-positive limit means everything retained.
func (r *Repository) MetricsHistory(nodeID string, limit int) []types.NodeMetrics {
	r.historyMu.Lock()
	defer r.historyMu.Unlock()
	ring := r.history[nodeID]
	if limit > 0 && len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	out := make([]types.NodeMetrics, len(ring))
	copy(out, ring)
	return out
}

// SweepStaleNodes demotes silent nodes in two stages: ONLINE nodes past the
// stale threshold become STALE, and any node silent past the offline TTL
// becomes OFFLINE. Running it twice with the same clock is a no-op the
// second time.
func (r *Repository) SweepStaleNodes(ctx context.Context, now time.Time) ([]*types.Node, error) {
	staleCutoff := now.Add(-r.opts.StaleAfter)
	offlineCutoff := now.Add(-r.opts.OfflineAfter)

	var changed []*types.Node
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		changed = changed[:0]
		nodes, err := listNodesTx(ctx, tx)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			if n.Status != types.NodeStatusOnline && n.Status != types.NodeStatusStale {
				continue
			}
			var next types.NodeStatus
			switch {
			case !n.LastSeen.After(offlineCutoff):
				next = types.NodeStatusOffline
			case n.Status == types.NodeStatusOnline && !n.LastSeen.After(staleCutoff):
				next = types.NodeStatusStale
			default:
				continue
			}
			if next == n.Status {
				continue
			}
			_, err := tx.ExecContext(ctx,
				"UPDATE nodes SET status = ?, updated_at = ? WHERE node_id = ?",
				string(next), formatTime(now), n.Identity.NodeID,
			)
			if err != nil {
				return fmt.Errorf("failed to mark node %s %s: %w", n.Identity.NodeID, next, err)
			}
			n.Status = next
			n.UpdatedAt = now.UTC()
			changed = append(changed, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, n := range changed {
		r.logger.Info().Str("node_id", n.Identity.NodeID).Str("status", string(n.Status)).Msg("Node demoted by staleness sweep")
		r.publish(events.NodeUpdate(n.Identity.NodeID, n))
	}
	return changed, nil
}

// ClusterSummary aggregates the registry: counts by status, effective
// capacity over enabled ONLINE nodes, the reported inflight total, and
// per-type eligible node counts.
func (r *Repository) ClusterSummary(ctx context.Context) (*types.ClusterSummary, error) {
	nodes, err := r.ListNodes(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()

	summary := &types.ClusterSummary{
		TotalNodes:          len(nodes),
		EligibleNodesByType: make(map[types.TaskType]int, len(types.AllTaskTypes())),
	}
	for _, n := range nodes {
		// Inflight counts every node's last report, even demoted ones;
		// those tasks are still occupying a worker until the lease sweep
		// says otherwise.
		summary.ActiveRunningJobsTotal += n.Metrics.RunningJobs

		switch n.Status {
		case types.NodeStatusOnline:
			summary.OnlineNodes++
			if n.Policy.Enabled {
				eff := scheduler.Capacity(n)
				summary.TotalEffectiveCPUThreads += eff.CPUThreads
				summary.TotalEffectiveRAMGB += eff.RAMGB
				summary.TotalEffectiveVRAMGB += eff.VRAMGB
			}
		case types.NodeStatusStale:
			summary.StaleNodes++
		case types.NodeStatusOffline:
			summary.OfflineNodes++
		default:
			summary.UnknownNodes++
		}
	}
	summary.TotalEffectiveCPUThreads = math.Round(summary.TotalEffectiveCPUThreads*1000) / 1000
	summary.TotalEffectiveRAMGB = math.Round(summary.TotalEffectiveRAMGB*1000) / 1000
	summary.TotalEffectiveVRAMGB = math.Round(summary.TotalEffectiveVRAMGB*1000) / 1000

	for _, tt := range types.AllTaskTypes() {
		req := scheduler.Request{TaskType: tt, Now: now, StaleAfter: r.opts.StaleAfter}
		summary.EligibleNodesByType[tt] = len(scheduler.EligibleNodes(nodes, req))
	}
	return summary, nil
}

// SimulateSchedule answers "where would this task go right now" without
// mutating anything or publishing events.
func (r *Repository) SimulateSchedule(ctx context.Context, taskType types.TaskType, requiresGPU bool) (*types.SimulateResponse, error) {
	nodes, err := r.ListNodes(ctx)
	if err != nil {
		return nil, err
	}

	req := scheduler.Request{TaskType: taskType, RequiresGPU: requiresGPU, Now: r.now(), StaleAfter: r.opts.StaleAfter}
	ranked := scheduler.Rank(nodes, req)

	resp := &types.SimulateResponse{
		TaskType:         taskType,
		RankedCandidates: make([]types.CandidateScore, 0, len(ranked)),
	}
	for _, c := range ranked {
		resp.RankedCandidates = append(resp.RankedCandidates, types.CandidateScore{
			NodeID:   c.Node.Identity.NodeID,
			Eligible: c.Eligible,
			Score:    c.Score,
			Reasons:  c.Reasons,
		})
	}
	if len(ranked) > 0 && ranked[0].Eligible {
		id := ranked[0].Node.Identity.NodeID
		resp.ChosenNodeID = &id
	} else {
		resp.Reason = "No eligible nodes found"
	}
	return resp, nil
}
