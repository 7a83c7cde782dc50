package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/edgemesh/edgemesh/pkg/metrics"
	"github.com/edgemesh/edgemesh/pkg/types"
)

// defaultHistoryLimit caps the metrics history slice on node detail reads
const defaultHistoryLimit = 50

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyHandler refreshes the storage check with a live ping, then reports
// overall readiness from the component registry.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		metrics.UpdateComponent("storage", false, err.Error())
	} else {
		metrics.UpdateComponent("storage", true, "")
	}
	metrics.ReadyHandler()(w, r)
}

func (s *Server) listNodesHandler(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.repo.ListNodes(r.Context())
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if nodes == nil {
		nodes = []*types.Node{}
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) getNodeHandler(w http.ResponseWriter, r *http.Request) {
	nodeID := r.PathValue("id")
	node, err := s.repo.GetNode(r.Context(), nodeID)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}

	detail := &types.NodeDetail{Node: node}
	q := r.URL.Query()
	if raw := q.Get("include_metrics_history"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			s.writeError(w, badRequest("invalid include_metrics_history %q", raw))
			return
		}
		if include {
			limit := defaultHistoryLimit
			if rawLimit := q.Get("history_limit"); rawLimit != "" {
				limit, err = strconv.Atoi(rawLimit)
				if err != nil || limit < 1 {
					s.writeError(w, badRequest("invalid history_limit %q", rawLimit))
					return
				}
			}
			detail.MetricsHistory = s.repo.MetricsHistory(nodeID, limit)
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) putPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var policy types.NodePolicy
	if err := decodeJSON(r, &policy); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if err := policy.Validate(); err != nil {
		s.writeError(w, badRequest("invalid policy: %v", err))
		return
	}

	node, err := s.repo.SetPolicy(r.Context(), r.PathValue("id"), policy)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) clusterSummaryHandler(w http.ResponseWriter, r *http.Request) {
	summary, err := s.repo.ClusterSummary(r.Context())
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	var req types.SimulateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	taskType, err := types.ParseTaskType(req.TaskType)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	resp, err := s.repo.SimulateSchedule(r.Context(), taskType, req.RequiresGPU)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
