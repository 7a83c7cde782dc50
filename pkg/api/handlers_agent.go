package api

import (
	"net/http"
	"time"

	"github.com/edgemesh/edgemesh/pkg/metrics"
	"github.com/edgemesh/edgemesh/pkg/types"
)

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	node, err := s.repo.UpsertNode(r.Context(), req)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusCreated, types.RegisterResponse{
		Node:                node,
		PollIntervalSeconds: s.opts.PollSeconds,
		LeaseSeconds:        s.opts.LeaseSeconds,
	})
}

func (s *Server) heartbeatHandler(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	node, err := s.repo.RecordHeartbeat(r.Context(), req)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusAccepted, types.HeartbeatResponse{
		Status:   "accepted",
		NodeID:   node.Identity.NodeID,
		SeenAt:   node.LastSeen.UTC().Format(time.RFC3339),
		NodeView: node.Status,
	})
}

func (s *Server) pullTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req types.PullRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if req.NodeID == "" {
		s.writeError(w, badRequest("node_id is required"))
		return
	}

	timer := metrics.NewTimer()
	task, err := s.repo.PullTask(r.Context(), req.NodeID)
	timer.ObserveDuration(metrics.PullLatency)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if task != nil {
		metrics.TasksPulled.Inc()
	}
	writeJSON(w, http.StatusOK, types.PullResponse{Task: task})
}

func (s *Server) submitResultHandler(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitResultRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}

	resp, err := s.repo.SubmitResult(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}

	outcome := "success"
	switch {
	case resp.Accepted == "stale":
		outcome = "stale"
	case !req.Success:
		outcome = "failure"
	}
	metrics.ResultsRecorded.WithLabelValues(outcome).Inc()

	writeJSON(w, http.StatusOK, resp)
}
