package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/types"
)

const (
	maxTasksPerJob    = 500
	maxPayloadRefLen  = 512
	maxRetriesCeiling = 20
	maxErrorLen       = 2048
)

// encodePayload marshals a generated task payload. The value domain is
// strings and ints, so the encoding cannot fail.
func encodePayload(p map[string]interface{}) json.RawMessage {
	data, _ := json.Marshal(p)
	return data
}

func indexedPayload(index int, taskType types.TaskType, payloadRef string) map[string]interface{} {
	p := map[string]interface{}{
		"task_index": index,
		"task_type":  string(taskType),
	}
	if payloadRef != "" {
		p["payload_ref"] = payloadRef
	}
	return p
}

// expandTaskSpecs turns a create request into concrete task specs. An
// explicit tasks list wins; payload_items expand one task per item; otherwise
// task_count generates indexed payloads.
func expandTaskSpecs(req types.CreateJobRequest, taskType types.TaskType) ([]types.TaskSpec, error) {
	if len(req.PayloadRef) > maxPayloadRefLen {
		return nil, badRequest("payload_ref must be at most %d characters", maxPayloadRefLen)
	}
	retries := req.MaxTaskRetries
	if retries != nil && (*retries < 0 || *retries > maxRetriesCeiling) {
		return nil, badRequest("max_task_retries must be within [0,%d], got %d", maxRetriesCeiling, *retries)
	}

	if req.Tasks != nil {
		if len(req.Tasks) == 0 {
			return nil, badRequest("tasks must not be empty")
		}
		if len(req.Tasks) > maxTasksPerJob {
			return nil, badRequest("a job may carry at most %d tasks", maxTasksPerJob)
		}
		specs := make([]types.TaskSpec, len(req.Tasks))
		copy(specs, req.Tasks)
		for i := range specs {
			if specs[i].MaxRetries == nil {
				specs[i].MaxRetries = retries
			} else if *specs[i].MaxRetries < 0 || *specs[i].MaxRetries > maxRetriesCeiling {
				return nil, badRequest("tasks[%d].max_retries must be within [0,%d], got %d",
					i, maxRetriesCeiling, *specs[i].MaxRetries)
			}
		}
		return specs, nil
	}

	if len(req.PayloadItems) > 0 {
		if len(req.PayloadItems) > maxTasksPerJob {
			return nil, badRequest("a job may carry at most %d tasks", maxTasksPerJob)
		}
		specs := make([]types.TaskSpec, 0, len(req.PayloadItems))
		for i, item := range req.PayloadItems {
			payload := indexedPayload(i, taskType, req.PayloadRef)
			payload["item"] = item
			specs = append(specs, types.TaskSpec{Payload: encodePayload(payload), MaxRetries: retries})
		}
		return specs, nil
	}

	count := req.TaskCount
	if count == 0 {
		count = 1
	}
	if count < 1 || count > maxTasksPerJob {
		return nil, badRequest("task_count must be within [1,%d], got %d", maxTasksPerJob, count)
	}
	specs := make([]types.TaskSpec, 0, count)
	for i := 0; i < count; i++ {
		specs = append(specs, types.TaskSpec{Payload: encodePayload(indexedPayload(i, taskType, req.PayloadRef)), MaxRetries: retries})
	}
	return specs, nil
}

func (s *Server) createJobHandler(w http.ResponseWriter, r *http.Request) {
	var req types.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	taskType, err := req.ResolveType()
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	specs, err := expandTaskSpecs(req, taskType)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}

	job, err := s.repo.CreateJob(r.Context(), taskType, specs)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter repository.JobFilter

	if raw := q.Get("status"); raw != "" {
		status, err := types.ParseJobStatus(raw)
		if err != nil {
			s.writeError(w, badRequest("%v", err))
			return
		}
		filter.Status = status
	}
	if raw := q.Get("task_type"); raw != "" {
		taskType, err := types.ParseTaskType(raw)
		if err != nil {
			s.writeError(w, badRequest("%v", err))
			return
		}
		filter.TaskType = taskType
	}
	filter.NodeID = q.Get("node_id")

	jobs, err := s.repo.ListJobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.repo.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) jobTasksHandler(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.repo.GetJobTasks(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if tasks == nil {
		tasks = []*types.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) jobStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req types.JobStatusUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	status, err := types.ParseJobStatus(req.Status)
	if err != nil {
		s.writeError(w, badRequest("%v", err))
		return
	}
	if len(req.Error) > maxErrorLen {
		s.writeError(w, badRequest("error must be at most %d characters", maxErrorLen))
		return
	}

	job, err := s.repo.TransitionJobStatus(r.Context(), r.PathValue("id"), status, req.Error)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) executionMetricsHandler(w http.ResponseWriter, r *http.Request) {
	execMetrics, err := s.repo.ExecutionMetrics(r.Context())
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	writeJSON(w, http.StatusOK, execMetrics)
}

// intQuery reads an integer query parameter, falling back to a default when
// the parameter is absent.
func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

// demoBurstHandler seeds a batch of EMBEDDINGS jobs with synthetic chunk
// payloads. AssignedCount reports how many jobs had an eligible node at
// creation time; dispatch itself stays pull-based, nothing is leased here.
func (s *Server) demoBurstHandler(w http.ResponseWriter, r *http.Request) {
	count, err := intQuery(r, "count", 20)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if count < 1 || count > 200 {
		s.writeError(w, badRequest("count must be within [1,200], got %d", count))
		return
	}
	tasksPerJob, err := intQuery(r, "tasks_per_job", 6)
	if err != nil {
		s.writeError(w, s.toAPIError(err))
		return
	}
	if tasksPerJob < 1 || tasksPerJob > 64 {
		s.writeError(w, badRequest("tasks_per_job must be within [1,64], got %d", tasksPerJob))
		return
	}

	ctx := r.Context()
	demoRetries := 2
	resp := &types.DemoBurstResponse{Jobs: make([]*types.Job, 0, count)}

	for jobIndex := 0; jobIndex < count; jobIndex++ {
		payloadRef := fmt.Sprintf("demo://embed/%04d", jobIndex)
		specs := make([]types.TaskSpec, 0, tasksPerJob)
		for taskIndex := 0; taskIndex < tasksPerJob; taskIndex++ {
			specs = append(specs, types.TaskSpec{
				Payload: encodePayload(map[string]interface{}{
					"task_index":  taskIndex,
					"task_type":   string(types.TaskTypeEmbeddings),
					"payload_ref": payloadRef,
					"text":        fmt.Sprintf("demo chunk %04d-%02d", jobIndex, taskIndex),
				}),
				MaxRetries: &demoRetries,
			})
		}

		job, err := s.repo.CreateJob(ctx, types.TaskTypeEmbeddings, specs)
		if err != nil {
			s.writeError(w, s.toAPIError(err))
			return
		}
		resp.Jobs = append(resp.Jobs, job)

		sim, err := s.repo.SimulateSchedule(ctx, types.TaskTypeEmbeddings, false)
		if err != nil {
			s.writeError(w, s.toAPIError(err))
			return
		}
		if sim.ChosenNodeID != nil {
			resp.AssignedCount++
		}
	}

	resp.CreatedCount = len(resp.Jobs)
	for _, job := range resp.Jobs {
		switch job.Status {
		case types.JobStatusQueued:
			resp.QueuedCount++
		case types.JobStatusRunning:
			resp.RunningCount++
		case types.JobStatusCompleted:
			resp.CompletedCount++
		case types.JobStatusFailed:
			resp.FailedCount++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
