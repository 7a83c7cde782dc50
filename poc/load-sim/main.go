// Load simulation against a running coordinator: seeds a batch of jobs and
// then runs a swarm of fake agents that register, heartbeat, pull and report
// results over the plain HTTP API. Answers "how many agents and tasks can a
// single coordinator on a Pi-class box sustain" without any real workload.
//
// Usage:
//
//	go run . -coordinator http://127.0.0.1:8000 -agents 10 -jobs 50 -duration 2m
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	coordinatorURL = flag.String("coordinator", "http://127.0.0.1:8000", "Coordinator base URL")
	secret         = flag.String("secret", "", "Shared secret for agent and task endpoints")
	agents         = flag.Int("agents", 5, "Simulated agents to run")
	jobs           = flag.Int("jobs", 10, "Jobs to seed before the swarm starts")
	tasksPerJob    = flag.Int("tasks-per-job", 8, "Tasks per seeded job")
	duration       = flag.Duration("duration", 60*time.Second, "How long the swarm runs")
	pollEvery      = flag.Duration("poll", 500*time.Millisecond, "Per-agent poll interval when idle")
	heartbeatEvery = flag.Duration("heartbeat", 5*time.Second, "Per-agent heartbeat interval")
	workTime       = flag.Duration("work", 150*time.Millisecond, "Synthetic execution time per task")
	failRate       = flag.Float64("fail-rate", 0.05, "Fraction of results reported as failures")
)

var (
	pulled    atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	stale     atomic.Int64
)

var httpClient = &http.Client{Timeout: 20 * time.Second}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	log.Println("EdgeMesh Coordinator Load Simulation")
	log.Println("====================================")
	log.Printf("Coordinator: %s", *coordinatorURL)
	log.Printf("Agents: %d, seed: %d jobs x %d tasks, duration: %s",
		*agents, *jobs, *tasksPerJob, *duration)

	if err := call("GET", "/health", nil, nil); err != nil {
		log.Fatalf("Coordinator not reachable: %v", err)
	}

	for i := 0; i < *jobs; i++ {
		body := map[string]any{
			"type":       "EMBEDDINGS",
			"task_count": *tasksPerJob,
		}
		if err := call("POST", "/v1/jobs", body, nil); err != nil {
			log.Fatalf("Failed to seed job %d: %v", i, err)
		}
	}
	log.Printf("✓ Seeded %d jobs (%d tasks total)", *jobs, *jobs**tasksPerJob)

	deadline := time.Now().Add(*duration)
	start := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < *agents; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			runAgent(fmt.Sprintf("sim-%02d", n), deadline)
		}(i)
	}
	wg.Wait()

	elapsed := time.Since(start)
	log.Println("")
	log.Printf("Swarm finished after %s", elapsed.Round(time.Second))
	log.Printf("  Pulled:    %d tasks (%.1f/s)", pulled.Load(), float64(pulled.Load())/elapsed.Seconds())
	log.Printf("  Succeeded: %d", succeeded.Load())
	log.Printf("  Failed:    %d (intentional)", failed.Load())
	log.Printf("  Stale:     %d (lease lost before the result landed)", stale.Load())

	var metrics struct {
		TotalResults             int     `json:"total_results"`
		SuccessResults           int     `json:"success_results"`
		FailedResults            int     `json:"failed_results"`
		ThroughputTasksPerMinute float64 `json:"throughput_tasks_per_minute"`
	}
	if err := call("GET", "/v1/metrics/execution", nil, &metrics); err != nil {
		log.Fatalf("Failed to read execution metrics: %v", err)
	}
	log.Printf("Coordinator recorded %d results (%d success, %d failed), %.1f tasks/min trailing",
		metrics.TotalResults, metrics.SuccessResults, metrics.FailedResults,
		metrics.ThroughputTasksPerMinute)
}

// runAgent mimics a real agent: register with backoff, heartbeat on a
// cadence, and spend the rest of the time pulling and reporting.
func runAgent(nodeID string, deadline time.Time) {
	backoff := time.Second
	for time.Now().Before(deadline) {
		err := call("POST", "/v1/agent/register", registerBody(nodeID), nil)
		if err == nil {
			break
		}
		log.Printf("[%s] register failed: %v (retrying in %s)", nodeID, err, backoff)
		time.Sleep(backoff)
		if backoff *= 2; backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}

	running := 0
	nextHeartbeat := time.Now()

	for time.Now().Before(deadline) {
		if !time.Now().Before(nextHeartbeat) {
			if err := call("POST", "/v1/agent/heartbeat", heartbeatBody(nodeID, running), nil); err != nil {
				log.Printf("[%s] heartbeat failed: %v", nodeID, err)
			}
			nextHeartbeat = time.Now().Add(*heartbeatEvery)
		}

		var pull struct {
			Task *struct {
				ID string `json:"id"`
			} `json:"task"`
		}
		if err := call("POST", "/v1/tasks/pull", map[string]string{"node_id": nodeID}, &pull); err != nil {
			log.Printf("[%s] pull failed: %v", nodeID, err)
			time.Sleep(*pollEvery)
			continue
		}
		if pull.Task == nil {
			time.Sleep(*pollEvery)
			continue
		}

		pulled.Add(1)
		running = 1
		work := *workTime + time.Duration(rand.Int63n(int64(*workTime)/2+1))
		time.Sleep(work)

		success := rand.Float64() >= *failRate
		result := map[string]any{
			"node_id":     nodeID,
			"success":     success,
			"duration_ms": work.Milliseconds(),
		}
		if !success {
			result["error"] = "synthetic failure"
		}

		var resp struct {
			Accepted string `json:"accepted"`
		}
		if err := call("POST", "/v1/tasks/"+pull.Task.ID+"/result", result, &resp); err != nil {
			log.Printf("[%s] submit failed: %v", nodeID, err)
		} else if resp.Accepted == "stale" {
			stale.Add(1)
		} else if success {
			succeeded.Add(1)
		} else {
			failed.Add(1)
		}
		running = 0
	}
}

func registerBody(nodeID string) map[string]any {
	return map[string]any{
		"node_id":      nodeID,
		"display_name": "Sim " + strings.ToUpper(nodeID),
		"ip":           "127.0.0.1",
		"port":         9000,
		"capabilities": map[string]any{
			"cpu_threads":  4,
			"ram_total_gb": 8,
			"task_types":   []string{"EMBEDDINGS", "INDEX", "TOKENIZE", "PREPROCESS"},
		},
	}
}

func heartbeatBody(nodeID string, running int) map[string]any {
	return map[string]any{
		"node_id": nodeID,
		"metrics": map[string]any{
			"cpu_percent":  20 + rand.Float64()*40,
			"ram_used_gb":  2 + rand.Float64()*2,
			"ram_percent":  30 + rand.Float64()*20,
			"running_jobs": running,
		},
	}
}

func call(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, *coordinatorURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if *secret != "" {
		req.Header.Set("X-EdgeMesh-Secret", *secret)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
