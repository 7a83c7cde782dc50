package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/types"
)

// waitForSubscriberCount polls until the topic has the wanted number of
// consumers. Stream handlers subscribe in their own goroutine, so tests must
// not publish before the subscription lands.
func waitForSubscriberCount(t *testing.T, env *testEnv, topic events.EventType, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for env.broker.SubscriberCount(topic) != want {
		if time.Now().After(deadline) {
			t.Fatalf("topic %s never reached %d subscribers", topic, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func openStream(t *testing.T, ctx context.Context, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp
}

func TestStreamJobsDeliversBurst(t *testing.T) {
	env := newTestEnv(t, Options{})
	ts := httptest.NewServer(env.h)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := openStream(t, ctx, ts, "/v1/stream/jobs")
	defer resp.Body.Close()
	waitForSubscriberCount(t, env, events.EventJobUpdate, 1)

	want := map[string]bool{}
	for i := 0; i < 3; i++ {
		job, err := env.repo.CreateJob(context.Background(), types.TaskTypeEmbeddings, []types.TaskSpec{{}})
		require.NoError(t, err)
		want[job.ID] = true
	}

	got := map[string]bool{}
	eventType := ""
	scanner := bufio.NewScanner(resp.Body)
	for len(got) < len(want) && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.Equal(t, "job_update", eventType)
			var envelope struct {
				JobID     string `json:"job_id"`
				DropCount uint64 `json:"drop_count"`
			}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope))
			got[envelope.JobID] = true
		}
	}
	assert.Equal(t, want, got)
}

func TestStreamNodesUnsubscribesOnDisconnect(t *testing.T) {
	env := newTestEnv(t, Options{})
	ts := httptest.NewServer(env.h)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := openStream(t, ctx, ts, "/v1/stream/nodes")
	defer resp.Body.Close()
	waitForSubscriberCount(t, env, events.EventNodeUpdate, 1)

	_, err := env.repo.UpsertNode(context.Background(), types.RegisterRequest{
		NodeID: "mac-mini-01", DisplayName: "Mac Mini", IP: "192.168.1.10", Port: 8001,
	})
	require.NoError(t, err)

	scanner := bufio.NewScanner(resp.Body)
	var sawNode string
	eventType := ""
	for sawNode == "" && scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			eventType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			require.Equal(t, "node_update", eventType)
			var envelope struct {
				NodeID string `json:"node_id"`
			}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &envelope))
			sawNode = envelope.NodeID
		}
	}
	assert.Equal(t, "mac-mini-01", sawNode)

	// Dropping the client tears the subscription down.
	cancel()
	waitForSubscriberCount(t, env, events.EventNodeUpdate, 0)
}
