package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/metrics"
)

// keepAliveInterval is how long a stream may stay silent before a comment
// line is sent to hold the connection open.
const keepAliveInterval = 15 * time.Second

// streamEnvelope is the SSE data payload. Events carry identifiers only;
// clients re-fetch the resource for current state. DropCount is cumulative
// for this subscription, so a client can tell it missed updates.
type streamEnvelope struct {
	NodeID    string `json:"node_id,omitempty"`
	JobID     string `json:"job_id,omitempty"`
	DropCount uint64 `json:"drop_count"`
}

func (s *Server) streamNodesHandler(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, events.EventNodeUpdate)
}

func (s *Server) streamJobsHandler(w http.ResponseWriter, r *http.Request) {
	s.serveStream(w, r, events.EventJobUpdate)
}

// writeSSE emits one event in the wire format "event: <type>\ndata: <json>\n\n"
func writeSSE(w io.Writer, ev events.Event) error {
	data, err := json.Marshal(streamEnvelope{
		NodeID:    ev.NodeID,
		JobID:     ev.JobID,
		DropCount: ev.Dropped,
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, topic events.EventType) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, apiError{Kind: kindInternal, Message: "streaming unsupported"})
		return
	}

	// The server-wide write timeout would sever a long-lived stream; this
	// response manages its own deadline.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.broker.Subscribe(topic)
	metrics.StreamSubscribers.WithLabelValues(string(topic)).Inc()
	defer func() {
		s.broker.Unsubscribe(topic, sub)
		metrics.StreamSubscribers.WithLabelValues(string(topic)).Dec()
	}()

	logger := s.logger.With().Str("topic", string(topic)).Logger()
	logger.Debug().Msg("Stream opened")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	var countedDrops uint64
	for {
		select {
		case <-r.Context().Done():
			logger.Debug().Uint64("dropped", sub.Dropped()).Msg("Stream closed")
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if ev.Dropped > countedDrops {
				metrics.StreamEventsDropped.WithLabelValues(string(topic)).Add(float64(ev.Dropped - countedDrops))
				countedDrops = ev.Dropped
			}
			if err := writeSSE(w, ev); err != nil {
				logger.Debug().Err(err).Msg("Stream write failed")
				return
			}
			flusher.Flush()
			keepAlive.Reset(keepAliveInterval)
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
