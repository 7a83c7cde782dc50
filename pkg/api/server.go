package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/log"
	"github.com/edgemesh/edgemesh/pkg/metrics"
	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/storage"
)

// secretHeader carries the shared secret agents attach to protected calls
const secretHeader = "X-EdgeMesh-Secret"

// Options configures the HTTP server
type Options struct {
	Addr         string
	CORSOrigins  []string
	SharedSecret string

	// Cadence hints returned to agents at registration
	PollSeconds  int
	LeaseSeconds int
}

func (o Options) withDefaults() Options {
	if o.PollSeconds <= 0 {
		o.PollSeconds = 2
	}
	if o.LeaseSeconds <= 0 {
		o.LeaseSeconds = 30
	}
	return o
}

// Server is the coordinator's HTTP surface: the node registry, the job API,
// the agent pull/result plane, SSE streams and the operational probes.
type Server struct {
	opts   Options
	store  *storage.Store
	repo   *repository.Repository
	broker *events.Broker
	logger zerolog.Logger
	mux    *http.ServeMux
	http   *http.Server
}

// NewServer wires the routes. Start must be called to serve.
func NewServer(store *storage.Store, repo *repository.Repository, broker *events.Broker, opts Options) *Server {
	s := &Server{
		opts:   opts.withDefaults(),
		store:  store,
		repo:   repo,
		broker: broker,
		logger: log.WithComponent("api"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Probes and exposition
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /api/health", s.healthHandler)
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.Handle("GET /metrics", metrics.Handler())

	// Registry and scheduling views
	s.mux.HandleFunc("GET /v1/nodes", s.listNodesHandler)
	s.mux.HandleFunc("GET /v1/nodes/{id}", s.getNodeHandler)
	s.mux.HandleFunc("PUT /v1/nodes/{id}/policy", s.putPolicyHandler)
	s.mux.HandleFunc("GET /v1/cluster/summary", s.clusterSummaryHandler)
	s.mux.HandleFunc("POST /v1/simulate/schedule", s.simulateHandler)

	// Agent plane, behind the shared secret when one is configured
	s.mux.HandleFunc("POST /v1/agent/register", s.registerHandler)
	s.mux.HandleFunc("POST /v1/agent/heartbeat", s.heartbeatHandler)
	s.mux.HandleFunc("POST /v1/tasks/pull", s.pullTaskHandler)
	s.mux.HandleFunc("POST /v1/tasks/{id}/result", s.submitResultHandler)

	// Jobs
	s.mux.HandleFunc("POST /v1/jobs", s.createJobHandler)
	s.mux.HandleFunc("GET /v1/jobs", s.listJobsHandler)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.getJobHandler)
	s.mux.HandleFunc("GET /v1/jobs/{id}/tasks", s.jobTasksHandler)
	s.mux.HandleFunc("POST /v1/jobs/{id}/status", s.jobStatusHandler)
	s.mux.HandleFunc("GET /v1/metrics/execution", s.executionMetricsHandler)
	s.mux.HandleFunc("POST /v1/demo/jobs/create-embed-burst", s.demoBurstHandler)

	// Event streams
	s.mux.HandleFunc("GET /v1/stream/nodes", s.streamNodesHandler)
	s.mux.HandleFunc("GET /v1/stream/jobs", s.streamJobsHandler)
}

// Handler returns the full middleware chain. Tests and embedding servers use
// it directly; Start serves it.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = s.secretGate(h)
	h = s.corsMiddleware(h)
	h = s.loggingMiddleware(h)
	return h
}

// Start serves HTTP until Shutdown is called
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", s.opts.Addr).Msg("HTTP server listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains inflight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// statusRecorder captures the response code for logs and metrics. It keeps
// Flush and Unwrap visible so streaming handlers still reach the real writer.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()

		next.ServeHTTP(rec, r)

		elapsed := timer.Duration()
		// Streams hold their connection open and stay out of the request
		// metrics.
		if !strings.HasPrefix(r.URL.Path, "/v1/stream/") {
			metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()
			metrics.APIRequestDuration.WithLabelValues(r.Method).Observe(elapsed.Seconds())
		}
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", elapsed).
			Msg("Request served")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+secretHeader)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) bool {
	for _, allowed := range s.opts.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// protectedPath reports whether a route requires the shared secret
func protectedPath(path string) bool {
	return strings.HasPrefix(path, "/v1/agent/") || strings.HasPrefix(path, "/v1/tasks/")
}

// secretGate rejects agent-plane calls that do not present the configured
// shared secret. An empty secret disables the gate entirely.
func (s *Server) secretGate(next http.Handler) http.Handler {
	secret := strings.TrimSpace(s.opts.SharedSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" || !protectedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		presented := strings.TrimSpace(r.Header.Get(secretHeader))
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			s.writeError(w, unauthorized("Invalid or missing shared secret"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
