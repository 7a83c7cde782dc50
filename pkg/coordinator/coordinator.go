package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgemesh/edgemesh/pkg/api"
	"github.com/edgemesh/edgemesh/pkg/config"
	"github.com/edgemesh/edgemesh/pkg/events"
	"github.com/edgemesh/edgemesh/pkg/log"
	"github.com/edgemesh/edgemesh/pkg/metrics"
	"github.com/edgemesh/edgemesh/pkg/monitor"
	"github.com/edgemesh/edgemesh/pkg/repository"
	"github.com/edgemesh/edgemesh/pkg/storage"
)

// shutdownTimeout bounds how long Stop waits for inflight requests
const shutdownTimeout = 10 * time.Second

// Coordinator owns the full server process: storage, repository, event
// broker, background monitors, metrics collector and the HTTP API.
type Coordinator struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *storage.Store
	broker    *events.Broker
	repo      *repository.Repository
	monitors  []*monitor.Monitor
	collector *metrics.Collector
	api       *api.Server

	apiErr chan error
}

// New opens and migrates the store, then builds every component on top of
// it. Nothing runs until Start.
func New(cfg *config.Config) (*Coordinator, error) {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	applied, err := store.Migrate(context.Background())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate store: %w", err)
	}

	broker := events.NewBroker()
	repo := repository.New(store, broker, repository.Options{
		StaleAfter:    cfg.StaleAfter(),
		OfflineAfter:  cfg.OfflineAfter(),
		LeaseDuration: cfg.LeaseDuration(),
	})

	c := &Coordinator{
		cfg:    cfg,
		logger: log.WithComponent("coordinator"),
		store:  store,
		broker: broker,
		repo:   repo,
		monitors: []*monitor.Monitor{
			monitor.NewStaleMonitor(repo, cfg.StaleScanInterval()),
			monitor.NewLeaseMonitor(repo, cfg.RecoveryScanInterval()),
		},
		collector: metrics.NewCollector(repo, broker),
		api: api.NewServer(store, repo, broker, api.Options{
			Addr:         cfg.ListenAddr(),
			CORSOrigins:  cfg.CORSOrigins,
			SharedSecret: cfg.SharedSecret,
			PollSeconds:  cfg.TaskPollSeconds,
			LeaseSeconds: cfg.TaskLeaseSeconds,
		}),
		apiErr: make(chan error, 1),
	}

	if len(applied) > 0 {
		c.logger.Info().Strs("versions", applied).Msg("Applied schema migrations")
	}
	return c, nil
}

// Repository exposes the data layer, for tests and embedding callers
func (c *Coordinator) Repository() *repository.Repository {
	return c.repo
}

// Start brings the process up: monitors, metrics collector, then the HTTP
// listener in its own goroutine. A listener failure surfaces on Err.
func (c *Coordinator) Start() {
	for _, m := range c.monitors {
		m.Start()
	}
	metrics.RegisterComponent("monitors", true, "")

	c.collector.Start()

	go func() {
		if err := c.api.Start(); err != nil {
			c.apiErr <- err
		}
	}()
	metrics.RegisterComponent("api", true, "")
	metrics.UpdateComponent("storage", true, "")

	c.logger.Info().
		Str("addr", c.cfg.ListenAddr()).
		Str("db", c.cfg.DBPath).
		Msg("Coordinator started")
}

// Err surfaces a fatal HTTP listener failure
func (c *Coordinator) Err() <-chan error {
	return c.apiErr
}

// Stop tears the process down in reverse order of Start
func (c *Coordinator) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := c.api.Shutdown(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("HTTP shutdown did not finish cleanly")
	}
	c.collector.Stop()
	for _, m := range c.monitors {
		m.Stop()
	}

	if err := c.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	c.logger.Info().Dur("uptime", metrics.Uptime()).Msg("Coordinator stopped")
	return nil
}
