package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgemesh/edgemesh/pkg/log"
	"github.com/edgemesh/edgemesh/pkg/metrics"
	"github.com/edgemesh/edgemesh/pkg/repository"
)

// Monitor is one background maintenance loop: a named tick function driven
// by a ticker until Stop. A failing tick is logged and the loop carries on.
type Monitor struct {
	name     string
	interval time.Duration
	tick     func(ctx context.Context, now time.Time) (int, error)
	clock    func() time.Time
	logger   zerolog.Logger
	stopCh   chan struct{}
}

func newMonitor(name string, interval time.Duration, tick func(ctx context.Context, now time.Time) (int, error)) *Monitor {
	return &Monitor{
		name:     name,
		interval: interval,
		tick:     tick,
		clock:    func() time.Time { return time.Now().UTC() },
		logger:   log.WithComponent("monitor." + name),
		stopCh:   make(chan struct{}),
	}
}

// NewStaleMonitor demotes silent nodes on a fixed period
func NewStaleMonitor(repo *repository.Repository, interval time.Duration) *Monitor {
	return newMonitor("stale_nodes", interval, func(ctx context.Context, now time.Time) (int, error) {
		changed, err := repo.SweepStaleNodes(ctx, now)
		return len(changed), err
	})
}

// NewLeaseMonitor recovers tasks whose lease holders went silent
func NewLeaseMonitor(repo *repository.Repository, interval time.Duration) *Monitor {
	return newMonitor("lease_recovery", interval, func(ctx context.Context, now time.Time) (int, error) {
		reclaimed, err := repo.ReclaimExpiredLeases(ctx, now)
		return len(reclaimed), err
	})
}

// SetClock replaces the wall clock. Tests freeze and advance it.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.clock = clock
}

// Name returns the monitor's name
func (m *Monitor) Name() string {
	return m.name
}

// Start begins the loop
func (m *Monitor) Start() {
	go m.run()
}

// Stop halts the loop. Safe to call once.
func (m *Monitor) Stop() {
	close(m.stopCh)
}

func (m *Monitor) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Debug().Dur("interval", m.interval).Msg("Monitor started")
	for {
		select {
		case <-ticker.C:
			timer := metrics.NewTimer()
			touched, err := m.Tick(context.Background())
			timer.ObserveDuration(metrics.MonitorTickDuration.WithLabelValues(m.name))
			metrics.MonitorTicksTotal.WithLabelValues(m.name).Inc()
			if err != nil {
				m.logger.Error().Err(err).Msg("Monitor tick failed")
				continue
			}
			metrics.MonitorTouchedTotal.WithLabelValues(m.name).Add(float64(touched))
		case <-m.stopCh:
			m.logger.Debug().Msg("Monitor stopped")
			return
		}
	}
}

// Tick runs one maintenance cycle at the current clock reading and returns
// how many records it touched
func (m *Monitor) Tick(ctx context.Context) (int, error) {
	return m.tick(ctx, m.clock())
}
