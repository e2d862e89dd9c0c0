package submission

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// HealthChecker checks that the backend is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Replayer drains the offline queue.
type Replayer interface {
	Replay(ctx context.Context) (int, error)
}

// ReplayerFunc adapts a function to Replayer.
type ReplayerFunc func(ctx context.Context) (int, error)

func (f ReplayerFunc) Replay(ctx context.Context) (int, error) {
	return f(ctx)
}

// Monitor tracks backend reachability and replays the offline queue on
// start and on every offline to online transition.
type Monitor struct {
	checker  HealthChecker
	replayer Replayer
	interval time.Duration
	timeout  time.Duration
	logger   *zerolog.Logger

	online atomic.Bool
}

func NewMonitor(checker HealthChecker, replayer Replayer, interval time.Duration, logger *zerolog.Logger) *Monitor {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "connectivity").Logger()
	return &Monitor{
		checker:  checker,
		replayer: replayer,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   &l,
	}
}

// Online reports the last health check result.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// Start checks once, replays if online, then keeps checking until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.check(ctx) {
		m.replay(ctx)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wasOnline := m.Online()
			if m.check(ctx) && !wasOnline {
				m.logger.Info().Msg("backend reachable again")
				m.replay(ctx)
			}
		}
	}
}

func (m *Monitor) check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	err := m.checker.HealthCheck(pctx)
	online := err == nil
	if m.online.Swap(online) && !online {
		m.logger.Warn().Err(err).Msg("backend unreachable, submissions will be queued")
	}
	return online
}

func (m *Monitor) replay(ctx context.Context) {
	if m.replayer == nil {
		return
	}
	if _, err := m.replayer.Replay(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("offline queue replay incomplete")
	}
}

// AlwaysOnline is a Connectivity that never defers submissions.
type AlwaysOnline struct{}

func (AlwaysOnline) Online() bool { return true }
