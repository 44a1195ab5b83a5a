package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for quota tracking.
var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_quota_remaining",
		Help: "Quota points remaining in the current GitHub rate limit window",
	})

	quotaWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_quota_waits_total",
		Help: "Total number of pauses waiting for quota window reset",
	})

	quotaWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_quota_wait_seconds",
		Help:    "Duration of quota reset pauses",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	})
)

// Governor tracks the latest quota snapshot for one harvest run and
// pauses the caller before the server-side quota is exhausted.
// State is instance-scoped so concurrent runs in one process do not
// contaminate each other.
type Governor struct {
	lowWaterMark int
	logger       zerolog.Logger

	mu   sync.Mutex
	last *Snapshot

	// Injectable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// NewGovernor creates a governor with the given low-water mark.
// A mark <= 0 falls back to DefaultLowWaterMark.
func NewGovernor(lowWaterMark int, logger zerolog.Logger) *Governor {
	if lowWaterMark <= 0 {
		lowWaterMark = DefaultLowWaterMark
	}
	return &Governor{
		lowWaterMark: lowWaterMark,
		logger:       logger,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// Observe records the snapshot from the latest response and blocks until
// the next request may proceed. It never returns an error: the governor
// only advises a wait, so its sole failure mode is waking up early on
// context cancellation.
func (g *Governor) Observe(ctx context.Context, snap Snapshot) {
	g.mu.Lock()
	g.last = &snap
	g.mu.Unlock()

	quotaRemaining.Set(float64(snap.Remaining))

	if snap.Exhausted(g.lowWaterMark) {
		wait := snap.TimeUntilReset(g.now())
		if wait <= 0 {
			return
		}
		wait += ResetSafetyMargin

		g.logger.Warn().
			Int("remaining", snap.Remaining).
			Int("limit", snap.Limit).
			Dur("wait", wait).
			Time("reset_at", snap.ResetAt).
			Msg("Quota low - pausing until window reset")

		quotaWaitsTotal.Inc()
		quotaWaitSeconds.Observe(wait.Seconds())
		g.sleep(ctx, wait)
		return
	}

	if snap.Remaining%checkpointInterval == 0 {
		g.logger.Info().
			Int("remaining", snap.Remaining).
			Int("limit", snap.Limit).
			Msg("Quota checkpoint")
	}
}

// Last returns the most recently observed snapshot, if any.
func (g *Governor) Last() (Snapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.last == nil {
		return Snapshot{}, false
	}
	return *g.last, true
}

// sleepCtx blocks for d or until ctx is cancelled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
