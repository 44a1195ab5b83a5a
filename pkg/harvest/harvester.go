package harvest

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/github-harvester/pkg/github"
	"github.com/Sternrassler/github-harvester/pkg/ratelimit"
)

// ErrInterrupted is returned by Run when the harvest was stopped by
// context cancellation. Accumulated statistics are still returned.
var ErrInterrupted = errors.New("harvest interrupted")

// errTargetReached stops pagination from inside the emit callback once
// the global target is met. Never surfaced to callers.
var errTargetReached = errors.New("target reached")

// Sink persists harvested repositories. UpsertBatch must be idempotent
// and count a row as affected only when a tracked attribute changed.
type Sink interface {
	UpsertBatch(ctx context.Context, repos []Repository) (int64, error)
}

// Config holds the harvest run parameters.
type Config struct {
	// BaseQuery is ANDed into every partition query (empty = unrestricted).
	BaseQuery string

	// TargetCount is the global number of unique repositories to harvest.
	TargetCount int

	// BatchSize is the page size per search request.
	BatchSize int

	// Ladder overrides the partition table (default: DefaultLadder).
	Ladder []StarRange
}

// Stats is the result record of one harvest run.
type Stats struct {
	TotalHarvested int
	TotalAffected  int64
	Partitions     int
	Pages          int
	Batches        int
	Dropped        int
	Duplicates     int
	StartedAt      time.Time
	FinishedAt     time.Time
	Duration       time.Duration
	ReposPerSecond float64
}

// Harvester composes partitioner, fetcher, deduplicator and sink into a
// single run loop.
type Harvester struct {
	fetcher *Fetcher
	sink    Sink
	cfg     Config
	logger  zerolog.Logger
}

// New creates a harvester. The governor carries the run-scoped rate limit
// state; the ladder falls back to DefaultLadder when unset.
func New(client SearchClient, sink Sink, governor *ratelimit.Governor, cfg Config) (*Harvester, error) {
	if cfg.TargetCount <= 0 {
		return nil, errors.New("target count must be positive")
	}
	if len(cfg.Ladder) == 0 {
		cfg.Ladder = DefaultLadder
	}
	if err := ValidateLadder(cfg.Ladder); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "harvester").Logger()
	fetcherLogger := log.With().Str("component", "fetcher").Logger()

	return &Harvester{
		fetcher: NewFetcher(client, governor, cfg.BatchSize, fetcherLogger),
		sink:    sink,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run executes the harvest until the target count is reached, the
// partition ladder is exhausted, or the context is cancelled. Statistics
// are returned on every exit path; cancellation is reported as
// ErrInterrupted so callers can distinguish it from a fatal error.
func (h *Harvester) Run(ctx context.Context) (Stats, error) {
	stats := Stats{StartedAt: time.Now().UTC()}
	dedup := NewDeduper()
	work := newWorklist(h.cfg.Ladder)

	h.logger.Info().
		Int("target", h.cfg.TargetCount).
		Int("batch_size", h.cfg.BatchSize).
		Str("base_query", h.cfg.BaseQuery).
		Msg("Starting harvest")

	interrupted := false

	for {
		r, ok := work.next()
		if !ok || stats.TotalHarvested >= h.cfg.TargetCount {
			break
		}
		if ctx.Err() != nil {
			interrupted = true
			break
		}

		query := r.Query(h.cfg.BaseQuery)
		budget := github.SearchResultCap
		if remaining := h.cfg.TargetCount - stats.TotalHarvested; remaining < budget {
			budget = remaining
		}

		h.logger.Info().
			Str("partition", query).
			Int("budget", budget).
			Msg("Searching partition")

		pstats, err := h.fetcher.FetchPartition(ctx, query, budget, func(batch []Repository) error {
			unique := dedup.Filter(batch)
			if len(unique) == 0 {
				return nil
			}

			// Never exceed the global target, even mid-batch.
			if remaining := h.cfg.TargetCount - stats.TotalHarvested; len(unique) > remaining {
				unique = unique[:remaining]
			}

			affected, err := h.sink.UpsertBatch(ctx, unique)
			if err != nil {
				return err
			}

			stats.Batches++
			stats.TotalHarvested += len(unique)
			stats.TotalAffected += affected
			harvestedTotal.Add(float64(len(unique)))

			if stats.Batches%10 == 0 {
				elapsed := time.Since(stats.StartedAt).Seconds()
				rate := 0.0
				if elapsed > 0 {
					rate = float64(stats.TotalHarvested) / elapsed
				}
				h.logger.Info().
					Int("harvested", stats.TotalHarvested).
					Int("target", h.cfg.TargetCount).
					Float64("rate", rate).
					Int64("affected", stats.TotalAffected).
					Msg("Harvest progress")
			}

			if stats.TotalHarvested >= h.cfg.TargetCount {
				return errTargetReached
			}
			return nil
		})

		stats.Partitions++
		partitionsTotal.Inc()
		stats.Pages += pstats.Pages
		stats.Dropped += pstats.Dropped

		switch {
		case err == nil:
		case errors.Is(err, errTargetReached):
			// Target met mid-partition; traversal stops below.
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			interrupted = true
		default:
			// Partition-fatal: abandon this range, keep harvesting.
			// Partial coverage beats total failure.
			partitionFailuresTotal.Inc()
			h.logger.Error().
				Err(err).
				Str("partition", query).
				Str("cursor", pstats.Cursor).
				Int("pages", pstats.Pages).
				Msg("Partition abandoned after fatal error")
		}

		if interrupted || stats.TotalHarvested >= h.cfg.TargetCount {
			break
		}

		// A reported match count above the provider cap means this band
		// silently truncates; refine it instead of assuming coverage.
		if pstats.ReportedCount > github.SearchResultCap && err == nil {
			if work.pushSplit(r) {
				partitionSplitsTotal.Inc()
				h.logger.Info().
					Str("partition", query).
					Int("reported", pstats.ReportedCount).
					Msg("Partition exceeds result cap - splitting")
			} else {
				h.logger.Warn().
					Str("partition", query).
					Int("reported", pstats.ReportedCount).
					Msg("Unit partition exceeds result cap - results truncated")
			}
		}
	}

	stats.Duplicates = dedup.Duplicates()
	stats.FinishedAt = time.Now().UTC()
	stats.Duration = stats.FinishedAt.Sub(stats.StartedAt)
	if secs := stats.Duration.Seconds(); secs > 0 {
		stats.ReposPerSecond = float64(stats.TotalHarvested) / secs
	}

	h.logger.Info().
		Int("harvested", stats.TotalHarvested).
		Int64("affected", stats.TotalAffected).
		Int("partitions", stats.Partitions).
		Int("pages", stats.Pages).
		Int("duplicates", stats.Duplicates).
		Int("dropped", stats.Dropped).
		Dur("duration", stats.Duration).
		Float64("rate", stats.ReposPerSecond).
		Bool("interrupted", interrupted).
		Msg("Harvest finished")

	if interrupted {
		return stats, ErrInterrupted
	}
	return stats, nil
}
