package harvest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-harvester/pkg/github"
	"github.com/Sternrassler/github-harvester/pkg/ratelimit"
)

// interPageDelay is applied between pages of the same partition to stay
// under burst thresholds the quota counter does not capture.
const interPageDelay = 100 * time.Millisecond

// SearchClient is the transport primitive the fetcher drives.
type SearchClient interface {
	SearchRepositories(ctx context.Context, queryString string, first int, after string) (*github.SearchPage, error)
}

// Fetcher drives cursor pagination for one partition query at a time,
// mapping raw nodes to repositories and feeding every rate limit
// snapshot to the governor before the next page is requested.
type Fetcher struct {
	client    SearchClient
	governor  *ratelimit.Governor
	batchSize int
	logger    zerolog.Logger

	// Injectable for tests.
	now   func() time.Time
	delay func(ctx context.Context, d time.Duration)
}

// NewFetcher creates a fetcher with the given page size.
func NewFetcher(client SearchClient, governor *ratelimit.Governor, batchSize int, logger zerolog.Logger) *Fetcher {
	if batchSize <= 0 || batchSize > github.MaxPageSize {
		batchSize = github.MaxPageSize
	}
	return &Fetcher{
		client:    client,
		governor:  governor,
		batchSize: batchSize,
		logger:    logger,
		now:       time.Now,
		delay:     delayCtx,
	}
}

// partitionStats summarizes one partition traversal.
type partitionStats struct {
	// Fetched counts mapped repositories emitted (before deduplication).
	Fetched int

	// Pages counts search requests issued.
	Pages int

	// Dropped counts malformed nodes skipped during mapping.
	Dropped int

	// ReportedCount is the provider's total match count for the query,
	// taken from the first page. A value above the result cap means the
	// partition cannot be fully traversed as-is.
	ReportedCount int

	// Cursor is the last pagination cursor, kept for abandonment logs.
	Cursor string
}

// FetchPartition pages through one partition query until the provider
// reports no further page, the budget is exhausted, or an error occurs.
// emit receives each batch of mapped repositories; an error from emit
// stops the partition and is returned as-is.
//
// Cancellation is observed between pages only: a page that has been
// fetched is always mapped and emitted whole.
func (f *Fetcher) FetchPartition(ctx context.Context, query string, budget int, emit func([]Repository) error) (partitionStats, error) {
	var stats partitionStats

	cursor := ""
	for stats.Fetched < budget {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		first := f.batchSize
		if remaining := budget - stats.Fetched; remaining < first {
			first = remaining
		}

		page, err := f.client.SearchRepositories(ctx, query, first, cursor)
		if err != nil {
			return stats, err
		}
		stats.Pages++
		pagesTotal.Inc()
		if stats.Pages == 1 {
			stats.ReportedCount = page.RepositoryCount
		}

		// Throttle proactively: the governor sees every snapshot before
		// the next request is considered.
		f.governor.Observe(ctx, page.RateLimit)

		// An empty page means end-of-data even if hasNextPage claims
		// otherwise; provider pagination state is not always consistent.
		if len(page.Nodes) == 0 {
			break
		}

		fetchedAt := f.now().UTC()
		batch := make([]Repository, 0, len(page.Nodes))
		for _, node := range page.Nodes {
			repo, err := RepositoryFromNode(node, fetchedAt)
			if err != nil {
				stats.Dropped++
				droppedTotal.Inc()
				f.logger.Warn().
					Err(err).
					Str("partition", query).
					Msg("Dropping malformed record")
				continue
			}
			batch = append(batch, repo)
		}

		if len(batch) > 0 {
			if err := emit(batch); err != nil {
				return stats, err
			}
			stats.Fetched += len(batch)
		}

		if !page.HasNextPage {
			break
		}
		cursor = page.EndCursor
		stats.Cursor = cursor

		f.delay(ctx, interPageDelay)
	}

	return stats, nil
}

// delayCtx pauses for d or until ctx is cancelled.
func delayCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
