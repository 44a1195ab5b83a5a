// Package storage implements the Postgres sink for harvested
// repositories: idempotent batch upserts, statistics and CSV export.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/github-harvester/pkg/harvest"
)

// Prometheus metrics for sink operations.
var (
	upsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_upsert_duration_seconds",
		Help:    "Batch upsert duration in seconds",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	rowsAffectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "harvester_sink_rows_affected_total",
		Help: "Total rows inserted or updated by the sink",
	})
)

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
    id              BIGINT PRIMARY KEY,
    node_id         TEXT NOT NULL,
    full_name       TEXT NOT NULL,
    owner_login     TEXT NOT NULL,
    name            TEXT NOT NULL,
    stargazer_count INTEGER NOT NULL DEFAULT 0,
    fetched_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_repositories_stars ON repositories (stargazer_count DESC);`

// upsertTemplate updates a row only when a tracked attribute actually
// changed, so re-submitting unchanged repositories affects zero rows and
// throughput statistics stay honest.
const upsertTemplate = `
INSERT INTO repositories (id, node_id, full_name, owner_login, name, stargazer_count, fetched_at)
VALUES %s
ON CONFLICT (id) DO UPDATE SET
    node_id = EXCLUDED.node_id,
    full_name = EXCLUDED.full_name,
    owner_login = EXCLUDED.owner_login,
    name = EXCLUDED.name,
    stargazer_count = EXCLUDED.stargazer_count,
    fetched_at = EXCLUDED.fetched_at
WHERE repositories.stargazer_count IS DISTINCT FROM EXCLUDED.stargazer_count
   OR repositories.full_name IS DISTINCT FROM EXCLUDED.full_name`

// Store is the Postgres-backed repository sink.
type Store struct {
	db     *sqlx.DB
	logger zerolog.Logger
}

// New connects to Postgres and verifies the connection.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing connection (used by tests).
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{
		db:     db,
		logger: log.With().Str("component", "storage").Logger(),
	}
}

// EnsureSchema creates the repositories table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertBatch inserts or updates repositories and returns the number of
// rows actually affected. Idempotent: an identical batch affects zero
// rows on re-submission.
func (s *Store) UpsertBatch(ctx context.Context, repos []harvest.Repository) (int64, error) {
	if len(repos) == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() {
		upsertDuration.Observe(time.Since(start).Seconds())
	}()

	placeholders := make([]string, 0, len(repos))
	args := make([]any, 0, len(repos)*7)
	for i, r := range repos {
		base := i * 7
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		args = append(args, r.ID, r.NodeID, r.FullName, r.OwnerLogin, r.Name, r.StargazerCount, r.FetchedAt)
	}

	query := fmt.Sprintf(upsertTemplate, strings.Join(placeholders, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert batch of %d: %w", len(repos), err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	rowsAffectedTotal.Add(float64(affected))

	s.logger.Debug().
		Int("batch", len(repos)).
		Int64("affected", affected).
		Msg("Batch upserted")

	return affected, nil
}

// Count returns the total number of stored repositories.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM repositories"); err != nil {
		return 0, fmt.Errorf("count repositories: %w", err)
	}
	return count, nil
}

// Stats summarizes the stored catalog.
type Stats struct {
	TotalRepos int64   `db:"total_repos"`
	AvgStars   float64 `db:"avg_stars"`
	MaxStars   int64   `db:"max_stars"`
	MinStars   int64   `db:"min_stars"`
	TotalStars int64   `db:"total_stars"`
}

// GetStats returns aggregate statistics over the stored repositories.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.GetContext(ctx, &stats, `
		SELECT
		    COUNT(*)                          AS total_repos,
		    COALESCE(AVG(stargazer_count), 0) AS avg_stars,
		    COALESCE(MAX(stargazer_count), 0) AS max_stars,
		    COALESCE(MIN(stargazer_count), 0) AS min_stars,
		    COALESCE(SUM(stargazer_count), 0) AS total_stars
		FROM repositories`)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// Truncate removes all stored repositories. Testing/reset only.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE repositories"); err != nil {
		return fmt.Errorf("truncate repositories: %w", err)
	}
	s.logger.Warn().Msg("Repositories table truncated")
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
