//go:build integration

package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/github-harvester/pkg/harvest"
)

// setupPostgres starts a Postgres container and returns a connected store.
func setupPostgres(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "harvester",
			"POSTGRES_PASSWORD": "harvester",
			"POSTGRES_DB":       "github_repos",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	dsn := fmt.Sprintf("host=%s port=%s user=harvester password=harvester dbname=github_repos sslmode=disable",
		host, port.Port())

	store, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to connect to Postgres: %v", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}

	cleanup := func() {
		store.Close()
		pgContainer.Terminate(ctx)
	}
	return store, cleanup
}

func integrationRepos(count, stars int) []harvest.Repository {
	repos := make([]harvest.Repository, 0, count)
	for i := 0; i < count; i++ {
		id := int64(i + 1)
		repos = append(repos, harvest.Repository{
			ID:             id,
			NodeID:         fmt.Sprintf("node-%d", id),
			FullName:       fmt.Sprintf("owner/repo-%d", id),
			OwnerLogin:     "owner",
			Name:           fmt.Sprintf("repo-%d", id),
			StargazerCount: stars + i,
			FetchedAt:      time.Now().UTC().Truncate(time.Second),
		})
	}
	return repos
}

func TestStore_Integration_UpsertIdempotency(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	repos := integrationRepos(50, 100)

	affected, err := store.UpsertBatch(ctx, repos)
	if err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if affected != 50 {
		t.Errorf("first run affected = %d, want 50", affected)
	}

	// Re-submitting the identical batch must touch zero rows.
	affected, err = store.UpsertBatch(ctx, repos)
	if err != nil {
		t.Fatalf("UpsertBatch() re-run error = %v", err)
	}
	if affected != 0 {
		t.Errorf("re-run affected = %d, want 0", affected)
	}

	// A changed star count is picked up again.
	repos[0].StargazerCount += 7
	affected, err = store.UpsertBatch(ctx, repos)
	if err != nil {
		t.Fatalf("UpsertBatch() after change error = %v", err)
	}
	if affected != 1 {
		t.Errorf("after change affected = %d, want 1", affected)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 50 {
		t.Errorf("Count() = %d, want 50", count)
	}
}

func TestStore_Integration_StatsAndExport(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.UpsertBatch(ctx, integrationRepos(10, 100)); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalRepos != 10 {
		t.Errorf("TotalRepos = %d, want 10", stats.TotalRepos)
	}
	if stats.MaxStars != 109 {
		t.Errorf("MaxStars = %d, want 109", stats.MaxStars)
	}
	if stats.MinStars != 100 {
		t.Errorf("MinStars = %d, want 100", stats.MinStars)
	}

	var buf bytes.Buffer
	exported, err := store.ExportCSV(ctx, &buf)
	if err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}
	if exported != 10 {
		t.Errorf("exported = %d, want 10", exported)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 11 {
		t.Fatalf("csv lines = %d, want header + 10 rows", len(lines))
	}
	// Highest star count first.
	if !strings.Contains(lines[1], "repo-10") {
		t.Errorf("first data row = %q, want repo-10 (109 stars)", lines[1])
	}
}

func TestStore_Integration_Truncate(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := store.UpsertBatch(ctx, integrationRepos(5, 10)); err != nil {
		t.Fatalf("UpsertBatch() error = %v", err)
	}
	if err := store.Truncate(ctx); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() after truncate = %d, want 0", count)
	}
}
