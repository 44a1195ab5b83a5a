package harvest

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/github-harvester/pkg/github"
	"github.com/Sternrassler/github-harvester/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// fakeProvider emulates the search API over a synthetic dataset: star
// range filtering, cursor pagination and the per-query result cap.
type fakeProvider struct {
	repos       []Repository
	maxPerQuery int // result cap, defaults to github.SearchResultCap

	// failQueries maps a query substring to an error returned for it.
	failQueries map[string]error

	requests        int
	largestPageSize int
	served          map[string]int // cumulative nodes served per query
}

func newFakeProvider(repos []Repository) *fakeProvider {
	return &fakeProvider{
		repos:       repos,
		maxPerQuery: github.SearchResultCap,
		served:      make(map[string]int),
	}
}

func (p *fakeProvider) SearchRepositories(_ context.Context, query string, first int, after string) (*github.SearchPage, error) {
	p.requests++
	if first > p.largestPageSize {
		p.largestPageSize = first
	}

	for substr, err := range p.failQueries {
		if strings.Contains(query, substr) {
			return nil, err
		}
	}

	minStars, maxStars := parseStarsQualifier(query)
	var matches []Repository
	for _, r := range p.repos {
		if r.StargazerCount >= minStars && (maxStars == Unbounded || r.StargazerCount <= maxStars) {
			matches = append(matches, r)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	offset := 0
	if after != "" {
		offset, _ = strconv.Atoi(after)
	}

	// The provider never serves past the cap, whatever the true count.
	reachable := len(matches)
	if reachable > p.maxPerQuery {
		reachable = p.maxPerQuery
	}

	end := offset + first
	if end > reachable {
		end = reachable
	}

	var nodes []github.RepoNode
	for _, r := range matches[offset:end] {
		id := r.ID
		node := github.RepoNode{
			DatabaseID:     &id,
			ID:             r.NodeID,
			Name:           r.Name,
			StargazerCount: r.StargazerCount,
		}
		node.Owner.Login = r.OwnerLogin
		nodes = append(nodes, node)
	}
	p.served[query] += len(nodes)

	return &github.SearchPage{
		Nodes:           nodes,
		HasNextPage:     end < reachable,
		EndCursor:       strconv.Itoa(end),
		RepositoryCount: len(matches),
		RateLimit: ratelimit.Snapshot{
			Remaining: 4500,
			Limit:     5000,
			Cost:      1,
			ResetAt:   time.Now().Add(time.Hour),
		},
	}, nil
}

// parseStarsQualifier extracts the star range from a search query string.
func parseStarsQualifier(query string) (minStars, maxStars int) {
	for _, field := range strings.Fields(query) {
		val, ok := strings.CutPrefix(field, "stars:")
		if !ok {
			continue
		}
		if n, ok := strings.CutPrefix(val, ">="); ok {
			minStars, _ = strconv.Atoi(n)
			return minStars, Unbounded
		}
		if lo, hi, ok := strings.Cut(val, ".."); ok {
			minStars, _ = strconv.Atoi(lo)
			maxStars, _ = strconv.Atoi(hi)
			return minStars, maxStars
		}
		n, _ := strconv.Atoi(val)
		return n, n
	}
	return 0, Unbounded
}

// fakeSink is an in-memory sink with change-only affected counting, the
// same contract as the Postgres upsert.
type fakeSink struct {
	rows         map[int64]Repository
	batches      [][]Repository
	emptyBatches int
	failErr      error
	onUpsert     func(batch []Repository)
}

func newFakeSink() *fakeSink {
	return &fakeSink{rows: make(map[int64]Repository)}
}

func (s *fakeSink) UpsertBatch(_ context.Context, repos []Repository) (int64, error) {
	if s.onUpsert != nil {
		s.onUpsert(repos)
	}
	if s.failErr != nil {
		return 0, s.failErr
	}
	if len(repos) == 0 {
		s.emptyBatches++
		return 0, nil
	}

	s.batches = append(s.batches, repos)

	var affected int64
	for _, r := range repos {
		existing, ok := s.rows[r.ID]
		if !ok || existing.StargazerCount != r.StargazerCount || existing.FullName != r.FullName {
			affected++
		}
		s.rows[r.ID] = r
	}
	return affected, nil
}

// genRepos builds count synthetic repositories with the given star count,
// IDs starting at startID.
func genRepos(startID int64, count, stars int) []Repository {
	repos := make([]Repository, 0, count)
	for i := 0; i < count; i++ {
		id := startID + int64(i)
		repos = append(repos, Repository{
			ID:             id,
			NodeID:         "node-" + strconv.FormatInt(id, 10),
			FullName:       "owner/repo-" + strconv.FormatInt(id, 10),
			OwnerLogin:     "owner",
			Name:           "repo-" + strconv.FormatInt(id, 10),
			StargazerCount: stars,
		})
	}
	return repos
}

// newTestHarvester wires a harvester over the fakes with pauses disabled.
func newTestHarvester(provider SearchClient, sink Sink, cfg Config) (*Harvester, error) {
	governor := ratelimit.NewGovernor(50, zerolog.Nop())
	h, err := New(provider, sink, governor, cfg)
	if err != nil {
		return nil, err
	}
	h.fetcher.delay = func(context.Context, time.Duration) {}
	return h, nil
}
