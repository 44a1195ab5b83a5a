// Package testutil provides testing utilities for the harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockRepo is one synthetic repository served by the mock API.
type MockRepo struct {
	ID         int64
	NodeID     string
	Owner      string
	Name       string
	Stargazers int
}

// MockResponse overrides the scripted behavior for matching queries.
type MockResponse struct {
	StatusCode int
	Body       string
	Delay      time.Duration
}

// MockGitHub is a configurable in-process GitHub GraphQL search API. It
// filters a synthetic dataset by the stars qualifier in the query string,
// paginates with opaque cursors and enforces the per-query result cap.
type MockGitHub struct {
	server *httptest.Server
	mu     sync.RWMutex

	repos      []MockRepo
	maxResults int
	remaining  int
	limit      int

	// failures maps a query substring to a scripted response.
	failures map[string]MockResponse

	// Tracking
	RequestCount   int
	LastAuthHeader string
}

// NewMockGitHub creates a mock search API over the given dataset.
func NewMockGitHub(repos []MockRepo) *MockGitHub {
	mock := &MockGitHub{
		repos:      repos,
		maxResults: 1000,
		remaining:  4500,
		limit:      5000,
		failures:   make(map[string]MockResponse),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockGitHub) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGitHub) Close() {
	m.server.Close()
}

// SetResultCap overrides the per-query result cap (default 1000).
func (m *MockGitHub) SetResultCap(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxResults = n
}

// SetRemaining overrides the rate limit budget reported with each page.
func (m *MockGitHub) SetRemaining(remaining int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
}

// FailQuery scripts a response for any query containing substr.
func (m *MockGitHub) FailQuery(substr string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[substr] = resp
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGitHub) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

type searchVariables struct {
	QueryString string  `json:"queryString"`
	First       int     `json:"first"`
	After       *string `json:"after"`
}

type searchRequest struct {
	Variables searchVariables `json:"variables"`
}

func (m *MockGitHub) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.LastAuthHeader = r.Header.Get("Authorization")
	m.mu.Unlock()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"message": "bad request"}`, http.StatusBadRequest)
		return
	}
	vars := req.Variables

	m.mu.RLock()
	failures := m.failures
	maxResults := m.maxResults
	remaining := m.remaining
	limit := m.limit
	repos := m.repos
	m.mu.RUnlock()

	for substr, resp := range failures {
		if strings.Contains(vars.QueryString, substr) {
			if resp.Delay > 0 {
				time.Sleep(resp.Delay)
			}
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(resp.StatusCode)
			fmt.Fprint(w, resp.Body)
			return
		}
	}

	minStars, maxStars := parseStars(vars.QueryString)
	var matches []MockRepo
	for _, repo := range repos {
		if repo.Stargazers >= minStars && (maxStars < 0 || repo.Stargazers <= maxStars) {
			matches = append(matches, repo)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })

	offset := 0
	if vars.After != nil {
		offset, _ = strconv.Atoi(*vars.After)
	}

	reachable := len(matches)
	if reachable > maxResults {
		reachable = maxResults
	}
	end := offset + vars.First
	if end > reachable {
		end = reachable
	}
	if offset > end {
		offset = end
	}

	nodes := make([]map[string]any, 0, end-offset)
	for _, repo := range matches[offset:end] {
		nodes = append(nodes, map[string]any{
			"databaseId":     repo.ID,
			"id":             repo.NodeID,
			"name":           repo.Name,
			"owner":          map[string]any{"login": repo.Owner},
			"stargazerCount": repo.Stargazers,
		})
	}

	payload := map[string]any{
		"data": map[string]any{
			"search": map[string]any{
				"pageInfo": map[string]any{
					"hasNextPage": end < reachable,
					"endCursor":   strconv.Itoa(end),
				},
				"repositoryCount": len(matches),
				"nodes":           nodes,
			},
			"rateLimit": map[string]any{
				"remaining": remaining,
				"limit":     limit,
				"cost":      1,
				"resetAt":   time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(payload)
}

// parseStars extracts the stars qualifier from a search query string.
// maxStars is -1 for open-ended ranges.
func parseStars(query string) (minStars, maxStars int) {
	for _, field := range strings.Fields(query) {
		val, ok := strings.CutPrefix(field, "stars:")
		if !ok {
			continue
		}
		if n, ok := strings.CutPrefix(val, ">="); ok {
			minStars, _ = strconv.Atoi(n)
			return minStars, -1
		}
		if lo, hi, ok := strings.Cut(val, ".."); ok {
			minStars, _ = strconv.Atoi(lo)
			maxStars, _ = strconv.Atoi(hi)
			return minStars, maxStars
		}
		n, _ := strconv.Atoi(val)
		return n, n
	}
	return 0, -1
}

// GenerateRepos builds count synthetic repositories with the given star
// count, IDs starting at startID.
func GenerateRepos(startID int64, count, stars int) []MockRepo {
	repos := make([]MockRepo, 0, count)
	for i := 0; i < count; i++ {
		id := startID + int64(i)
		repos = append(repos, MockRepo{
			ID:         id,
			NodeID:     "node-" + strconv.FormatInt(id, 10),
			Owner:      "owner",
			Name:       "repo-" + strconv.FormatInt(id, 10),
			Stargazers: stars,
		})
	}
	return repos
}

// NewRateLimitResponse scripts a 403 rate limit rejection.
func NewRateLimitResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Body:       `{"message": "API rate limit exceeded"}`,
	}
}

// NewServerErrorResponse scripts a 502 upstream failure.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadGateway,
		Body:       `{"message": "Server error"}`,
	}
}
