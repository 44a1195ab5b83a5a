package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestClient builds a client against the given server with a recording
// sleeper so retry tests never block on wall-clock time.
func newTestClient(t *testing.T, url string, retry RetryConfig) (*Client, *[]time.Duration) {
	t.Helper()

	cfg := DefaultConfig(url, "test-token")
	cfg.Retry = retry

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	var slept []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return client, &slept
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{Endpoint: "http://x"}); err == nil {
		t.Error("NewClient without token should fail")
	}
	if _, err := NewClient(Config{Token: "t"}); err == nil {
		t.Error("NewClient without endpoint should fail")
	}
}

func TestExecute_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q, want bearer token", got)
		}
		w.Write([]byte(`{"data":{"viewer":{"login":"octocat"}}}`))
	}))
	defer server.Close()

	client, slept := newTestClient(t, server.URL, DefaultRetryConfig())

	var result struct {
		Viewer struct {
			Login string `json:"login"`
		} `json:"viewer"`
	}
	if err := client.Execute(context.Background(), "query { viewer { login } }", nil, &result); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Viewer.Login != "octocat" {
		t.Errorf("decoded login = %q, want octocat", result.Viewer.Login)
	}
	if len(*slept) != 0 {
		t.Errorf("expected no backoff on success, got %v", *slept)
	}
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client, slept := newTestClient(t, server.URL, DefaultRetryConfig())

	if err := client.Execute(context.Background(), "query {}", nil, nil); err != nil {
		t.Fatalf("Execute() error = %v, want success after retry", err)
	}
	if calls.Load() != 2 {
		t.Errorf("requests = %d, want 2", calls.Load())
	}
	if len(*slept) != 1 {
		t.Fatalf("backoffs = %d, want 1", len(*slept))
	}
	// First step of the exponential ladder, ±20% jitter.
	cfg := DefaultRetryConfig()
	min := time.Duration(float64(cfg.InitialBackoff) * 0.8)
	max := time.Duration(float64(cfg.InitialBackoff) * 1.2)
	if (*slept)[0] < min || (*slept)[0] > max {
		t.Errorf("backoff = %v, want within [%v, %v]", (*slept)[0], min, max)
	}
}

func TestExecute_FatalNoRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Bad credentials"))
	}))
	defer server.Close()

	client, slept := newTestClient(t, server.URL, DefaultRetryConfig())

	err := client.Execute(context.Background(), "query {}", nil, nil)
	if err == nil {
		t.Fatal("Execute() = nil, want fatal error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v does not carry *APIError", err)
	}
	if apiErr.Class != ErrorClassFatal {
		t.Errorf("Class = %v, want fatal", apiErr.Class)
	}
	if calls.Load() != 1 {
		t.Errorf("requests = %d, want 1 (no retry on fatal)", calls.Load())
	}
	if len(*slept) != 0 {
		t.Errorf("expected no backoff on fatal error, got %v", *slept)
	}
}

func TestExecute_RateLimitCooldown(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte("API rate limit exceeded for user"))
			return
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client, slept := newTestClient(t, server.URL, DefaultRetryConfig())

	if err := client.Execute(context.Background(), "query {}", nil, nil); err != nil {
		t.Fatalf("Execute() error = %v, want success after cooldown", err)
	}
	if len(*slept) != 1 {
		t.Fatalf("pauses = %d, want 1", len(*slept))
	}
	if (*slept)[0] != DefaultRetryConfig().QuotaCooldown {
		t.Errorf("cooldown = %v, want fixed %v", (*slept)[0], DefaultRetryConfig().QuotaCooldown)
	}
}

func TestExecute_EmbeddedGraphQLError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"Field 'bogus' doesn't exist on type 'Query'"}]}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, DefaultRetryConfig())

	err := client.Execute(context.Background(), "query { bogus }", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %v does not carry *APIError", err)
	}
	if apiErr.Class != ErrorClassFatal {
		t.Errorf("Class = %v, want fatal for schema error", apiErr.Class)
	}
}

func TestExecute_RetryExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	retry := DefaultRetryConfig()
	retry.MaxAttempts = 3
	client, _ := newTestClient(t, server.URL, retry)

	err := client.Execute(context.Background(), "query {}", nil, nil)
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Execute() error = %v, want ErrRetryExhausted", err)
	}
	if calls.Load() != 3 {
		t.Errorf("requests = %d, want 3", calls.Load())
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, DefaultRetryConfig())
	ctx, cancel := context.WithCancel(context.Background())
	client.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := client.Execute(ctx, "query {}", nil, nil)
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("Execute() error = %v, want ErrContextCancelled", err)
	}
}

func TestSearchRepositories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"data": {
				"search": {
					"pageInfo": {"hasNextPage": true, "endCursor": "Y3Vyc29yOjEwMA=="},
					"repositoryCount": 1234,
					"nodes": [
						{"databaseId": 41881900, "id": "MDEwOlJlcG9zaXRvcnk0MTg4MTkwMA==", "name": "vscode", "owner": {"login": "microsoft"}, "stargazerCount": 160000}
					]
				},
				"rateLimit": {"remaining": 4998, "resetAt": "2025-06-01T12:30:00Z", "limit": 5000, "cost": 1}
			}
		}`))
	}))
	defer server.Close()

	client, _ := newTestClient(t, server.URL, DefaultRetryConfig())

	page, err := client.SearchRepositories(context.Background(), "stars:>=100000 sort:updated", 100, "")
	if err != nil {
		t.Fatalf("SearchRepositories() error = %v", err)
	}

	if len(page.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(page.Nodes))
	}
	node := page.Nodes[0]
	if node.DatabaseID == nil || *node.DatabaseID != 41881900 {
		t.Errorf("DatabaseID = %v, want 41881900", node.DatabaseID)
	}
	if node.Owner.Login != "microsoft" || node.Name != "vscode" {
		t.Errorf("owner/name = %s/%s, want microsoft/vscode", node.Owner.Login, node.Name)
	}
	if !page.HasNextPage {
		t.Error("HasNextPage = false, want true")
	}
	if page.EndCursor != "Y3Vyc29yOjEwMA==" {
		t.Errorf("EndCursor = %q", page.EndCursor)
	}
	if page.RepositoryCount != 1234 {
		t.Errorf("RepositoryCount = %d, want 1234", page.RepositoryCount)
	}
	if page.RateLimit.Remaining != 4998 || page.RateLimit.Limit != 5000 {
		t.Errorf("rate limit snapshot = %+v", page.RateLimit)
	}
}
