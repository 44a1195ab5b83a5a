// Package github provides the GitHub GraphQL transport with retry,
// failure classification and rate limit snapshot extraction.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for API operations.
var (
	apiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_api_requests_total",
		Help: "Total GitHub API requests by status",
	}, []string{"status"})

	apiRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "harvester_api_request_duration_seconds",
		Help:    "GitHub API request duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	apiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_api_errors_total",
		Help: "Total GitHub API errors by class",
	}, []string{"class"})
)

// Config holds the transport configuration.
type Config struct {
	// Endpoint is the GraphQL API URL.
	Endpoint string

	// Token is the bearer token for authentication (REQUIRED).
	Token string

	// UserAgent identifies the harvester to the API.
	UserAgent string

	// Timeout applies per request, not per retry sequence.
	Timeout time.Duration

	// Retry configures the backoff executor wrapped around Execute.
	Retry RetryConfig
}

// DefaultConfig returns a safe default transport configuration.
func DefaultConfig(endpoint, token string) Config {
	return Config{
		Endpoint:  endpoint,
		Token:     token,
		UserAgent: "github-harvester/0.1.0",
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// Client is the GitHub GraphQL transport.
type Client struct {
	endpoint   string
	token      string
	userAgent  string
	httpClient *http.Client
	retry      RetryConfig
	logger     zerolog.Logger

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new GraphQL transport client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("github endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "transport").Logger()

	return &Client{
		endpoint:  cfg.Endpoint,
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		retry:  cfg.Retry,
		logger: logger,
		sleep:  sleepCtx,
	}, nil
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a single embedded GraphQL error.
type graphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// Execute sends a GraphQL query with retry and classification, decoding
// the data payload into result. Failures carry an *APIError in the chain
// so callers can distinguish transient, rate limited and fatal outcomes.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	var lastErr error
	backoff := c.retry.InitialBackoff

	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		err := c.executeOnce(ctx, query, variables, result)
		if err == nil {
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		class := Classify(err)
		apiErrorsTotal.WithLabelValues(string(class)).Inc()

		if !shouldRetry(class) {
			return err
		}

		if attempt >= c.retry.MaxAttempts {
			break
		}

		var wait time.Duration
		if class == ErrorClassRateLimited {
			// Quota violations get a fixed cooldown, not the
			// exponential ladder.
			wait = c.retry.QuotaCooldown
		} else {
			wait = jitter(backoff)
			backoff = nextBackoff(backoff, c.retry)
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		c.logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")

		if err := c.sleep(ctx, wait); err != nil {
			return fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}
	}

	class := Classify(lastErr)
	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	c.logger.Warn().
		Str("error_class", string(class)).
		Int("max_attempts", c.retry.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, c.retry.MaxAttempts, lastErr)
}

// executeOnce performs a single HTTP round trip and classifies failures.
func (c *Client) executeOnce(ctx context.Context, query string, variables map[string]any, result any) error {
	start := time.Now()
	defer func() {
		apiRequestDuration.Observe(time.Since(start).Seconds())
	}()

	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return &APIError{Class: ErrorClassFatal, Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return &APIError{Class: ErrorClassFatal, Message: "create request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		apiRequestsTotal.WithLabelValues("network_error").Inc()
		return &APIError{Class: ErrorClassTransient, Message: "http request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiRequestsTotal.WithLabelValues("read_error").Inc()
		return &APIError{Class: ErrorClassTransient, Message: "read response body", Err: err}
	}

	apiRequestsTotal.WithLabelValues(fmt.Sprintf("%d", resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		class := classifyStatus(resp.StatusCode, string(body))
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    truncate(string(body), 200),
		}
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassTransient,
			Message:    "unmarshal response",
			Err:        err,
		}
	}

	if len(gqlResp.Errors) > 0 {
		messages := make([]string, 0, len(gqlResp.Errors))
		for _, e := range gqlResp.Errors {
			messages = append(messages, e.Message)
		}
		joined := strings.Join(messages, "; ")
		return &APIError{
			StatusCode: resp.StatusCode,
			Class:      classifyGraphQLErrors(joined),
			Message:    joined,
		}
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return &APIError{
				StatusCode: resp.StatusCode,
				Class:      ErrorClassFatal,
				Message:    "unmarshal data",
				Err:        err,
			}
		}
	}

	return nil
}

// Close releases transport resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	c.logger.Debug().Msg("Transport closed")
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// sleepCtx blocks for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
