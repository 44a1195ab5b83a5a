package github

// GitHub search API limits. Provider-imposed, not tunable.
const (
	// MaxPageSize is the maximum number of nodes per search page.
	MaxPageSize = 100

	// SearchResultCap is the maximum number of results a single search
	// query returns, regardless of the true match count.
	SearchResultCap = 1000
)
