package github

import (
	"context"
	"time"

	"github.com/Sternrassler/github-harvester/pkg/ratelimit"
)

// searchRepositoriesQuery requests one page of repository search results
// together with the rate limit block that governs the next request.
const searchRepositoriesQuery = `
query($queryString: String!, $first: Int!, $after: String) {
    search(query: $queryString, type: REPOSITORY, first: $first, after: $after) {
        pageInfo {
            hasNextPage
            endCursor
        }
        repositoryCount
        nodes {
            ... on Repository {
                databaseId
                id
                name
                owner {
                    login
                }
                stargazerCount
            }
        }
    }
    rateLimit {
        remaining
        resetAt
        limit
        cost
    }
}`

// RepoNode is one raw repository record as returned by the search API.
// Pointer fields distinguish "absent" from zero values so malformed
// records can be detected during mapping.
type RepoNode struct {
	DatabaseID     *int64 `json:"databaseId"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	Owner          struct {
		Login string `json:"login"`
	} `json:"owner"`
	StargazerCount int `json:"stargazerCount"`
}

// SearchPage is one page of search results plus pagination state and the
// rate limit snapshot attached to the response.
type SearchPage struct {
	Nodes           []RepoNode
	HasNextPage     bool
	EndCursor       string
	RepositoryCount int
	RateLimit       ratelimit.Snapshot
}

type searchResponse struct {
	Search struct {
		PageInfo struct {
			HasNextPage bool    `json:"hasNextPage"`
			EndCursor   *string `json:"endCursor"`
		} `json:"pageInfo"`
		RepositoryCount int        `json:"repositoryCount"`
		Nodes           []RepoNode `json:"nodes"`
	} `json:"search"`
	RateLimit struct {
		Remaining int       `json:"remaining"`
		ResetAt   time.Time `json:"resetAt"`
		Limit     int       `json:"limit"`
		Cost      int       `json:"cost"`
	} `json:"rateLimit"`
}

// SearchRepositories fetches one page of repository search results.
// after is the cursor from the previous page, empty for the first page.
func (c *Client) SearchRepositories(ctx context.Context, queryString string, first int, after string) (*SearchPage, error) {
	variables := map[string]any{
		"queryString": queryString,
		"first":       first,
	}
	if after != "" {
		variables["after"] = after
	} else {
		variables["after"] = nil
	}

	var resp searchResponse
	if err := c.Execute(ctx, searchRepositoriesQuery, variables, &resp); err != nil {
		return nil, err
	}

	page := &SearchPage{
		Nodes:           resp.Search.Nodes,
		HasNextPage:     resp.Search.PageInfo.HasNextPage,
		RepositoryCount: resp.Search.RepositoryCount,
		RateLimit: ratelimit.Snapshot{
			Remaining: resp.RateLimit.Remaining,
			Limit:     resp.RateLimit.Limit,
			Cost:      resp.RateLimit.Cost,
			ResetAt:   resp.RateLimit.ResetAt,
		},
	}
	if resp.Search.PageInfo.EndCursor != nil {
		page.EndCursor = *resp.Search.PageInfo.EndCursor
	}

	return page, nil
}
