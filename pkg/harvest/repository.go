// Package harvest implements the harvest engine: query partitioning over
// star ranges, cursor pagination per partition, cross-partition
// deduplication and the orchestrating run loop.
package harvest

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/github-harvester/pkg/github"
)

// ErrMalformedNode marks a raw search node missing a required field.
// Such records are dropped with a warning, never treated as fatal.
var ErrMalformedNode = errors.New("malformed repository node")

// Repository is the harvested domain record. Immutable once constructed;
// re-harvesting produces a new value that the sink reconciles.
type Repository struct {
	// ID is GitHub's durable database identifier.
	ID int64

	// NodeID is GitHub's opaque GraphQL node identifier.
	NodeID string

	// FullName is always "owner/name".
	FullName string

	OwnerLogin string
	Name       string

	// StargazerCount is the popularity score at harvest time.
	StargazerCount int

	// FetchedAt marks when this copy was captured.
	FetchedAt time.Time
}

// RepositoryFromNode validates and maps a raw search node to a Repository.
func RepositoryFromNode(node github.RepoNode, fetchedAt time.Time) (Repository, error) {
	if node.DatabaseID == nil {
		return Repository{}, fmt.Errorf("%w: missing databaseId", ErrMalformedNode)
	}
	if node.ID == "" {
		return Repository{}, fmt.Errorf("%w: missing node id", ErrMalformedNode)
	}
	if node.Owner.Login == "" {
		return Repository{}, fmt.Errorf("%w: missing owner login", ErrMalformedNode)
	}
	if node.Name == "" {
		return Repository{}, fmt.Errorf("%w: missing name", ErrMalformedNode)
	}

	return Repository{
		ID:             *node.DatabaseID,
		NodeID:         node.ID,
		FullName:       node.Owner.Login + "/" + node.Name,
		OwnerLogin:     node.Owner.Login,
		Name:           node.Name,
		StargazerCount: node.StargazerCount,
		FetchedAt:      fetchedAt,
	}, nil
}
