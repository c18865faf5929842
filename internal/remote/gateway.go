// Package remote is the client side of the authoritative store: typed
// queries, live queries with refetch, mutations described as data, and the
// network status those operations depend on.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	json "github.com/goccy/go-json"
)

// ErrOffline indicates that an operation needed the network while it was unavailable.
var ErrOffline = errors.New("remote: network is offline")

// FetchPolicy selects where a query reads from.
type FetchPolicy string

const (
	// CacheFirst answers from the last result of the same query when present.
	CacheFirst FetchPolicy = "cache-first"
	// NetworkOnly always asks the server and refreshes the cache.
	NetworkOnly FetchPolicy = "network-only"
	// NoCache always asks the server and leaves the cache untouched.
	NoCache FetchPolicy = "no-cache"
)

// Query names a list query against one entity type.
type Query struct {
	// Name groups queries for refetch and cache patches (e.g. "Trips").
	Name        string
	EntityName  string
	Variables   api.QueryRequest
	FetchPolicy FetchPolicy
}

func (q Query) key() (string, error) {
	variables, err := json.Marshal(q.Variables)
	if err != nil {
		return "", fmt.Errorf("remote: encode variables of %s: %w", q.Name, err)
	}
	return q.Name + "|" + q.EntityName + "|" + string(variables), nil
}

// Gateway is the contract consumed by the workflow services.
type Gateway interface {
	Query(ctx context.Context, query Query) (entities.Page, error)
	WatchQuery(ctx context.Context, query Query) (<-chan stream.Event[entities.Page], error)
	Mutate(ctx context.Context, plan MutationPlan) (MutationResult, error)
}

// NetworkStatus reports connectivity.
type NetworkStatus interface {
	IsOnline() bool
}
