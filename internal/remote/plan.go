package remote

import "github.com/MarcoPoloResearchLab/fieldlog/internal/entities"

// PatchKind is the cache operation of a CachePatch.
type PatchKind string

const (
	// PatchInsert adds the mutation result to the cached query.
	PatchInsert PatchKind = "insert"
	// PatchRemove drops the target ids from the cached query.
	PatchRemove PatchKind = "remove"
	// PatchReplace swaps cached entries for the mutation result, matched by id.
	PatchReplace PatchKind = "replace"
)

// CachePatch is one cache update applied after a mutation.
type CachePatch struct {
	Kind      PatchKind
	QueryName string
	// IDs targeted by PatchRemove; defaults to the plan ids.
	IDs []int64
}

// MutationPlan describes one mutation together with its cache effects.
type MutationPlan struct {
	Operation  string
	EntityName string
	// Entities are sent as given; callers pass their wire representation.
	Entities      []entities.Entity
	IDs           []int64
	QualityFlagID *int

	CachePatches        []CachePatch
	RefetchQueries      []string
	AwaitRefetchQueries bool
	// OfflineResponse is returned, and patched into caches, when the network
	// is unavailable. Without it an offline mutation fails.
	OfflineResponse []entities.Entity
	// ErrorCode annotates failures as *apperr.Error when non-zero.
	ErrorCode int
}

// MutationResult holds the entities returned by the server, or the offline
// response.
type MutationResult struct {
	Entities []entities.Entity
	Offline  bool
}

// First returns the first returned entity, or nil.
func (r MutationResult) First() entities.Entity {
	if len(r.Entities) == 0 {
		return nil
	}
	return r.Entities[0]
}
