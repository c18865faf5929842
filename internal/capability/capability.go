// Package capability declares which workflow families a data service
// implements, replacing structural method probing with explicit tags.
package capability

// Tag names one capability.
type Tag string

const (
	// Synchro services promote local entities to the remote store.
	Synchro Tag = "synchro"
	// Quality services control, validate and qualify entities.
	Quality Tag = "quality"
	// Terminate services expose a terminate mutation.
	Terminate Tag = "terminate"
	// Qualify services expose qualify and unqualify mutations.
	Qualify Tag = "qualify"
)

// Set is an immutable collection of tags.
type Set struct {
	tags map[Tag]struct{}
}

// NewSet builds a set from tags.
func NewSet(tags ...Tag) Set {
	set := Set{tags: make(map[Tag]struct{}, len(tags))}
	for _, tag := range tags {
		set.tags[tag] = struct{}{}
	}
	return set
}

// Has reports whether tag is part of the set.
func (s Set) Has(tag Tag) bool {
	_, ok := s.tags[tag]
	return ok
}

// With returns a copy of the set extended with tags.
func (s Set) With(tags ...Tag) Set {
	next := NewSet(tags...)
	for tag := range s.tags {
		next.tags[tag] = struct{}{}
	}
	return next
}

// Provider is implemented by services declaring capabilities.
type Provider interface {
	Capabilities() Set
}

// HasCapability reports whether service declares tag. Values that do not
// implement Provider have no capabilities.
func HasCapability(service any, tag Tag) bool {
	provider, ok := service.(Provider)
	if !ok || provider == nil {
		return false
	}
	return provider.Capabilities().Has(tag)
}
