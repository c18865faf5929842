package entities

import (
	"errors"
	"fmt"
	"sort"

	json "github.com/goccy/go-json"
)

// ErrUnknownEntityType indicates that an entity name has no registered type.
var ErrUnknownEntityType = errors.New("entities: unknown entity type")

// Dependency declares a foreign key held by one entity type toward a parent type.
type Dependency struct {
	EntityName       string
	ParentEntityName string
	Field            string
	// Embedded dependents travel inside the parent payload on promotion
	// instead of being rewritten in place.
	Embedded      bool
	ForeignKey    func(Entity) *int64
	SetForeignKey func(Entity, *int64)
	// Applies narrows polymorphic keys (e.g. device positions by object type).
	Applies func(Entity) bool
}

// Matches reports whether dependent currently points at parentID.
func (d Dependency) Matches(dependent Entity, parentID int64) bool {
	if d.Applies != nil && !d.Applies(dependent) {
		return false
	}
	key := d.ForeignKey(dependent)
	return key != nil && *key == parentID
}

// EntityType declares the traits of an entity type at definition time.
type EntityType struct {
	Name         string
	New          func() Entity
	Root         bool
	HasRankOrder bool
	Dependencies []Dependency
}

// Registry indexes entity types by name.
type Registry struct {
	types map[string]EntityType
}

// NewRegistry builds a registry from the provided types.
func NewRegistry(types ...EntityType) *Registry {
	registry := &Registry{types: make(map[string]EntityType, len(types))}
	for _, entityType := range types {
		registry.types[entityType.Name] = entityType
	}
	return registry
}

// Lookup returns the type registered under name.
func (r *Registry) Lookup(name string) (EntityType, bool) {
	entityType, ok := r.types[name]
	return entityType, ok
}

// Names lists registered entity names in a stable order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New instantiates an empty entity of the named type.
func (r *Registry) New(name string) (Entity, error) {
	entityType, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntityType, name)
	}
	return entityType.New(), nil
}

// Decode unmarshals raw into a new entity of the named type.
func (r *Registry) Decode(name string, raw []byte) (Entity, error) {
	entity, err := r.New(name)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, entity); err != nil {
		return nil, fmt.Errorf("entities: decode %s: %w", name, err)
	}
	return entity, nil
}

// DependentsOf lists the foreign keys pointing at parentName, in a stable order.
func (r *Registry) DependentsOf(parentName string) []Dependency {
	var dependencies []Dependency
	for _, name := range r.Names() {
		for _, dependency := range r.types[name].Dependencies {
			if dependency.ParentEntityName == parentName {
				dependencies = append(dependencies, dependency)
			}
		}
	}
	return dependencies
}

// Marshal encodes an entity as JSON.
func Marshal(entity Entity) ([]byte, error) {
	return json.Marshal(entity)
}

// DefaultRegistry declares the observational data model.
func DefaultRegistry() *Registry {
	return NewRegistry(
		EntityType{
			Name: VesselEntityName,
			New:  func() Entity { return &Vessel{} },
			Root: true,
		},
		EntityType{
			Name: VesselSnapshotEntityName,
			New:  func() Entity { return &VesselSnapshot{} },
		},
		EntityType{
			Name: TripEntityName,
			New:  func() Entity { return &Trip{} },
			Root: true,
			Dependencies: []Dependency{{
				EntityName:       TripEntityName,
				ParentEntityName: VesselEntityName,
				Field:            "vesselId",
				ForeignKey:       func(e Entity) *int64 { return e.(*Trip).VesselID },
				SetForeignKey:    func(e Entity, id *int64) { e.(*Trip).VesselID = id },
			}},
		},
		EntityType{
			Name:         OperationEntityName,
			New:          func() Entity { return &Operation{} },
			HasRankOrder: true,
			Dependencies: []Dependency{{
				EntityName:       OperationEntityName,
				ParentEntityName: TripEntityName,
				Field:            "tripId",
				Embedded:         true,
				ForeignKey:       func(e Entity) *int64 { return e.(*Operation).TripID },
				SetForeignKey:    func(e Entity, id *int64) { e.(*Operation).TripID = id },
			}},
		},
		EntityType{
			Name:         LandingEntityName,
			New:          func() Entity { return &Landing{} },
			Root:         true,
			HasRankOrder: true,
			Dependencies: []Dependency{
				{
					EntityName:       LandingEntityName,
					ParentEntityName: VesselEntityName,
					Field:            "vesselId",
					ForeignKey:       func(e Entity) *int64 { return e.(*Landing).VesselID },
					SetForeignKey:    func(e Entity, id *int64) { e.(*Landing).VesselID = id },
				},
				{
					EntityName:       LandingEntityName,
					ParentEntityName: TripEntityName,
					Field:            "tripId",
					ForeignKey:       func(e Entity) *int64 { return e.(*Landing).TripID },
					SetForeignKey:    func(e Entity, id *int64) { e.(*Landing).TripID = id },
				},
			},
		},
		EntityType{
			Name:         PmfmEntityName,
			New:          func() Entity { return &Pmfm{} },
			HasRankOrder: true,
		},
		EntityType{
			Name: DevicePositionEntityName,
			New:  func() Entity { return &DevicePosition{} },
			Root: true,
			Dependencies: []Dependency{{
				EntityName:       DevicePositionEntityName,
				ParentEntityName: TripEntityName,
				Field:            "objectId",
				ForeignKey:       func(e Entity) *int64 { return e.(*DevicePosition).ObjectID },
				SetForeignKey:    func(e Entity, id *int64) { e.(*DevicePosition).ObjectID = id },
				Applies: func(e Entity) bool {
					return e.(*DevicePosition).ObjectType == DevicePositionObjectTypeTrip
				},
			}},
		},
	)
}
