package synchro

import (
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
)

// Definition declares how one root entity type is saved and promoted.
type Definition struct {
	EntityName string
	// ListQuery names the cached remote list patched after saves.
	ListQuery string
	// SnapshotEntityName and Snapshot describe the denormalized projection
	// kept in the local store next to every save.
	SnapshotEntityName string
	Snapshot           func(entities.Entity) entities.Entity
	// PreviousVersion exposes the time-sliced previous version promoted
	// before the entity itself.
	PreviousVersion    func(entities.Entity) entities.Entity
	SetPreviousVersion func(entity, previous entities.Entity)
	// Embed attaches local children that travel inside the parent payload.
	Embed func(parent entities.Entity, children []entities.Entity)
	// ClearLocalKeys nulls child ids and parent keys pointing at local ids.
	ClearLocalKeys func(entities.Entity)
	// Promotable selects the local entities SynchronizeAll promotes. Nil
	// selects READY_TO_SYNC ones.
	Promotable func(entities.Entity) bool
}

// DefaultDefinitions covers the root types of the data model.
func DefaultDefinitions() []Definition {
	return []Definition{
		VesselDefinition(),
		TripDefinition(),
		{EntityName: entities.LandingEntityName, ListQuery: "Landings"},
		DevicePositionDefinition(),
	}
}

// DevicePositionDefinition promotes recorded positions once their owner is
// on the server. Positions are never reviewed, so DIRTY ones qualify too.
func DevicePositionDefinition() Definition {
	return Definition{
		EntityName: entities.DevicePositionEntityName,
		ListQuery:  "DevicePositions",
		Promotable: func(entity entities.Entity) bool {
			if entities.IsReadyToSync(entity) {
				return true
			}
			position, ok := entity.(*entities.DevicePosition)
			if !ok || !entities.IsLocalAndDirty(position) {
				return false
			}
			return position.ObjectID != nil && *position.ObjectID > 0
		},
	}
}

// VesselDefinition keeps a vessel snapshot and promotes previous versions.
func VesselDefinition() Definition {
	return Definition{
		EntityName:         entities.VesselEntityName,
		ListQuery:          "Vessels",
		SnapshotEntityName: entities.VesselSnapshotEntityName,
		Snapshot: func(entity entities.Entity) entities.Entity {
			return entities.VesselSnapshotFromVessel(entity.(*entities.Vessel))
		},
		PreviousVersion: func(entity entities.Entity) entities.Entity {
			if previous := entity.(*entities.Vessel).PreviousVersion; previous != nil {
				return previous
			}
			return nil
		},
		SetPreviousVersion: func(entity, previous entities.Entity) {
			vessel := entity.(*entities.Vessel)
			if previous == nil {
				vessel.PreviousVersion = nil
				return
			}
			vessel.PreviousVersion = previous.(*entities.Vessel)
		},
		ClearLocalKeys: func(entity entities.Entity) {
			vessel := entity.(*entities.Vessel)
			if features := vessel.Features; features != nil {
				if entities.IsLocalID(features.ID) {
					features.ID = nil
				}
				features.VesselID = nil
			}
			if registration := vessel.Registration; registration != nil {
				if entities.IsLocalID(registration.ID) {
					registration.ID = nil
				}
				registration.VesselID = nil
			}
		},
	}
}

// TripDefinition embeds local operations into the promoted trip.
func TripDefinition() Definition {
	return Definition{
		EntityName: entities.TripEntityName,
		ListQuery:  "Trips",
		Embed: func(parent entities.Entity, children []entities.Entity) {
			trip := parent.(*entities.Trip)
			for _, child := range children {
				operation, ok := child.(*entities.Operation)
				if !ok || containsOperation(trip.Operations, operation.ID) {
					continue
				}
				trip.Operations = append(trip.Operations, operation)
			}
		},
		ClearLocalKeys: func(entity entities.Entity) {
			for _, operation := range entity.(*entities.Trip).Operations {
				if entities.IsLocalID(operation.ID) {
					operation.ID = nil
				}
				operation.TripID = nil
				operation.SynchronizationStatus = ""
			}
		},
	}
}

func containsOperation(operations []*entities.Operation, id *int64) bool {
	if id == nil {
		return false
	}
	for _, operation := range operations {
		if operation.ID != nil && *operation.ID == *id {
			return true
		}
	}
	return false
}
