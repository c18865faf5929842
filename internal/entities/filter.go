package entities

import (
	"slices"
	"time"
)

// Filter is the list filter shared by the local store, the remote gateway and
// the merge engine.
type Filter struct {
	SynchronizationStatus []SynchronizationStatus `json:"synchronizationStatus,omitempty"`
	// IncludedIDs restricts the result to the listed ids. An all-negative list
	// is a hint that only local rows can match.
	IncludedIDs      []int64        `json:"includedIds,omitempty"`
	ProgramLabel     string         `json:"programLabel,omitempty"`
	VesselID         *int64         `json:"vesselId,omitempty"`
	TripID           *int64         `json:"tripId,omitempty"`
	RecorderPersonID *int64         `json:"recorderPersonId,omitempty"`
	QualityStates    []QualityState `json:"dataQualityStatus,omitempty"`
	StartDate        *time.Time     `json:"startDate,omitempty"`
	EndDate          *time.Time     `json:"endDate,omitempty"`
	AcquisitionLevel string         `json:"acquisitionLevel,omitempty"`
}

// HasStatusFacet reports whether the filter narrows on synchronization status.
func (f Filter) HasStatusFacet() bool {
	return len(f.SynchronizationStatus) > 0
}

// LocalIDHint reports whether every included id is a local one.
func (f Filter) LocalIDHint() bool {
	if len(f.IncludedIDs) == 0 {
		return false
	}
	for _, id := range f.IncludedIDs {
		if id >= 0 {
			return false
		}
	}
	return true
}

// Matches is the in-memory predicate applied by the local store.
func (f Filter) Matches(entity Entity) bool {
	if entity == nil {
		return false
	}
	identity := entity.Ident()
	if len(f.SynchronizationStatus) > 0 {
		status := identity.SynchronizationStatus
		if status == "" {
			status = StatusSync
		}
		if !slices.Contains(f.SynchronizationStatus, status) {
			return false
		}
	}
	if len(f.IncludedIDs) > 0 && (identity.ID == nil || !slices.Contains(f.IncludedIDs, *identity.ID)) {
		return false
	}
	if f.ProgramLabel != "" && ProgramLabelOf(entity) != f.ProgramLabel {
		return false
	}
	if f.VesselID != nil && !sameID(VesselIDOf(entity), f.VesselID) {
		return false
	}
	if f.TripID != nil && !sameID(TripIDOf(entity), f.TripID) {
		return false
	}
	if f.AcquisitionLevel != "" {
		if pmfm, ok := entity.(*Pmfm); ok && pmfm.AcquisitionLevel != f.AcquisitionLevel {
			return false
		}
	}
	root, isRoot := entity.(RootEntity)
	if f.RecorderPersonID != nil {
		if !isRoot || root.Root().RecorderPerson == nil || !sameID(root.Root().RecorderPerson.ID, f.RecorderPersonID) {
			return false
		}
	}
	if len(f.QualityStates) > 0 {
		if !isRoot || !slices.Contains(f.QualityStates, QualityStateOf(root.Root())) {
			return false
		}
	}
	if f.StartDate != nil || f.EndDate != nil {
		date := DateOf(entity)
		if date == nil {
			return false
		}
		if f.StartDate != nil && date.Before(*f.StartDate) {
			return false
		}
		if f.EndDate != nil && date.After(*f.EndDate) {
			return false
		}
	}
	return true
}

// ProgramLabelOf returns the program label an entity is scoped to.
func ProgramLabelOf(entity Entity) string {
	switch typed := entity.(type) {
	case *VesselSnapshot:
		return typed.ProgramLabel
	case *Pmfm:
		return typed.ProgramLabel
	case RootEntity:
		if program := typed.Root().Program; program != nil {
			return program.Label
		}
	}
	return ""
}

// VesselIDOf returns the vessel an entity refers to, or the vessel id itself.
func VesselIDOf(entity Entity) *int64 {
	switch typed := entity.(type) {
	case *Vessel:
		return typed.ID
	case *VesselSnapshot:
		return typed.ID
	case *Trip:
		return typed.VesselID
	case *Landing:
		return typed.VesselID
	}
	return nil
}

// TripIDOf returns the trip an entity refers to.
func TripIDOf(entity Entity) *int64 {
	switch typed := entity.(type) {
	case *Trip:
		return typed.ID
	case *Operation:
		return typed.TripID
	case *Landing:
		return typed.TripID
	case *DevicePosition:
		if typed.ObjectType == DevicePositionObjectTypeTrip {
			return typed.ObjectID
		}
	}
	return nil
}

// DateOf returns the date used by period filters.
func DateOf(entity Entity) *time.Time {
	switch typed := entity.(type) {
	case *Trip:
		return typed.DepartureDateTime
	case *Landing:
		return typed.DateTime
	case *DevicePosition:
		return typed.DateTime
	case *Operation:
		return typed.StartDateTime
	case *Vessel:
		if typed.Features != nil {
			return typed.Features.StartDate
		}
	}
	return nil
}

func sameID(left, right *int64) bool {
	return left != nil && right != nil && *left == *right
}
