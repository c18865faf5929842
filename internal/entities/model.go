// Package entities holds the observational data model shared by the local
// store, the remote gateway and the workflow services.
package entities

import "time"

// Entity names used as store keys and gateway entity identifiers.
const (
	VesselEntityName         = "Vessel"
	VesselSnapshotEntityName = "VesselSnapshot"
	TripEntityName           = "Trip"
	OperationEntityName      = "Operation"
	LandingEntityName        = "Landing"
	DevicePositionEntityName = "DevicePosition"
)

// Entity is implemented by every persisted record.
type Entity interface {
	EntityName() string
	Ident() *Identity
	AsObject(opts AsObjectOptions) Entity
}

// RootEntity is an observational record carrying quality metadata.
type RootEntity interface {
	Entity
	Root() *RootData
}

// Identity carries the fields every component branches on to decide an
// entity's origin.
type Identity struct {
	ID                    *int64                `json:"id,omitempty"`
	UpdateDate            *time.Time            `json:"updateDate,omitempty"`
	SynchronizationStatus SynchronizationStatus `json:"synchronizationStatus,omitempty"`
}

// Ident exposes the identity block of an entity.
func (i *Identity) Ident() *Identity {
	return i
}

// RootData is the common block of every root observational record.
//
// It is embedded in every root type, so it must not end with a nil-able
// struct pointer: go-json dereferences a trailing omitempty struct pointer of
// an embedded block and panics when it is nil. Keep the references first.
type RootData struct {
	Identity
	Program               *Program    `json:"program,omitempty" validate:"required"`
	RecorderPerson        *Person     `json:"recorderPerson,omitempty"`
	RecorderDepartment    *Department `json:"recorderDepartment,omitempty"`
	CreationDate          *time.Time  `json:"creationDate,omitempty"`
	ControlDate           *time.Time  `json:"controlDate,omitempty"`
	ValidationDate        *time.Time  `json:"validationDate,omitempty"`
	QualificationDate     *time.Time  `json:"qualificationDate,omitempty"`
	QualityFlagID         *int        `json:"qualityFlagId,omitempty"`
	QualificationComments string      `json:"qualificationComments,omitempty"`
	Comments              string      `json:"comments,omitempty"`
}

// Root exposes the root block of an entity.
func (r *RootData) Root() *RootData {
	return r
}

// Reference is a lightweight pointer to a referential item (location, type, gear).
type Reference struct {
	ID    *int64 `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Person is a recorder or observer.
type Person struct {
	ID         *int64      `json:"id,omitempty"`
	FirstName  string      `json:"firstName,omitempty"`
	LastName   string      `json:"lastName,omitempty"`
	Email      string      `json:"email,omitempty"`
	Department *Department `json:"department,omitempty"`
	Profiles   []string    `json:"profiles,omitempty"`
}

// Department is the organisation a recorder belongs to.
type Department struct {
	ID    *int64 `json:"id,omitempty"`
	Label string `json:"label,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Program scopes data collection rules and rights.
type Program struct {
	ID    *int64 `json:"id,omitempty"`
	Label string `json:"label,omitempty" validate:"required"`
	Name  string `json:"name,omitempty"`
}

// Int64 returns a pointer to value.
func Int64(value int64) *int64 {
	v := value
	return &v
}

// Int returns a pointer to value.
func Int(value int) *int {
	v := value
	return &v
}

// Time returns a pointer to value.
func Time(value time.Time) *time.Time {
	v := value
	return &v
}

// IDOf returns the entity id and whether it is set.
func IDOf(entity Entity) (int64, bool) {
	if entity == nil || entity.Ident().ID == nil {
		return 0, false
	}
	return *entity.Ident().ID, true
}
