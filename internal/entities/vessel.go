package entities

import "time"

// Vessel is a fishing vessel with time-sliced features and registration.
type Vessel struct {
	RootData
	StatusID        int                       `json:"statusId,omitempty"`
	VesselType      *Reference                `json:"vesselType,omitempty"`
	Features        *VesselFeatures           `json:"vesselFeatures,omitempty" validate:"required"`
	Registration    *VesselRegistrationPeriod `json:"vesselRegistrationPeriod,omitempty"`
	PreviousVersion *Vessel                   `json:"previousVessel,omitempty" validate:"-"`
}

// VesselFeatures is one period of a vessel's physical characteristics.
type VesselFeatures struct {
	ID               *int64     `json:"id,omitempty"`
	VesselID         *int64     `json:"vesselId,omitempty"`
	StartDate        *time.Time `json:"startDate,omitempty" validate:"required"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	Name             string     `json:"name,omitempty" validate:"required"`
	ExteriorMarking  string     `json:"exteriorMarking,omitempty" validate:"required"`
	LengthOverAll    *float64   `json:"lengthOverAll,omitempty" validate:"omitempty,gt=0"`
	GrossTonnageGt   *float64   `json:"grossTonnageGt,omitempty" validate:"omitempty,gte=0"`
	BasePortLocation *Reference `json:"basePortLocation,omitempty"`
}

// VesselRegistrationPeriod is one period of a vessel's registration.
type VesselRegistrationPeriod struct {
	ID                   *int64     `json:"id,omitempty"`
	VesselID             *int64     `json:"vesselId,omitempty"`
	StartDate            *time.Time `json:"startDate,omitempty"`
	EndDate              *time.Time `json:"endDate,omitempty"`
	RegistrationCode     string     `json:"registrationCode,omitempty"`
	IntRegistrationCode  string     `json:"intRegistrationCode,omitempty"`
	RegistrationLocation *Reference `json:"registrationLocation,omitempty"`
}

func (*Vessel) EntityName() string { return VesselEntityName }

// AsObject returns a copy of the vessel in the requested representation.
func (v *Vessel) AsObject(opts AsObjectOptions) Entity {
	out := *v
	out.RootData = v.RootData.asObject(opts)
	out.VesselType = v.VesselType.minified(opts)
	if v.Features != nil {
		features := *v.Features
		features.BasePortLocation = v.Features.BasePortLocation.minified(opts)
		out.Features = &features
	}
	if v.Registration != nil {
		registration := *v.Registration
		registration.RegistrationLocation = v.Registration.RegistrationLocation.minified(opts)
		out.Registration = &registration
	}
	if v.PreviousVersion != nil {
		if opts.Minify {
			out.PreviousVersion = &Vessel{RootData: RootData{Identity: Identity{ID: v.PreviousVersion.ID}}}
		} else {
			out.PreviousVersion = v.PreviousVersion.AsObject(opts).(*Vessel)
		}
	}
	return &out
}

// VesselSnapshot is the denormalized projection of a vessel used for offline
// listing and selection.
type VesselSnapshot struct {
	Identity
	Name                 string     `json:"name,omitempty"`
	ExteriorMarking      string     `json:"exteriorMarking,omitempty"`
	RegistrationCode     string     `json:"registrationCode,omitempty"`
	IntRegistrationCode  string     `json:"intRegistrationCode,omitempty"`
	StartDate            *time.Time `json:"startDate,omitempty"`
	EndDate              *time.Time `json:"endDate,omitempty"`
	VesselStatusID       int        `json:"vesselStatusId,omitempty"`
	VesselType           *Reference `json:"vesselType,omitempty"`
	BasePortLocation     *Reference `json:"basePortLocation,omitempty"`
	RegistrationLocation *Reference `json:"registrationLocation,omitempty"`
	ProgramLabel         string     `json:"programLabel,omitempty"`
}

func (*VesselSnapshot) EntityName() string { return VesselSnapshotEntityName }

// AsObject returns a copy of the snapshot; snapshots hold no nested objects to reduce.
func (s *VesselSnapshot) AsObject(opts AsObjectOptions) Entity {
	out := *s
	out.Identity = s.Identity.asObject(opts)
	return &out
}

// VesselSnapshotFromVessel derives the snapshot of a vessel.
func VesselSnapshotFromVessel(vessel *Vessel) *VesselSnapshot {
	if vessel == nil {
		return nil
	}
	snapshot := &VesselSnapshot{
		Identity: Identity{
			ID:                    vessel.ID,
			UpdateDate:            vessel.UpdateDate,
			SynchronizationStatus: vessel.SynchronizationStatus,
		},
		VesselStatusID: vessel.StatusID,
		VesselType:     vessel.VesselType,
	}
	if vessel.Program != nil {
		snapshot.ProgramLabel = vessel.Program.Label
	}
	if features := vessel.Features; features != nil {
		snapshot.Name = features.Name
		snapshot.ExteriorMarking = features.ExteriorMarking
		snapshot.StartDate = features.StartDate
		snapshot.EndDate = features.EndDate
		snapshot.BasePortLocation = features.BasePortLocation
	}
	if registration := vessel.Registration; registration != nil {
		snapshot.RegistrationCode = registration.RegistrationCode
		snapshot.IntRegistrationCode = registration.IntRegistrationCode
		snapshot.RegistrationLocation = registration.RegistrationLocation
	}
	return snapshot
}

// ToVessel rebuilds a partial vessel from its snapshot.
func (s *VesselSnapshot) ToVessel() *Vessel {
	if s == nil {
		return nil
	}
	vessel := &Vessel{
		RootData:   RootData{Identity: s.Identity},
		StatusID:   s.VesselStatusID,
		VesselType: s.VesselType,
		Features: &VesselFeatures{
			VesselID:         s.ID,
			Name:             s.Name,
			ExteriorMarking:  s.ExteriorMarking,
			StartDate:        s.StartDate,
			EndDate:          s.EndDate,
			BasePortLocation: s.BasePortLocation,
		},
		Registration: &VesselRegistrationPeriod{
			VesselID:             s.ID,
			RegistrationCode:     s.RegistrationCode,
			IntRegistrationCode:  s.IntRegistrationCode,
			RegistrationLocation: s.RegistrationLocation,
		},
	}
	if s.ProgramLabel != "" {
		vessel.Program = &Program{Label: s.ProgramLabel}
	}
	return vessel
}
