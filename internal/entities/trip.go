package entities

import "time"

// DevicePositionObjectTypeTrip tags device positions recorded while a trip is edited.
const DevicePositionObjectTypeTrip = "TRIP"

// Trip is a fishing trip made by a vessel.
type Trip struct {
	RootData
	VesselID          *int64       `json:"vesselId,omitempty" validate:"required"`
	DepartureDateTime *time.Time   `json:"departureDateTime,omitempty" validate:"required"`
	ReturnDateTime    *time.Time   `json:"returnDateTime,omitempty"`
	DepartureLocation *Reference   `json:"departureLocation,omitempty" validate:"required"`
	ReturnLocation    *Reference   `json:"returnLocation,omitempty"`
	Operations        []*Operation `json:"operations,omitempty" validate:"-"`
}

func (*Trip) EntityName() string { return TripEntityName }

// AsObject returns a copy of the trip in the requested representation.
func (t *Trip) AsObject(opts AsObjectOptions) Entity {
	out := *t
	out.RootData = t.RootData.asObject(opts)
	out.DepartureLocation = t.DepartureLocation.minified(opts)
	out.ReturnLocation = t.ReturnLocation.minified(opts)
	if t.Operations != nil {
		out.Operations = make([]*Operation, 0, len(t.Operations))
		for _, operation := range t.Operations {
			out.Operations = append(out.Operations, operation.AsObject(opts).(*Operation))
		}
	}
	return &out
}

// Operation is a fishing operation within a trip.
type Operation struct {
	Identity
	TripID         *int64     `json:"tripId,omitempty"`
	RankOrder      int        `json:"rankOrder,omitempty"`
	StartDateTime  *time.Time `json:"startDateTime,omitempty"`
	EndDateTime    *time.Time `json:"endDateTime,omitempty"`
	PhysicalGearID *int64     `json:"physicalGearId,omitempty"`
	Latitude       *float64   `json:"latitude,omitempty"`
	Longitude      *float64   `json:"longitude,omitempty"`
	Comments       string     `json:"comments,omitempty"`
}

func (*Operation) EntityName() string { return OperationEntityName }

func (o *Operation) AsObject(opts AsObjectOptions) Entity {
	out := *o
	out.Identity = o.Identity.asObject(opts)
	return &out
}

// Landing is a landing of catch by a vessel, optionally linked to a trip.
type Landing struct {
	RootData
	VesselID  *int64     `json:"vesselId,omitempty" validate:"required"`
	TripID    *int64     `json:"tripId,omitempty"`
	DateTime  *time.Time `json:"dateTime,omitempty" validate:"required"`
	Location  *Reference `json:"location,omitempty" validate:"required"`
	RankOrder int        `json:"rankOrder,omitempty"`
}

func (*Landing) EntityName() string { return LandingEntityName }

func (l *Landing) AsObject(opts AsObjectOptions) Entity {
	out := *l
	out.RootData = l.RootData.asObject(opts)
	out.Location = l.Location.minified(opts)
	return &out
}

// DevicePosition is a sampled location of the recording device.
type DevicePosition struct {
	RootData
	ObjectType string     `json:"objectType,omitempty"`
	ObjectID   *int64     `json:"objectId,omitempty"`
	DateTime   *time.Time `json:"dateTime,omitempty"`
	Latitude   float64    `json:"latitude"`
	Longitude  float64    `json:"longitude"`
}

func (*DevicePosition) EntityName() string { return DevicePositionEntityName }

func (p *DevicePosition) AsObject(opts AsObjectOptions) Entity {
	out := *p
	out.RootData = p.RootData.asObject(opts)
	return &out
}
