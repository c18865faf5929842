package entities

import (
	"fmt"

	"github.com/tiendc/go-deepcopy"
)

// Clone returns a deep copy of entity so callers can mutate it freely.
func Clone(entity Entity) (Entity, error) {
	switch typed := entity.(type) {
	case *Vessel:
		return cloneOf(typed)
	case *VesselSnapshot:
		return cloneOf(typed)
	case *Trip:
		return cloneOf(typed)
	case *Operation:
		return cloneOf(typed)
	case *Landing:
		return cloneOf(typed)
	case *DevicePosition:
		return cloneOf(typed)
	case *Pmfm:
		return cloneOf(typed)
	case nil:
		return nil, fmt.Errorf("entities: clone of nil entity")
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownEntityType, entity)
	}
}

func cloneOf[T any, P interface {
	*T
	Entity
}](src P) (Entity, error) {
	var dst T
	if err := deepcopy.Copy(&dst, src); err != nil {
		return nil, fmt.Errorf("entities: clone %s: %w", src.EntityName(), err)
	}
	return P(&dst), nil
}
