package entities

// IsLocal reports whether entity only exists on this device: either it has
// no id yet but carries a non-SYNC status, or its id is negative.
func IsLocal(entity Entity) bool {
	if entity == nil {
		return false
	}
	identity := entity.Ident()
	if identity.ID == nil {
		return identity.SynchronizationStatus.IsLocalStatus()
	}
	return *identity.ID < 0
}

// IsRemote is the negation of IsLocal.
func IsRemote(entity Entity) bool {
	return !IsLocal(entity)
}

// IsLocalAndDirty reports a local entity still being edited.
func IsLocalAndDirty(entity Entity) bool {
	return hasNegativeID(entity) && entity.Ident().SynchronizationStatus == StatusDirty
}

// IsReadyToSync reports a local entity finalized and awaiting the network.
func IsReadyToSync(entity Entity) bool {
	return hasNegativeID(entity) && entity.Ident().SynchronizationStatus == StatusReadyToSync
}

// IsLocalID reports whether id belongs to the local (negative) id space.
func IsLocalID(id *int64) bool {
	return id != nil && *id < 0
}

func hasNegativeID(entity Entity) bool {
	return entity != nil && IsLocalID(entity.Ident().ID)
}
