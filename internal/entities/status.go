package entities

import (
	"fmt"
	"strings"
)

// SynchronizationStatus is the client-local lifecycle tag of an entity.
type SynchronizationStatus string

const (
	StatusDirty       SynchronizationStatus = "DIRTY"
	StatusReadyToSync SynchronizationStatus = "READY_TO_SYNC"
	StatusSync        SynchronizationStatus = "SYNC"
	StatusDeleted     SynchronizationStatus = "DELETED"
)

// ParseSynchronizationStatus validates a raw status value.
func ParseSynchronizationStatus(raw string) (SynchronizationStatus, error) {
	switch status := SynchronizationStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case StatusDirty, StatusReadyToSync, StatusSync, StatusDeleted:
		return status, nil
	default:
		return "", fmt.Errorf("entities: unknown synchronization status %q", raw)
	}
}

// IsLocalStatus reports whether status only exists on the device.
func (s SynchronizationStatus) IsLocalStatus() bool {
	return s != "" && s != StatusSync
}

func (s SynchronizationStatus) String() string {
	return string(s)
}
