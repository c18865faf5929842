// Package lifecycle holds the state machines governing synchronization status
// and data quality transitions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/looplab/fsm"
)

// Synchronization status events.
const (
	EventReady  = "ready"
	EventEdit   = "edit"
	EventSync   = "sync"
	EventDelete = "delete"
)

// ErrInvalidStatusTransition reports an event not allowed from the current status.
var ErrInvalidStatusTransition = errors.New("lifecycle: invalid synchronization status transition")

func newStatusMachine(initial entities.SynchronizationStatus) *fsm.FSM {
	dirty := string(entities.StatusDirty)
	ready := string(entities.StatusReadyToSync)
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: EventReady, Src: []string{dirty, ready}, Dst: ready},
			{Name: EventEdit, Src: []string{dirty, ready}, Dst: dirty},
			{Name: EventSync, Src: []string{dirty, ready}, Dst: string(entities.StatusSync)},
			{Name: EventDelete, Src: []string{dirty, ready}, Dst: string(entities.StatusDeleted)},
		},
		fsm.Callbacks{},
	)
}

// NextStatus applies event to current and returns the resulting status. A
// missing status is treated as DIRTY.
func NextStatus(ctx context.Context, current entities.SynchronizationStatus, event string) (entities.SynchronizationStatus, error) {
	if current == "" {
		current = entities.StatusDirty
	}
	machine := newStatusMachine(current)
	if err := machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, nil
		}
		return current, fmt.Errorf("%w: %s from %s", ErrInvalidStatusTransition, event, current)
	}
	return entities.SynchronizationStatus(machine.Current()), nil
}

// CanStatus reports whether event is allowed from current.
func CanStatus(current entities.SynchronizationStatus, event string) bool {
	if current == "" {
		current = entities.StatusDirty
	}
	return newStatusMachine(current).Can(event)
}
