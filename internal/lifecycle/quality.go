package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/looplab/fsm"
)

// Quality events.
const (
	EventControl    = "control"
	EventValidate   = "validate"
	EventUnvalidate = "unvalidate"
	EventQualify    = "qualify"
	EventUnqualify  = "unqualify"
)

// ErrInvalidQualityTransition reports a quality event not allowed from the
// state derived from an entity's dates.
var ErrInvalidQualityTransition = errors.New("lifecycle: invalid quality transition")

func newQualityMachine(initial entities.QualityState) *fsm.FSM {
	modified := string(entities.QualityStateModified)
	controlled := string(entities.QualityStateControlled)
	validated := string(entities.QualityStateValidated)
	qualified := string(entities.QualityStateQualified)
	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: EventControl, Src: []string{modified, controlled}, Dst: controlled},
			{Name: EventValidate, Src: []string{controlled}, Dst: validated},
			{Name: EventUnvalidate, Src: []string{validated, qualified}, Dst: controlled},
			{Name: EventQualify, Src: []string{validated, qualified}, Dst: qualified},
			{Name: EventUnqualify, Src: []string{validated, qualified}, Dst: validated},
		},
		fsm.Callbacks{},
	)
}

// NextQuality checks that event is allowed for root and returns the state it leads to.
func NextQuality(ctx context.Context, root *entities.RootData, event string) (entities.QualityState, error) {
	current := entities.QualityStateOf(root)
	machine := newQualityMachine(current)
	if err := machine.Event(ctx, event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return current, nil
		}
		return current, fmt.Errorf("%w: %s from %s", ErrInvalidQualityTransition, event, current)
	}
	return entities.QualityState(machine.Current()), nil
}

// ApplyQuality stamps the dates implied by event on root.
func ApplyQuality(root *entities.RootData, event string, now time.Time, qualityFlagID *int) {
	switch event {
	case EventControl:
		root.ControlDate = entities.Time(now)
	case EventValidate:
		root.ValidationDate = entities.Time(now)
	case EventUnvalidate:
		root.ValidationDate = nil
		root.QualificationDate = nil
		root.QualityFlagID = nil
	case EventQualify:
		root.QualificationDate = entities.Time(now)
		root.QualityFlagID = qualityFlagID
	case EventUnqualify:
		root.QualificationDate = nil
		root.QualityFlagID = entities.Int(entities.QualityFlagNotQualified)
	}
}
