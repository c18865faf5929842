package localstore

import (
	"context"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
)

// WatchAll emits the current page for entityName and a fresh page after every
// write to that type, until ctx is cancelled. A failed reload is emitted as an
// error event and ends the stream.
func (s *Store) WatchAll(ctx context.Context, entityName string, opts LoadOptions) (<-chan stream.Event[entities.Page], error) {
	changes, cleanup := s.changes.Subscribe(ctx, entityName)
	first, err := s.LoadAll(ctx, entityName, opts)
	if err != nil {
		cleanup()
		return nil, err
	}

	out := make(chan stream.Event[entities.Page], 1)
	out <- stream.Event[entities.Page]{Value: first}

	go func() {
		defer close(out)
		defer cleanup()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				drain(changes)
				page, err := s.LoadAll(ctx, entityName, opts)
				if ctx.Err() != nil {
					return
				}
				select {
				case out <- stream.Event[entities.Page]{Value: page, Err: err}:
				case <-ctx.Done():
					return
				}
				if err != nil {
					return
				}
			}
		}
	}()
	return out, nil
}

func drain(changes <-chan Change) {
	for {
		select {
		case _, ok := <-changes:
			if !ok {
				return
			}
		default:
			return
		}
	}
}
