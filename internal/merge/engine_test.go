package merge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/localstore"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"github.com/stretchr/testify/require"
)

type fakeLocal struct {
	page   entities.Page
	err    error
	events chan stream.Event[entities.Page]
}

func (f *fakeLocal) LoadAll(_ context.Context, _ string, opts localstore.LoadOptions) (entities.Page, error) {
	if f.err != nil {
		return entities.Page{}, f.err
	}
	var data []entities.Entity
	for _, entity := range f.page.Data {
		if opts.Filter == nil || opts.Filter(entity) {
			data = append(data, entity)
		}
	}
	return entities.Page{Data: data, Total: f.page.Total}, nil
}

func (f *fakeLocal) WatchAll(context.Context, string, localstore.LoadOptions) (<-chan stream.Event[entities.Page], error) {
	return f.events, nil
}

type fakeRemote struct {
	page    entities.Page
	err     error
	events  chan stream.Event[entities.Page]
	queries atomic.Int32
	last    remote.Query
}

func (f *fakeRemote) Query(_ context.Context, query remote.Query) (entities.Page, error) {
	f.queries.Add(1)
	f.last = query
	return f.page, f.err
}

func (f *fakeRemote) WatchQuery(_ context.Context, query remote.Query) (<-chan stream.Event[entities.Page], error) {
	f.queries.Add(1)
	f.last = query
	return f.events, nil
}

type network bool

func (n network) IsOnline() bool { return bool(n) }

func trip(id int64, status entities.SynchronizationStatus) *entities.Trip {
	return &entities.Trip{RootData: entities.RootData{Identity: entities.Identity{ID: entities.Int64(id), SynchronizationStatus: status}}}
}

func intPtr(v int) *int { return &v }

func TestPlanSources(t *testing.T) {
	statuses := func(values ...entities.SynchronizationStatus) entities.Filter {
		return entities.Filter{SynchronizationStatus: values}
	}
	tests := []struct {
		name   string
		filter entities.Filter
		online bool
		mode   string
	}{
		{name: "offline sync only", filter: statuses(entities.StatusSync), online: false, mode: "local"},
		{name: "offline no facet", filter: entities.Filter{}, online: false, mode: "local"},
		{name: "dirty only", filter: statuses(entities.StatusDirty), online: true, mode: "local"},
		{name: "local statuses", filter: statuses(entities.StatusDirty, entities.StatusReadyToSync), online: true, mode: "local"},
		{name: "sync only", filter: statuses(entities.StatusSync), online: true, mode: "remote"},
		{name: "mixed", filter: statuses(entities.StatusDirty, entities.StatusSync), online: true, mode: "both"},
		{name: "no facet", filter: entities.Filter{}, online: true, mode: "both"},
		{name: "negative id hint", filter: entities.Filter{IncludedIDs: []int64{-1, -2}}, online: true, mode: "local"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.mode, PlanSources(tt.filter, tt.online).Mode())
		})
	}
}

func TestPlanSourcesKeepsFiltersDisjoint(t *testing.T) {
	plan := PlanSources(entities.Filter{
		SynchronizationStatus: []entities.SynchronizationStatus{entities.StatusReadyToSync, entities.StatusSync},
		ProgramLabel:          "SIH",
	}, true)

	require.Equal(t, []entities.SynchronizationStatus{entities.StatusReadyToSync}, plan.LocalFilter.SynchronizationStatus)
	require.Empty(t, plan.RemoteFilter.SynchronizationStatus)
	require.Equal(t, "SIH", plan.RemoteFilter.ProgramLabel)

	noFacet := PlanSources(entities.Filter{}, true)
	require.ElementsMatch(t, []entities.SynchronizationStatus{entities.StatusDirty, entities.StatusReadyToSync}, noFacet.LocalFilter.SynchronizationStatus)
}

func TestLoadOfflineSyncFilterServesLocalOnly(t *testing.T) {
	local := &fakeLocal{page: entities.Page{Data: []entities.Entity{trip(5, entities.StatusSync), trip(-1, entities.StatusDirty)}}}
	remoteSource := &fakeRemote{}
	engine, err := NewEngine(EngineConfig{Local: local, Remote: remoteSource, Network: network(false)})
	require.NoError(t, err)

	result, err := engine.Load(context.Background(), Request{
		EntityName: entities.TripEntityName,
		Filter:     entities.Filter{SynchronizationStatus: []entities.SynchronizationStatus{entities.StatusSync}},
	})
	require.NoError(t, err)
	require.Equal(t, int32(0), remoteSource.queries.Load())
	require.True(t, result.Offline)
	require.False(t, result.Online)
	require.Len(t, result.Data, 1)
	require.Equal(t, int64(5), *result.Data[0].Ident().ID)
}

func TestLoadBothSumsTotals(t *testing.T) {
	local := &fakeLocal{page: entities.Page{Data: []entities.Entity{trip(-1, entities.StatusDirty), trip(-2, entities.StatusReadyToSync)}}}
	remoteSource := &fakeRemote{page: entities.Page{Data: []entities.Entity{trip(10, "")}, Total: intPtr(40)}}
	engine, err := NewEngine(EngineConfig{Local: local, Remote: remoteSource, Network: network(true)})
	require.NoError(t, err)

	result, err := engine.Load(context.Background(), Request{EntityName: entities.TripEntityName, Size: 20})
	require.NoError(t, err)
	require.Len(t, result.Data, 3)
	require.Equal(t, 42, result.Total)
	require.Equal(t, int64(-1), *result.Data[0].Ident().ID)
	require.Equal(t, int64(10), *result.Data[2].Ident().ID)
	require.True(t, result.Online)
	require.False(t, result.Offline)
	require.Equal(t, "Trips", remoteSource.last.Name)
	require.Equal(t, remote.NetworkOnly, remoteSource.last.FetchPolicy)
}

func TestLoadPropagatesErrors(t *testing.T) {
	local := &fakeLocal{}
	remoteSource := &fakeRemote{err: errors.New("gateway unavailable")}
	engine, err := NewEngine(EngineConfig{Local: local, Remote: remoteSource, Network: network(true)})
	require.NoError(t, err)

	_, err = engine.Load(context.Background(), Request{EntityName: entities.TripEntityName})
	require.EqualError(t, err, "gateway unavailable")
}

func receive(t *testing.T, events <-chan stream.Event[Result]) stream.Event[Result] {
	t.Helper()
	select {
	case event, ok := <-events:
		require.True(t, ok, "stream closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for merged page")
	}
	return stream.Event[Result]{}
}

func TestWatchRecomputesOnEachEmission(t *testing.T) {
	local := &fakeLocal{events: make(chan stream.Event[entities.Page], 4)}
	remoteSource := &fakeRemote{events: make(chan stream.Event[entities.Page], 4)}
	engine, err := NewEngine(EngineConfig{Local: local, Remote: remoteSource, Network: network(true)})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := engine.Watch(ctx, Request{EntityName: entities.TripEntityName})
	require.NoError(t, err)

	local.events <- stream.Event[entities.Page]{Value: entities.Page{Data: []entities.Entity{trip(-1, entities.StatusDirty)}}}
	remoteSource.events <- stream.Event[entities.Page]{Value: entities.Page{Data: []entities.Entity{trip(3, ""), trip(4, "")}, Total: intPtr(9)}}

	first := receive(t, events)
	require.NoError(t, first.Err)
	require.Len(t, first.Value.Data, 3)
	require.Equal(t, 10, first.Value.Total)

	local.events <- stream.Event[entities.Page]{Value: entities.Page{Data: []entities.Entity{trip(-1, entities.StatusDirty), trip(-2, entities.StatusDirty)}}}
	second := receive(t, events)
	require.Len(t, second.Value.Data, 4)
	require.Equal(t, 11, second.Value.Total)
}

func TestWatchPropagatesSourceError(t *testing.T) {
	local := &fakeLocal{events: make(chan stream.Event[entities.Page], 1)}
	remoteSource := &fakeRemote{events: make(chan stream.Event[entities.Page], 1)}
	engine, err := NewEngine(EngineConfig{Local: local, Remote: remoteSource, Network: network(true)})
	require.NoError(t, err)

	events, err := engine.Watch(context.Background(), Request{EntityName: entities.TripEntityName})
	require.NoError(t, err)

	local.events <- stream.Event[entities.Page]{Value: entities.Page{Data: []entities.Entity{trip(-1, entities.StatusDirty)}}}
	remoteSource.events <- stream.Event[entities.Page]{Err: remote.ErrOffline}

	event := receive(t, events)
	require.ErrorIs(t, event.Err, remote.ErrOffline)
	require.Empty(t, event.Value.Data)

	_, ok := <-events
	require.False(t, ok)
}

func TestMergedTotalsProperty(t *testing.T) {
	for localCount := 0; localCount < 4; localCount++ {
		for remoteCount := 0; remoteCount < 4; remoteCount++ {
			var localData, remoteData []entities.Entity
			for i := 0; i < localCount; i++ {
				localData = append(localData, trip(int64(-i-1), entities.StatusDirty))
			}
			for i := 0; i < remoteCount; i++ {
				remoteData = append(remoteData, trip(int64(i+1), ""))
			}
			result := combine([]entities.Page{{Data: localData}, {Data: remoteData, Total: intPtr(remoteCount)}}, false, true)
			require.Equal(t, localCount+remoteCount, result.Total)
			require.Len(t, result.Data, localCount+remoteCount)
		}
	}
}
