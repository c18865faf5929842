package synchro

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/capability"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/database"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/localstore"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu        sync.Mutex
	nextID    int64
	mutations atomic.Int32
	plans     []remote.MutationPlan
	// returnID overrides the id assigned to saved entities when set.
	returnID *int64
	failWith error
}

func (g *fakeGateway) Query(context.Context, remote.Query) (entities.Page, error) {
	return entities.Page{}, nil
}

func (g *fakeGateway) WatchQuery(context.Context, remote.Query) (<-chan stream.Event[entities.Page], error) {
	return nil, errors.New("not supported")
}

func (g *fakeGateway) Mutate(_ context.Context, plan remote.MutationPlan) (remote.MutationResult, error) {
	g.mutations.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.plans = append(g.plans, plan)
	if g.failWith != nil {
		return remote.MutationResult{}, apperr.Wrap(plan.ErrorCode, g.failWith)
	}
	result := remote.MutationResult{}
	for _, entity := range plan.Entities {
		saved, err := entities.Clone(entity)
		if err != nil {
			return remote.MutationResult{}, err
		}
		switch {
		case g.returnID != nil:
			saved.Ident().ID = g.returnID
		case saved.Ident().ID == nil:
			g.nextID++
			saved.Ident().ID = entities.Int64(g.nextID)
		}
		saved.Ident().UpdateDate = entities.Time(time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC))
		result.Entities = append(result.Entities, saved)
	}
	return result, nil
}

func (g *fakeGateway) lastPlan() remote.MutationPlan {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.plans[len(g.plans)-1]
}

type network struct{ online atomic.Bool }

func (n *network) IsOnline() bool { return n.online.Load() }

func newOnline(online bool) *network {
	n := &network{}
	n.online.Store(online)
	return n
}

// flakyStore fails deletes of the listed entity types.
type flakyStore struct {
	*localstore.Store
	failDeletes map[string]bool
	failSaveAll map[string]bool
}

func (f *flakyStore) DeleteByID(ctx context.Context, entityName string, id int64) error {
	if f.failDeletes[entityName] {
		return errors.New("disk full")
	}
	return f.Store.DeleteByID(ctx, entityName, id)
}

func (f *flakyStore) SaveAll(ctx context.Context, entityName string, items []entities.Entity, opts localstore.SaveAllOptions) error {
	if f.failSaveAll[entityName] {
		return errors.New("locked")
	}
	return f.Store.SaveAll(ctx, entityName, items, opts)
}

type harness struct {
	store   *localstore.Store
	local   *flakyStore
	gateway *fakeGateway
	network *network
	service *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "local.db"), localstore.Schema(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	registry := entities.DefaultRegistry()
	store, err := localstore.NewStore(localstore.StoreConfig{Database: db, Registry: registry})
	require.NoError(t, err)

	h := &harness{
		store:   store,
		local:   &flakyStore{Store: store, failDeletes: map[string]bool{}, failSaveAll: map[string]bool{}},
		gateway: &fakeGateway{nextID: 1041},
		network: newOnline(true),
	}
	account := accounts.Account{
		Person:     entities.Person{ID: entities.Int64(9), LastName: "Observer"},
		Department: &entities.Department{ID: entities.Int64(2), Label: "IFR"},
	}
	h.service, err = NewService(ServiceConfig{
		Local:    h.local,
		Gateway:  h.gateway,
		Network:  h.network,
		Registry: registry,
		Accounts: accounts.NewHolder(&account),
		Clock:    func() time.Time { return time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return h
}

func program() *entities.Program {
	return &entities.Program{Label: "SIH-OBSMER"}
}

func localVessel(id int64, status entities.SynchronizationStatus) *entities.Vessel {
	return &entities.Vessel{
		RootData: entities.RootData{
			Identity: entities.Identity{ID: entities.Int64(id), SynchronizationStatus: status},
			Program:  program(),
		},
		Features: &entities.VesselFeatures{
			ID:              entities.Int64(-1),
			VesselID:        entities.Int64(id),
			Name:            "Marie-Galante",
			ExteriorMarking: "GV 1234",
		},
	}
}

func (h *harness) seed(t *testing.T, items ...entities.Entity) {
	t.Helper()
	for _, item := range items {
		_, err := h.store.Save(context.Background(), item)
		require.NoError(t, err)
	}
}

func TestSynchronizeRewritesDependentsAndCleansUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	vessel := localVessel(-5, entities.StatusReadyToSync)
	trip := &entities.Trip{
		RootData: entities.RootData{
			Identity: entities.Identity{ID: entities.Int64(-1), SynchronizationStatus: entities.StatusDirty},
			Program:  program(),
		},
		VesselID: entities.Int64(-5),
	}
	h.seed(t, vessel, entities.VesselSnapshotFromVessel(vessel), trip)

	result, err := h.service.Synchronize(ctx, vessel)
	require.NoError(t, err)
	require.NoError(t, result.LocalCleanup)

	committed := result.Committed.(*entities.Vessel)
	require.Equal(t, int64(1042), *committed.ID)
	require.Equal(t, entities.StatusSync, committed.SynchronizationStatus)
	require.Equal(t, int64(-5), *vessel.ID, "caller entity must not be mutated")

	sent := h.gateway.lastPlan().Entities[0].(*entities.Vessel)
	require.Nil(t, sent.ID)
	require.Empty(t, sent.SynchronizationStatus)
	require.Nil(t, sent.Features.ID)
	require.Nil(t, sent.Features.VesselID)

	loaded, err := h.store.Load(ctx, entities.TripEntityName, -1)
	require.NoError(t, err)
	require.Equal(t, int64(1042), *loaded.(*entities.Trip).VesselID)

	_, err = h.store.Load(ctx, entities.VesselEntityName, -5)
	require.ErrorIs(t, err, localstore.ErrEntityNotFound)
	_, err = h.store.Load(ctx, entities.VesselSnapshotEntityName, -5)
	require.ErrorIs(t, err, localstore.ErrEntityNotFound)
	snapshot, err := h.store.Load(ctx, entities.VesselSnapshotEntityName, 1042)
	require.NoError(t, err)
	require.Equal(t, "Marie-Galante", snapshot.(*entities.VesselSnapshot).Name)

	_, err = h.service.Synchronize(ctx, vessel)
	require.ErrorIs(t, err, ErrNotLocalEntity)
	require.Equal(t, int32(1), h.gateway.mutations.Load())
}

func TestSynchronizeRejectsRemoteEntityWithoutNetworkCall(t *testing.T) {
	h := newHarness(t)

	vessel := localVessel(7, entities.StatusSync)
	_, err := h.service.Synchronize(context.Background(), vessel)
	require.ErrorIs(t, err, ErrNotLocalEntity)
	require.EqualError(t, err, "Entity must be a local entity")
	require.Zero(t, h.gateway.mutations.Load())

	_, err = h.service.Synchronize(context.Background(), &entities.Vessel{})
	require.ErrorIs(t, err, ErrNotLocalEntity)
}

func TestSynchronizeOfflineFailsBeforeNetwork(t *testing.T) {
	h := newHarness(t)
	h.network.online.Store(false)
	vessel := localVessel(-5, entities.StatusReadyToSync)
	h.seed(t, vessel)

	_, err := h.service.Synchronize(context.Background(), vessel)
	require.ErrorIs(t, err, ErrNetworkOffline)
	require.Zero(t, apperr.CodeOf(err))
	require.Zero(t, h.gateway.mutations.Load())
}

func TestSynchronizeInvalidRemoteIDCarriesDiagnostics(t *testing.T) {
	h := newHarness(t)
	h.gateway.returnID = entities.Int64(-3)
	vessel := localVessel(-5, entities.StatusReadyToSync)
	h.seed(t, vessel)

	_, err := h.service.Synchronize(context.Background(), vessel)
	var typed *apperr.Error
	require.ErrorAs(t, err, &typed)
	require.Equal(t, apperr.SynchronizeEntityError, typed.Code)
	require.Equal(t, "ERROR.SYNCHRONIZE_ENTITY_ERROR", typed.Message)
	diagnostic := typed.ContextValue().(*entities.Vessel)
	require.Equal(t, int64(-5), *diagnostic.ID)
	require.Equal(t, "SIH-OBSMER", diagnostic.Program.Label)

	_, err = h.store.Load(context.Background(), entities.VesselEntityName, -5)
	require.NoError(t, err, "local entity must survive a failed promotion")
}

func TestSynchronizeGatewayErrorIsWrapped(t *testing.T) {
	h := newHarness(t)
	h.gateway.failWith = errors.New("constraint violation")
	vessel := localVessel(-5, entities.StatusReadyToSync)
	h.seed(t, vessel)

	_, err := h.service.Synchronize(context.Background(), vessel)
	require.Equal(t, apperr.SynchronizeEntityError, apperr.CodeOf(err))
	require.ErrorContains(t, err, "constraint violation")
}

func TestSynchronizeCleanupFailureIsReportedNotReturned(t *testing.T) {
	h := newHarness(t)
	h.local.failDeletes[entities.VesselEntityName] = true
	h.local.failSaveAll[entities.LandingEntityName] = true

	vessel := localVessel(-5, entities.StatusReadyToSync)
	landing := &entities.Landing{
		RootData: entities.RootData{Identity: entities.Identity{ID: entities.Int64(-2), SynchronizationStatus: entities.StatusDirty}, Program: program()},
		VesselID: entities.Int64(-5),
	}
	trip := &entities.Trip{
		RootData: entities.RootData{Identity: entities.Identity{ID: entities.Int64(-1), SynchronizationStatus: entities.StatusDirty}, Program: program()},
		VesselID: entities.Int64(-5),
	}
	h.seed(t, vessel, landing, trip)

	result, err := h.service.Synchronize(context.Background(), vessel)
	require.NoError(t, err)
	require.NotNil(t, result.Committed)
	require.Error(t, result.LocalCleanup)
	require.Equal(t, apperr.SynchronizeEntitiesWarn, apperr.CodeOf(result.LocalCleanup))

	// the failing landing rewrite does not stop the trip rewrite.
	loaded, err := h.store.Load(context.Background(), entities.TripEntityName, -1)
	require.NoError(t, err)
	require.Equal(t, int64(1042), *loaded.(*entities.Trip).VesselID)

	hasLocal, err := h.service.HasLocalData(context.Background(), entities.VesselEntityName)
	require.NoError(t, err)
	require.True(t, hasLocal, "orphaned local copy stays visible to the scan")
}

func TestRewriteDependentsIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := &entities.Trip{
		RootData: entities.RootData{Identity: entities.Identity{ID: entities.Int64(-1), SynchronizationStatus: entities.StatusDirty}, Program: program()},
		VesselID: entities.Int64(-5),
	}
	position := &entities.DevicePosition{
		RootData:   entities.RootData{Identity: entities.Identity{ID: entities.Int64(-4), SynchronizationStatus: entities.StatusDirty}, Program: program()},
		ObjectType: "LANDING",
		ObjectID:   entities.Int64(-1),
	}
	h.seed(t, trip, position)

	require.NoError(t, h.service.RewriteDependents(ctx, entities.VesselEntityName, -5, 1042))
	first, err := h.store.Load(ctx, entities.TripEntityName, -1)
	require.NoError(t, err)

	require.NoError(t, h.service.RewriteDependents(ctx, entities.VesselEntityName, -5, 1042))
	second, err := h.store.Load(ctx, entities.TripEntityName, -1)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int64(1042), *second.(*entities.Trip).VesselID)

	// positions of other object types keep their key.
	require.NoError(t, h.service.RewriteDependents(ctx, entities.TripEntityName, -1, 77))
	loaded, err := h.store.Load(ctx, entities.DevicePositionEntityName, -4)
	require.NoError(t, err)
	require.Equal(t, int64(-1), *loaded.(*entities.DevicePosition).ObjectID)
}

func TestSynchronizeTripEmbedsLocalOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := &entities.Trip{
		RootData: entities.RootData{Identity: entities.Identity{ID: entities.Int64(-1), SynchronizationStatus: entities.StatusReadyToSync}, Program: program()},
		VesselID: entities.Int64(12),
	}
	operation := &entities.Operation{
		Identity:  entities.Identity{ID: entities.Int64(-8), SynchronizationStatus: entities.StatusDirty},
		TripID:    entities.Int64(-1),
		RankOrder: 1,
	}
	position := &entities.DevicePosition{
		RootData:   entities.RootData{Identity: entities.Identity{ID: entities.Int64(-4), SynchronizationStatus: entities.StatusDirty}, Program: program()},
		ObjectType: entities.DevicePositionObjectTypeTrip,
		ObjectID:   entities.Int64(-1),
	}
	h.seed(t, trip, operation, position)

	result, err := h.service.Synchronize(ctx, trip)
	require.NoError(t, err)
	require.NoError(t, result.LocalCleanup)

	sent := h.gateway.lastPlan().Entities[0].(*entities.Trip)
	require.Len(t, sent.Operations, 1)
	require.Nil(t, sent.Operations[0].ID)
	require.Nil(t, sent.Operations[0].TripID)

	_, err = h.store.Load(ctx, entities.OperationEntityName, -8)
	require.ErrorIs(t, err, localstore.ErrEntityNotFound)

	loaded, err := h.store.Load(ctx, entities.DevicePositionEntityName, -4)
	require.NoError(t, err)
	require.Equal(t, *result.Committed.Ident().ID, *loaded.(*entities.DevicePosition).ObjectID)
}

func TestSynchronizePromotesLocalPreviousVersionFirst(t *testing.T) {
	h := newHarness(t)
	previous := localVessel(-3, entities.StatusReadyToSync)
	vessel := localVessel(-5, entities.StatusReadyToSync)
	vessel.PreviousVersion = previous
	h.seed(t, vessel)

	result, err := h.service.Synchronize(context.Background(), vessel)
	require.NoError(t, err)
	require.Equal(t, int32(2), h.gateway.mutations.Load())

	committed := result.Committed.(*entities.Vessel)
	require.Equal(t, int64(1043), *committed.ID)
	require.Equal(t, int64(1042), *committed.PreviousVersion.ID)
}

func TestSaveLocallyAssignsNegativeIDAndSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vessel := &entities.Vessel{
		RootData: entities.RootData{Program: program(), Identity: entities.Identity{SynchronizationStatus: entities.StatusDirty}},
		Features: &entities.VesselFeatures{Name: "Ar Men", ExteriorMarking: "BR 1"},
	}

	saved, err := h.service.Save(ctx, vessel)
	require.NoError(t, err)
	id, ok := entities.IDOf(saved)
	require.True(t, ok)
	require.Less(t, id, int64(0))
	require.Equal(t, entities.StatusDirty, saved.Ident().SynchronizationStatus)
	require.NotNil(t, saved.Ident().UpdateDate)
	require.Equal(t, int64(9), *vessel.RecorderPerson.ID)
	require.Equal(t, "IFR", vessel.RecorderDepartment.Label)

	snapshot, err := h.store.Load(ctx, entities.VesselSnapshotEntityName, id)
	require.NoError(t, err)
	require.Equal(t, "Ar Men", snapshot.(*entities.VesselSnapshot).Name)
	require.Zero(t, h.gateway.mutations.Load())
}

func TestSaveLocallyNumbersEmbeddedOperations(t *testing.T) {
	h := newHarness(t)
	trip := &entities.Trip{
		RootData:   entities.RootData{Program: program(), Identity: entities.Identity{SynchronizationStatus: entities.StatusDirty}},
		VesselID:   entities.Int64(3),
		Operations: []*entities.Operation{{}, {}},
	}
	_, err := h.service.SaveLocally(context.Background(), trip)
	require.NoError(t, err)
	for index, operation := range trip.Operations {
		require.Less(t, *operation.ID, int64(0))
		require.Equal(t, *trip.ID, *operation.TripID)
		require.Equal(t, index+1, operation.RankOrder)
	}
}

func TestSaveRemoteCopiesIdentityBack(t *testing.T) {
	h := newHarness(t)
	landing := &entities.Landing{
		RootData: entities.RootData{Program: program()},
		VesselID: entities.Int64(12),
	}
	saved, err := h.service.Save(context.Background(), landing)
	require.NoError(t, err)
	require.Equal(t, *saved.Ident().ID, *landing.ID)
	require.Equal(t, remote.PatchInsert, h.gateway.lastPlan().CachePatches[0].Kind)

	h.network.online.Store(false)
	_, err = h.service.Save(context.Background(), landing)
	require.ErrorIs(t, err, ErrNetworkOffline)
}

func TestToggleReadyToSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vessel := localVessel(-5, entities.StatusDirty)
	h.seed(t, vessel)

	_, err := h.service.ToggleReadyToSync(ctx, vessel)
	require.NoError(t, err)
	require.Equal(t, entities.StatusReadyToSync, vessel.SynchronizationStatus)

	_, err = h.service.ToggleReadyToSync(ctx, vessel)
	require.NoError(t, err)
	require.Equal(t, entities.StatusDirty, vessel.SynchronizationStatus)

	_, err = h.service.ToggleReadyToSync(ctx, localVessel(4, entities.StatusSync))
	require.ErrorIs(t, err, ErrNotLocalEntity)
}

func TestSynchronizeAllIsSequentialAndSkipsDirty(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		localVessel(-1, entities.StatusReadyToSync),
		localVessel(-2, entities.StatusDirty),
		localVessel(-3, entities.StatusReadyToSync),
	)

	outcomes, err := h.service.SynchronizeAll(context.Background(), entities.VesselEntityName)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, int64(-1), outcomes[0].LocalID)
	require.Equal(t, int64(-3), outcomes[1].LocalID)
	for _, outcome := range outcomes {
		require.NoError(t, outcome.Err)
	}

	hasLocal, err := h.service.HasLocalData(context.Background(), entities.VesselEntityName)
	require.NoError(t, err)
	require.True(t, hasLocal)

	h.network.online.Store(false)
	_, err = h.service.SynchronizeAll(context.Background(), entities.VesselEntityName)
	require.ErrorIs(t, err, ErrNetworkOffline)
}

func TestSaveLocallyAcceptsPositionWithoutProgram(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stamp := time.Date(2026, 9, 1, 6, 30, 0, 0, time.UTC)

	saved, err := h.service.Save(ctx, &entities.DevicePosition{
		RootData:   entities.RootData{Identity: entities.Identity{SynchronizationStatus: entities.StatusDirty}},
		ObjectType: entities.DevicePositionObjectTypeTrip,
		ObjectID:   entities.Int64(-3),
		DateTime:   &stamp,
		Latitude:   47.21,
		Longitude:  -2.15,
	})
	require.NoError(t, err)
	require.True(t, entities.IsLocalAndDirty(saved))
	require.Zero(t, h.gateway.mutations.Load())

	id, _ := entities.IDOf(saved)
	loaded, err := h.store.Load(ctx, entities.DevicePositionEntityName, id)
	require.NoError(t, err)
	require.Nil(t, loaded.(*entities.DevicePosition).Program)
}

func TestSynchronizeAllPromotesPositionsOnceTheirTripIsRemote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	trip := &entities.Trip{
		RootData: entities.RootData{
			Identity: entities.Identity{ID: entities.Int64(-1), SynchronizationStatus: entities.StatusReadyToSync},
			Program:  program(),
		},
		VesselID: entities.Int64(1042),
	}
	position := func(id, tripID int64) *entities.DevicePosition {
		return &entities.DevicePosition{
			RootData: entities.RootData{
				Identity: entities.Identity{ID: entities.Int64(id), SynchronizationStatus: entities.StatusDirty},
				Program:  program(),
			},
			ObjectType: entities.DevicePositionObjectTypeTrip,
			ObjectID:   entities.Int64(tripID),
		}
	}
	h.seed(t, trip, position(-7, -1), position(-8, -2))

	outcomes, err := h.service.SynchronizeAll(ctx, entities.DevicePositionEntityName)
	require.NoError(t, err)
	require.Empty(t, outcomes)

	outcomes, err = h.service.SynchronizeAll(ctx, entities.TripEntityName)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	tripID, _ := entities.IDOf(outcomes[0].Result.Committed)

	outcomes, err = h.service.SynchronizeAll(ctx, entities.DevicePositionEntityName)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, int64(-7), outcomes[0].LocalID)
	require.NoError(t, outcomes[0].Err)

	sent := h.gateway.lastPlan().Entities[0].(*entities.DevicePosition)
	require.Equal(t, tripID, *sent.ObjectID)
	_, err = h.store.Load(ctx, entities.DevicePositionEntityName, -7)
	require.ErrorIs(t, err, localstore.ErrEntityNotFound)
	_, err = h.store.Load(ctx, entities.DevicePositionEntityName, -8)
	require.NoError(t, err)
}

func TestDeleteLocalRemovesSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vessel := localVessel(-5, entities.StatusDirty)
	h.seed(t, vessel, entities.VesselSnapshotFromVessel(vessel))

	require.NoError(t, h.service.Delete(ctx, vessel))
	_, err := h.store.Load(ctx, entities.VesselSnapshotEntityName, -5)
	require.ErrorIs(t, err, localstore.ErrEntityNotFound)
	require.Zero(t, h.gateway.mutations.Load())

	require.NoError(t, h.service.Delete(ctx, localVessel(15, entities.StatusSync)))
	require.Equal(t, remote.PatchRemove, h.gateway.lastPlan().CachePatches[0].Kind)
}

func TestDeleteLocalLeavesTombstoneWhenDropFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, localVessel(-5, entities.StatusReadyToSync), localVessel(-6, entities.StatusDirty))
	h.local.failDeletes[entities.VesselEntityName] = true

	require.NoError(t, h.service.Delete(ctx, localVessel(-5, entities.StatusReadyToSync)))
	_, err := h.store.Load(ctx, entities.VesselEntityName, -5)
	require.ErrorIs(t, err, localstore.ErrEntityNotFound)
	hasLocal, err := h.service.HasLocalData(ctx, entities.VesselEntityName)
	require.NoError(t, err)
	require.True(t, hasLocal)

	purged, err := h.store.PurgeDeleted(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), purged)
	require.Zero(t, h.gateway.mutations.Load())
}

func TestDeleteRefusesLocalTombstone(t *testing.T) {
	h := newHarness(t)
	err := h.service.Delete(context.Background(), localVessel(-5, entities.StatusDeleted))
	require.ErrorIs(t, err, lifecycle.ErrInvalidStatusTransition)
	require.Zero(t, h.gateway.mutations.Load())
}

func TestServiceDeclaresSynchroCapability(t *testing.T) {
	h := newHarness(t)
	require.True(t, capability.HasCapability(h.service, capability.Synchro))
	require.False(t, capability.HasCapability(h.service, capability.Quality))
}

type reconnector struct {
	network *network
	checks  atomic.Int32
}

func (r *reconnector) Check(context.Context) bool {
	r.checks.Add(1)
	r.network.online.Store(true)
	return true
}

func TestRetryWhenOnlineRetriesOfflineFailures(t *testing.T) {
	h := newHarness(t)
	h.network.online.Store(false)
	vessel := localVessel(-5, entities.StatusReadyToSync)
	h.seed(t, vessel)
	reconnect := &reconnector{network: h.network}

	var result SyncResult
	err := RetryWhenOnline(context.Background(), reconnect, func(ctx context.Context) error {
		var err error
		result, err = h.service.Synchronize(ctx, vessel)
		return err
	}, RetryOptions{InitialInterval: time.Millisecond, MaxAttempts: 3})
	require.NoError(t, err)
	require.Equal(t, int32(1), reconnect.checks.Load())
	require.Equal(t, int64(1042), *result.Committed.Ident().ID)
}

func TestRetryWhenOnlineStopsOnOtherErrors(t *testing.T) {
	calls := 0
	err := RetryWhenOnline(context.Background(), nil, func(context.Context) error {
		calls++
		return ErrNotLocalEntity
	}, RetryOptions{InitialInterval: time.Millisecond})
	require.ErrorIs(t, err, ErrNotLocalEntity)
	require.Equal(t, 1, calls)
}
