// Package synchro saves root entities locally or remotely and promotes local
// entities to the remote store, propagating their new identity to dependents.
package synchro

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/apperr"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/capability"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/lifecycle"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/localstore"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"go.uber.org/zap"
)

var (
	// ErrNotLocalEntity is returned when promoting an entity that is not local.
	ErrNotLocalEntity = errors.New("Entity must be a local entity")
	// ErrNetworkOffline is returned, before any network call, when promotion
	// or a remote save is attempted offline.
	ErrNetworkOffline = remote.ErrOffline
	// ErrUnknownDefinition indicates that no definition covers an entity type.
	ErrUnknownDefinition = errors.New("synchro: no definition for entity type")

	errInvalidRemoteID  = errors.New("synchro: remote save returned no valid id")
	errMissingLocal     = errors.New("local store is required")
	errMissingGateway   = errors.New("remote gateway is required")
	errMissingRegistry  = errors.New("entity registry is required")
	errMissingNetwork   = errors.New("network status is required")
	errMissingEntityArg = errors.New("synchro: entity is required")
)

const (
	opSynchronize     = "synchro.synchronize"
	opRewrite         = "synchro.rewrite_dependents"
	opCleanup         = "synchro.local_cleanup"
	opSave            = "synchro.save"
	opSaveLocally     = "synchro.save_locally"
	opDelete          = "synchro.delete"
	opSynchronizeAll  = "synchro.synchronize_all"
	opToggleReadiness = "synchro.toggle_ready_to_sync"
)

// LocalStore is the subset of the local entity store used here.
type LocalStore interface {
	Load(ctx context.Context, entityName string, id int64) (entities.Entity, error)
	LoadAll(ctx context.Context, entityName string, opts localstore.LoadOptions) (entities.Page, error)
	Save(ctx context.Context, entity entities.Entity) (entities.Entity, error)
	SaveAll(ctx context.Context, entityName string, items []entities.Entity, opts localstore.SaveAllOptions) error
	DeleteByID(ctx context.Context, entityName string, id int64) error
	MarkDeleted(ctx context.Context, entityName string, ids []int64) error
	DeleteMany(ctx context.Context, entityName string, ids []int64) error
	NextValue(ctx context.Context, entity entities.Entity) (int64, error)
}

// AccountSource exposes the signed-in account used for recorder defaults.
type AccountSource interface {
	Current() (accounts.Account, bool)
}

// ServiceConfig wires the synchronization service.
type ServiceConfig struct {
	Local    LocalStore
	Gateway  remote.Gateway
	Network  remote.NetworkStatus
	Registry *entities.Registry
	// Definitions default to DefaultDefinitions.
	Definitions []Definition
	Accounts    AccountSource
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Service implements save and promotion of root entities.
type Service struct {
	local       LocalStore
	gateway     remote.Gateway
	network     remote.NetworkStatus
	registry    *entities.Registry
	definitions map[string]Definition
	accounts    AccountSource
	clock       func() time.Time
	logger      *zap.Logger
}

// SyncResult is the two-phase outcome of a promotion: the committed remote
// entity, and the result of the best-effort local cleanup that followed.
type SyncResult struct {
	Committed    entities.Entity
	LocalCleanup error
}

// SyncOutcome is the result of promoting one entity during SynchronizeAll.
type SyncOutcome struct {
	LocalID int64
	Result  SyncResult
	Err     error
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Local == nil {
		return nil, errMissingLocal
	}
	if cfg.Gateway == nil {
		return nil, errMissingGateway
	}
	if cfg.Network == nil {
		return nil, errMissingNetwork
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	definitions := cfg.Definitions
	if len(definitions) == 0 {
		definitions = DefaultDefinitions()
	}
	byName := make(map[string]Definition, len(definitions))
	for _, definition := range definitions {
		byName[definition.EntityName] = definition
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		local:       cfg.Local,
		gateway:     cfg.Gateway,
		network:     cfg.Network,
		registry:    cfg.Registry,
		definitions: byName,
		accounts:    cfg.Accounts,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Capabilities declares the synchro capability.
func (s *Service) Capabilities() capability.Set {
	return capability.NewSet(capability.Synchro)
}

func (s *Service) definition(entityName string) (Definition, error) {
	definition, ok := s.definitions[entityName]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownDefinition, entityName)
	}
	return definition, nil
}

// Save persists entity locally when it is local and remotely otherwise.
// Identity fields of the stored result are copied back into entity.
func (s *Service) Save(ctx context.Context, entity entities.Entity) (entities.Entity, error) {
	if entity == nil {
		return nil, errMissingEntityArg
	}
	if entities.IsLocal(entity) {
		return s.SaveLocally(ctx, entity)
	}
	definition, err := s.definition(entity.EntityName())
	if err != nil {
		return nil, err
	}
	s.fillRecorder(entity)

	patch := remote.PatchReplace
	if _, ok := entities.IDOf(entity); !ok {
		patch = remote.PatchInsert
	}
	saved, err := s.saveRemote(ctx, definition, entity, patch, apperr.SaveEntityError)
	if err != nil {
		s.logError(opSave, "remote_save_failed", err, zap.String("entity_name", entity.EntityName()))
		return nil, err
	}
	copyIdentity(entity, saved)

	if definition.Snapshot != nil {
		if _, err := s.local.Save(ctx, definition.Snapshot(saved)); err != nil {
			s.logError(opSave, "snapshot_save_failed", err, zap.String("entity_name", entity.EntityName()))
			return nil, apperr.Wrap(apperr.SaveEntityError, err)
		}
	}
	return saved, nil
}

// SaveLocally stores entity on the device. A missing id is taken from the
// negative sequence of the type and a missing status defaults to DIRTY.
func (s *Service) SaveLocally(ctx context.Context, entity entities.Entity) (entities.Entity, error) {
	if entity == nil {
		return nil, errMissingEntityArg
	}
	identity := entity.Ident()
	if identity.ID != nil && *identity.ID >= 0 {
		return nil, fmt.Errorf("%w: %s#%d", ErrNotLocalEntity, entity.EntityName(), *identity.ID)
	}
	s.fillRecorder(entity)

	if identity.ID == nil {
		id, err := s.local.NextValue(ctx, entity)
		if err != nil {
			s.logError(opSaveLocally, "sequence_failed", err, zap.String("entity_name", entity.EntityName()))
			return nil, apperr.Wrap(apperr.SaveEntityError, err)
		}
		identity.ID = entities.Int64(id)
	}
	if identity.SynchronizationStatus == "" {
		identity.SynchronizationStatus = entities.StatusDirty
	}
	identity.UpdateDate = entities.Time(s.clock().UTC())
	if root, ok := entity.(entities.RootEntity); ok && root.Root().CreationDate == nil {
		root.Root().CreationDate = identity.UpdateDate
	}
	if err := s.assignChildIDs(ctx, entity); err != nil {
		return nil, apperr.Wrap(apperr.SaveEntityError, err)
	}

	saved, err := s.local.Save(ctx, entity)
	if err != nil {
		s.logError(opSaveLocally, "local_save_failed", err, zap.String("entity_name", entity.EntityName()))
		return nil, apperr.Wrap(apperr.SaveEntityError, err)
	}
	if definition, ok := s.definitions[entity.EntityName()]; ok && definition.Snapshot != nil {
		if _, err := s.local.Save(ctx, definition.Snapshot(saved)); err != nil {
			s.logError(opSaveLocally, "snapshot_save_failed", err, zap.String("entity_name", entity.EntityName()))
			return nil, apperr.Wrap(apperr.SaveEntityError, err)
		}
	}
	return saved, nil
}

// assignChildIDs gives embedded operations of a local trip their own
// negative ids and rank orders.
func (s *Service) assignChildIDs(ctx context.Context, entity entities.Entity) error {
	trip, ok := entity.(*entities.Trip)
	if !ok {
		return nil
	}
	operationType, _ := s.registry.Lookup(entities.OperationEntityName)
	for index, operation := range trip.Operations {
		if operation.ID == nil {
			id, err := s.local.NextValue(ctx, operation)
			if err != nil {
				return err
			}
			operation.ID = entities.Int64(id)
		}
		operation.TripID = trip.ID
		if operationType.HasRankOrder && operation.RankOrder == 0 {
			operation.RankOrder = index + 1
		}
	}
	return nil
}

// Delete removes entity through the gateway when remote. A local entity is
// first marked DELETED, then dropped; a row the store fails to drop stays as a
// hidden tombstone until the next purge.
func (s *Service) Delete(ctx context.Context, entity entities.Entity) error {
	if entity == nil {
		return errMissingEntityArg
	}
	id, ok := entities.IDOf(entity)
	if !ok {
		return nil
	}
	definition, err := s.definition(entity.EntityName())
	if err != nil {
		return err
	}
	if entities.IsLocal(entity) {
		status := entity.Ident().SynchronizationStatus
		if !lifecycle.CanStatus(status, lifecycle.EventDelete) {
			return fmt.Errorf("%w: %s from %s", lifecycle.ErrInvalidStatusTransition, lifecycle.EventDelete, status)
		}
		if err := s.local.MarkDeleted(ctx, entity.EntityName(), []int64{id}); err != nil {
			s.logError(opDelete, "local_delete_failed", err, zap.String("entity_name", entity.EntityName()), zap.Int64("entity_id", id))
			return apperr.Wrap(apperr.DeleteEntityError, err)
		}
		if err := s.local.DeleteByID(ctx, entity.EntityName(), id); err != nil {
			s.logger.Warn("local row kept as tombstone", zap.String("entity_name", entity.EntityName()), zap.Int64("entity_id", id), zap.Error(err))
		}
	} else {
		_, err := s.gateway.Mutate(ctx, remote.MutationPlan{
			Operation:    api.OperationDelete,
			EntityName:   entity.EntityName(),
			IDs:          []int64{id},
			CachePatches: []remote.CachePatch{{Kind: remote.PatchRemove, QueryName: definition.ListQuery}},
			ErrorCode:    apperr.DeleteEntityError,
		})
		if err != nil {
			s.logError(opDelete, "remote_delete_failed", err, zap.String("entity_name", entity.EntityName()), zap.Int64("entity_id", id))
			return err
		}
	}
	if definition.SnapshotEntityName != "" {
		if err := s.local.DeleteByID(ctx, definition.SnapshotEntityName, id); err != nil {
			s.logger.Warn("snapshot delete failed", zap.String("entity_name", entity.EntityName()), zap.Int64("entity_id", id), zap.Error(err))
		}
	}
	return nil
}

// ToggleReadyToSync flips a local entity between DIRTY and READY_TO_SYNC and
// saves it locally.
func (s *Service) ToggleReadyToSync(ctx context.Context, entity entities.Entity) (entities.Entity, error) {
	if !entities.IsLocal(entity) {
		return nil, ErrNotLocalEntity
	}
	event := lifecycle.EventReady
	if entity.Ident().SynchronizationStatus == entities.StatusReadyToSync {
		event = lifecycle.EventEdit
	}
	next, err := lifecycle.NextStatus(ctx, entity.Ident().SynchronizationStatus, event)
	if err != nil {
		s.logError(opToggleReadiness, "invalid_transition", err, zap.String("entity_name", entity.EntityName()))
		return nil, err
	}
	entity.Ident().SynchronizationStatus = next
	return s.SaveLocally(ctx, entity)
}

// Synchronize promotes one local entity to the remote store. The returned
// entity carries the remote id; dependents are rewritten to it and local
// copies are removed on a best-effort basis reported in SyncResult.
func (s *Service) Synchronize(ctx context.Context, entity entities.Entity) (SyncResult, error) {
	started := s.clock()
	result, err := s.synchronize(ctx, entity, true)
	if entity != nil {
		outcome := metrics.Outcome(err)
		if errors.Is(err, ErrNetworkOffline) {
			outcome = metrics.OutcomeOffline
		}
		metrics.RecordSynchronization(entity.EntityName(), outcome, s.clock().Sub(started))
	}
	return result, err
}

func (s *Service) synchronize(ctx context.Context, entity entities.Entity, stored bool) (SyncResult, error) {
	if entity == nil {
		return SyncResult{}, errMissingEntityArg
	}
	localID, ok := entities.IDOf(entity)
	if !ok || localID >= 0 {
		return SyncResult{}, ErrNotLocalEntity
	}
	if !s.network.IsOnline() {
		return SyncResult{}, ErrNetworkOffline
	}
	entityName := entity.EntityName()
	definition, err := s.definition(entityName)
	if err != nil {
		return SyncResult{}, err
	}
	if stored {
		if _, err := s.local.Load(ctx, entityName, localID); err != nil {
			if errors.Is(err, localstore.ErrEntityNotFound) {
				return SyncResult{}, fmt.Errorf("%w: %s#%d is no longer stored locally", ErrNotLocalEntity, entityName, localID)
			}
			return SyncResult{}, apperr.Wrap(apperr.SynchronizeEntityError, err)
		}
	}
	diagnostics := func() any { return entity.AsObject(entities.LocalMinifyOptions) }

	clone, err := entities.Clone(entity)
	if err != nil {
		return SyncResult{}, apperr.WithContext(apperr.SynchronizeEntityError, err, diagnostics)
	}

	if definition.PreviousVersion != nil {
		if previous := definition.PreviousVersion(clone); previous != nil && entities.IsLocal(previous) {
			promoted, err := s.synchronize(ctx, previous, false)
			if err != nil {
				return SyncResult{}, err
			}
			definition.SetPreviousVersion(clone, promoted.Committed)
		}
	}

	next, err := lifecycle.NextStatus(ctx, clone.Ident().SynchronizationStatus, lifecycle.EventSync)
	if err != nil {
		return SyncResult{}, apperr.WithContext(apperr.SynchronizeEntityError, err, diagnostics)
	}
	clone.Ident().SynchronizationStatus = next
	clone.Ident().ID = nil

	embedded, err := s.collectEmbedded(ctx, definition, clone, localID)
	if err != nil {
		return SyncResult{}, apperr.WithContext(apperr.SynchronizeEntityError, err, diagnostics)
	}
	if definition.ClearLocalKeys != nil {
		definition.ClearLocalKeys(clone)
	}

	saved, err := s.saveRemote(ctx, definition, clone, remote.PatchInsert, apperr.SynchronizeEntityError)
	if err != nil {
		s.logError(opSynchronize, "remote_save_failed", err, zap.String("entity_name", entityName), zap.Int64("local_id", localID))
		var typed *apperr.Error
		if errors.As(err, &typed) && typed.Context == nil {
			typed.Context = diagnostics
		}
		return SyncResult{}, err
	}
	remoteID, ok := entities.IDOf(saved)
	if !ok || remoteID < 0 {
		s.logError(opSynchronize, "invalid_remote_id", errInvalidRemoteID, zap.String("entity_name", entityName), zap.Int64("local_id", localID))
		return SyncResult{}, apperr.WithContext(apperr.SynchronizeEntityError, errInvalidRemoteID, diagnostics)
	}
	saved.Ident().SynchronizationStatus = entities.StatusSync

	var cleanupErrs []error
	if definition.Snapshot != nil {
		if _, err := s.local.Save(ctx, definition.Snapshot(saved)); err != nil {
			s.logCleanup("snapshot_save_failed", err, entityName, localID)
			cleanupErrs = append(cleanupErrs, err)
		}
	}

	if err := s.RewriteDependents(ctx, entityName, localID, remoteID); err != nil {
		cleanupErrs = append(cleanupErrs, err)
	}

	if definition.SnapshotEntityName != "" {
		if err := s.local.DeleteByID(ctx, definition.SnapshotEntityName, localID); err != nil {
			s.logCleanup("snapshot_delete_failed", err, entityName, localID)
			cleanupErrs = append(cleanupErrs, err)
		}
	}
	for childName, ids := range embedded {
		if err := s.local.DeleteMany(ctx, childName, ids); err != nil {
			s.logCleanup("embedded_delete_failed", err, entityName, localID)
			cleanupErrs = append(cleanupErrs, err)
		}
	}
	if stored {
		if err := s.local.DeleteByID(ctx, entityName, localID); err != nil {
			s.logCleanup("entity_delete_failed", err, entityName, localID)
			cleanupErrs = append(cleanupErrs, err)
		}
	}

	result := SyncResult{Committed: saved}
	if len(cleanupErrs) > 0 {
		metrics.RecordCleanupFailure(entityName)
		result.LocalCleanup = apperr.New(apperr.SynchronizeEntitiesWarn, errors.Join(cleanupErrs...))
	}
	s.logger.Info("entity synchronized",
		zap.String("entity_name", entityName),
		zap.Int64("local_id", localID),
		zap.Int64("remote_id", remoteID))
	return result, nil
}

// collectEmbedded loads local children that travel inside the parent payload
// and returns their ids by entity name for cleanup.
func (s *Service) collectEmbedded(ctx context.Context, definition Definition, parent entities.Entity, localID int64) (map[string][]int64, error) {
	collected := make(map[string][]int64)
	for _, dependency := range s.registry.DependentsOf(parent.EntityName()) {
		if !dependency.Embedded {
			continue
		}
		page, err := s.local.LoadAll(ctx, dependency.EntityName, localstore.LoadOptions{
			Filter: func(candidate entities.Entity) bool {
				return dependency.Matches(candidate, localID)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("synchro: load embedded %s: %w", dependency.EntityName, err)
		}
		if len(page.Data) == 0 {
			continue
		}
		children := make([]entities.Entity, 0, len(page.Data))
		for _, child := range page.Data {
			if id, ok := entities.IDOf(child); ok {
				collected[dependency.EntityName] = append(collected[dependency.EntityName], id)
			}
			children = append(children, child)
		}
		if definition.Embed != nil {
			definition.Embed(parent, children)
		}
	}
	return collected, nil
}

// RewriteDependents points every local dependent of parentName holding oldID
// at newID. Each dependent collection is rewritten independently; failures
// are logged and joined without stopping the others. Running it twice with the
// same ids leaves dependents unchanged the second time.
func (s *Service) RewriteDependents(ctx context.Context, parentName string, oldID, newID int64) error {
	var errs []error
	for _, dependency := range s.registry.DependentsOf(parentName) {
		if dependency.Embedded {
			continue
		}
		if err := s.rewriteDependency(ctx, dependency, oldID, newID); err != nil {
			s.logError(opRewrite, "dependency_failed", err,
				zap.String("entity_name", dependency.EntityName),
				zap.String("field", dependency.Field),
				zap.Int64("old_id", oldID),
				zap.Int64("new_id", newID))
			errs = append(errs, fmt.Errorf("rewrite %s.%s: %w", dependency.EntityName, dependency.Field, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) rewriteDependency(ctx context.Context, dependency entities.Dependency, oldID, newID int64) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("synchro: rewrite panicked: %v", recovered)
		}
	}()
	page, err := s.local.LoadAll(ctx, dependency.EntityName, localstore.LoadOptions{
		Filter: func(candidate entities.Entity) bool {
			return dependency.Matches(candidate, oldID)
		},
	})
	if err != nil {
		return err
	}
	if len(page.Data) == 0 {
		return nil
	}
	for _, dependent := range page.Data {
		dependency.SetForeignKey(dependent, entities.Int64(newID))
	}
	return s.local.SaveAll(ctx, dependency.EntityName, page.Data, localstore.SaveAllOptions{})
}

// SynchronizeAll promotes every promotable local entity of entityName, one
// after the other. Unless the definition says otherwise, only READY_TO_SYNC
// entities are promoted.
func (s *Service) SynchronizeAll(ctx context.Context, entityName string) ([]SyncOutcome, error) {
	if !s.network.IsOnline() {
		return nil, ErrNetworkOffline
	}
	promotable := entities.IsReadyToSync
	if definition, ok := s.definitions[entityName]; ok && definition.Promotable != nil {
		promotable = definition.Promotable
	}
	page, err := s.local.LoadAll(ctx, entityName, localstore.LoadOptions{
		SortBy:        "id",
		SortDirection: localstore.SortDesc,
		Filter:        promotable,
	})
	if err != nil {
		s.logError(opSynchronizeAll, "load_failed", err, zap.String("entity_name", entityName))
		return nil, apperr.Wrap(apperr.LoadEntitiesError, err)
	}
	outcomes := make([]SyncOutcome, 0, len(page.Data))
	for _, entity := range page.Data {
		if ctx.Err() != nil {
			return outcomes, ctx.Err()
		}
		localID, _ := entities.IDOf(entity)
		result, err := s.Synchronize(ctx, entity)
		outcomes = append(outcomes, SyncOutcome{LocalID: localID, Result: result, Err: err})
	}
	return outcomes, nil
}

// HasLocalData reports whether any local entity of entityName remains.
func (s *Service) HasLocalData(ctx context.Context, entityName string) (bool, error) {
	page, err := s.local.LoadAll(ctx, entityName, localstore.LoadOptions{Size: 1, Filter: entities.IsLocal})
	if err != nil {
		return false, apperr.Wrap(apperr.LoadEntitiesError, err)
	}
	return page.Count() > 0, nil
}

func (s *Service) saveRemote(ctx context.Context, definition Definition, entity entities.Entity, patch remote.PatchKind, code int) (entities.Entity, error) {
	if !s.network.IsOnline() {
		return nil, ErrNetworkOffline
	}
	plan := remote.MutationPlan{
		Operation:  api.OperationSave,
		EntityName: entity.EntityName(),
		Entities:   []entities.Entity{entity.AsObject(entities.MinifyOptions)},
		ErrorCode:  code,
	}
	if definition.ListQuery != "" {
		plan.CachePatches = []remote.CachePatch{{Kind: patch, QueryName: definition.ListQuery}}
	}
	result, err := s.gateway.Mutate(ctx, plan)
	if err != nil {
		return nil, err
	}
	saved := result.First()
	if saved == nil {
		return nil, apperr.New(code, errInvalidRemoteID)
	}
	return saved, nil
}

func (s *Service) fillRecorder(entity entities.Entity) {
	if s.accounts == nil {
		return
	}
	root, ok := entity.(entities.RootEntity)
	if !ok {
		return
	}
	if account, ok := s.accounts.Current(); ok {
		account.FillRecorder(root.Root())
	}
}

// copyIdentity copies server-assigned identity and dates back into target.
func copyIdentity(target, source entities.Entity) {
	target.Ident().ID = source.Ident().ID
	target.Ident().UpdateDate = source.Ident().UpdateDate
	target.Ident().SynchronizationStatus = source.Ident().SynchronizationStatus
	targetRoot, ok := target.(entities.RootEntity)
	if !ok {
		return
	}
	if sourceRoot, ok := source.(entities.RootEntity); ok {
		targetRoot.Root().CreationDate = sourceRoot.Root().CreationDate
	}
}

func (s *Service) logCleanup(reason string, err error, entityName string, localID int64) {
	s.logger.Warn("local cleanup failed after synchronization",
		zap.String("operation", opCleanup),
		zap.String("reason", reason),
		zap.String("entity_name", entityName),
		zap.Int64("local_id", localID),
		zap.Error(err))
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("synchronization error", attrs...)
}
