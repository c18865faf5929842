// Package localstore persists entities on the device, keyed by entity type and
// id, with negative id sequences and live queries.
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/stream"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrEntityNotFound indicates that no row exists for the requested key.
	ErrEntityNotFound = errors.New("localstore: entity not found")
	// ErrMissingID indicates that an entity was saved before receiving an id.
	ErrMissingID = errors.New("localstore: entity id is required")

	errMissingDatabase = errors.New("database handle is required")
	errMissingRegistry = errors.New("entity registry is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew  = "localstore.new"
	opLoad      = "localstore.load"
	opLoadAll   = "localstore.load_all"
	opSave      = "localstore.save"
	opSaveAll   = "localstore.save_all"
	opDelete    = "localstore.delete"
	opPurge     = "localstore.purge_deleted"
	opNextValue = "localstore.next_value"
)

// StoreError carries an "operation.reason" code for store failures.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the "operation.reason" code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// Change describes a write that live queries must react to.
type Change struct {
	EntityName string
	IDs        []int64
	Reset      bool
}

// StoreConfig wires the store dependencies.
type StoreConfig struct {
	Database *gorm.DB
	Registry *entities.Registry
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store is the gorm-backed local entity store.
type Store struct {
	db       *gorm.DB
	registry *entities.Registry
	clock    func() time.Time
	logger   *zap.Logger
	changes  *stream.Broker[Change]
}

// NewStore validates cfg and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.Registry == nil {
		return nil, newStoreError(opStoreNew, "missing_registry", errMissingRegistry)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:       cfg.Database,
		registry: cfg.Registry,
		clock:    clock,
		logger:   logger,
		changes:  stream.NewBroker[Change](),
	}, nil
}

// Load returns the entity stored under (entityName, id). Tombstones are not
// returned.
func (s *Store) Load(ctx context.Context, entityName string, id int64) (entities.Entity, error) {
	var row EntityRow
	err := s.db.WithContext(ctx).
		Where("entity_name = ? AND entity_id = ?", entityName, id).
		Where("synchronization_status <> ?", string(entities.StatusDeleted)).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newStoreError(opLoad, "not_found", fmt.Errorf("%w: %s#%d", ErrEntityNotFound, entityName, id))
	}
	if err != nil {
		s.logError(opLoad, "query_failed", err, zap.String("entity_name", entityName), zap.Int64("entity_id", id))
		return nil, newStoreError(opLoad, "query_failed", err)
	}
	entity, err := s.registry.Decode(entityName, []byte(row.PayloadJSON))
	if err != nil {
		s.logError(opLoad, "decode_failed", err, zap.String("entity_name", entityName), zap.Int64("entity_id", id))
		return nil, newStoreError(opLoad, "decode_failed", err)
	}
	return entity, nil
}

// LoadAll returns one page of the entities of entityName accepted by opts.Filter.
func (s *Store) LoadAll(ctx context.Context, entityName string, opts LoadOptions) (entities.Page, error) {
	var rows []EntityRow
	if err := s.db.WithContext(ctx).
		Where("entity_name = ?", entityName).
		Where("synchronization_status <> ?", string(entities.StatusDeleted)).
		Order("entity_id ASC").
		Find(&rows).Error; err != nil {
		s.logError(opLoadAll, "query_failed", err, zap.String("entity_name", entityName))
		return entities.Page{}, newStoreError(opLoadAll, "query_failed", err)
	}

	matched := make([]loadedRow, 0, len(rows))
	for _, row := range rows {
		entity, err := s.registry.Decode(entityName, []byte(row.PayloadJSON))
		if err != nil {
			s.logError(opLoadAll, "decode_failed", err, zap.String("entity_name", entityName), zap.Int64("entity_id", row.EntityID))
			return entities.Page{}, newStoreError(opLoadAll, "decode_failed", err)
		}
		if opts.Filter != nil && !opts.Filter(entity) {
			continue
		}
		matched = append(matched, loadedRow{row: row, entity: entity})
	}

	if err := sortRows(matched, opts.SortBy, opts.SortDirection); err != nil {
		return entities.Page{}, newStoreError(opLoadAll, "sort_failed", err)
	}
	return paginate(matched, opts.Offset, opts.Size), nil
}

// Save upserts entity; it must already carry an id.
func (s *Store) Save(ctx context.Context, entity entities.Entity) (entities.Entity, error) {
	if err := s.upsert(ctx, s.db, entity); err != nil {
		return nil, err
	}
	s.changes.Publish(entity.EntityName(), Change{EntityName: entity.EntityName(), IDs: []int64{*entity.Ident().ID}})
	return entity, nil
}

// SaveAll upserts items of entityName in one transaction; with opts.Reset the
// rows of that type are dropped first.
func (s *Store) SaveAll(ctx context.Context, entityName string, items []entities.Entity, opts SaveAllOptions) error {
	ids := make([]int64, 0, len(items))
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if opts.Reset {
			if err := tx.Where("entity_name = ?", entityName).Delete(&EntityRow{}).Error; err != nil {
				s.logError(opSaveAll, "reset_failed", err, zap.String("entity_name", entityName))
				return newStoreError(opSaveAll, "reset_failed", err)
			}
		}
		for _, item := range items {
			if item.EntityName() != entityName {
				return newStoreError(opSaveAll, "entity_name_mismatch",
					fmt.Errorf("expected %s, got %s", entityName, item.EntityName()))
			}
			if err := s.upsert(ctx, tx, item); err != nil {
				return err
			}
			ids = append(ids, *item.Ident().ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.changes.Publish(entityName, Change{EntityName: entityName, IDs: ids, Reset: opts.Reset})
	return nil
}

func (s *Store) upsert(ctx context.Context, db *gorm.DB, entity entities.Entity) error {
	if entity == nil {
		return newStoreError(opSave, "missing_entity", errors.New("entity is required"))
	}
	identity := entity.Ident()
	if identity.ID == nil {
		return newStoreError(opSave, "missing_id", fmt.Errorf("%w: %s", ErrMissingID, entity.EntityName()))
	}
	payload, err := entities.Marshal(entity)
	if err != nil {
		s.logError(opSave, "encode_failed", err, zap.String("entity_name", entity.EntityName()))
		return newStoreError(opSave, "encode_failed", err)
	}
	updatedAt := s.clock().UTC()
	if identity.UpdateDate != nil {
		updatedAt = identity.UpdateDate.UTC()
	}
	row := EntityRow{
		EntityName:            entity.EntityName(),
		EntityID:              *identity.ID,
		SynchronizationStatus: string(identity.SynchronizationStatus),
		UpdatedAtMillis:       updatedAt.UnixMilli(),
		PayloadJSON:           string(payload),
	}
	if err := db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		s.logError(opSave, "upsert_failed", err, zap.String("entity_name", row.EntityName), zap.Int64("entity_id", row.EntityID))
		return newStoreError(opSave, "upsert_failed", err)
	}
	return nil
}

// Delete removes entity from the store.
func (s *Store) Delete(ctx context.Context, entity entities.Entity) error {
	id, ok := entities.IDOf(entity)
	if !ok {
		return newStoreError(opDelete, "missing_id", ErrMissingID)
	}
	return s.DeleteMany(ctx, entity.EntityName(), []int64{id})
}

// DeleteByID removes the row keyed by (entityName, id).
func (s *Store) DeleteByID(ctx context.Context, entityName string, id int64) error {
	return s.DeleteMany(ctx, entityName, []int64{id})
}

// DeleteMany removes the listed ids of entityName. Missing ids are ignored.
func (s *Store) DeleteMany(ctx context.Context, entityName string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("entity_name = ? AND entity_id IN ?", entityName, ids).
		Delete(&EntityRow{}).Error; err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("entity_name", entityName), zap.Int64s("entity_ids", ids))
		return newStoreError(opDelete, "delete_failed", err)
	}
	s.changes.Publish(entityName, Change{EntityName: entityName, IDs: ids})
	return nil
}

// MarkDeleted turns the listed rows of entityName into DELETED tombstones.
// Tombstones are hidden from Load and LoadAll until PurgeDeleted drops them.
func (s *Store) MarkDeleted(ctx context.Context, entityName string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Model(&EntityRow{}).
		Where("entity_name = ? AND entity_id IN ?", entityName, ids).
		Updates(map[string]any{
			"synchronization_status": string(entities.StatusDeleted),
			"updated_at_ms":          s.clock().UTC().UnixMilli(),
		}).Error; err != nil {
		s.logError(opDelete, "mark_failed", err, zap.String("entity_name", entityName), zap.Int64s("entity_ids", ids))
		return newStoreError(opDelete, "mark_failed", err)
	}
	s.changes.Publish(entityName, Change{EntityName: entityName, IDs: ids})
	return nil
}

// PurgeDeleted drops every tombstone and returns how many rows went.
func (s *Store) PurgeDeleted(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("synchronization_status = ?", string(entities.StatusDeleted)).
		Delete(&EntityRow{})
	if result.Error != nil {
		s.logError(opPurge, "delete_failed", result.Error)
		return 0, newStoreError(opPurge, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// NextValue allocates the next negative id for entity's type.
func (s *Store) NextValue(ctx context.Context, entity entities.Entity) (int64, error) {
	values, err := s.NextValues(ctx, entity.EntityName(), 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// NextValues allocates count consecutive negative ids for entityName. The
// sequence starts below the smallest id already stored for that type.
func (s *Store) NextValues(ctx context.Context, entityName string, count int) ([]int64, error) {
	if count <= 0 {
		return nil, newStoreError(opNextValue, "invalid_count", fmt.Errorf("count must be positive, got %d", count))
	}
	values := make([]int64, 0, count)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sequence SequenceRow
		err := tx.Where("entity_name = ?", entityName).Take(&sequence).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			var lowest sql.NullInt64
			if err := tx.Model(&EntityRow{}).
				Where("entity_name = ?", entityName).
				Select("MIN(entity_id)").
				Row().Scan(&lowest); err != nil {
				return err
			}
			sequence = SequenceRow{EntityName: entityName}
			if lowest.Valid && lowest.Int64 < 0 {
				sequence.LastValue = lowest.Int64
			}
		} else if err != nil {
			return err
		}
		for i := 0; i < count; i++ {
			sequence.LastValue--
			values = append(values, sequence.LastValue)
		}
		return tx.Save(&sequence).Error
	})
	if err != nil {
		s.logError(opNextValue, "sequence_failed", err, zap.String("entity_name", entityName))
		return nil, newStoreError(opNextValue, "sequence_failed", err)
	}
	return values, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("local store error", attrs...)
}
