// Package records is the authoritative store behind the HTTP API: entities
// are persisted last-writer-wins, every write is audited and quality
// transitions are checked against the dates already stored.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/api"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/lifecycle"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnknownEntity indicates an entity name with no registered type.
	ErrUnknownEntity = errors.New("records: unknown entity type")
	// ErrNotFound indicates that no stored entity has the requested id.
	ErrNotFound = errors.New("records: entity not found")
	// ErrForbidden indicates that the account may not write the entity.
	ErrForbidden = errors.New("records: write not allowed")
	// ErrInvalidInput covers malformed payloads, local ids and rejected transitions.
	ErrInvalidInput = errors.New("records: invalid input")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a stable "operation.reason" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "records.service.new"
	opQuery      = "records.query"
	opSave       = "records.save"
	opDelete     = "records.delete"
	opTransition = "records.transition"
	opHistory    = "records.history"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues audit change identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Database   *gorm.DB
	Registry   *entities.Registry
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service reads and writes authoritative entities.
type Service struct {
	db         *gorm.DB
	registry   *entities.Registry
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates cfg and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = entities.DefaultRegistry()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		registry:   registry,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Decode turns a raw payload into an entity of entityName.
func (s *Service) Decode(entityName string, raw []byte) (entities.Entity, error) {
	if _, ok := s.registry.Lookup(entityName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, entityName)
	}
	entity, err := s.registry.Decode(entityName, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return entity, nil
}

// Query returns one page of entityName matching request.
func (s *Service) Query(ctx context.Context, entityName string, request api.QueryRequest) (entities.Page, error) {
	if _, ok := s.registry.Lookup(entityName); !ok {
		return entities.Page{}, newServiceError(opQuery, "unknown_entity", fmt.Errorf("%w: %s", ErrUnknownEntity, entityName))
	}
	order, err := orderClause(request.SortBy, request.SortDirection)
	if err != nil {
		return entities.Page{}, newServiceError(opQuery, "invalid_sort", err)
	}

	query := s.db.WithContext(ctx).Where("entity_name = ?", entityName)
	filter := request.Filter
	if filter.ProgramLabel != "" {
		query = query.Where("program_label = ?", filter.ProgramLabel)
	}
	if len(filter.IncludedIDs) > 0 {
		query = query.Where("entity_id IN ?", filter.IncludedIDs)
	}
	if filter.VesselID != nil {
		query = query.Where("vessel_id = ?", *filter.VesselID)
	}
	if filter.TripID != nil {
		query = query.Where("trip_id = ?", *filter.TripID)
	}
	if len(filter.QualityStates) > 0 {
		query = query.Where("quality_state IN ?", filter.QualityStates)
	}

	var rows []Record
	if err := query.Order(order).Find(&rows).Error; err != nil {
		s.logError(opQuery, "select_failed", err, zap.String("entity_name", entityName))
		return entities.Page{}, newServiceError(opQuery, "select_failed", err)
	}

	matched := make([]entities.Entity, 0, len(rows))
	for _, row := range rows {
		entity, err := s.decodeRow(row)
		if err != nil {
			s.logError(opQuery, "decode_failed", err, zap.String("entity_name", entityName), zap.Int64("entity_id", row.EntityID))
			return entities.Page{}, newServiceError(opQuery, "decode_failed", err)
		}
		if filter.Matches(entity) {
			matched = append(matched, entity)
		}
	}
	total := len(matched)
	return entities.Page{Data: pageOf(matched, request.Offset, request.Size), Total: &total}, nil
}

// Save stores every entity, assigning ids to new ones and to their embedded
// children. The incoming version always wins; the previous one is audited.
func (s *Service) Save(ctx context.Context, account accounts.Account, entityName string, incoming []entities.Entity) ([]entities.Entity, error) {
	if _, ok := s.registry.Lookup(entityName); !ok {
		return nil, newServiceError(opSave, "unknown_entity", fmt.Errorf("%w: %s", ErrUnknownEntity, entityName))
	}
	stored := make([]entities.Entity, 0, len(incoming))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, entity := range incoming {
			if entity == nil || entity.EntityName() != entityName {
				return newServiceError(opSave, "entity_mismatch", fmt.Errorf("%w: expected %s", ErrInvalidInput, entityName))
			}
			if !canWrite(account, entity) {
				return newServiceError(opSave, "forbidden", ErrForbidden)
			}
			var previous *Record
			if id, ok := entities.IDOf(entity); ok {
				if id < 0 {
					return newServiceError(opSave, "local_id", fmt.Errorf("%w: local id %d", ErrInvalidInput, id))
				}
				existing, err := s.loadRecord(tx, entityName, id)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return newServiceError(opSave, "select_failed", err)
				}
				previous = existing
			} else {
				id, err := s.nextID(tx, entityName)
				if err != nil {
					return newServiceError(opSave, "sequence_failed", err)
				}
				entity.Ident().ID = entities.Int64(id)
			}
			if err := s.assignChildIDs(tx, entity); err != nil {
				return newServiceError(opSave, "sequence_failed", err)
			}
			if err := s.write(tx, account, entity, previous, ChangeSave); err != nil {
				return newServiceError(opSave, "write_failed", err)
			}
			stored = append(stored, entity)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opSave, "transaction_failed", txErr, zap.String("entity_name", entityName))
		return nil, txErr
	}
	return stored, nil
}

// Delete removes the entities with ids and returns their last stored version.
func (s *Service) Delete(ctx context.Context, account accounts.Account, entityName string, ids []int64) ([]entities.Entity, error) {
	if _, ok := s.registry.Lookup(entityName); !ok {
		return nil, newServiceError(opDelete, "unknown_entity", fmt.Errorf("%w: %s", ErrUnknownEntity, entityName))
	}
	deleted := make([]entities.Entity, 0, len(ids))
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range ids {
			row, err := s.loadRecord(tx, entityName, id)
			if err != nil {
				return newServiceError(opDelete, "select_failed", err)
			}
			entity, err := s.decodeRow(*row)
			if err != nil {
				return newServiceError(opDelete, "decode_failed", err)
			}
			if !canWrite(account, entity) {
				return newServiceError(opDelete, "forbidden", ErrForbidden)
			}
			if err := tx.Where("entity_name = ? AND entity_id = ?", entityName, id).Delete(&Record{}).Error; err != nil {
				return newServiceError(opDelete, "delete_failed", err)
			}
			if err := s.audit(tx, account, entityName, id, ChangeDelete, row.PayloadJSON, ""); err != nil {
				return newServiceError(opDelete, "audit_failed", err)
			}
			deleted = append(deleted, entity)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opDelete, "transaction_failed", txErr, zap.String("entity_name", entityName))
		return nil, txErr
	}
	return deleted, nil
}

// Transition applies a quality operation (terminate, validate, unvalidate,
// qualify, unqualify) to a stored root entity. Terminate also stores the
// incoming content; the other operations only touch the quality dates.
func (s *Service) Transition(ctx context.Context, account accounts.Account, operation string, incoming entities.Entity, qualityFlagID *int) (entities.Entity, error) {
	event, ok := transitionEvents[operation]
	if !ok {
		return nil, newServiceError(opTransition, "unknown_operation", fmt.Errorf("%w: operation %s", ErrInvalidInput, operation))
	}
	if _, isRoot := incoming.(entities.RootEntity); !isRoot {
		return nil, newServiceError(opTransition, "not_root", fmt.Errorf("%w: %T has no quality lifecycle", ErrInvalidInput, incoming))
	}
	id, ok := entities.IDOf(incoming)
	if !ok || id < 0 {
		return nil, newServiceError(opTransition, "missing_id", fmt.Errorf("%w: a stored id is required", ErrInvalidInput))
	}
	if operation != ChangeTerminate && !account.IsSupervisor() {
		return nil, newServiceError(opTransition, "forbidden", ErrForbidden)
	}
	if operation == ChangeQualify && qualityFlagID == nil {
		return nil, newServiceError(opTransition, "missing_quality_flag", fmt.Errorf("%w: quality flag is required", ErrInvalidInput))
	}

	entityName := incoming.EntityName()
	var result entities.Entity
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := s.loadRecord(tx, entityName, id)
		if err != nil {
			return newServiceError(opTransition, "select_failed", err)
		}
		stored, err := s.decodeRow(*row)
		if err != nil {
			return newServiceError(opTransition, "decode_failed", err)
		}
		if !canWrite(account, stored) {
			return newServiceError(opTransition, "forbidden", ErrForbidden)
		}

		target := stored
		if operation == ChangeTerminate {
			if !canWrite(account, incoming) {
				return newServiceError(opTransition, "forbidden", ErrForbidden)
			}
			target = incoming
			// Quality dates are owned by the server.
			copyQualityDates(target.(entities.RootEntity).Root(), stored.(entities.RootEntity).Root())
		}
		root := target.(entities.RootEntity).Root()
		if _, err := lifecycle.NextQuality(ctx, root, event); err != nil {
			return newServiceError(opTransition, "invalid_transition", fmt.Errorf("%w: %v", ErrInvalidInput, err))
		}
		lifecycle.ApplyQuality(root, event, s.clock().UTC(), qualityFlagID)
		if err := s.write(tx, account, target, row, operation); err != nil {
			return newServiceError(opTransition, "write_failed", err)
		}
		result = target
		return nil
	})
	if txErr != nil {
		s.logError(opTransition, "transaction_failed", txErr,
			zap.String("entity_name", entityName),
			zap.String("quality_operation", operation),
			zap.Int64("entity_id", id))
		return nil, txErr
	}
	return result, nil
}

// History lists the audit trail of one entity, oldest first.
func (s *Service) History(ctx context.Context, entityName string, id int64) ([]EntityChange, error) {
	var changes []EntityChange
	if err := s.db.WithContext(ctx).
		Where("entity_name = ? AND entity_id = ?", entityName, id).
		Order("applied_at_ms ASC").
		Order("change_id ASC").
		Find(&changes).Error; err != nil {
		s.logError(opHistory, "select_failed", err, zap.String("entity_name", entityName), zap.Int64("entity_id", id))
		return nil, newServiceError(opHistory, "select_failed", err)
	}
	return changes, nil
}

var transitionEvents = map[string]string{
	ChangeTerminate:  lifecycle.EventControl,
	ChangeValidate:   lifecycle.EventValidate,
	ChangeUnvalidate: lifecycle.EventUnvalidate,
	ChangeQualify:    lifecycle.EventQualify,
	ChangeUnqualify:  lifecycle.EventUnqualify,
}

// write stamps the server dates on entity and upserts its row.
func (s *Service) write(tx *gorm.DB, account accounts.Account, entity entities.Entity, previous *Record, operation string) error {
	now := s.clock().UTC()
	identity := entity.Ident()
	identity.SynchronizationStatus = ""
	identity.UpdateDate = entities.Time(now)

	createdAt := now.UnixMilli()
	if previous != nil {
		createdAt = previous.CreatedAtMillis
	}
	if root, ok := entity.(entities.RootEntity); ok {
		data := root.Root()
		if previous != nil {
			data.CreationDate = entities.Time(time.UnixMilli(previous.CreatedAtMillis).UTC())
		} else if data.CreationDate == nil {
			data.CreationDate = entities.Time(now)
		}
	}

	payload, err := entities.Marshal(entity)
	if err != nil {
		return fmt.Errorf("encode %s: %w", entity.EntityName(), err)
	}
	row := Record{
		EntityName:      entity.EntityName(),
		EntityID:        *identity.ID,
		ProgramLabel:    entities.ProgramLabelOf(entity),
		VesselID:        entities.VesselIDOf(entity),
		TripID:          entities.TripIDOf(entity),
		CreatedAtMillis: createdAt,
		UpdatedAtMillis: now.UnixMilli(),
		PayloadJSON:     string(payload),
	}
	if root, ok := entity.(entities.RootEntity); ok {
		row.QualityState = string(entities.QualityStateOf(root.Root()))
	}
	if err := tx.Save(&row).Error; err != nil {
		return err
	}
	previousJSON := ""
	if previous != nil {
		previousJSON = previous.PayloadJSON
	}
	return s.audit(tx, account, row.EntityName, row.EntityID, operation, previousJSON, row.PayloadJSON)
}

func (s *Service) audit(tx *gorm.DB, account accounts.Account, entityName string, id int64, operation, previousJSON, payloadJSON string) error {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		return fmt.Errorf("change id: %w", err)
	}
	var personID int64
	if account.Person.ID != nil {
		personID = *account.Person.ID
	}
	return tx.Create(&EntityChange{
		ChangeID:        changeID,
		EntityName:      entityName,
		EntityID:        id,
		Operation:       operation,
		PersonID:        personID,
		AppliedAtMillis: s.clock().UTC().UnixMilli(),
		PreviousJSON:    previousJSON,
		PayloadJSON:     payloadJSON,
	}).Error
}

func (s *Service) loadRecord(tx *gorm.DB, entityName string, id int64) (*Record, error) {
	var row Record
	err := tx.Where("entity_name = ? AND entity_id = ?", entityName, id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, entityName, id)
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Service) decodeRow(row Record) (entities.Entity, error) {
	return s.registry.Decode(row.EntityName, []byte(row.PayloadJSON))
}

func (s *Service) nextID(tx *gorm.DB, sequenceName string) (int64, error) {
	var sequence IDSequence
	err := tx.Where("entity_name = ?", sequenceName).Take(&sequence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sequence = IDSequence{EntityName: sequenceName}
	} else if err != nil {
		return 0, err
	}
	sequence.LastValue++
	if err := tx.Save(&sequence).Error; err != nil {
		return 0, err
	}
	return sequence.LastValue, nil
}

// assignChildIDs replaces missing or local ids of embedded children.
func (s *Service) assignChildIDs(tx *gorm.DB, entity entities.Entity) error {
	parentID := entity.Ident().ID
	switch typed := entity.(type) {
	case *entities.Trip:
		for _, operation := range typed.Operations {
			if operation == nil {
				continue
			}
			if operation.ID == nil || *operation.ID < 0 {
				id, err := s.nextID(tx, entities.OperationEntityName)
				if err != nil {
					return err
				}
				operation.ID = entities.Int64(id)
			}
			operation.TripID = entities.Int64(*parentID)
			operation.SynchronizationStatus = ""
		}
	case *entities.Vessel:
		if features := typed.Features; features != nil {
			if features.ID == nil || *features.ID < 0 {
				id, err := s.nextID(tx, "VesselFeatures")
				if err != nil {
					return err
				}
				features.ID = entities.Int64(id)
			}
			features.VesselID = entities.Int64(*parentID)
		}
		if registration := typed.Registration; registration != nil {
			if registration.ID == nil || *registration.ID < 0 {
				id, err := s.nextID(tx, "VesselRegistrationPeriod")
				if err != nil {
					return err
				}
				registration.ID = entities.Int64(id)
			}
			registration.VesselID = entities.Int64(*parentID)
		}
	}
	return nil
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
	s.logger.Error("records service error", attrs...)
}

// canWrite checks program rights for root entities; referential types are
// reserved to administrators.
func canWrite(account accounts.Account, entity entities.Entity) bool {
	root, ok := entity.(entities.RootEntity)
	if !ok {
		return account.IsAdmin()
	}
	program := root.Root().Program
	if program == nil || program.Label == "" {
		return true
	}
	return account.CanWriteProgram(program)
}

func copyQualityDates(target, source *entities.RootData) {
	target.ControlDate = source.ControlDate
	target.ValidationDate = source.ValidationDate
	target.QualificationDate = source.QualificationDate
	target.QualityFlagID = source.QualityFlagID
}

func pageOf(data []entities.Entity, offset, size int) []entities.Entity {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(data) {
		return []entities.Entity{}
	}
	end := len(data)
	if size > 0 && offset+size < end {
		end = offset + size
	}
	return data[offset:end]
}
