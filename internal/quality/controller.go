// Package quality drives the control, terminate, validate and qualify
// workflow of root entities.
package quality

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
	"github.com/MarcoPoloResearchLab/fieldlog/internal/metrics"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/remote"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var (
	// ErrNotSaved is returned when a workflow step targets an entity without id.
	ErrNotSaved = errors.New("quality: entity must be saved first")
	// ErrLocalEntity is returned when a remote-only step targets a local entity.
	ErrLocalEntity = errors.New("quality: entity must not be a local entity")
	// ErrNotControlled is returned when validating before control.
	ErrNotControlled = errors.New("quality: entity must be controlled first")
	// ErrAlreadyValidated is returned when validating twice.
	ErrAlreadyValidated = errors.New("quality: entity is already validated")
	// ErrNotValidated is returned when a step requires a validated entity.
	ErrNotValidated = errors.New("quality: entity must be validated first")
	// ErrNotSupported is returned when an entity type lacks the mutation.
	ErrNotSupported = errors.New("quality: operation not supported for entity type")
	// ErrNoRootEntity is returned for entities without quality metadata.
	ErrNoRootEntity = errors.New("quality: entity has no quality metadata")

	errMissingGateway = errors.New("remote gateway is required")
)

// LocalSaver persists local entities. Local terminate also requires it to
// declare the synchro capability.
type LocalSaver interface {
	SaveLocally(ctx context.Context, entity entities.Entity) (entities.Entity, error)
}

// AccountSource exposes the signed-in account.
type AccountSource interface {
	Current() (accounts.Account, bool)
}

// Definition declares the workflow of one entity type.
type Definition struct {
	EntityName string
	// Capabilities lists the optional mutations (Terminate, Qualify).
	Capabilities capability.Set
	// RefetchQueries are list queries refreshed after validate and unvalidate.
	RefetchQueries []string
	Rules          []Rule
}

// DefaultDefinitions covers the root types of the data model.
func DefaultDefinitions() []Definition {
	full := capability.NewSet(capability.Terminate, capability.Qualify)
	return []Definition{
		{EntityName: entities.VesselEntityName, Capabilities: capability.NewSet(capability.Qualify), RefetchQueries: []string{"Vessels"}, Rules: []Rule{VesselPeriodRule}},
		{EntityName: entities.TripEntityName, Capabilities: full, RefetchQueries: []string{"Trips"}, Rules: []Rule{TripDateRule}},
		{EntityName: entities.LandingEntityName, Capabilities: full, RefetchQueries: []string{"Landings"}},
	}
}

// ControllerConfig wires the controller.
type ControllerConfig struct {
	Gateway     remote.Gateway
	Local       LocalSaver
	Accounts    AccountSource
	Definitions []Definition
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Controller implements the quality workflow.
type Controller struct {
	gateway     remote.Gateway
	local       LocalSaver
	accounts    AccountSource
	definitions map[string]Definition
	validate    *validator.Validate
	clock       func() time.Time
	logger      *zap.Logger
}

// NewController validates cfg and constructs a Controller.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Gateway == nil {
		return nil, errMissingGateway
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
	return &Controller{
		gateway:     cfg.Gateway,
		local:       cfg.Local,
		accounts:    cfg.Accounts,
		definitions: byName,
		validate:    newValidator(),
		clock:       clock,
		logger:      logger,
	}, nil
}

// Capabilities declares the quality capability and the optional mutations
// supported by at least one entity type.
func (c *Controller) Capabilities() capability.Set {
	set := capability.NewSet(capability.Quality)
	for _, definition := range c.definitions {
		if definition.Capabilities.Has(capability.Terminate) {
			set = set.With(capability.Terminate)
		}
		if definition.Capabilities.Has(capability.Qualify) {
			set = set.With(capability.Qualify)
		}
	}
	return set
}

// Control runs the domain rules of entity. It never changes quality dates;
// failures are returned as an *apperr.Error wrapping a *ControlError.
func (c *Controller) Control(ctx context.Context, entity entities.Entity) error {
	if _, ok := entity.(entities.RootEntity); !ok {
		return ErrNoRootEntity
	}
	var details []FieldError
	if err := c.validate.StructCtx(ctx, entity); err != nil {
		details = append(details, fieldErrors(err)...)
	}
	if definition, ok := c.definitions[entity.EntityName()]; ok {
		for _, rule := range definition.Rules {
			details = append(details, rule(entity)...)
		}
	}
	if len(details) == 0 {
		return nil
	}
	controlErr := &ControlError{Message: controlMessage, Details: details}
	metrics.RecordQualityOperation(entity.EntityName(), lifecycle.EventControl, metrics.OutcomeFailure)
	return apperr.WithContext(apperr.ControlEntityError, controlErr, func() any { return controlErr.Details })
}

// Terminate controls entity and marks it controlled. Local entities are
// stamped and set READY_TO_SYNC on the device; remote entities go through
// the terminate mutation.
func (c *Controller) Terminate(ctx context.Context, entity entities.Entity) error {
	root, definition, err := c.prepare(entity, capability.Terminate)
	if err != nil {
		return err
	}
	if _, ok := entities.IDOf(entity); !ok {
		return ErrNotSaved
	}
	if _, err := lifecycle.NextQuality(ctx, root, lifecycle.EventControl); err != nil {
		return err
	}
	if err := c.Control(ctx, entity); err != nil {
		return err
	}

	if entities.IsLocal(entity) {
		return c.terminateLocally(ctx, entity, root)
	}
	return c.run(ctx, operationSpec{
		operation: api.OperationTerminate,
		code:      apperr.TerminateEntityError,
		copyBack:  copyControlDates,
	}, definition, entity)
}

func (c *Controller) terminateLocally(ctx context.Context, entity entities.Entity, root *entities.RootData) error {
	if !capability.HasCapability(c.local, capability.Synchro) {
		return fmt.Errorf("%w: local terminate needs a synchro service", ErrNotSupported)
	}
	next, err := lifecycle.NextStatus(ctx, root.SynchronizationStatus, lifecycle.EventReady)
	if err != nil {
		return err
	}
	c.fillRecorder(root)
	lifecycle.ApplyQuality(root, lifecycle.EventControl, c.clock().UTC(), nil)
	root.SynchronizationStatus = next
	_, err = c.local.SaveLocally(ctx, entity)
	metrics.RecordQualityOperation(entity.EntityName(), api.OperationTerminate, metrics.Outcome(err))
	if err != nil {
		c.logError(api.OperationTerminate, "local_save_failed", err, entity)
		return apperr.Wrap(apperr.TerminateEntityError, err)
	}
	return nil
}

// Validate marks a controlled remote entity as validated.
func (c *Controller) Validate(ctx context.Context, entity entities.Entity) error {
	root, definition, err := c.prepareRemote(entity, "")
	if err != nil {
		return err
	}
	if root.ControlDate == nil {
		return ErrNotControlled
	}
	if root.ValidationDate != nil {
		return ErrAlreadyValidated
	}
	if _, err := lifecycle.NextQuality(ctx, root, lifecycle.EventValidate); err != nil {
		return err
	}
	return c.run(ctx, operationSpec{
		operation: api.OperationValidate,
		code:      apperr.ValidateEntityError,
		copyBack:  copyControlDates,
		refetch:   true,
	}, definition, entity)
}

// Unvalidate reverts a validation.
func (c *Controller) Unvalidate(ctx context.Context, entity entities.Entity) error {
	root, definition, err := c.prepareRemote(entity, "")
	if err != nil {
		return err
	}
	if root.ValidationDate == nil {
		return ErrNotValidated
	}
	if _, err := lifecycle.NextQuality(ctx, root, lifecycle.EventUnvalidate); err != nil {
		return err
	}
	return c.run(ctx, operationSpec{
		operation: api.OperationUnvalidate,
		code:      apperr.UnvalidateEntityError,
		copyBack: func(target, source *entities.RootData) {
			copyControlDates(target, source)
			copyQualification(target, source)
		},
		refetch: true,
	}, definition, entity)
}

// Qualify attaches qualityFlagID to a validated entity. Qualification
// comments are left as they are.
func (c *Controller) Qualify(ctx context.Context, entity entities.Entity, qualityFlagID int) error {
	root, definition, err := c.prepareRemote(entity, capability.Qualify)
	if err != nil {
		return err
	}
	if root.ValidationDate == nil {
		return ErrNotValidated
	}
	if _, err := lifecycle.NextQuality(ctx, root, lifecycle.EventQualify); err != nil {
		return err
	}
	return c.run(ctx, operationSpec{
		operation:     api.OperationQualify,
		code:          apperr.QualifyEntityError,
		qualityFlagID: entities.Int(qualityFlagID),
		copyBack:      copyQualification,
	}, definition, entity)
}

// Unqualify resets the qualification of a validated entity.
func (c *Controller) Unqualify(ctx context.Context, entity entities.Entity) error {
	root, definition, err := c.prepareRemote(entity, capability.Qualify)
	if err != nil {
		return err
	}
	if root.ValidationDate == nil {
		return ErrNotValidated
	}
	if _, err := lifecycle.NextQuality(ctx, root, lifecycle.EventUnqualify); err != nil {
		return err
	}
	return c.run(ctx, operationSpec{
		operation: api.OperationUnqualify,
		code:      apperr.UnqualifyEntityError,
		copyBack:  copyQualification,
	}, definition, entity)
}

// CanUserWrite reports whether account may edit entity. Local entities are
// always writable on their device.
func (c *Controller) CanUserWrite(entity entities.Entity, account accounts.Account) bool {
	if entity == nil {
		return false
	}
	if entities.IsLocal(entity) {
		return true
	}
	if account.IsAdmin() {
		return true
	}
	root, ok := entity.(entities.RootEntity)
	if !ok {
		return false
	}
	data := root.Root()
	return account.CanWriteProgram(data.Program) && (data.ValidationDate == nil || account.IsSupervisor())
}

type operationSpec struct {
	operation     string
	code          int
	qualityFlagID *int
	copyBack      func(target, source *entities.RootData)
	refetch       bool
}

// run fills recorder defaults, sends the minified entity in one mutation and
// copies identity and dates of the response back into entity.
func (c *Controller) run(ctx context.Context, spec operationSpec, definition Definition, entity entities.Entity) error {
	root := entity.(entities.RootEntity).Root()
	c.fillRecorder(root)
	plan := remote.MutationPlan{
		Operation:     spec.operation,
		EntityName:    entity.EntityName(),
		Entities:      []entities.Entity{entity.AsObject(entities.MinifyOptions)},
		QualityFlagID: spec.qualityFlagID,
		ErrorCode:     spec.code,
	}
	if spec.refetch {
		plan.RefetchQueries = definition.RefetchQueries
		plan.AwaitRefetchQueries = true
	}

	result, err := c.gateway.Mutate(ctx, plan)
	if err == nil && result.First() == nil {
		err = apperr.New(spec.code, fmt.Errorf("quality: %s returned no entity", spec.operation))
	}
	metrics.RecordQualityOperation(entity.EntityName(), spec.operation, metrics.Outcome(err))
	if err != nil {
		c.logError(spec.operation, "mutation_failed", err, entity)
		return apperr.Wrap(spec.code, err)
	}

	returned, ok := result.First().(entities.RootEntity)
	if !ok {
		return apperr.New(spec.code, ErrNoRootEntity)
	}
	source := returned.Root()
	root.ID = source.ID
	root.UpdateDate = source.UpdateDate
	spec.copyBack(root, source)
	return nil
}

func copyControlDates(target, source *entities.RootData) {
	target.ControlDate = source.ControlDate
	target.ValidationDate = source.ValidationDate
}

func copyQualification(target, source *entities.RootData) {
	target.QualificationDate = source.QualificationDate
	target.QualityFlagID = source.QualityFlagID
}

func (c *Controller) prepare(entity entities.Entity, required capability.Tag) (*entities.RootData, Definition, error) {
	root, ok := entity.(entities.RootEntity)
	if !ok || entity == nil {
		return nil, Definition{}, ErrNoRootEntity
	}
	definition, ok := c.definitions[entity.EntityName()]
	if !ok {
		return nil, Definition{}, fmt.Errorf("%w: %s", ErrNotSupported, entity.EntityName())
	}
	if required != "" && !definition.Capabilities.Has(required) {
		return nil, Definition{}, fmt.Errorf("%w: %s on %s", ErrNotSupported, required, entity.EntityName())
	}
	return root.Root(), definition, nil
}

func (c *Controller) prepareRemote(entity entities.Entity, required capability.Tag) (*entities.RootData, Definition, error) {
	root, definition, err := c.prepare(entity, required)
	if err != nil {
		return nil, Definition{}, err
	}
	if root.ID == nil {
		return nil, Definition{}, ErrNotSaved
	}
	if entities.IsLocal(entity) {
		return nil, Definition{}, ErrLocalEntity
	}
	return root, definition, nil
}

func (c *Controller) fillRecorder(root *entities.RootData) {
	if c.accounts == nil {
		return
	}
	if account, ok := c.accounts.Current(); ok {
		account.FillRecorder(root)
	}
}

func (c *Controller) logError(operation, reason string, err error, entity entities.Entity) {
	fields := []zap.Field{
		zap.String("operation", "quality."+operation),
		zap.String("reason", reason),
		zap.String("entity_name", entity.EntityName()),
		zap.Error(err),
	}
	if id, ok := entities.IDOf(entity); ok {
		fields = append(fields, zap.Int64("entity_id", id))
	}
	c.logger.Error("quality workflow error", fields...)
}
