package accounts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidIdentity indicates the claims did not carry a usable person id.
var ErrInvalidIdentity = errors.New("accounts: invalid identity")

// ErrUnknownPerson is returned when a grant targets a missing person.
var ErrUnknownPerson = errors.New("accounts: unknown person")

// ServiceConfig describes the dependencies required for account resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service stores persons, departments and program rights.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

// PersonInput registers or updates a person.
type PersonInput struct {
	ID           int64
	Email        string
	FirstName    string
	LastName     string
	DepartmentID int64
	Profiles     []string
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("accounts: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, now: clock, logger: logger}, nil
}

// ResolveAccount returns the account for validated claims. Unknown persons
// are created from the claims; stored profiles and rights take precedence.
func (s *Service) ResolveAccount(ctx context.Context, claims auth.SessionClaims) (Account, error) {
	if claims.PersonID <= 0 {
		return Account{}, ErrInvalidIdentity
	}
	if cached, ok := s.cache.Load(claims.PersonID); ok {
		if account, ok := cached.(Account); ok {
			return account, nil
		}
	}

	db := s.db.WithContext(ctx)
	var person PersonRecord
	err := db.Where("id = ?", claims.PersonID).First(&person).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		fromClaims := FromClaims(claims)
		person = PersonRecord{
			ID:           claims.PersonID,
			Email:        fromClaims.Person.Email,
			FirstName:    fromClaims.Person.FirstName,
			LastName:     fromClaims.Person.LastName,
			DepartmentID: claims.DepartmentID,
			Profiles:     joinProfiles(claims.Roles),
			LastSeenAt:   s.now().UTC(),
		}
		if err := db.Create(&person).Error; err != nil {
			return Account{}, err
		}
		if err := s.grantAll(db, person.ID, claims.WritablePrograms); err != nil {
			return Account{}, err
		}
	} else if err != nil {
		return Account{}, err
	} else {
		if updateErr := db.Model(&PersonRecord{}).
			Where("id = ?", person.ID).
			Update("last_seen_at", s.now().UTC()).
			Error; updateErr != nil {
			s.logger.Warn("account last seen update failed", zap.Int64("person_id", person.ID), zap.Error(updateErr))
		}
	}

	account, err := s.load(db, person)
	if err != nil {
		return Account{}, err
	}
	s.cache.Store(claims.PersonID, account)
	return account, nil
}

// RegisterPerson inserts or updates a person and returns the stored account.
func (s *Service) RegisterPerson(ctx context.Context, input PersonInput) (Account, error) {
	if input.ID <= 0 {
		return Account{}, ErrInvalidIdentity
	}
	db := s.db.WithContext(ctx)
	person := PersonRecord{
		ID:           input.ID,
		Email:        normalize(input.Email),
		FirstName:    normalize(input.FirstName),
		LastName:     normalize(input.LastName),
		DepartmentID: input.DepartmentID,
		Profiles:     joinProfiles(input.Profiles),
		LastSeenAt:   s.now().UTC(),
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "first_name", "last_name", "department_id", "profiles", "updated_at"}),
	}).Create(&person).Error; err != nil {
		return Account{}, err
	}
	s.cache.Delete(input.ID)
	return s.load(db, person)
}

// RegisterDepartment inserts or updates a department.
func (s *Service) RegisterDepartment(ctx context.Context, department DepartmentRecord) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"label", "name"}),
	}).Create(&department).Error
}

// GrantProgram gives a person write access to a program.
func (s *Service) GrantProgram(ctx context.Context, personID int64, programLabel string) error {
	db := s.db.WithContext(ctx)
	var count int64
	if err := db.Model(&PersonRecord{}).Where("id = ?", personID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrUnknownPerson
	}
	if err := s.grantAll(db, personID, []string{programLabel}); err != nil {
		return err
	}
	s.cache.Delete(personID)
	return nil
}

func (s *Service) grantAll(db *gorm.DB, personID int64, labels []string) error {
	for _, label := range labels {
		label = normalize(label)
		if label == "" {
			continue
		}
		right := ProgramRight{PersonID: personID, ProgramLabel: label}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&right).Error; err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) load(db *gorm.DB, person PersonRecord) (Account, error) {
	var rights []ProgramRight
	if err := db.Where("person_id = ?", person.ID).Find(&rights).Error; err != nil {
		return Account{}, err
	}
	programs := make([]string, 0, len(rights))
	for _, right := range rights {
		programs = append(programs, right.ProgramLabel)
	}
	sort.Strings(programs)

	account := Account{
		Person: entities.Person{
			ID:        entities.Int64(person.ID),
			Email:     person.Email,
			FirstName: person.FirstName,
			LastName:  person.LastName,
		},
		Profiles:         splitProfiles(person.Profiles),
		WritablePrograms: programs,
	}
	if person.DepartmentID > 0 {
		department := &entities.Department{ID: entities.Int64(person.DepartmentID)}
		var record DepartmentRecord
		err := db.Where("id = ?", person.DepartmentID).First(&record).Error
		switch {
		case err == nil:
			department.Label = record.Label
			department.Name = record.Name
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return Account{}, err
		}
		account.Department = department
		account.Person.Department = department
	}
	account.Person.Profiles = account.Profiles
	return account, nil
}
