package records

import (
	"github.com/MarcoPoloResearchLab/fieldlog/internal/accounts"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/database"
	"gorm.io/gorm"
)

// Change operations recorded in the audit trail.
const (
	ChangeSave       = "save"
	ChangeDelete     = "delete"
	ChangeTerminate  = "terminate"
	ChangeValidate   = "validate"
	ChangeUnvalidate = "unvalidate"
	ChangeQualify    = "qualify"
	ChangeUnqualify  = "unqualify"
)

// Record is the authoritative stored form of one entity.
type Record struct {
	EntityName      string `gorm:"column:entity_name;primaryKey;size:64;not null;index:idx_records_program,priority:1"`
	EntityID        int64  `gorm:"column:entity_id;primaryKey;autoIncrement:false;not null"`
	ProgramLabel    string `gorm:"column:program_label;size:64;not null;default:'';index:idx_records_program,priority:2"`
	VesselID        *int64 `gorm:"column:vessel_id;index"`
	TripID          *int64 `gorm:"column:trip_id;index"`
	QualityState    string `gorm:"column:quality_state;size:32;not null;default:''"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
	UpdatedAtMillis int64  `gorm:"column:updated_at_ms;not null"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "records"
}

// EntityChange is one append-only audit entry.
type EntityChange struct {
	ChangeID        string `gorm:"column:change_id;primaryKey;size:64;not null"`
	EntityName      string `gorm:"column:entity_name;size:64;not null;index:idx_entity_changes_entity,priority:1"`
	EntityID        int64  `gorm:"column:entity_id;not null;index:idx_entity_changes_entity,priority:2"`
	Operation       string `gorm:"column:op;size:32;not null"`
	PersonID        int64  `gorm:"column:person_id;not null"`
	AppliedAtMillis int64  `gorm:"column:applied_at_ms;not null"`
	PreviousJSON    string `gorm:"column:previous_json;type:text;not null;default:''"`
	PayloadJSON     string `gorm:"column:payload_json;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (EntityChange) TableName() string {
	return "entity_changes"
}

// IDSequence hands out positive ids per entity type.
type IDSequence struct {
	EntityName string `gorm:"column:entity_name;primaryKey;size:64;not null"`
	LastValue  int64  `gorm:"column:last_value;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (IDSequence) TableName() string {
	return "id_sequences"
}

const migrationDropOrphanChanges = "2026-10-02_drop_orphan_entity_changes"

// Schema is the server database layout, persons and program rights included.
func Schema() database.Schema {
	models := []any{&Record{}, &EntityChange{}, &IDSequence{}}
	models = append(models, accounts.Models()...)
	return database.Schema{
		Name:   "remote",
		Models: models,
		Migrations: []database.Migration{
			{Name: migrationDropOrphanChanges, Apply: dropOrphanChanges},
		},
	}
}

// dropOrphanChanges removes audit entries written without a change id.
func dropOrphanChanges(db *gorm.DB) error {
	return db.Where("change_id = ''").Delete(&EntityChange{}).Error
}
