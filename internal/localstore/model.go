package localstore

import "github.com/MarcoPoloResearchLab/fieldlog/internal/database"

// EntityRow is the persisted form of one local entity.
type EntityRow struct {
	EntityName            string `gorm:"column:entity_name;primaryKey;size:64;not null;index:idx_local_entities_status,priority:1"`
	EntityID              int64  `gorm:"column:entity_id;primaryKey;autoIncrement:false;not null"`
	SynchronizationStatus string `gorm:"column:synchronization_status;size:32;not null;default:'';index:idx_local_entities_status,priority:2"`
	UpdatedAtMillis       int64  `gorm:"column:updated_at_ms;not null"`
	PayloadJSON           string `gorm:"column:payload_json;type:text;not null"`
}

// TableName provides the explicit table binding for GORM.
func (EntityRow) TableName() string {
	return "local_entities"
}

// SequenceRow tracks the last negative id handed out per entity type.
type SequenceRow struct {
	EntityName string `gorm:"column:entity_name;primaryKey;size:64;not null"`
	LastValue  int64  `gorm:"column:last_value;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (SequenceRow) TableName() string {
	return "local_sequences"
}

// Schema is the local device database layout.
func Schema() database.Schema {
	return database.Schema{
		Name:   "local",
		Models: []any{&EntityRow{}, &SequenceRow{}},
	}
}
