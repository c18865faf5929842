package accounts

import (
	"strings"
	"time"
)

// PersonRecord is the server-side row for a recorder person.
type PersonRecord struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Email        string    `gorm:"column:email;size:320;index"`
	FirstName    string    `gorm:"column:first_name;size:190"`
	LastName     string    `gorm:"column:last_name;size:190"`
	DepartmentID int64     `gorm:"column:department_id;index"`
	Profiles     string    `gorm:"column:profiles;size:190;not null;default:''"`
	LastSeenAt   time.Time `gorm:"column:last_seen_at"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing persons.
func (PersonRecord) TableName() string {
	return "persons"
}

// DepartmentRecord is the organisation a person belongs to.
type DepartmentRecord struct {
	ID    int64  `gorm:"column:id;primaryKey;autoIncrement:false"`
	Label string `gorm:"column:label;size:64;not null;uniqueIndex"`
	Name  string `gorm:"column:name;size:190"`
}

// TableName exposes the table backing departments.
func (DepartmentRecord) TableName() string {
	return "departments"
}

// ProgramRight grants write access on a program to a person.
type ProgramRight struct {
	PersonID     int64     `gorm:"column:person_id;primaryKey;autoIncrement:false"`
	ProgramLabel string    `gorm:"column:program_label;primaryKey;size:64"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing program rights.
func (ProgramRight) TableName() string {
	return "program_rights"
}

// Models lists the tables this package owns.
func Models() []any {
	return []any{&PersonRecord{}, &DepartmentRecord{}, &ProgramRight{}}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func joinProfiles(profiles []string) string {
	cleaned := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		if p := strings.ToUpper(normalize(profile)); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitProfiles(raw string) []string {
	if normalize(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	profiles := make([]string, 0, len(parts))
	for _, part := range parts {
		if p := normalize(part); p != "" {
			profiles = append(profiles, p)
		}
	}
	return profiles
}
