// Package accounts resolves the person behind a session and the rights that
// person holds on programs.
package accounts

import (
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/auth"
	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
)

// Profiles known to the rights gate.
const (
	ProfileAdmin      = "ADMIN"
	ProfileSupervisor = "SUPERVISOR"
	ProfileUser       = "USER"
)

// Account is the signed-in person with their profiles and program rights.
type Account struct {
	Person           entities.Person
	Department       *entities.Department
	Profiles         []string
	WritablePrograms []string
}

// FromClaims builds an account straight from token claims. Devices use it
// when they cannot reach the server to resolve the account.
func FromClaims(claims auth.SessionClaims) Account {
	account := Account{
		Person: entities.Person{
			ID:    entities.Int64(claims.PersonID),
			Email: normalize(claims.Email),
		},
		Profiles:         upperAll(claims.Roles),
		WritablePrograms: append([]string(nil), claims.WritablePrograms...),
	}
	if first, last, ok := strings.Cut(normalize(claims.DisplayName), " "); ok {
		account.Person.FirstName, account.Person.LastName = first, last
	} else {
		account.Person.LastName = first
	}
	if claims.DepartmentID > 0 {
		account.Department = &entities.Department{ID: entities.Int64(claims.DepartmentID)}
		account.Person.Department = account.Department
	}
	account.Person.Profiles = account.Profiles
	return account
}

// IsAdmin reports whether the account holds the admin profile.
func (a Account) IsAdmin() bool {
	return a.HasProfile(ProfileAdmin)
}

// IsSupervisor reports whether the account may edit validated data.
func (a Account) IsSupervisor() bool {
	return a.HasProfile(ProfileAdmin) || a.HasProfile(ProfileSupervisor)
}

// HasProfile reports whether profile is granted.
func (a Account) HasProfile(profile string) bool {
	return slices.Contains(a.Profiles, strings.ToUpper(profile))
}

// CanWriteProgram reports whether the account may write data of program.
func (a Account) CanWriteProgram(program *entities.Program) bool {
	if a.IsAdmin() {
		return true
	}
	if program == nil || program.Label == "" {
		return false
	}
	return slices.Contains(a.WritablePrograms, program.Label)
}

// RecorderPerson is the minified person stamped on new data.
func (a Account) RecorderPerson() *entities.Person {
	if a.Person.ID == nil {
		return nil
	}
	return &entities.Person{ID: entities.Int64(*a.Person.ID), FirstName: a.Person.FirstName, LastName: a.Person.LastName}
}

// RecorderDepartment is the department stamped on new data.
func (a Account) RecorderDepartment() *entities.Department {
	if a.Department == nil || a.Department.ID == nil {
		return nil
	}
	return &entities.Department{ID: entities.Int64(*a.Department.ID), Label: a.Department.Label, Name: a.Department.Name}
}

func upperAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if v := strings.ToUpper(normalize(value)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// FillRecorder sets the recorder person and department of root when missing.
func (a Account) FillRecorder(root *entities.RootData) {
	if root == nil {
		return
	}
	if root.RecorderPerson == nil {
		root.RecorderPerson = a.RecorderPerson()
	}
	if root.RecorderDepartment == nil {
		root.RecorderDepartment = a.RecorderDepartment()
	}
}
