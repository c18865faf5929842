package quality

import (
	"reflect"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	"github.com/go-playground/validator/v10"
)

// FieldError is one failed control rule.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ControlError is the structured outcome of a failed control.
type ControlError struct {
	Message string       `json:"message"`
	Details []FieldError `json:"details"`
}

func (e *ControlError) Error() string {
	fields := make([]string, 0, len(e.Details))
	for _, detail := range e.Details {
		fields = append(fields, detail.Field+":"+detail.Rule)
	}
	return e.Message + " [" + strings.Join(fields, ", ") + "]"
}

// Rule checks cross-field constraints a struct tag cannot express.
type Rule func(entities.Entity) []FieldError

const (
	controlMessage      = "ERROR.FORM_INVALID"
	fieldInvalidMessage = "ERROR.FIELD_INVALID"
)

func newValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return validate
}

func fieldErrors(err error) []FieldError {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "", Rule: "invalid", Message: err.Error()}}
	}
	details := make([]FieldError, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		namespace := fieldErr.Namespace()
		if _, rest, found := strings.Cut(namespace, "."); found {
			namespace = rest
		}
		namespace = strings.NewReplacer("RootData.", "", "Identity.", "").Replace(namespace)
		details = append(details, FieldError{
			Field:   namespace,
			Rule:    fieldErr.Tag(),
			Message: "ERROR.FIELD_" + strings.ToUpper(fieldErr.Tag()),
		})
	}
	return details
}

// TripDateRule requires the return of a trip to follow its departure.
func TripDateRule(entity entities.Entity) []FieldError {
	trip, ok := entity.(*entities.Trip)
	if !ok || trip.DepartureDateTime == nil || trip.ReturnDateTime == nil {
		return nil
	}
	if trip.ReturnDateTime.Before(*trip.DepartureDateTime) {
		return []FieldError{{Field: "returnDateTime", Rule: "gtfield", Message: "TRIP.ERROR.RETURN_BEFORE_DEPARTURE"}}
	}
	return nil
}

// VesselPeriodRule requires feature periods to end after they start.
func VesselPeriodRule(entity entities.Entity) []FieldError {
	vessel, ok := entity.(*entities.Vessel)
	if !ok || vessel.Features == nil {
		return nil
	}
	if endsBefore(vessel.Features.StartDate, vessel.Features.EndDate) {
		return []FieldError{{Field: "vesselFeatures.endDate", Rule: "gtfield", Message: fieldInvalidMessage}}
	}
	return nil
}

func endsBefore(start, end *time.Time) bool {
	return start != nil && end != nil && end.Before(*start)
}
