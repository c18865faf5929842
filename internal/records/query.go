package records

import (
	"fmt"
	"strings"

	"gorm.io/gorm/clause"
)

// orderClause maps a sort field of the wire format to an ORDER BY clause.
// "id" and "updateDate" use indexed columns; any other field is read from
// the JSON payload.
func orderClause(sortBy, direction string) (clause.OrderByColumn, error) {
	descending := strings.EqualFold(direction, "desc")
	switch sortBy {
	case "", "id":
		return clause.OrderByColumn{Column: clause.Column{Name: "entity_id"}, Desc: descending}, nil
	case "updateDate":
		return clause.OrderByColumn{Column: clause.Column{Name: "updated_at_ms"}, Desc: descending}, nil
	}
	for _, r := range sortBy {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return clause.OrderByColumn{}, fmt.Errorf("%w: sort field %q", ErrInvalidInput, sortBy)
		}
	}
	expression := fmt.Sprintf("json_extract(payload_json, '$.%s')", sortBy)
	return clause.OrderByColumn{Column: clause.Column{Name: expression, Raw: true}, Desc: descending}, nil
}
