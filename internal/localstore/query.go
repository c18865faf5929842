package localstore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/fieldlog/internal/entities"
	json "github.com/goccy/go-json"
)

// Sort directions.
const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// LoadOptions pages, sorts and filters a LoadAll call.
type LoadOptions struct {
	Offset int
	// Size of the page; zero or negative returns every match.
	Size int
	// SortBy is a JSON field name of the entity; "id" and "updateDate" use
	// the indexed columns.
	SortBy        string
	SortDirection string
	// Filter is evaluated in memory against each decoded entity.
	Filter func(entities.Entity) bool
}

// SaveAllOptions controls SaveAll.
type SaveAllOptions struct {
	Reset bool
}

type loadedRow struct {
	row    EntityRow
	entity entities.Entity
	fields map[string]any
}

func sortRows(rows []loadedRow, sortBy, direction string) error {
	descending := strings.EqualFold(direction, SortDesc)
	var less func(i, j int) bool
	switch sortBy {
	case "", "id":
		less = func(i, j int) bool { return rows[i].row.EntityID < rows[j].row.EntityID }
	case "updateDate":
		less = func(i, j int) bool { return rows[i].row.UpdatedAtMillis < rows[j].row.UpdatedAtMillis }
	default:
		for i := range rows {
			fields := map[string]any{}
			if err := json.Unmarshal([]byte(rows[i].row.PayloadJSON), &fields); err != nil {
				return fmt.Errorf("decode sort field %s: %w", sortBy, err)
			}
			rows[i].fields = fields
		}
		less = func(i, j int) bool {
			return compareValues(rows[i].fields[sortBy], rows[j].fields[sortBy]) < 0
		}
	}
	if descending {
		ascending := less
		less = func(i, j int) bool { return ascending(j, i) }
	}
	sort.SliceStable(rows, less)
	return nil
}

// compareValues orders decoded JSON values; missing values sort first.
func compareValues(left, right any) int {
	switch {
	case left == nil && right == nil:
		return 0
	case left == nil:
		return -1
	case right == nil:
		return 1
	}
	switch l := left.(type) {
	case float64:
		if r, ok := right.(float64); ok {
			switch {
			case l < r:
				return -1
			case l > r:
				return 1
			}
			return 0
		}
	case string:
		if r, ok := right.(string); ok {
			return strings.Compare(l, r)
		}
	case bool:
		if r, ok := right.(bool); ok {
			switch {
			case l == r:
				return 0
			case !l:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
}

func paginate(rows []loadedRow, offset, size int) entities.Page {
	total := len(rows)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if size > 0 && offset+size < total {
		end = offset + size
	}
	data := make([]entities.Entity, 0, end-offset)
	for _, row := range rows[offset:end] {
		data = append(data, row.entity)
	}
	return entities.Page{Data: data, Total: &total}
}
