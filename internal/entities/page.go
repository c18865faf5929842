package entities

// Page is one page of a list query.
type Page struct {
	Data []Entity
	// Total is the size of the whole result when the source reports it.
	Total *int
}

// Count returns Total, or the number of loaded items when the source gave none.
func (p Page) Count() int {
	if p.Total != nil {
		return *p.Total
	}
	return len(p.Data)
}
