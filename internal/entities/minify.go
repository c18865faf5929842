package entities

// AsObjectOptions controls the wire representation of an entity.
type AsObjectOptions struct {
	// Minify reduces nested references to their keys and strips client-only fields.
	Minify bool
	// KeepSynchronizationStatus retains the local status when minifying.
	KeepSynchronizationStatus bool
	// KeepLocalID retains negative ids when minifying.
	KeepLocalID bool
}

var (
	// MinifyOptions is the representation sent to the remote gateway.
	MinifyOptions = AsObjectOptions{Minify: true}
	// NotMinifyOptions keeps every field.
	NotMinifyOptions = AsObjectOptions{}
	// LocalMinifyOptions minifies references but keeps local-only fields, for
	// diagnostics about local entities.
	LocalMinifyOptions = AsObjectOptions{Minify: true, KeepSynchronizationStatus: true, KeepLocalID: true}
)

func (i Identity) asObject(opts AsObjectOptions) Identity {
	out := i
	if !opts.Minify {
		return out
	}
	if !opts.KeepSynchronizationStatus {
		out.SynchronizationStatus = ""
	}
	if !opts.KeepLocalID && IsLocalID(i.ID) {
		out.ID = nil
	}
	return out
}

func (r RootData) asObject(opts AsObjectOptions) RootData {
	out := r
	out.Identity = r.Identity.asObject(opts)
	if !opts.Minify {
		return out
	}
	out.RecorderPerson = r.RecorderPerson.minified()
	out.RecorderDepartment = r.RecorderDepartment.minified()
	out.Program = r.Program.minified()
	return out
}

// minified keeps the id and name keys only.
func (p *Person) minified() *Person {
	if p == nil {
		return nil
	}
	return &Person{ID: p.ID, FirstName: p.FirstName, LastName: p.LastName}
}

func (d *Department) minified() *Department {
	if d == nil {
		return nil
	}
	return &Department{ID: d.ID, Label: d.Label, Name: d.Name}
}

func (p *Program) minified() *Program {
	if p == nil {
		return nil
	}
	return &Program{ID: p.ID, Label: p.Label}
}

func (r *Reference) minified(opts AsObjectOptions) *Reference {
	if r == nil {
		return nil
	}
	if !opts.Minify {
		copied := *r
		return &copied
	}
	return &Reference{ID: r.ID}
}

// FullName renders a person for logs and listings.
func (p *Person) FullName() string {
	if p == nil {
		return ""
	}
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	default:
		return p.FirstName + " " + p.LastName
	}
}
