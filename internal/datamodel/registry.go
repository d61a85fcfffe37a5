package datamodel

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Registry holds every model and links relation targets.
type Registry struct {
	models map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{models: map[string]*Model{}}
}

func (r *Registry) Add(m *Model) error {
	if _, dup := r.models[m.Name]; dup {
		return fmt.Errorf("model %s registered twice", m.Name)
	}
	r.models[m.Name] = m
	return nil
}

func (r *Registry) Get(name string) (*Model, bool) {
	m, ok := r.models[name]
	return m, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.models))
	for n := range r.models {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Link resolves the Related name of every relation field. All problems are
// reported together.
func (r *Registry) Link() error {
	var result *multierror.Error
	for _, name := range r.Names() {
		m := r.models[name]
		for _, f := range m.Fields {
			if !f.IsRelation() {
				continue
			}
			target, ok := r.models[f.Related]
			if !ok {
				result = multierror.Append(result, fmt.Errorf("%s: related model %q is not registered", f, f.Related))
				continue
			}
			if f.Rel == nil {
				f.Rel = &Relation{}
			}
			f.Rel.Target = target
			if err := checkRelation(f); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

func checkRelation(f *Field) error {
	switch f.Kind {
	case KindOneToMany:
		if f.Rel.RemoteField == "" {
			return fmt.Errorf("%s: onetomany relation needs remote_field", f)
		}
		rf, ok := f.Rel.Target.Field(f.Rel.RemoteField)
		if !ok {
			return fmt.Errorf("%s: remote field %q does not exist on %s", f, f.Rel.RemoteField, f.Rel.Target.Name)
		}
		f.Rel.RemoteColumn = rf.Column
	case KindManyToMany:
		if f.Rel.Through == "" || f.Rel.ThroughLocal == "" || f.Rel.ThroughRemote == "" {
			return fmt.Errorf("%s: manytomany relation needs through, through_local and through_remote", f)
		}
	}
	return nil
}
