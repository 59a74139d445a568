package defstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/andreyvit/propdb/defs"
	"github.com/andreyvit/propdb/props"
)

var ErrAmbiguousRegistration = errors.New("defstore: entity kind registered twice")

// Registration binds an entity kind to the container its definitions
// live in.
type Registration struct {
	Kind      props.Kind
	Name      string
	Container string
}

// Registry resolves the definition of an entity from its key. The key's
// Path names the definition, optionally followed by "/" and a transition
// or region; a non-zero Revision selects a definition revision.
type Registry struct {
	store  *Store
	byKind map[props.Kind]Registration
	byName map[string]Registration
}

func NewRegistry(store *Store, regs ...Registration) (*Registry, error) {
	r := &Registry{
		store:  store,
		byKind: make(map[props.Kind]Registration, len(regs)),
		byName: make(map[string]Registration, len(regs)),
	}
	for _, reg := range regs {
		if prev, ok := r.byKind[reg.Kind]; ok {
			return nil, fmt.Errorf("%w: kind %d claimed by %q and %q", ErrAmbiguousRegistration, reg.Kind, prev.Name, reg.Name)
		}
		if reg.Container == "" {
			reg.Container = store.DefaultContainer()
		}
		r.byKind[reg.Kind] = reg
		if reg.Name != "" {
			if _, ok := r.byName[reg.Name]; ok {
				return nil, fmt.Errorf("%w: name %q", ErrAmbiguousRegistration, reg.Name)
			}
			r.byName[reg.Name] = reg
		}
	}
	return r, nil
}

func (r *Registry) Kind(name string) (props.Kind, bool) {
	reg, ok := r.byName[name]
	return reg.Kind, ok
}

func (r *Registry) Kinds() []props.Kind {
	kinds := make([]props.Kind, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}

// Definition returns the definition of an entity, or nil if the key has
// no path or its kind is not registered.
func (r *Registry) Definition(ctx context.Context, key props.EntityKey) (*defs.Definition, string, error) {
	reg, ok := r.byKind[key.Kind]
	if !ok || key.Path == "" {
		return nil, "", nil
	}
	id, scope, _ := strings.Cut(key.Path, "/")
	d, err := r.store.revisionIn(ctx, reg.Container, id, key.Revision)
	if err != nil {
		return nil, "", err
	}
	return d, scope, nil
}

func (r *Registry) ResolveModel(ctx context.Context, key props.EntityKey) (props.Model, error) {
	d, scope, err := r.Definition(ctx, key)
	if err != nil || d == nil {
		return nil, err
	}
	return model{d, scope}, nil
}

type model struct {
	def   *defs.Definition
	scope string
}

func (m model) Field(name string) (props.Field, bool) {
	f, ok := lookupField(m.def, m.scope, name)
	if !ok {
		return props.Field{}, false
	}
	return props.Field{
		Name:        f.Name(),
		DataType:    f.DataType(),
		MultiValued: f.MultiValued(),
		PrototypeID: f.PrototypeID(),
	}, true
}
