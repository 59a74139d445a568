package defs

import (
	"slices"
	"time"

	"github.com/andreyvit/propdb/value"
)

// Field is a sealed field. Sealed values never change, so they can be
// shared between goroutines without copying.
type Field struct {
	spec     *FieldSpec
	dataType value.DataType
	typeLen  int
}

// Seal returns a read-only copy of f. Later changes to f do not affect it.
func (f *FieldSpec) Seal() *Field {
	return sealField(f.Clone())
}

func sealField(s *FieldSpec) *Field {
	dt, n, ok := value.ParseDataType(s.Type)
	if !ok {
		dt = value.TypeAny
	}
	return &Field{spec: s, dataType: dt, typeLen: n}
}

func (f *Field) Seal() *Field { return f }
func (f *Field) Spec() *FieldSpec { return f.spec.Clone() }
func (f *Field) ID() string { return f.spec.ID }
func (f *Field) Value() string { return f.spec.Value }
func (f *Field) TypeName() string { return f.spec.Type }
func (f *Field) RNC() string { return f.spec.RNC }
func (f *Field) LabelID() string { return f.spec.LabelID }
func (f *Field) TooltipID() string { return f.spec.TooltipID }
func (f *Field) DisplayType() string { return f.spec.DisplayType }
func (f *Field) Container() string { return f.spec.Container }
func (f *Field) DMSType() string { return f.spec.DMSType }
func (f *Field) URI() string { return f.spec.URI }
func (f *Field) PrototypeID() int64 { return f.spec.PrototypeID }

// Name is the property name the field is stored under; it defaults to
// the identifier.
func (f *Field) Name() string {
	if f.spec.Name != "" {
		return f.spec.Name
	}
	return f.spec.ID
}

func (f *Field) DataType() value.DataType {
	return f.dataType
}

// MaxLength is the explicit limit, or the one carried by the type
// notation, or 0.
func (f *Field) MaxLength() int {
	if f.spec.MaxLength != nil {
		return *f.spec.MaxLength
	}
	return f.typeLen
}

func (f *Field) Codelist() (int, bool) { return deref(f.spec.Codelist) }
func (f *Field) Order() (int, bool) { return deref(f.spec.Order) }
func (f *Field) Mandatory() bool { return flag(f.spec.Mandatory) }
func (f *Field) MandatoryEnforced() bool { return flag(f.spec.MandatoryEnforced) }
func (f *Field) Override() bool { return flag(f.spec.Override) }
func (f *Field) MultiValued() bool { return flag(f.spec.MultiValued) }
func (f *Field) PreviewEmpty() bool { return flag(f.spec.PreviewEmpty) }
func (f *Field) Filters() []string { return slices.Clone(f.spec.Filters) }
func (f *Field) Conditions() []Condition { return slices.Clone(f.spec.Conditions) }

func deref[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

func flag(p *bool) bool {
	return p != nil && *p
}

func sealFields(specs []*FieldSpec) []*Field {
	fields := make([]*Field, len(specs))
	for i, s := range specs {
		fields[i] = sealField(s)
	}
	return fields
}

func findField(fields []*Field, name string) (*Field, bool) {
	for _, f := range fields {
		if f.Name() == name || f.ID() == name {
			return f, true
		}
	}
	return nil, false
}

type Region struct {
	spec   *RegionSpec
	fields []*Field
}

func (r *RegionSpec) Seal() *Region {
	return sealRegion(r.Clone())
}

func sealRegion(s *RegionSpec) *Region {
	return &Region{spec: s, fields: sealFields(s.Fields)}
}

func (r *Region) Seal() *Region { return r }
func (r *Region) Spec() *RegionSpec { return r.spec.Clone() }
func (r *Region) ID() string { return r.spec.ID }
func (r *Region) LabelID() string { return r.spec.LabelID }
func (r *Region) TooltipID() string { return r.spec.TooltipID }
func (r *Region) DisplayType() string { return r.spec.DisplayType }
func (r *Region) Order() (int, bool) { return deref(r.spec.Order) }
func (r *Region) Fields() []*Field { return slices.Clone(r.fields) }
func (r *Region) Conditions() []Condition { return slices.Clone(r.spec.Conditions) }
func (r *Region) Field(name string) (*Field, bool) { return findField(r.fields, name) }

type Transition struct {
	spec   *TransitionSpec
	fields []*Field
}

func (t *TransitionSpec) Seal() *Transition {
	return sealTransition(t.Clone())
}

func sealTransition(s *TransitionSpec) *Transition {
	return &Transition{spec: s, fields: sealFields(s.Fields)}
}

func (t *Transition) Seal() *Transition { return t }
func (t *Transition) Spec() *TransitionSpec { return t.spec.Clone() }
func (t *Transition) ID() string { return t.spec.ID }
func (t *Transition) LabelID() string { return t.spec.LabelID }
func (t *Transition) TooltipID() string { return t.spec.TooltipID }
func (t *Transition) EventID() string { return t.spec.EventID }
func (t *Transition) NextPrimaryState() string { return t.spec.NextPrimaryState }
func (t *Transition) NextSecondaryState() string { return t.spec.NextSecondaryState }
func (t *Transition) Purpose() string { return t.spec.Purpose }
func (t *Transition) Group() string { return t.spec.Group }
func (t *Transition) Owner() string { return t.spec.Owner }
func (t *Transition) ConfirmationMessage() string { return t.spec.ConfirmationMessage }
func (t *Transition) DisabledReason() string { return t.spec.DisabledReason }
func (t *Transition) DisplayType() string { return t.spec.DisplayType }
func (t *Transition) Order() (int, bool) { return deref(t.spec.Order) }
func (t *Transition) Default() bool { return flag(t.spec.Default) }
func (t *Transition) Immediate() bool { return flag(t.spec.Immediate) }
func (t *Transition) Fields() []*Field { return slices.Clone(t.fields) }
func (t *Transition) Conditions() []Condition { return slices.Clone(t.spec.Conditions) }
func (t *Transition) Field(name string) (*Field, bool) { return findField(t.fields, name) }

type TransitionGroup struct {
	spec *TransitionGroupSpec
}

func (g *TransitionGroupSpec) Seal() *TransitionGroup {
	return &TransitionGroup{spec: g.Clone()}
}

func (g *TransitionGroup) Seal() *TransitionGroup { return g }
func (g *TransitionGroup) Spec() *TransitionGroupSpec { return g.spec.Clone() }
func (g *TransitionGroup) ID() string { return g.spec.ID }
func (g *TransitionGroup) Parent() string { return g.spec.Parent }
func (g *TransitionGroup) LabelID() string { return g.spec.LabelID }
func (g *TransitionGroup) Type() string { return g.spec.Type }
func (g *TransitionGroup) Order() (int, bool) { return deref(g.spec.Order) }

type StateTransition struct {
	spec *StateTransitionSpec
}

func (s *StateTransitionSpec) Seal() *StateTransition {
	return &StateTransition{spec: s.Clone()}
}

func (s *StateTransition) Seal() *StateTransition { return s }
func (s *StateTransition) Spec() *StateTransitionSpec { return s.spec.Clone() }
func (s *StateTransition) From() string { return s.spec.From }
func (s *StateTransition) Transition() string { return s.spec.Transition }
func (s *StateTransition) To() string { return s.spec.To }
func (s *StateTransition) Conditions() []Condition { return slices.Clone(s.spec.Conditions) }

type AllowedChild struct {
	spec *AllowedChildSpec
}

func (a *AllowedChildSpec) Seal() *AllowedChild {
	return &AllowedChild{spec: a.Clone()}
}

func (a *AllowedChild) Seal() *AllowedChild { return a }
func (a *AllowedChild) Spec() *AllowedChildSpec { return a.spec.Clone() }
func (a *AllowedChild) ID() string { return a.spec.ID }
func (a *AllowedChild) Type() string { return a.spec.Type }
func (a *AllowedChild) Default() bool { return flag(a.spec.Default) }
func (a *AllowedChild) Filters() []string { return slices.Clone(a.spec.Filters) }

// Definition is a sealed top-level definition, normally the result of
// merging a spec with its parent chain.
type Definition struct {
	spec             *DefinitionSpec
	fields           []*Field
	regions          []*Region
	transitions      []*Transition
	transitionGroups []*TransitionGroup
	stateTransitions []*StateTransition
	allowedChildren  []*AllowedChild
	configurations   []*Field

	byName   map[string]*Field
	regionOf map[string]string
}

// Seal returns a read-only deep copy of d.
func (d *DefinitionSpec) Seal() *Definition {
	return sealDefinition(d.Clone())
}

func sealDefinition(s *DefinitionSpec) *Definition {
	d := &Definition{
		spec:           s,
		fields:         sealFields(s.Fields),
		configurations: sealFields(s.Configurations),
		byName:         make(map[string]*Field),
		regionOf:       make(map[string]string),
	}
	for _, r := range s.Regions {
		d.regions = append(d.regions, sealRegion(r))
	}
	for _, t := range s.Transitions {
		d.transitions = append(d.transitions, sealTransition(t))
	}
	for _, g := range s.TransitionGroups {
		d.transitionGroups = append(d.transitionGroups, &TransitionGroup{spec: g})
	}
	for _, st := range s.StateTransitions {
		d.stateTransitions = append(d.stateTransitions, &StateTransition{spec: st})
	}
	for _, a := range s.AllowedChildren {
		d.allowedChildren = append(d.allowedChildren, &AllowedChild{spec: a})
	}

	for _, f := range d.fields {
		d.byName[f.Name()] = f
	}
	for _, r := range d.regions {
		for _, f := range r.fields {
			if _, dup := d.byName[f.Name()]; !dup {
				d.byName[f.Name()] = f
				d.regionOf[f.Name()] = r.ID()
			}
		}
	}
	return d
}

func (d *Definition) Seal() *Definition { return d }
func (d *Definition) Spec() *DefinitionSpec { return d.spec.Clone() }
func (d *Definition) ID() string { return d.spec.ID }
func (d *Definition) Parent() string { return d.spec.Parent }
func (d *Definition) Revision() int64 { return d.spec.Revision }
func (d *Definition) Type() string { return d.spec.Type }
func (d *Definition) SemanticType() string { return d.spec.SemanticType }
func (d *Definition) Purpose() string { return d.spec.Purpose }
func (d *Definition) Container() string { return d.spec.Container }
func (d *Definition) DMSID() string { return d.spec.DMSID }
func (d *Definition) ReferenceID() string { return d.spec.ReferenceID }
func (d *Definition) Expression() string { return d.spec.Expression }
func (d *Definition) Abstract() bool { return flag(d.spec.Abstract) }
func (d *Definition) Source() []byte { return slices.Clone(d.spec.Source) }
func (d *Definition) Fields() []*Field { return slices.Clone(d.fields) }
func (d *Definition) Regions() []*Region { return slices.Clone(d.regions) }
func (d *Definition) Transitions() []*Transition { return slices.Clone(d.transitions) }
func (d *Definition) TransitionGroups() []*TransitionGroup {
	return slices.Clone(d.transitionGroups)
}
func (d *Definition) StateTransitions() []*StateTransition {
	return slices.Clone(d.stateTransitions)
}
func (d *Definition) AllowedChildren() []*AllowedChild { return slices.Clone(d.allowedChildren) }
func (d *Definition) Configurations() []*Field { return slices.Clone(d.configurations) }

func (d *Definition) CreatedAt() time.Time {
	t, _ := deref(d.spec.CreatedAt)
	return t
}

func (d *Definition) ModifiedAt() time.Time {
	t, _ := deref(d.spec.ModifiedAt)
	return t
}

// Field finds a root or region field by property name.
func (d *Definition) Field(name string) (*Field, bool) {
	f, ok := d.byName[name]
	return f, ok
}

// RegionOf returns the region holding the named field, or "" for root
// fields and unknown names.
func (d *Definition) RegionOf(name string) string {
	return d.regionOf[name]
}

// AllFields returns root fields followed by the fields of each region.
func (d *Definition) AllFields() []*Field {
	all := slices.Clone(d.fields)
	for _, r := range d.regions {
		all = append(all, r.fields...)
	}
	return all
}

func (d *Definition) Region(id string) (*Region, bool) {
	i := slices.IndexFunc(d.regions, func(r *Region) bool { return r.ID() == id })
	if i < 0 {
		return nil, false
	}
	return d.regions[i], true
}

func (d *Definition) Transition(id string) (*Transition, bool) {
	i := slices.IndexFunc(d.transitions, func(t *Transition) bool { return t.ID() == id })
	if i < 0 {
		return nil, false
	}
	return d.transitions[i], true
}

func (d *Definition) Configuration(id string) (*Field, bool) {
	i := slices.IndexFunc(d.configurations, func(f *Field) bool { return f.ID() == id })
	if i < 0 {
		return nil, false
	}
	return d.configurations[i], true
}
