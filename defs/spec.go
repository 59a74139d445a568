package defs

import (
	"slices"
	"time"
)

// Condition is a named expression attached to a field, region, transition
// or state transition. It is a plain value, so specs and sealed forms
// share the type.
type Condition struct {
	ID         string `yaml:"id" msgpack:"id"`
	RenderAs   string `yaml:"renderAs,omitempty" msgpack:"render_as,omitempty"`
	Expression string `yaml:"expression,omitempty" msgpack:"expr,omitempty"`
}

// FieldSpec is the mutable form of a field. Empty strings and nil pointers
// mean "not set" and are filled from the parent during a merge.
type FieldSpec struct {
	ID                string      `yaml:"id" msgpack:"id"`
	Name              string      `yaml:"name,omitempty" msgpack:"name,omitempty"`
	Value             string      `yaml:"value,omitempty" msgpack:"value,omitempty"`
	Type              string      `yaml:"type,omitempty" msgpack:"type,omitempty"`
	Codelist          *int        `yaml:"codelist,omitempty" msgpack:"codelist,omitempty"`
	RNC               string      `yaml:"rnc,omitempty" msgpack:"rnc,omitempty"`
	LabelID           string      `yaml:"label,omitempty" msgpack:"label,omitempty"`
	TooltipID         string      `yaml:"tooltip,omitempty" msgpack:"tooltip,omitempty"`
	Mandatory         *bool       `yaml:"mandatory,omitempty" msgpack:"mandatory,omitempty"`
	MandatoryEnforced *bool       `yaml:"mandatoryEnforced,omitempty" msgpack:"mandatory_enforced,omitempty"`
	DisplayType       string      `yaml:"displayType,omitempty" msgpack:"display_type,omitempty"`
	Override          *bool       `yaml:"override,omitempty" msgpack:"override,omitempty"`
	MultiValued       *bool       `yaml:"multiValued,omitempty" msgpack:"multi_valued,omitempty"`
	MaxLength         *int        `yaml:"maxLength,omitempty" msgpack:"max_length,omitempty"`
	Container         string      `yaml:"container,omitempty" msgpack:"container,omitempty"`
	Order             *int        `yaml:"order,omitempty" msgpack:"order,omitempty"`
	PreviewEmpty      *bool       `yaml:"previewEmpty,omitempty" msgpack:"preview_empty,omitempty"`
	DMSType           string      `yaml:"dmsType,omitempty" msgpack:"dms_type,omitempty"`
	URI               string      `yaml:"uri,omitempty" msgpack:"uri,omitempty"`
	Filters           []string    `yaml:"filters,omitempty" msgpack:"filters,omitempty"`
	Conditions        []Condition `yaml:"conditions,omitempty" msgpack:"conditions,omitempty"`

	// PrototypeID is assigned when a definition is imported.
	PrototypeID int64 `yaml:"-" msgpack:"prototype_id,omitempty"`
}

type RegionSpec struct {
	ID          string       `yaml:"id" msgpack:"id"`
	LabelID     string       `yaml:"label,omitempty" msgpack:"label,omitempty"`
	TooltipID   string       `yaml:"tooltip,omitempty" msgpack:"tooltip,omitempty"`
	DisplayType string       `yaml:"displayType,omitempty" msgpack:"display_type,omitempty"`
	Order       *int         `yaml:"order,omitempty" msgpack:"order,omitempty"`
	Fields      []*FieldSpec `yaml:"fields,omitempty" msgpack:"fields,omitempty"`
	Conditions  []Condition  `yaml:"conditions,omitempty" msgpack:"conditions,omitempty"`
}

type TransitionSpec struct {
	ID                  string       `yaml:"id" msgpack:"id"`
	LabelID             string       `yaml:"label,omitempty" msgpack:"label,omitempty"`
	TooltipID           string       `yaml:"tooltip,omitempty" msgpack:"tooltip,omitempty"`
	EventID             string       `yaml:"eventId,omitempty" msgpack:"event_id,omitempty"`
	NextPrimaryState    string       `yaml:"nextPrimaryState,omitempty" msgpack:"next_primary,omitempty"`
	NextSecondaryState  string       `yaml:"nextSecondaryState,omitempty" msgpack:"next_secondary,omitempty"`
	Purpose             string       `yaml:"purpose,omitempty" msgpack:"purpose,omitempty"`
	Group               string       `yaml:"group,omitempty" msgpack:"group,omitempty"`
	Owner               string       `yaml:"owner,omitempty" msgpack:"owner,omitempty"`
	ConfirmationMessage string       `yaml:"confirmation,omitempty" msgpack:"confirmation,omitempty"`
	DisabledReason      string       `yaml:"disabledReason,omitempty" msgpack:"disabled_reason,omitempty"`
	DisplayType         string       `yaml:"displayType,omitempty" msgpack:"display_type,omitempty"`
	Order               *int         `yaml:"order,omitempty" msgpack:"order,omitempty"`
	Default             *bool        `yaml:"default,omitempty" msgpack:"default,omitempty"`
	Immediate           *bool        `yaml:"immediate,omitempty" msgpack:"immediate,omitempty"`
	Fields              []*FieldSpec `yaml:"fields,omitempty" msgpack:"fields,omitempty"`
	Conditions          []Condition  `yaml:"conditions,omitempty" msgpack:"conditions,omitempty"`
}

type TransitionGroupSpec struct {
	ID      string `yaml:"id" msgpack:"id"`
	Parent  string `yaml:"parent,omitempty" msgpack:"parent,omitempty"`
	LabelID string `yaml:"label,omitempty" msgpack:"label,omitempty"`
	Type    string `yaml:"type,omitempty" msgpack:"type,omitempty"`
	Order   *int   `yaml:"order,omitempty" msgpack:"order,omitempty"`
}

// StateTransitionSpec says which transition moves an instance from one
// state to another. It is identified by (From, Transition).
type StateTransitionSpec struct {
	From       string      `yaml:"from" msgpack:"from"`
	Transition string      `yaml:"transition" msgpack:"transition"`
	To         string      `yaml:"to,omitempty" msgpack:"to,omitempty"`
	Conditions []Condition `yaml:"conditions,omitempty" msgpack:"conditions,omitempty"`
}

type AllowedChildSpec struct {
	ID      string   `yaml:"id" msgpack:"id"`
	Type    string   `yaml:"type,omitempty" msgpack:"type,omitempty"`
	Default *bool    `yaml:"default,omitempty" msgpack:"default,omitempty"`
	Filters []string `yaml:"filters,omitempty" msgpack:"filters,omitempty"`
}

// DefinitionSpec is the mutable form of a top-level definition, as parsed
// from source and before it is merged with its parent and sealed.
type DefinitionSpec struct {
	ID           string     `yaml:"id" msgpack:"id"`
	Parent       string     `yaml:"parent,omitempty" msgpack:"parent,omitempty"`
	Revision     int64      `yaml:"revision,omitempty" msgpack:"revision,omitempty"`
	Type         string     `yaml:"type,omitempty" msgpack:"type,omitempty"`
	SemanticType string     `yaml:"semanticType,omitempty" msgpack:"semantic_type,omitempty"`
	Purpose      string     `yaml:"purpose,omitempty" msgpack:"purpose,omitempty"`
	Container    string     `yaml:"container,omitempty" msgpack:"container,omitempty"`
	DMSID        string     `yaml:"dmsId,omitempty" msgpack:"dms_id,omitempty"`
	ReferenceID  string     `yaml:"referenceId,omitempty" msgpack:"reference_id,omitempty"`
	Expression   string     `yaml:"expression,omitempty" msgpack:"expr,omitempty"`
	Abstract     *bool      `yaml:"abstract,omitempty" msgpack:"abstract,omitempty"`
	CreatedAt    *time.Time `yaml:"createdAt,omitempty" msgpack:"created_at,omitempty"`
	ModifiedAt   *time.Time `yaml:"modifiedAt,omitempty" msgpack:"modified_at,omitempty"`

	Fields           []*FieldSpec           `yaml:"fields,omitempty" msgpack:"fields,omitempty"`
	Regions          []*RegionSpec          `yaml:"regions,omitempty" msgpack:"regions,omitempty"`
	Transitions      []*TransitionSpec      `yaml:"transitions,omitempty" msgpack:"transitions,omitempty"`
	TransitionGroups []*TransitionGroupSpec `yaml:"transitionGroups,omitempty" msgpack:"transition_groups,omitempty"`
	StateTransitions []*StateTransitionSpec `yaml:"stateTransitions,omitempty" msgpack:"state_transitions,omitempty"`
	AllowedChildren  []*AllowedChildSpec    `yaml:"allowedChildren,omitempty" msgpack:"allowed_children,omitempty"`
	Configurations   []*FieldSpec           `yaml:"configurations,omitempty" msgpack:"configurations,omitempty"`

	// Source is the raw text the definition was parsed from.
	Source []byte `yaml:"-" msgpack:"-"`
}

func (f *FieldSpec) Identifier() string { return f.ID }
func (r *RegionSpec) Identifier() string { return r.ID }
func (t *TransitionSpec) Identifier() string { return t.ID }
func (g *TransitionGroupSpec) Identifier() string { return g.ID }
func (c *AllowedChildSpec) Identifier() string { return c.ID }
func (d *DefinitionSpec) Identifier() string { return d.ID }

func (s *StateTransitionSpec) Identifier() string {
	return s.From + "|" + s.Transition
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneAll[T any](items []*T, clone func(*T) *T) []*T {
	if items == nil {
		return nil
	}
	out := make([]*T, len(items))
	for i, item := range items {
		out[i] = clone(item)
	}
	return out
}

func (f *FieldSpec) Clone() *FieldSpec {
	c := *f
	c.Codelist = clonePtr(f.Codelist)
	c.Mandatory = clonePtr(f.Mandatory)
	c.MandatoryEnforced = clonePtr(f.MandatoryEnforced)
	c.Override = clonePtr(f.Override)
	c.MultiValued = clonePtr(f.MultiValued)
	c.MaxLength = clonePtr(f.MaxLength)
	c.Order = clonePtr(f.Order)
	c.PreviewEmpty = clonePtr(f.PreviewEmpty)
	c.Filters = slices.Clone(f.Filters)
	c.Conditions = slices.Clone(f.Conditions)
	return &c
}

func (r *RegionSpec) Clone() *RegionSpec {
	c := *r
	c.Order = clonePtr(r.Order)
	c.Fields = cloneAll(r.Fields, (*FieldSpec).Clone)
	c.Conditions = slices.Clone(r.Conditions)
	return &c
}

func (t *TransitionSpec) Clone() *TransitionSpec {
	c := *t
	c.Order = clonePtr(t.Order)
	c.Default = clonePtr(t.Default)
	c.Immediate = clonePtr(t.Immediate)
	c.Fields = cloneAll(t.Fields, (*FieldSpec).Clone)
	c.Conditions = slices.Clone(t.Conditions)
	return &c
}

func (g *TransitionGroupSpec) Clone() *TransitionGroupSpec {
	c := *g
	c.Order = clonePtr(g.Order)
	return &c
}

func (s *StateTransitionSpec) Clone() *StateTransitionSpec {
	c := *s
	c.Conditions = slices.Clone(s.Conditions)
	return &c
}

func (a *AllowedChildSpec) Clone() *AllowedChildSpec {
	c := *a
	c.Default = clonePtr(a.Default)
	c.Filters = slices.Clone(a.Filters)
	return &c
}

func (d *DefinitionSpec) Clone() *DefinitionSpec {
	c := *d
	c.Abstract = clonePtr(d.Abstract)
	c.CreatedAt = clonePtr(d.CreatedAt)
	c.ModifiedAt = clonePtr(d.ModifiedAt)
	c.Fields = cloneAll(d.Fields, (*FieldSpec).Clone)
	c.Regions = cloneAll(d.Regions, (*RegionSpec).Clone)
	c.Transitions = cloneAll(d.Transitions, (*TransitionSpec).Clone)
	c.TransitionGroups = cloneAll(d.TransitionGroups, (*TransitionGroupSpec).Clone)
	c.StateTransitions = cloneAll(d.StateTransitions, (*StateTransitionSpec).Clone)
	c.AllowedChildren = cloneAll(d.AllowedChildren, (*AllowedChildSpec).Clone)
	c.Configurations = cloneAll(d.Configurations, (*FieldSpec).Clone)
	c.Source = slices.Clone(d.Source)
	return &c
}

// Ptr returns a pointer to v, for filling optional spec attributes.
func Ptr[T any](v T) *T {
	return &v
}
