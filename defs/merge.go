package defs

import (
	"cmp"
	"slices"
)

func replaceIfNull[T comparable](child, parent T) T {
	var zero T
	if child == zero {
		return parent
	}
	return child
}

func replaceIfNil[T any](child, parent *T) *T {
	if child == nil {
		return clonePtr(parent)
	}
	return child
}

type mergeable[T any] interface {
	*T
	Identifier() string
	MergeFrom(parent *T)
	Clone() *T
}

// mergeLists merges parent into child by identifier: matching elements
// are merged, parent-only elements are appended as copies. Child order is
// kept.
func mergeLists[T any, P mergeable[T]](child, parent []*T) []*T {
	pos := make(map[string]int, len(child))
	for i, c := range child {
		pos[P(c).Identifier()] = i
	}
	for _, p := range parent {
		id := P(p).Identifier()
		if i, ok := pos[id]; ok {
			P(child[i]).MergeFrom(p)
			continue
		}
		pos[id] = len(child)
		child = append(child, P(p).Clone())
	}
	return child
}

func mergeConditions(child, parent []Condition) []Condition {
	for _, p := range parent {
		i := slices.IndexFunc(child, func(c Condition) bool { return c.ID == p.ID })
		if i < 0 {
			child = append(child, p)
			continue
		}
		child[i].RenderAs = replaceIfNull(child[i].RenderAs, p.RenderAs)
		child[i].Expression = replaceIfNull(child[i].Expression, p.Expression)
	}
	return child
}

func (f *FieldSpec) MergeFrom(parent *FieldSpec) {
	f.ID = replaceIfNull(f.ID, parent.ID)
	f.Name = replaceIfNull(f.Name, parent.Name)
	f.Value = replaceIfNull(f.Value, parent.Value)
	f.Type = replaceIfNull(f.Type, parent.Type)
	f.Codelist = replaceIfNil(f.Codelist, parent.Codelist)
	f.RNC = replaceIfNull(f.RNC, parent.RNC)
	f.LabelID = replaceIfNull(f.LabelID, parent.LabelID)
	f.TooltipID = replaceIfNull(f.TooltipID, parent.TooltipID)
	f.Mandatory = replaceIfNil(f.Mandatory, parent.Mandatory)
	f.DisplayType = replaceIfNull(f.DisplayType, parent.DisplayType)
	f.Override = replaceIfNil(f.Override, parent.Override)
	f.MultiValued = replaceIfNil(f.MultiValued, parent.MultiValued)
	f.MandatoryEnforced = replaceIfNil(f.MandatoryEnforced, parent.MandatoryEnforced)
	f.MaxLength = replaceIfNil(f.MaxLength, parent.MaxLength)
	f.Container = replaceIfNull(f.Container, parent.Container)
	f.Order = replaceIfNil(f.Order, parent.Order)
	f.PreviewEmpty = replaceIfNil(f.PreviewEmpty, parent.PreviewEmpty)
	f.DMSType = replaceIfNull(f.DMSType, parent.DMSType)
	f.URI = replaceIfNull(f.URI, parent.URI)
	if len(f.Filters) == 0 {
		f.Filters = slices.Clone(parent.Filters)
	}
	f.Conditions = mergeConditions(f.Conditions, parent.Conditions)
}

func (r *RegionSpec) MergeFrom(parent *RegionSpec) {
	r.ID = replaceIfNull(r.ID, parent.ID)
	r.LabelID = replaceIfNull(r.LabelID, parent.LabelID)
	r.TooltipID = replaceIfNull(r.TooltipID, parent.TooltipID)
	r.DisplayType = replaceIfNull(r.DisplayType, parent.DisplayType)
	r.Order = replaceIfNil(r.Order, parent.Order)
	r.Fields = mergeLists(r.Fields, parent.Fields)
	r.Conditions = mergeConditions(r.Conditions, parent.Conditions)
}

func (t *TransitionSpec) MergeFrom(parent *TransitionSpec) {
	t.ID = replaceIfNull(t.ID, parent.ID)
	t.LabelID = replaceIfNull(t.LabelID, parent.LabelID)
	t.TooltipID = replaceIfNull(t.TooltipID, parent.TooltipID)
	t.EventID = replaceIfNull(t.EventID, parent.EventID)
	t.NextPrimaryState = replaceIfNull(t.NextPrimaryState, parent.NextPrimaryState)
	t.NextSecondaryState = replaceIfNull(t.NextSecondaryState, parent.NextSecondaryState)
	t.Purpose = replaceIfNull(t.Purpose, parent.Purpose)
	t.Group = replaceIfNull(t.Group, parent.Group)
	t.Owner = replaceIfNull(t.Owner, parent.Owner)
	t.ConfirmationMessage = replaceIfNull(t.ConfirmationMessage, parent.ConfirmationMessage)
	t.DisabledReason = replaceIfNull(t.DisabledReason, parent.DisabledReason)
	t.DisplayType = replaceIfNull(t.DisplayType, parent.DisplayType)
	t.Order = replaceIfNil(t.Order, parent.Order)
	t.Default = replaceIfNil(t.Default, parent.Default)
	t.Immediate = replaceIfNil(t.Immediate, parent.Immediate)
	t.Fields = mergeLists(t.Fields, parent.Fields)
	SortFields(t.Fields)
	t.Conditions = mergeConditions(t.Conditions, parent.Conditions)
}

func (g *TransitionGroupSpec) MergeFrom(parent *TransitionGroupSpec) {
	g.ID = replaceIfNull(g.ID, parent.ID)
	g.Parent = replaceIfNull(g.Parent, parent.Parent)
	g.LabelID = replaceIfNull(g.LabelID, parent.LabelID)
	g.Type = replaceIfNull(g.Type, parent.Type)
	g.Order = replaceIfNil(g.Order, parent.Order)
}

func (s *StateTransitionSpec) MergeFrom(parent *StateTransitionSpec) {
	s.From = replaceIfNull(s.From, parent.From)
	s.Transition = replaceIfNull(s.Transition, parent.Transition)
	s.To = replaceIfNull(s.To, parent.To)
	s.Conditions = mergeConditions(s.Conditions, parent.Conditions)
}

func (a *AllowedChildSpec) MergeFrom(parent *AllowedChildSpec) {
	a.ID = replaceIfNull(a.ID, parent.ID)
	a.Type = replaceIfNull(a.Type, parent.Type)
	a.Default = replaceIfNil(a.Default, parent.Default)
	if len(a.Filters) == 0 {
		a.Filters = slices.Clone(parent.Filters)
	}
}

// MergeFrom fills d from its sealed parent. Attributes set on d win;
// fields keep a single place even when d moved them between the root and
// regions. The parent is not modified.
func (d *DefinitionSpec) MergeFrom(parent *Definition) {
	d.mergeFrom(parent.Spec())
}

func (d *DefinitionSpec) mergeFrom(p *DefinitionSpec) {
	d.ID = replaceIfNull(d.ID, p.ID)
	d.Expression = replaceIfNull(d.Expression, p.Expression)

	d.mergeFieldsAndRegions(p)

	d.Configurations = mergeLists(d.Configurations, p.Configurations)

	d.CreatedAt = replaceIfNil(d.CreatedAt, p.CreatedAt)
	d.Type = replaceIfNull(d.Type, p.Type)
	d.SemanticType = replaceIfNull(d.SemanticType, p.SemanticType)
	d.ModifiedAt = replaceIfNil(d.ModifiedAt, p.ModifiedAt)
	d.Revision = replaceIfNull(d.Revision, p.Revision)
	d.Container = replaceIfNull(d.Container, p.Container)
	d.Purpose = replaceIfNull(d.Purpose, p.Purpose)

	d.Transitions = mergeLists(d.Transitions, p.Transitions)
	d.TransitionGroups = mergeLists(d.TransitionGroups, p.TransitionGroups)

	if len(d.AllowedChildren) == 0 {
		d.AllowedChildren = cloneAll(p.AllowedChildren, (*AllowedChildSpec).Clone)
	}
	if len(d.StateTransitions) == 0 {
		d.StateTransitions = cloneAll(p.StateTransitions, (*StateTransitionSpec).Clone)
	}
}

// fieldMap is an identifier index that remembers insertion order. A later
// duplicate replaces the value but keeps the first position.
type fieldMap struct {
	order []string
	byID  map[string]*FieldSpec
}

func newFieldMap(groups ...[]*FieldSpec) *fieldMap {
	m := &fieldMap{byID: make(map[string]*FieldSpec)}
	for _, fields := range groups {
		for _, f := range fields {
			m.put(f)
		}
	}
	return m
}

func (m *fieldMap) put(f *FieldSpec) {
	if _, ok := m.byID[f.ID]; !ok {
		m.order = append(m.order, f.ID)
	}
	m.byID[f.ID] = f
}

func (m *fieldMap) get(id string) (*FieldSpec, bool) {
	f, ok := m.byID[id]
	return f, ok
}

func (m *fieldMap) has(id string) bool {
	_, ok := m.byID[id]
	return ok
}

func (m *fieldMap) remove(id string) {
	if _, ok := m.byID[id]; !ok {
		return
	}
	delete(m.byID, id)
	m.order = slices.DeleteFunc(m.order, func(s string) bool { return s == id })
}

func (m *fieldMap) values() []*FieldSpec {
	out := make([]*FieldSpec, 0, len(m.byID))
	for _, id := range m.order {
		out = append(out, m.byID[id])
	}
	return out
}

func regionFields(regions []*RegionSpec) *fieldMap {
	m := newFieldMap()
	for _, r := range regions {
		for _, f := range r.Fields {
			m.put(f)
		}
	}
	return m
}

func fieldOwners(regions []*RegionSpec) map[string]string {
	owners := make(map[string]string)
	for _, r := range regions {
		for _, f := range r.Fields {
			owners[f.ID] = r.ID
		}
	}
	return owners
}

func (d *DefinitionSpec) mergeFieldsAndRegions(p *DefinitionSpec) {
	parentFields := newFieldMap(p.Fields)
	initialFields := newFieldMap(d.Fields)

	d.mergeFields(p, parentFields, initialFields)
	d.mergeRegions(p, parentFields, initialFields)
}

func (d *DefinitionSpec) mergeFields(p *DefinitionSpec, parentFields, initialFields *fieldMap) {
	parentRegionFields := regionFields(p.Regions)
	currentRegionFields := regionFields(d.Regions)

	forMerge := newFieldMap(parentFields.values())
	// fields moved into a region are merged there, not at the root
	for _, id := range slices.Clone(forMerge.order) {
		if currentRegionFields.has(id) {
			forMerge.remove(id)
		}
	}
	// fields moved out of a region still inherit from the parent's copy
	for _, f := range parentRegionFields.values() {
		if initialFields.has(f.ID) {
			forMerge.put(f)
		}
	}

	d.Fields = mergeLists(d.Fields, forMerge.values())
	SortFields(d.Fields)
}

func (d *DefinitionSpec) mergeRegions(p *DefinitionSpec, parentFields, initialFields *fieldMap) {
	owners := fieldOwners(d.Regions)
	parentOwners := fieldOwners(p.Regions)
	parentRegionFields := regionFields(p.Regions)

	d.Regions = mergeLists(d.Regions, p.Regions)

	for _, r := range d.Regions {
		r.Fields = slices.DeleteFunc(r.Fields, func(f *FieldSpec) bool {
			if initialFields.has(f.ID) {
				return true
			}
			owner, ok := owners[f.ID]
			return ok && owner != r.ID
		})
		for _, f := range r.Fields {
			if pf, ok := parentFields.get(f.ID); ok {
				f.MergeFrom(pf)
			} else if owner, ok := parentOwners[f.ID]; ok && owner != r.ID {
				pf, _ := parentRegionFields.get(f.ID)
				f.MergeFrom(pf)
			}
		}
		SortFields(r.Fields)
	}
}

// SortFields orders fields by Order, then ID. Fields without an order
// come after all ordered ones.
func SortFields(fields []*FieldSpec) {
	slices.SortStableFunc(fields, func(a, b *FieldSpec) int {
		switch {
		case a.Order == nil && b.Order != nil:
			return 1
		case a.Order != nil && b.Order == nil:
			return -1
		case a.Order != nil && b.Order != nil:
			if c := cmp.Compare(*a.Order, *b.Order); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
