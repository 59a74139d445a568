package defstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/defs"
	"github.com/andreyvit/propdb/value"
)

var ErrCycle = errors.New("defstore: definition inherits from itself")

// Import merges each spec with its parent, links its fields to
// prototypes, seals it and stores it as a new revision. Parents may come
// from the same call or from the store; they are processed first.
// A spec whose content did not change keeps its latest revision.
func (s *Store) Import(ctx context.Context, specs ...*defs.DefinitionSpec) ([]*defs.Definition, error) {
	ordered, err := parentFirst(specs)
	if err != nil {
		return nil, err
	}
	imported := make(map[string]*defs.Definition, len(ordered))
	result := make([]*defs.Definition, 0, len(ordered))
	for _, spec := range ordered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d, err := s.importOne(ctx, spec, imported)
		if err != nil {
			return nil, fmt.Errorf("defstore: import %s: %w", spec.ID, err)
		}
		imported[spec.ID] = d
		result = append(result, d)
	}
	return result, nil
}

// parentFirst orders specs so that each comes after its parent when the
// parent is part of the same batch.
func parentFirst(specs []*defs.DefinitionSpec) ([]*defs.DefinitionSpec, error) {
	byID := make(map[string]*defs.DefinitionSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(specs))
	var ordered []*defs.DefinitionSpec
	var visit func(s *defs.DefinitionSpec) error
	visit = func(s *defs.DefinitionSpec) error {
		switch state[s.ID] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: %s", ErrCycle, s.ID)
		}
		state[s.ID] = visiting
		if p, ok := byID[s.Parent]; ok && s.Parent != "" {
			if err := visit(p); err != nil {
				return err
			}
		}
		state[s.ID] = done
		ordered = append(ordered, s)
		return nil
	}
	for _, s := range specs {
		if err := visit(s); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

func (s *Store) parentOf(ctx context.Context, spec *defs.DefinitionSpec, imported map[string]*defs.Definition) (*defs.Definition, error) {
	if p, ok := imported[spec.Parent]; ok {
		return p, nil
	}
	if spec.Container != "" {
		p, err := s.DefinitionIn(ctx, spec.Container, spec.Parent)
		if !errors.Is(err, ErrNotFound) {
			return p, err
		}
	}
	return s.Definition(ctx, spec.Parent)
}

func (s *Store) importOne(ctx context.Context, spec *defs.DefinitionSpec, imported map[string]*defs.Definition) (*defs.Definition, error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("definition without id")
	}
	explicit := spec.Revision
	work := spec.Clone()
	if work.Parent != "" {
		if work.Parent == work.ID {
			return nil, fmt.Errorf("%w: %s", ErrCycle, work.ID)
		}
		parent, err := s.parentOf(ctx, work, imported)
		if err != nil {
			return nil, fmt.Errorf("parent %s: %w", work.Parent, err)
		}
		work.MergeFrom(parent)
		work.Revision = explicit
		s.metrics.DefinitionMergesTotal.Inc()
	}
	if work.Container == "" {
		work.Container = s.defaultContainer
	}
	key := idKey{work.Container, work.ID}
	hash := work.Hash()

	var latest *Row
	err := s.db.Read(func(tx *propdb.Tx) error {
		var err error
		latest, err = latestRow(tx, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if latest != nil && explicit == 0 && latest.Hash == hash {
		s.log.Debug().Stringer("definition", latest.Ref()).Msg("definition unchanged")
		return s.DefinitionIn(ctx, key.Container, key.ID)
	}
	rev := explicit
	if rev == 0 {
		rev = 1
		if latest != nil {
			rev = latest.Revision + 1
		}
	}
	work.Revision = rev

	if err := s.link(ctx, work, hash); err != nil {
		return nil, err
	}

	d := work.Seal()
	blob, err := defs.EncodeBlob(d)
	if err != nil {
		return nil, err
	}
	row := &Row{
		Container:    key.Container,
		ID:           key.ID,
		Revision:     rev,
		Hash:         hash,
		Parent:       work.Parent,
		Type:         work.Type,
		SemanticType: work.SemanticType,
		Abstract:     d.Abstract(),
		Blob:         blob,
		Source:       spec.Source,
		ImportedAt:   time.Now().UTC(),
	}
	err = s.db.Write(func(tx *propdb.Tx) error {
		if err := Definitions.Put(tx, row); err != nil {
			return err
		}
		ref := row.Ref()
		return DefinitionIDs.Put(tx, &ref)
	})
	if err != nil {
		return nil, err
	}

	if latest == nil || rev >= latest.Revision {
		s.latest.Set(key, d)
	}
	s.revisions.Set(row.Ref(), d)
	s.containers.Delete(key.ID)
	s.byType.Purge()
	s.metrics.DefinitionsStored.WithLabelValues("import").Inc()
	s.log.Info().Stringer("definition", row.Ref()).Str("parent", row.Parent).Msg("definition imported")
	return d, nil
}

// link assigns a prototype to every property-bearing field.
func (s *Store) link(ctx context.Context, d *defs.DefinitionSpec, hash uint64) error {
	groups := [][]*defs.FieldSpec{d.Fields}
	for _, r := range d.Regions {
		groups = append(groups, r.Fields)
	}
	for _, t := range d.Transitions {
		groups = append(groups, t.Fields)
	}
	for _, fields := range groups {
		for _, f := range fields {
			name := f.Name
			if name == "" {
				name = f.ID
			}
			dt, _, ok := value.ParseDataType(f.Type)
			if !ok {
				dt = value.TypeAny
			}
			multi := f.MultiValued != nil && *f.MultiValued
			p, err := s.catalog.FindOrCreate(ctx, name, multi, dt)
			if err != nil {
				return err
			}
			f.PrototypeID = p.ID
			if p.DefinedOn == 0 {
				if err := s.catalog.LinkDefinition(ctx, p.ID, hash); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
