package defstore

import (
	"context"
	"fmt"

	"github.com/andreyvit/propdb"
)

// RemoveMode selects which revisions Remove deletes.
type RemoveMode int

const (
	// SingleRevision removes exactly the given revision.
	SingleRevision RemoveMode = iota
	// LastRevision removes the latest revision, exposing the previous one.
	LastRevision
	// OldRevisions removes every revision except the latest.
	OldRevisions
	// AllRevisions removes the definition entirely.
	AllRevisions
)

func (m RemoveMode) String() string {
	switch m {
	case SingleRevision:
		return "single"
	case LastRevision:
		return "last"
	case OldRevisions:
		return "old"
	case AllRevisions:
		return "all"
	}
	return fmt.Sprintf("RemoveMode(%d)", int(m))
}

// Remove deletes revisions of a definition and returns the removed
// revision numbers. The revision argument is used by SingleRevision only.
func (s *Store) Remove(ctx context.Context, id string, revision int64, mode RemoveMode) ([]int64, error) {
	container, err := s.resolveContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	revs, err := s.Revisions(ctx, container, id)
	if err != nil {
		return nil, err
	}
	if len(revs) == 0 {
		return nil, nil
	}
	last := revs[len(revs)-1]

	var targets []int64
	switch mode {
	case SingleRevision:
		for _, r := range revs {
			if r == revision {
				targets = append(targets, r)
			}
		}
	case LastRevision:
		targets = []int64{last}
	case OldRevisions:
		targets = revs[:len(revs)-1]
	case AllRevisions:
		targets = revs
	default:
		return nil, fmt.Errorf("defstore: unknown remove mode %v", mode)
	}

	key := idKey{container, id}
	var removed []int64
	for _, rev := range targets {
		ref := Ref{container, id, rev}
		err := s.db.Write(func(tx *propdb.Tx) error {
			if _, err := Definitions.Delete(tx, propdb.MakeKey(container, id, rev)); err != nil {
				return err
			}
			_, err := DefinitionIDs.Delete(tx, propdb.MakeKey(id, container, rev))
			return err
		})
		if err != nil {
			return removed, fmt.Errorf("defstore: remove %v: %w", ref, err)
		}
		removed = append(removed, rev)
		s.revisions.Delete(ref)
		if d, ok := s.latest.Peek(key); ok && d.Revision() == rev {
			s.latest.Delete(key)
		}
		s.metrics.DefinitionsStored.WithLabelValues("remove").Inc()
		s.log.Info().Stringer("definition", ref).Stringer("mode", mode).Msg("definition revision removed")
	}
	if len(removed) > 0 {
		s.containers.Delete(id)
		s.byType.Purge()
	}
	return removed, nil
}
