// Package defstore persists merged definitions and serves them through
// lazily filled caches: the latest revision per identifier, specific
// revisions, and definitions by type.
package defstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/defs"
	"github.com/andreyvit/propdb/internal/metrics"
	"github.com/andreyvit/propdb/lookup"
	"github.com/andreyvit/propdb/proto"
)

var (
	ErrNotFound  = errors.New("defstore: definition not found")
	ErrAmbiguous = errors.New("defstore: definition exists in several containers")
)

// Row is one stored revision of a definition.
type Row struct {
	Container    string    `msgpack:"c"`
	ID           string    `msgpack:"id"`
	Revision     int64     `msgpack:"rev"`
	Hash         uint64    `msgpack:"hash"`
	Parent       string    `msgpack:"parent,omitempty"`
	Type         string    `msgpack:"type,omitempty"`
	SemanticType string    `msgpack:"st,omitempty"`
	Abstract     bool      `msgpack:"abstract,omitempty"`
	Blob         []byte    `msgpack:"blob"`
	Source       []byte    `msgpack:"src,omitempty"`
	ImportedAt   time.Time `msgpack:"at"`
}

func (r *Row) Ref() Ref {
	return Ref{r.Container, r.ID, r.Revision}
}

// Ref identifies one revision of a definition.
type Ref struct {
	Container string
	ID        string
	Revision  int64
}

func (r Ref) String() string {
	return fmt.Sprintf("%s/%s@%d", r.Container, r.ID, r.Revision)
}

type idKey struct {
	Container string
	ID        string
}

func (k idKey) String() string {
	return k.Container + "/" + k.ID
}

var (
	Definitions = propdb.DefineTable("definitions", func(r *Row) propdb.Key {
		return propdb.MakeKey(r.Container, r.ID, r.Revision)
	}).SuppressContent()
	// DefinitionIDs indexes Definitions by identifier across containers.
	DefinitionIDs = propdb.DefineTable("definition_ids", func(r *Ref) propdb.Key {
		return propdb.MakeKey(r.ID, r.Container, r.Revision)
	})
)

type Options struct {
	Logger           zerolog.Logger
	Metrics          *metrics.Metrics
	CacheSize        int
	DefaultContainer string
}

type Store struct {
	db               *propdb.DB
	catalog          *proto.Catalog
	log              zerolog.Logger
	metrics          *metrics.Metrics
	defaultContainer string

	latest     *lookup.Cache[idKey, *defs.Definition]
	revisions  *lookup.Cache[Ref, *defs.Definition]
	containers *lookup.Cache[string, string]
	byType     *lookup.Cache[string, []idKey]
}

func New(db *propdb.DB, catalog *proto.Catalog, opt Options) *Store {
	if opt.Metrics == nil {
		opt.Metrics = metrics.Nop()
	}
	if opt.DefaultContainer == "" {
		opt.DefaultContainer = "default"
	}
	s := &Store{
		db:               db,
		catalog:          catalog,
		log:              opt.Logger,
		metrics:          opt.Metrics,
		defaultContainer: opt.DefaultContainer,
	}
	cacheOpt := func(name string) lookup.Options {
		return lookup.Options{Name: name, Size: opt.CacheSize, Metrics: opt.Metrics}
	}
	s.latest = lookup.New(cacheOpt("definition_latest"), s.loadLatest)
	s.revisions = lookup.New(cacheOpt("definition_revision"), s.loadRevision)
	s.containers = lookup.New(cacheOpt("definition_container"), s.loadContainer)
	s.byType = lookup.New(cacheOpt("definition_type"), s.loadByType)
	return s
}

func (s *Store) DefaultContainer() string {
	return s.defaultContainer
}

func decodeRow(r *Row) (*defs.Definition, error) {
	d, err := defs.DecodeBlob(r.Blob)
	if err != nil {
		return nil, fmt.Errorf("defstore: %v: %w", r.Ref(), err)
	}
	return d, nil
}

// latestRow returns the highest revision of a definition, or nil.
func latestRow(tx *propdb.Tx, k idKey) (*Row, error) {
	var last *Row
	for r, err := range Definitions.Scan(tx, propdb.MakeKey(k.Container, k.ID)) {
		if err != nil {
			return nil, err
		}
		last = r
	}
	return last, nil
}

func (s *Store) loadLatest(ctx context.Context, k idKey) (*defs.Definition, bool, error) {
	var row *Row
	err := s.db.Read(func(tx *propdb.Tx) error {
		var err error
		row, err = latestRow(tx, k)
		return err
	})
	if err != nil || row == nil {
		return nil, false, err
	}
	d, err := decodeRow(row)
	return d, err == nil, err
}

func (s *Store) loadRevision(ctx context.Context, ref Ref) (*defs.Definition, bool, error) {
	var row *Row
	err := s.db.Read(func(tx *propdb.Tx) error {
		var err error
		row, err = Definitions.Get(tx, propdb.MakeKey(ref.Container, ref.ID, ref.Revision))
		return err
	})
	if err != nil || row == nil {
		return nil, false, err
	}
	d, err := decodeRow(row)
	return d, err == nil, err
}

func (s *Store) loadContainer(ctx context.Context, id string) (string, bool, error) {
	var containers []string
	err := s.db.Read(func(tx *propdb.Tx) error {
		for ref, err := range DefinitionIDs.Scan(tx, propdb.MakeKey(id)) {
			if err != nil {
				return err
			}
			if !slices.Contains(containers, ref.Container) {
				containers = append(containers, ref.Container)
			}
		}
		return nil
	})
	switch {
	case err != nil:
		return "", false, err
	case len(containers) == 0:
		return "", false, nil
	case len(containers) > 1:
		return "", false, fmt.Errorf("%w: %s in %s", ErrAmbiguous, id, strings.Join(containers, ", "))
	}
	return containers[0], true, nil
}

func (s *Store) loadByType(ctx context.Context, typ string) ([]idKey, bool, error) {
	var keys []idKey
	err := s.db.Read(func(tx *propdb.Tx) error {
		var last *Row
		flush := func() {
			if last != nil && !last.Abstract && (last.SemanticType == typ || last.Type == typ) {
				keys = append(keys, idKey{last.Container, last.ID})
			}
		}
		for r, err := range Definitions.Scan(tx, nil) {
			if err != nil {
				return err
			}
			if last != nil && (last.Container != r.Container || last.ID != r.ID) {
				flush()
			}
			last = r
		}
		flush()
		return nil
	})
	return keys, err == nil, err
}

func (s *Store) resolveContainer(ctx context.Context, id string) (string, error) {
	c, found, err := s.containers.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c, nil
}

// Definition returns the latest revision of a definition. It fails with
// ErrAmbiguous when the identifier exists in more than one container.
func (s *Store) Definition(ctx context.Context, id string) (*defs.Definition, error) {
	c, err := s.resolveContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.DefinitionIn(ctx, c, id)
}

// DefinitionIn returns the latest revision of a definition in a container.
func (s *Store) DefinitionIn(ctx context.Context, container, id string) (*defs.Definition, error) {
	d, found, err := s.latest.Get(ctx, idKey{container, id})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, container, id)
	}
	return d, nil
}

// DefinitionRevision returns a specific revision; revision 0 means the
// latest one.
func (s *Store) DefinitionRevision(ctx context.Context, id string, revision int64) (*defs.Definition, error) {
	c, err := s.resolveContainer(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.revisionIn(ctx, c, id, revision)
}

func (s *Store) revisionIn(ctx context.Context, container, id string, revision int64) (*defs.Definition, error) {
	if revision == 0 {
		return s.DefinitionIn(ctx, container, id)
	}
	if d, ok := s.latest.Peek(idKey{container, id}); ok && d.Revision() == revision {
		return d, nil
	}
	ref := Ref{container, id, revision}
	d, found, err := s.revisions.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, ref)
	}
	return d, nil
}

// Owner is anything that knows which definition describes it.
type Owner interface {
	DefinitionID() string
	// DefinitionRevision is 0 for the latest revision.
	DefinitionRevision() int64
}

func (s *Store) ForOwner(ctx context.Context, owner Owner) (*defs.Definition, error) {
	return s.DefinitionRevision(ctx, owner.DefinitionID(), owner.DefinitionRevision())
}

// Property resolves a field by property name. The path is a definition
// identifier, optionally followed by "/" and a transition or region
// identifier to look only within that scope.
func (s *Store) Property(ctx context.Context, name string, revision int64, path string) (*defs.Field, error) {
	id, scope, _ := strings.Cut(path, "/")
	d, err := s.DefinitionRevision(ctx, id, revision)
	if err != nil {
		return nil, err
	}
	f, ok := lookupField(d, scope, name)
	if !ok {
		return nil, fmt.Errorf("%w: property %s in %s", ErrNotFound, name, path)
	}
	return f, nil
}

func lookupField(d *defs.Definition, scope, name string) (*defs.Field, bool) {
	if scope == "" {
		return d.Field(name)
	}
	if t, ok := d.Transition(scope); ok {
		return t.Field(name)
	}
	if r, ok := d.Region(scope); ok {
		return r.Field(name)
	}
	return nil, false
}

// DefinitionsByType returns the latest revisions of the concrete
// definitions whose semantic type or type equals typ.
func (s *Store) DefinitionsByType(ctx context.Context, typ string) ([]*defs.Definition, error) {
	keys, _, err := s.byType.Get(ctx, typ)
	if err != nil {
		return nil, err
	}
	return s.resolveAll(ctx, keys)
}

func (s *Store) resolveAll(ctx context.Context, keys []idKey) ([]*defs.Definition, error) {
	result := make([]*defs.Definition, 0, len(keys))
	for _, k := range keys {
		d, err := s.DefinitionIn(ctx, k.Container, k.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// known lists every stored definition with its latest revision row.
func (s *Store) known() ([]*Row, error) {
	var rows []*Row
	err := s.db.Read(func(tx *propdb.Tx) error {
		for r, err := range Definitions.Scan(tx, nil) {
			if err != nil {
				return err
			}
			if n := len(rows); n > 0 && rows[n-1].Container == r.Container && rows[n-1].ID == r.ID {
				rows[n-1] = r
			} else {
				rows = append(rows, r)
			}
		}
		return nil
	})
	return rows, err
}

// All returns the latest revision of every concrete definition.
func (s *Store) All(ctx context.Context) ([]*defs.Definition, error) {
	rows, err := s.known()
	if err != nil {
		return nil, err
	}
	var keys []idKey
	for _, r := range rows {
		if !r.Abstract {
			keys = append(keys, idKey{r.Container, r.ID})
		}
	}
	return s.resolveAll(ctx, keys)
}

// WarmUp loads the latest revision of every stored definition into the
// cache and returns how many were loaded.
func (s *Store) WarmUp(ctx context.Context) (int, error) {
	rows, err := s.known()
	if err != nil {
		return 0, err
	}
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, err := s.DefinitionIn(ctx, r.Container, r.ID); err != nil {
			return 0, err
		}
	}
	s.log.Info().Int("definitions", len(rows)).Msg("definition cache warmed up")
	return len(rows), nil
}

// Revisions lists the stored revisions of a definition, ascending.
func (s *Store) Revisions(ctx context.Context, container, id string) ([]int64, error) {
	var revs []int64
	err := s.db.Read(func(tx *propdb.Tx) error {
		for k := range Definitions.Keys(tx, propdb.MakeKey(container, id)) {
			var c, i string
			var rev int64
			if err := propdb.DecodeKey(k, &c, &i, &rev); err != nil {
				return err
			}
			revs = append(revs, rev)
		}
		return nil
	})
	return revs, err
}
