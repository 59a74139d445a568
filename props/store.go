// Package props stores entity properties as entity-attribute-value rows:
// one row per property value, keyed by entity, prototype id and list
// position, with a read-through cache of whole property maps.
package props

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/internal/metrics"
	"github.com/andreyvit/propdb/lookup"
	"github.com/andreyvit/propdb/proto"
	"github.com/andreyvit/propdb/value"
)

const DefaultBatchSize = 500

type Options struct {
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Kinds lists the supported entity kinds; empty means all.
	Kinds []Kind

	CacheSize int
	BatchSize int

	// NonPersistent names are silently stripped before saving.
	NonPersistent []string

	// SaveWithoutDefinition lets properties the definition does not declare
	// through with a best-effort prototype. When false they are dropped.
	SaveWithoutDefinition bool

	Resolver DefinitionResolver
	Codec    *value.Codec
	Bus      *Bus
}

type Store struct {
	db       *propdb.DB
	catalog  *proto.Catalog
	codec    *value.Codec
	resolver DefinitionResolver
	bus      *Bus
	log      zerolog.Logger
	metrics  *metrics.Metrics
	cache    *lookup.Cache[EntityKey, value.Map]

	kinds         map[Kind]bool
	nonPersistent map[string]bool
	batchSize     int
	saveUnknown   bool
}

func New(db *propdb.DB, catalog *proto.Catalog, opt Options) *Store {
	if opt.Metrics == nil {
		opt.Metrics = metrics.Nop()
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = DefaultBatchSize
	}
	if opt.Codec == nil {
		opt.Codec = value.NewCodec(opt.Logger)
	}
	if opt.Bus == nil {
		opt.Bus = NewBus()
	}
	s := &Store{
		db:            db,
		catalog:       catalog,
		codec:         opt.Codec,
		resolver:      opt.Resolver,
		bus:           opt.Bus,
		log:           opt.Logger,
		metrics:       opt.Metrics,
		batchSize:     opt.BatchSize,
		saveUnknown:   opt.SaveWithoutDefinition,
		nonPersistent: make(map[string]bool),
	}
	if len(opt.Kinds) > 0 {
		s.kinds = make(map[Kind]bool)
		for _, k := range opt.Kinds {
			s.kinds[k] = true
		}
	}
	for _, name := range opt.NonPersistent {
		s.nonPersistent[name] = true
	}
	s.cache = lookup.New(lookup.Options{Name: "properties", Size: opt.CacheSize, Metrics: opt.Metrics}, s.loadOne)
	return s
}

func (s *Store) Bus() *Bus {
	return s.bus
}

func (s *Store) supports(k EntityKey) bool {
	if s.kinds != nil && !s.kinds[k.Kind] {
		s.log.Warn().Stringer("key", k).Msg("unsupported entity kind")
		return false
	}
	return true
}

// Load returns the properties of an entity. An entity without properties
// has an empty map. The result is a copy the caller may modify.
func (s *Store) Load(ctx context.Context, key EntityKey) (value.Map, error) {
	if !s.supports(key) {
		return value.Map{}, nil
	}
	m, _, err := s.cache.Get(ctx, key.Bean())
	if err != nil {
		return nil, err
	}
	return maps.Clone(m), nil
}

func (s *Store) loadOne(ctx context.Context, key EntityKey) (value.Map, bool, error) {
	var m value.Map
	err := s.db.Read(func(tx *propdb.Tx) error {
		var err error
		m, err = s.read(ctx, tx, key)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return m, true, nil
}

// LoadBatch loads many entities, reading uncached ones with one
// transaction per chunk of BatchSize keys of the same kind.
func (s *Store) LoadBatch(ctx context.Context, keys []EntityKey) (map[EntityKey]value.Map, error) {
	result := make(map[EntityKey]value.Map, len(keys))
	byKind := make(map[Kind][]EntityKey)
	var kinds []Kind
	for _, key := range keys {
		if _, done := result[key]; done {
			continue
		}
		if !s.supports(key) {
			result[key] = value.Map{}
			continue
		}
		if m, ok := s.cache.Peek(key.Bean()); ok {
			result[key] = maps.Clone(m)
			continue
		}
		if _, seen := byKind[key.Kind]; !seen {
			kinds = append(kinds, key.Kind)
		}
		byKind[key.Kind] = append(byKind[key.Kind], key)
		result[key] = nil
	}

	for _, kind := range kinds {
		for chunk := range slices.Chunk(byKind[kind], s.batchSize) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			err := s.db.Read(func(tx *propdb.Tx) error {
				for _, key := range chunk {
					m, err := s.read(ctx, tx, key)
					if err != nil {
						return err
					}
					s.cache.Set(key.Bean(), m)
					result[key] = maps.Clone(m)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
	}
	return result, nil
}

// read decodes and collapses all rows of an entity.
func (s *Store) read(ctx context.Context, tx *propdb.Tx, key EntityKey) (value.Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := value.Map{}
	var group []*Row
	flush := func() error {
		if len(group) == 0 {
			return nil
		}
		defer func() { group = group[:0] }()
		pid := group[0].PropertyID
		p, err := s.catalog.FindByIDTx(tx, pid)
		if err != nil {
			s.log.Warn().Err(err).Stringer("key", key).Int64("property_id", pid).Msg("skipping rows of unknown prototype")
			return nil
		}
		v := collapse(s.codec, s.log, p.DataType, group)
		if _, dup := m[p.Name]; dup {
			s.log.Warn().Stringer("key", key).Str("name", p.Name).Int64("property_id", pid).Msg("several prototypes share a name, keeping the last one")
		}
		m[p.Name] = v
		return nil
	}
	for r, err := range Rows.Scan(tx, entityPrefix(key.Kind, key.BeanID)) {
		if err != nil {
			return nil, err
		}
		if len(group) > 0 && group[0].PropertyID != r.PropertyID {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		group = append(group, r)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return m, nil
}

// prepared is a property converted to its canonical value and cells.
type prepared struct {
	proto proto.Prototype
	value value.Value
	cells []cell
}

// Save writes props for the entity and returns the resulting property map.
// AddOnly with an empty map touches nothing and returns the cached map, or
// nil when the entity is not cached.
// In Replace mode properties absent from props are deleted; in AddOnly
// mode they are kept. Only properties that actually differ are touched.
// Values that cannot be converted to their declared type are dropped.
func (s *Store) Save(ctx context.Context, key EntityKey, props value.Map, mode Mode) (value.Map, error) {
	if !s.supports(key) {
		return nil, nil
	}
	if mode == AddOnly && len(props) == 0 {
		if m, ok := s.cache.Peek(key.Bean()); ok {
			return maps.Clone(m), nil
		}
		return nil, nil
	}
	start := time.Now()
	result, err := s.save(ctx, key, props, mode)
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.PropertySavesTotal.WithLabelValues(mode.String(), status).Inc()
	s.metrics.PropertySaveDuration.Observe(time.Since(start).Seconds())
	return result, err
}

func (s *Store) save(ctx context.Context, key EntityKey, props value.Map, mode Mode) (value.Map, error) {
	current, err := s.Load(ctx, key)
	if err != nil {
		return nil, err
	}

	var model Model
	if s.resolver != nil {
		model, err = s.resolver.ResolveModel(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("props: resolve definition of %v: %w", key, err)
		}
	}

	prep := make(map[string]*prepared, len(props))
	for _, name := range slices.Sorted(maps.Keys(props)) {
		v := props[name]
		if s.nonPersistent[name] || v.IsNull() {
			continue
		}
		p, err := s.prepare(ctx, key, model, name, v)
		if err != nil {
			return nil, err
		}
		if p != nil {
			prep[name] = p
		}
	}

	updated := make(value.Map, len(prep))
	for name, p := range prep {
		updated[name] = p.value
	}
	old := current
	if mode == AddOnly {
		old = make(value.Map, len(updated))
		for name := range updated {
			if v, ok := current[name]; ok {
				old[name] = v
			}
		}
	}

	diff := Compare(old, updated)
	result := diff.Apply(current)
	if diff.IsEmpty() {
		return result, nil
	}

	var deletes []int64
	for _, name := range diff.Deleted() {
		protos, err := s.catalog.FindByName(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, p := range protos {
			deletes = append(deletes, p.ID)
		}
	}
	var inserts []Row
	for _, name := range diff.Inserted() {
		p := prep[name]
		for _, c := range p.cells {
			inserts = append(inserts, Row{
				BeanType:   key.Kind,
				BeanID:     key.BeanID,
				PropertyID: p.proto.ID,
				ListIndex:  c.ListIndex,
				Value:      c.Value,
			})
		}
	}

	var deleted int
	err = s.db.Write(func(tx *propdb.Tx) error {
		deleted = 0
		for _, pid := range deletes {
			n, err := Rows.DeletePrefix(tx, propertyPrefix(key.Kind, key.BeanID, pid))
			if err != nil {
				return err
			}
			deleted += n
		}
		for i := range inserts {
			id, err := tx.NextSequence(rowSequence)
			if err != nil {
				return err
			}
			inserts[i].ID = int64(id)
			if err := Rows.Put(tx, &inserts[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.cache.Delete(key.Bean())
		return nil, &SaveError{Key: key, Mode: mode, Old: current, New: props, Diff: diff, Deletes: deletes, Inserts: inserts, Err: err}
	}
	s.metrics.PropertyRowsWritten.WithLabelValues("delete").Add(float64(deleted))
	s.metrics.PropertyRowsWritten.WithLabelValues("insert").Add(float64(len(inserts)))
	s.log.Debug().Stringer("key", key).Stringer("mode", mode).Int("changes", len(diff)).Int("deleted", deleted).Int("inserted", len(inserts)).Msg("properties saved")

	s.cache.Set(key.Bean(), maps.Clone(result))
	s.publish(ctx, key, diff.Added(), diff.Removed())
	return result, nil
}

// prepare picks the prototype for a property and converts the value to
// it. A nil result means the property is dropped.
func (s *Store) prepare(ctx context.Context, key EntityKey, model Model, name string, v value.Value) (*prepared, error) {
	var p proto.Prototype
	var err error
	if f, ok := fieldOf(model, name); ok {
		v, ok = fitMultiplicity(v, f.MultiValued)
		if !ok {
			s.drop(key, name, "multiplicity", nil)
			return nil, nil
		}
		if f.PrototypeID != 0 {
			p, err = s.catalog.FindByID(ctx, f.PrototypeID)
		} else {
			p, err = s.catalog.FindOrCreate(ctx, name, f.MultiValued, f.DataType)
		}
		if err != nil {
			return nil, err
		}
	} else {
		if model != nil && !s.saveUnknown {
			s.drop(key, name, "undeclared", nil)
			return nil, nil
		}
		p, err = s.fallbackPrototype(ctx, name, v)
		if err != nil {
			return nil, err
		}
		s.log.Debug().Stringer("key", key).Str("name", name).Stringer("prototype", p).Msg("property not declared, using fallback prototype")
	}

	canonical, err := s.codec.Converter.Convert(p.DataType, v)
	if err != nil {
		s.drop(key, name, "conversion", err)
		return nil, nil
	}
	cells, err := explode(s.codec, p.DataType, canonical)
	if err != nil {
		s.drop(key, name, "conversion", err)
		return nil, nil
	}
	return &prepared{proto: p, value: canonical, cells: cells}, nil
}

func fieldOf(model Model, name string) (Field, bool) {
	if model == nil {
		return Field{}, false
	}
	return model.Field(name)
}

// fitMultiplicity wraps a scalar for a multi-valued field and unwraps a
// one-item collection for a single-valued one.
func fitMultiplicity(v value.Value, multi bool) (value.Value, bool) {
	switch {
	case multi && !v.IsCollection():
		return value.List(v), true
	case !multi && v.IsCollection():
		if v.Len() != 1 {
			return value.Null(), false
		}
		return v.Index(0), true
	}
	return v, true
}

// fallbackPrototype chooses a prototype for a property without a
// declaration: an existing one with the detected type if any, promoting a
// single-valued one when a collection arrives, otherwise a new one.
func (s *Store) fallbackPrototype(ctx context.Context, name string, v value.Value) (proto.Prototype, error) {
	dt := value.DetectDataType(v)
	multi := v.IsCollection()
	existing, err := s.catalog.FindByName(ctx, name)
	if err != nil {
		return proto.Prototype{}, err
	}
	var sameType *proto.Prototype
	for i, p := range existing {
		if p.DataType != dt && !(multi && v.Len() == 0) {
			continue
		}
		if p.MultiValued == multi {
			return p, nil
		}
		if sameType == nil {
			sameType = &existing[i]
		}
	}
	if sameType != nil {
		if multi {
			return s.catalog.Promote(ctx, sameType.ID)
		}
		return *sameType, nil
	}
	return s.catalog.FindOrCreate(ctx, name, multi, dt)
}

func (s *Store) drop(key EntityKey, name, reason string, err error) {
	s.metrics.PropertiesDropped.WithLabelValues(reason).Inc()
	ev := s.log.Warn()
	if reason == "conversion" {
		ev = s.log.Debug()
	}
	ev.Err(err).Stringer("key", key).Str("name", name).Str("reason", reason).Msg("property dropped")
}

// Remove deletes the named properties of an entity.
func (s *Store) Remove(ctx context.Context, key EntityKey, names ...string) error {
	if !s.supports(key) || len(names) == 0 {
		return nil
	}
	current, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	var pids []int64
	removed := value.Map{}
	for _, name := range names {
		protos, err := s.catalog.FindByName(ctx, name)
		if err != nil {
			return err
		}
		for _, p := range protos {
			pids = append(pids, p.ID)
		}
		if v, ok := current[name]; ok {
			removed[name] = v
		}
	}
	if len(removed) == 0 {
		return nil
	}
	err = s.db.Write(func(tx *propdb.Tx) error {
		for _, pid := range pids {
			if _, err := Rows.DeletePrefix(tx, propertyPrefix(key.Kind, key.BeanID, pid)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		s.cache.Delete(key.Bean())
		return fmt.Errorf("props: remove %v from %v: %w", names, key, err)
	}
	for name := range removed {
		delete(current, name)
	}
	s.cache.Set(key.Bean(), current)
	s.publish(ctx, key, nil, removed)
	return nil
}

// RemoveAll deletes every property of an entity.
func (s *Store) RemoveAll(ctx context.Context, key EntityKey) error {
	if !s.supports(key) {
		return nil
	}
	current, err := s.Load(ctx, key)
	if err != nil {
		return err
	}
	var n int
	err = s.db.Write(func(tx *propdb.Tx) error {
		var err error
		n, err = Rows.DeletePrefix(tx, entityPrefix(key.Kind, key.BeanID))
		return err
	})
	if err != nil {
		s.cache.Delete(key.Bean())
		return fmt.Errorf("props: remove all from %v: %w", key, err)
	}
	s.metrics.PropertyRowsWritten.WithLabelValues("delete").Add(float64(n))
	s.cache.Set(key.Bean(), value.Map{})
	if len(current) > 0 {
		s.publish(ctx, key, nil, current)
	}
	return nil
}

// Invalidate drops the cached properties of an entity, under every
// revision and path.
func (s *Store) Invalidate(key EntityKey) {
	s.cache.Delete(key.Bean())
}

func (s *Store) publish(ctx context.Context, key EntityKey, added, removed value.Map) {
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	s.bus.Publish(ctx, &ChangeEvent{
		ID:        uuid.New(),
		Key:       key,
		Added:     added,
		Removed:   removed,
		Operation: OperationFrom(ctx),
		At:        time.Now(),
	})
}
