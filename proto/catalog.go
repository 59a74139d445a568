// Package proto maintains property prototypes: the stable numeric ids that
// the property store uses in place of property names.
package proto

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/internal/metrics"
	"github.com/andreyvit/propdb/lookup"
	"github.com/andreyvit/propdb/value"
)

var ErrNotFound = errors.New("proto: prototype not found")

// Prototype describes a property independently of any entity. Prototypes
// are append-only; the only permitted changes are a multi-valued promotion
// and definition linkage.
type Prototype struct {
	ID          int64          `msgpack:"id" json:"id"`
	Name        string         `msgpack:"name" json:"name"`
	DataType    value.DataType `msgpack:"dt" json:"dt"`
	MultiValued bool           `msgpack:"mv" json:"mv"`
	DefinedOn   uint64         `msgpack:"def,omitempty" json:"def,omitempty"`
}

// NaturalKey is the identity of a prototype.
type NaturalKey struct {
	Name        string
	MultiValued bool
	DataType    value.DataType
}

func (p Prototype) Key() NaturalKey {
	return NaturalKey{p.Name, p.MultiValued, p.DataType}
}

func (p Prototype) String() string {
	if p.MultiValued {
		return fmt.Sprintf("%s#%d(%s[])", p.Name, p.ID, p.DataType)
	}
	return fmt.Sprintf("%s#%d(%s)", p.Name, p.ID, p.DataType)
}

type nameRow struct {
	Name        string         `msgpack:"name"`
	DataType    value.DataType `msgpack:"dt"`
	MultiValued bool           `msgpack:"mv"`
	ID          int64          `msgpack:"id"`
}

func naturalKey(k NaturalKey) propdb.Key {
	return propdb.MakeKey(k.Name, string(k.DataType), k.MultiValued)
}

var (
	Prototypes = propdb.DefineTable("prototypes", func(p *Prototype) propdb.Key {
		return propdb.MakeKey(p.ID)
	})
	PrototypesByName = propdb.DefineTable("prototypes_by_name", func(r *nameRow) propdb.Key {
		return naturalKey(NaturalKey{r.Name, r.MultiValued, r.DataType})
	})
)

const sequenceName = "prototypes"

type Options struct {
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	CacheSize int
}

// Catalog is a find-or-create cache over the prototype tables.
type Catalog struct {
	db      *propdb.DB
	log     zerolog.Logger
	metrics *metrics.Metrics

	byID  *lookup.Cache[int64, Prototype]
	byKey *lookup.Cache[NaturalKey, Prototype]

	// writeMu serializes creation and promotion so that the check for an
	// existing row and the insert observe the same state.
	writeMu sync.Mutex
}

func New(db *propdb.DB, opt Options) *Catalog {
	if opt.Metrics == nil {
		opt.Metrics = metrics.Nop()
	}
	c := &Catalog{
		db:      db,
		log:     opt.Logger.With().Str("component", "proto").Logger(),
		metrics: opt.Metrics,
	}
	c.byID = lookup.New(lookup.Options{Name: "prototype_by_id", Size: opt.CacheSize, Metrics: opt.Metrics}, c.loadByID)
	c.byKey = lookup.New(lookup.Options{Name: "prototype_by_key", Size: opt.CacheSize, Metrics: opt.Metrics}, c.loadByKey)
	return c
}

func (c *Catalog) loadByID(ctx context.Context, id int64) (Prototype, bool, error) {
	var result Prototype
	var found bool
	err := c.db.Read(func(tx *propdb.Tx) error {
		p, err := Prototypes.Get(tx, propdb.MakeKey(id))
		if p != nil {
			result, found = *p, true
		}
		return err
	})
	return result, found, err
}

func (c *Catalog) loadByKey(ctx context.Context, key NaturalKey) (Prototype, bool, error) {
	var result Prototype
	var found bool
	err := c.db.Read(func(tx *propdb.Tx) error {
		p, err := findByKey(tx, key)
		if p != nil {
			result, found = *p, true
		}
		return err
	})
	return result, found, err
}

func findByKey(tx *propdb.Tx, key NaturalKey) (*Prototype, error) {
	r, err := PrototypesByName.Get(tx, naturalKey(key))
	if err != nil || r == nil {
		return nil, err
	}
	p, err := Prototypes.Get(tx, propdb.MakeKey(r.ID))
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("proto: index entry %s points at missing prototype %d", key.Name, r.ID)
	}
	return p, nil
}

// FindByID returns ErrNotFound for an unknown id.
func (c *Catalog) FindByID(ctx context.Context, id int64) (Prototype, error) {
	if err := ctx.Err(); err != nil {
		return Prototype{}, err
	}
	p, found, err := c.byID.Get(ctx, id)
	if err != nil {
		return Prototype{}, err
	}
	if !found {
		return Prototype{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return p, nil
}

// FindByIDTx is FindByID for callers already holding a transaction.
func (c *Catalog) FindByIDTx(tx *propdb.Tx, id int64) (Prototype, error) {
	if p, ok := c.byID.Peek(id); ok {
		return p, nil
	}
	p, err := Prototypes.Get(tx, propdb.MakeKey(id))
	if err != nil {
		return Prototype{}, err
	}
	if p == nil {
		return Prototype{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	c.byID.Set(id, *p)
	return *p, nil
}

// Find looks a prototype up by its natural key without creating it.
func (c *Catalog) Find(ctx context.Context, key NaturalKey) (Prototype, bool, error) {
	if err := ctx.Err(); err != nil {
		return Prototype{}, false, err
	}
	return c.byKey.Get(ctx, key)
}

// FindOrCreate returns the prototype for (name, multiValued, dt), creating
// it in a dedicated write transaction if needed. The creating transaction
// commits on its own, so the prototype survives any later failure of the
// caller's work. Must not be called while holding a write transaction.
func (c *Catalog) FindOrCreate(ctx context.Context, name string, multiValued bool, dt value.DataType) (Prototype, error) {
	if name == "" {
		return Prototype{}, fmt.Errorf("proto: empty property name")
	}
	key := NaturalKey{name, multiValued, dt}
	p, found, err := c.Find(ctx, key)
	if err != nil || found {
		return p, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var created bool
	err = c.db.Write(func(tx *propdb.Tx) error {
		existing, err := findByKey(tx, key)
		if err != nil {
			return err
		}
		if existing != nil {
			p = *existing
			return nil
		}
		id, err := tx.NextSequence(sequenceName)
		if err != nil {
			return err
		}
		p = Prototype{ID: int64(id), Name: name, DataType: dt, MultiValued: multiValued}
		created = true
		return put(tx, &p)
	})
	if err != nil {
		return Prototype{}, fmt.Errorf("proto: create %s: %w", name, err)
	}
	if created {
		c.metrics.PrototypesCreatedTotal.Inc()
		c.log.Debug().Int64("id", p.ID).Str("name", name).Stringer("datatype", dt).Bool("multi_valued", multiValued).Msg("prototype created")
	}
	c.cache(p)
	return p, nil
}

func put(tx *propdb.Tx, p *Prototype) error {
	if err := Prototypes.Put(tx, p); err != nil {
		return err
	}
	return PrototypesByName.Put(tx, &nameRow{Name: p.Name, DataType: p.DataType, MultiValued: p.MultiValued, ID: p.ID})
}

func (c *Catalog) cache(p Prototype) {
	c.byID.Set(p.ID, p)
	c.byKey.Set(p.Key(), p)
}

// FindByName returns every prototype with the given name, ordered by data
// type and then multi-valuedness.
func (c *Catalog) FindByName(ctx context.Context, name string) ([]Prototype, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []Prototype
	err := c.db.Read(func(tx *propdb.Tx) error {
		for r, err := range PrototypesByName.Scan(tx, propdb.MakeKey(name)) {
			if err != nil {
				return err
			}
			p, err := Prototypes.Get(tx, propdb.MakeKey(r.ID))
			if err != nil {
				return err
			}
			if p != nil {
				result = append(result, *p)
			}
		}
		return nil
	})
	return result, err
}

// Promote turns a single-valued prototype into a multi-valued one, keeping
// its id. If a multi-valued prototype with the same name and type already
// exists, that one is returned and nothing changes.
func (c *Catalog) Promote(ctx context.Context, id int64) (Prototype, error) {
	p, err := c.FindByID(ctx, id)
	if err != nil || p.MultiValued {
		return p, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	old := p.Key()
	err = c.db.Write(func(tx *propdb.Tx) error {
		target := NaturalKey{p.Name, true, p.DataType}
		existing, err := findByKey(tx, target)
		if err != nil {
			return err
		}
		if existing != nil {
			p = *existing
			return nil
		}
		if _, err := PrototypesByName.Delete(tx, naturalKey(old)); err != nil {
			return err
		}
		p.MultiValued = true
		return put(tx, &p)
	})
	if err != nil {
		return Prototype{}, fmt.Errorf("proto: promote %d: %w", id, err)
	}
	if p.ID == id {
		c.log.Info().Int64("id", id).Str("name", p.Name).Msg("prototype promoted to multi-valued")
		c.byKey.Delete(old)
	}
	c.cache(p)
	return p, nil
}

// LinkDefinition records the hash of the definition that declares the
// prototype.
func (c *Catalog) LinkDefinition(ctx context.Context, id int64, definedOn uint64) error {
	p, err := c.FindByID(ctx, id)
	if err != nil || p.DefinedOn == definedOn {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	err = c.db.Write(func(tx *propdb.Tx) error {
		cur, err := Prototypes.Get(tx, propdb.MakeKey(id))
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		p = *cur
		p.DefinedOn = definedOn
		return Prototypes.Put(tx, &p)
	})
	if err != nil {
		return fmt.Errorf("proto: link %d: %w", id, err)
	}
	c.cache(p)
	return nil
}

// All returns every prototype in id order.
func (c *Catalog) All(ctx context.Context) ([]Prototype, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var result []Prototype
	err := c.db.Read(func(tx *propdb.Tx) error {
		for p, err := range Prototypes.Scan(tx, nil) {
			if err != nil {
				return err
			}
			result = append(result, *p)
		}
		return nil
	})
	return result, err
}
