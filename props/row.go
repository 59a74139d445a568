package props

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/value"
)

// Row is one stored property value. A multi-valued property is exploded
// into one row per item, numbered by ListIndex from 0.
type Row struct {
	ID         int64           `msgpack:"id" json:"id"`
	BeanType   Kind            `msgpack:"bt" json:"bean_type"`
	BeanID     string          `msgpack:"bid" json:"bean_id"`
	PropertyID int64           `msgpack:"pid" json:"property_id"`
	ListIndex  int32           `msgpack:"li" json:"list_index"`
	Value      value.Persisted `msgpack:"v" json:"value"`
}

func (r *Row) PropertyKey() value.PropertyKey {
	return value.PropertyKey{PropertyID: r.PropertyID, ListIndex: r.ListIndex}
}

// Rows orders an entity's rows by property id, then list index.
var Rows = propdb.DefineTable("properties", func(r *Row) propdb.Key {
	return propdb.MakeKey(int32(r.BeanType), r.BeanID, r.PropertyID, r.ListIndex, r.ID)
})

const rowSequence = "properties"

func entityPrefix(kind Kind, beanID string) propdb.Key {
	return propdb.MakeKey(int32(kind), beanID)
}

func propertyPrefix(kind Kind, beanID string, propertyID int64) propdb.Key {
	return propdb.MakeKey(int32(kind), beanID, propertyID)
}

// cell is a row without its identity.
type cell struct {
	ListIndex int32
	Value     value.Persisted
}

// explode turns a canonical value into the cells to store. An empty
// collection is stored as a single marker cell.
func explode(codec *value.Codec, dt value.DataType, v value.Value) ([]cell, error) {
	if !v.IsCollection() {
		p, err := codec.ToPersisted(dt, v)
		if err != nil {
			return nil, err
		}
		return []cell{{ListIndex: value.NotInList, Value: p}}, nil
	}
	if v.Len() == 0 {
		return []cell{{ListIndex: value.NotInList, Value: value.EmptyCollectionMarker()}}, nil
	}
	cells := make([]cell, 0, v.Len())
	for i, item := range v.Items() {
		if item.IsNull() {
			return nil, fmt.Errorf("null item at index %d", i)
		}
		p, err := codec.ToPersisted(dt, item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		cells = append(cells, cell{ListIndex: int32(i), Value: p})
	}
	return cells, nil
}

// collapse rebuilds one property from its rows, which must share a
// PropertyID and be sorted by ListIndex. Duplicate positions keep the last
// row; a stray unindexed row next to indexed ones is ignored.
func collapse(codec *value.Codec, log zerolog.Logger, dt value.DataType, rows []*Row) value.Value {
	var single *Row
	var items []value.Value
	lastIndex := value.NotInList
	for _, r := range rows {
		if r.ListIndex == value.NotInList {
			if single != nil {
				log.Warn().Int64("property_id", r.PropertyID).Int64("row", r.ID).Msg("duplicate property row, keeping the last one")
			}
			single = r
			continue
		}
		v := codec.FromPersisted(dt, r.Value)
		if len(items) > 0 && r.ListIndex == lastIndex {
			log.Warn().Int64("property_id", r.PropertyID).Int32("list_index", r.ListIndex).Int64("row", r.ID).Msg("duplicate list position, keeping the last one")
			items[len(items)-1] = v
			continue
		}
		items = append(items, v)
		lastIndex = r.ListIndex
	}
	if len(items) > 0 {
		if single != nil {
			log.Warn().Int64("property_id", single.PropertyID).Msg("unindexed row next to a collection, ignoring it")
		}
		return value.List(items...)
	}
	if single == nil {
		return value.Null()
	}
	return codec.FromPersisted(dt, single.Value)
}
