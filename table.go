package propdb

import (
	"bytes"
	"fmt"
	"iter"
)

// Table stores msgpack-encoded rows of type Row in its own bucket, keyed by
// the Key its key function derives from each row.
type Table[Row any] struct {
	name            string
	keyOf           func(row *Row) Key
	suppressContent bool
}

func DefineTable[Row any](name string, keyOf func(row *Row) Key) *Table[Row] {
	if name == "" || name[0] == '_' {
		panic(fmt.Errorf("propdb: invalid table name %q", name))
	}
	return &Table[Row]{name: name, keyOf: keyOf}
}

// SuppressContent keeps row contents out of verbose logs and dumps.
func (t *Table[Row]) SuppressContent() *Table[Row] {
	t.suppressContent = true
	return t
}

func (t *Table[Row]) Name() string {
	return t.name
}

func (t *Table[Row]) KeyOf(row *Row) Key {
	return t.keyOf(row)
}

// Get returns nil if there is no row with this key.
func (t *Table[Row]) Get(tx *Tx, key Key) (*Row, error) {
	b := tx.bucket(t.name)
	if b == nil {
		return nil, nil
	}
	raw := b.Get(key)
	if raw == nil {
		return nil, nil
	}
	row := new(Row)
	err := decodeRow(raw, row)
	if err != nil {
		return nil, tableErrf(t.name, key, err, "get")
	}
	return row, nil
}

func (t *Table[Row]) Exists(tx *Tx, key Key) bool {
	b := tx.bucket(t.name)
	return b != nil && b.Get(key) != nil
}

func (t *Table[Row]) Put(tx *Tx, row *Row) error {
	key := t.keyOf(row)
	b, err := tx.writableBucket(t.name)
	if err != nil {
		return err
	}
	raw, err := encodeRow(nil, row)
	if err != nil {
		return tableErrf(t.name, key, err, "put")
	}
	if tx.db.verbose {
		tx.db.log.Debug().Str("table", t.name).Stringer("key", key).Str("row", loggableRow(t.suppressContent, row)).Msg("PUT")
	}
	err = b.Put(bytes.Clone(key), raw)
	if err != nil {
		return tableErrf(t.name, key, err, "put")
	}
	tx.notify(&Change{Table: t.name, Op: OpPut, Key: key})
	return nil
}

// Delete removes the row with the given key, reporting whether it existed.
func (t *Table[Row]) Delete(tx *Tx, key Key) (bool, error) {
	b, err := tx.writableBucket(t.name)
	if err != nil {
		return false, err
	}
	if b.Get(key) == nil {
		return false, nil
	}
	err = b.Delete(key)
	if err != nil {
		return false, tableErrf(t.name, key, err, "delete")
	}
	tx.notify(&Change{Table: t.name, Op: OpDelete, Key: key})
	return true, nil
}

// Scan yields the rows whose keys start with prefix, in key order. A nil
// prefix scans the whole table. Iteration stops at the first decoding
// error, which is yielded with a nil row.
func (t *Table[Row]) Scan(tx *Tx, prefix Key) iter.Seq2[*Row, error] {
	return func(yield func(*Row, error) bool) {
		for k, raw := range t.scanRaw(tx, prefix) {
			row := new(Row)
			if err := decodeRow(raw, row); err != nil {
				yield(nil, tableErrf(t.name, k, err, "scan"))
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// Keys yields the keys starting with prefix, in order.
func (t *Table[Row]) Keys(tx *Tx, prefix Key) iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for k := range t.scanRaw(tx, prefix) {
			if !yield(k) {
				return
			}
		}
	}
}

func (t *Table[Row]) scanRaw(tx *Tx, prefix Key) iter.Seq2[Key, []byte] {
	return func(yield func(Key, []byte) bool) {
		b := tx.bucket(t.name)
		if b == nil {
			return
		}
		c := b.Cursor()
		defer c.Close()
		var k, v []byte
		if len(prefix) == 0 {
			k, v = c.First()
		} else {
			k, v = c.Seek(prefix)
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if !yield(Key(bytes.Clone(k)), v) {
				return
			}
		}
	}
}

// DeletePrefix removes every row whose key starts with prefix and returns
// the number of rows removed.
func (t *Table[Row]) DeletePrefix(tx *Tx, prefix Key) (int, error) {
	var keys []Key
	for k := range t.Keys(tx, prefix) {
		keys = append(keys, k)
	}
	for _, k := range keys {
		if _, err := t.Delete(tx, k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (t *Table[Row]) Count(tx *Tx) int {
	b := tx.bucket(t.name)
	if b == nil {
		return 0
	}
	return b.KeyCount()
}
