/*
Package propdb is an embedded storage engine for schema-flexible entity
properties. The root package provides the transactional key-value layer
that the property store (package props), the prototype catalog (package
proto) and the definition store (package defstore) are built on.

We implement:

1. Backends: Bolt (default), Badger and a transient in-memory store.
All of them expose the same bucket/cursor abstraction.

2. Tables, typed collections of msgpack-encoded rows stored in a bucket
each and keyed by an ordered binary Key derived from the row.

3. Named sequences for row ids.

# Technical Details

**Buckets.**
Bolt supports buckets natively. Badger simulates them via key prefixes,
see storage_badger.go. Buckets are created on first write.

**Key encoding.**
Keys are tuples encoded so that byte order equals tuple order and every
tuple prefix is a byte prefix. This makes prefix scans the primary query
mechanism: all rows of an entity, all revisions of a definition, and so on.

**Transactions.**
DB.Tx runs a closure, committing a writable transaction when it returns
nil. Bolt and the memory store allow a single writer at a time, so a
writer must never open another writable transaction on the same goroutine.
*/
package propdb
