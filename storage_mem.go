package propdb

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
)

// memStorage is a transient in-memory backend. Each transaction works on
// a copy-on-write snapshot of the bucket map; a single writer is allowed
// at a time, matching Bolt.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() storage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) Name() string { return "memory" }

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, ErrClosed
		}
		s.writer = true
	}

	return &memTx{
		writable: writable,
		base:     s,
		buckets:  maps.Clone(s.buckets),
		owned:    make(map[*memBucket]bool),
	}, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	owned    map[*memBucket]bool // buckets already copied by this tx
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name string) storageBucket {
	if tx.closed {
		panic("tx is closed")
	}
	if tx.buckets[name] == nil {
		return nil
	}
	return memBucketHandle{tx: tx, name: name}
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	if tx.buckets[name] == nil {
		b := &memBucket{}
		tx.buckets[name] = b
		tx.owned[b] = true
	}
	return memBucketHandle{tx: tx, name: name}, nil
}

// mutable returns a bucket this tx may modify, copying the shared snapshot
// on first write.
func (tx *memTx) mutable(name string) *memBucket {
	b := tx.buckets[name]
	if !tx.owned[b] {
		b = b.clone()
		tx.buckets[name] = b
		tx.owned[b] = true
	}
	return b
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return fmt.Errorf("tx not writable")
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return ErrClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

func (tx *memTx) Size() int64 {
	var n int64
	for _, b := range tx.buckets {
		for _, kv := range b.items {
			n += int64(len(kv.key) + len(kv.value))
		}
	}
	return n
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

func (b *memBucket) find(key []byte) (idx int, ok bool) {
	i := sort.Search(len(b.items), func(i int) bool {
		return bytes.Compare(b.items[i].key, key) >= 0
	})
	return i, i < len(b.items) && bytes.Equal(b.items[i].key, key)
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx   *memTx
	name string
}

func (h memBucketHandle) bucket() *memBucket {
	return h.tx.buckets[h.name]
}

func (h memBucketHandle) Get(key []byte) []byte {
	b := h.bucket()
	i, ok := b.find(key)
	if !ok {
		return nil
	}
	return b.items[i].value
}

func (h memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	b := h.tx.mutable(h.name)
	kv := memKV{key: slices.Clone(key), value: slices.Clone(value)}
	i, ok := b.find(key)
	if ok {
		b.items[i] = kv
		return nil
	}
	b.items = slices.Insert(b.items, i, kv)
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return fmt.Errorf("tx not writable")
	}
	if _, ok := h.bucket().find(key); !ok {
		return nil
	}
	b := h.tx.mutable(h.name)
	i, _ := b.find(key)
	b.items = slices.Delete(b.items, i, i+1)
	return nil
}

func (h memBucketHandle) Cursor() storageCursor {
	return &memCursor{items: slices.Clone(h.bucket().items), pos: -1}
}

func (h memBucketHandle) KeyCount() int { return len(h.bucket().items) }

// memCursor iterates over the items slice as it was when the cursor was
// created; later writes in the same tx are not observed.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) at() ([]byte, []byte) {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil, nil
	}
	kv := c.items[c.pos]
	return kv.key, kv.value
}

func (c *memCursor) First() ([]byte, []byte) {
	c.pos = 0
	return c.at()
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	c.pos = sort.Search(len(c.items), func(i int) bool {
		return bytes.Compare(c.items[i].key, seek) >= 0
	})
	return c.at()
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos < 0 {
		return c.First()
	}
	c.pos++
	return c.at()
}

func (c *memCursor) Close() {}
