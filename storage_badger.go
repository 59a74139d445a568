package propdb

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"
)

// Badger has no buckets, so they are emulated with key prefixes:
//
//	0x00 "bucket" 0x00 <name>      bucket marker
//	0x01 <name> 0x00 <key>         data
const (
	badgerMarkerPrefix = "\x00bucket\x00"
	badgerDataTag      = 0x01
)

// badgerStorage admits one writer at a time, like Bolt. Badger would run
// writers concurrently and fail all but one of them with ErrConflict
// whenever they touch a shared key such as a sequence counter.
type badgerStorage struct {
	bdb    *badger.DB
	writer sync.Mutex
}

func openBadgerStorage(path string, opt Options) (storage, error) {
	var bopt badger.Options
	if path == "" {
		bopt = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopt = badger.DefaultOptions(path)
	}
	bopt = bopt.WithSyncWrites(!opt.IsTesting && opt.SyncWrites)
	bopt = bopt.WithNumVersionsToKeep(1)
	bopt = bopt.WithLogger(badgerLogger{opt.Logger.With().Str("backend", "badger").Logger()})

	bdb, err := badger.Open(bopt)
	if err != nil {
		return nil, err
	}
	return &badgerStorage{bdb: bdb}, nil
}

func (s *badgerStorage) Name() string { return "badger" }

func (s *badgerStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		s.writer.Lock()
	}
	if s.bdb.IsClosed() {
		if writable {
			s.writer.Unlock()
		}
		return nil, ErrClosed
	}
	return &badgerTx{s: s, txn: s.bdb.NewTransaction(writable), writable: writable}, nil
}

func (s *badgerStorage) Close() error {
	return s.bdb.Close()
}

type badgerTx struct {
	s         *badgerStorage
	txn       *badger.Txn
	writable  bool
	done      bool
	cursors   []*badgerCursor
}

func (tx *badgerTx) Writable() bool { return tx.writable }

func (tx *badgerTx) Bucket(name string) storageBucket {
	_, err := tx.txn.Get([]byte(badgerMarkerPrefix + name))
	if err != nil {
		return nil
	}
	return tx.bucket(name)
}

func (tx *badgerTx) CreateBucket(name string) (storageBucket, error) {
	if !tx.writable {
		return nil, fmt.Errorf("tx not writable")
	}
	marker := []byte(badgerMarkerPrefix + name)
	_, err := tx.txn.Get(marker)
	if errors.Is(err, badger.ErrKeyNotFound) {
		err = tx.txn.Set(marker, []byte{1})
	}
	if err != nil {
		return nil, err
	}
	return tx.bucket(name), nil
}

func (tx *badgerTx) bucket(name string) badgerBucket {
	prefix := make([]byte, 0, len(name)+2)
	prefix = append(prefix, badgerDataTag)
	prefix = append(prefix, name...)
	prefix = append(prefix, 0)
	return badgerBucket{tx: tx, prefix: prefix}
}

func (tx *badgerTx) closeIterators() {
	for _, c := range tx.cursors {
		c.Close()
	}
	tx.cursors = nil
}

func (tx *badgerTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.closeIterators()
	tx.done = true
	defer tx.release()
	return tx.txn.Commit()
}

func (tx *badgerTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.closeIterators()
	tx.done = true
	tx.txn.Discard()
	tx.release()
	return nil
}

func (tx *badgerTx) release() {
	if tx.writable {
		tx.s.writer.Unlock()
	}
}

func (tx *badgerTx) Size() int64 {
	lsm, vlog := tx.s.bdb.Size()
	return lsm + vlog
}

type badgerBucket struct {
	tx     *badgerTx
	prefix []byte
}

func (b badgerBucket) fullKey(key []byte) []byte {
	k := make([]byte, 0, len(b.prefix)+len(key))
	k = append(k, b.prefix...)
	return append(k, key...)
}

func (b badgerBucket) Get(key []byte) []byte {
	item, err := b.tx.txn.Get(b.fullKey(key))
	if err != nil {
		return nil
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil
	}
	return v
}

func (b badgerBucket) Put(key, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)
	return b.tx.txn.Set(b.fullKey(key), v)
}

func (b badgerBucket) Delete(key []byte) error {
	return b.tx.txn.Delete(b.fullKey(key))
}

func (b badgerBucket) Cursor() storageCursor {
	opt := badger.DefaultIteratorOptions
	opt.Prefix = b.prefix
	c := &badgerCursor{it: b.tx.txn.NewIterator(opt), prefix: b.prefix}
	b.tx.cursors = append(b.tx.cursors, c)
	return c
}

func (b badgerBucket) KeyCount() int {
	opt := badger.DefaultIteratorOptions
	opt.Prefix = b.prefix
	opt.PrefetchValues = false
	it := b.tx.txn.NewIterator(opt)
	defer it.Close()
	var n int
	for it.Rewind(); it.ValidForPrefix(b.prefix); it.Next() {
		n++
	}
	return n
}

type badgerCursor struct {
	it     *badger.Iterator
	prefix []byte
	closed bool
}

func (c *badgerCursor) current() ([]byte, []byte) {
	if c.closed || !c.it.ValidForPrefix(c.prefix) {
		return nil, nil
	}
	item := c.it.Item()
	k := item.KeyCopy(nil)[len(c.prefix):]
	v, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil
	}
	return k, v
}

func (c *badgerCursor) First() ([]byte, []byte) {
	c.it.Rewind()
	return c.current()
}

func (c *badgerCursor) Seek(seek []byte) ([]byte, []byte) {
	k := make([]byte, 0, len(c.prefix)+len(seek))
	k = append(k, c.prefix...)
	c.it.Seek(append(k, seek...))
	return c.current()
}

func (c *badgerCursor) Next() ([]byte, []byte) {
	c.it.Next()
	return c.current()
}

// Close releases the iterator. Cursors left open are closed with the tx;
// badger refuses to discard a txn with live iterators.
func (c *badgerCursor) Close() {
	if !c.closed {
		c.closed = true
		c.it.Close()
	}
}

type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Trace().Msgf(format, args...)
}
