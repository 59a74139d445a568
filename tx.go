package propdb

import (
	"encoding/binary"
	"fmt"
	"runtime/debug"
	"time"
)

const sequenceBucket = "_seq"

type Tx struct {
	db        *DB
	stx       storageTx
	written   bool
	finished  bool
	startTime time.Time
	stack     []byte

	changeHandler func(chg *Change)
}

func (db *DB) newTx(stx storageTx) *Tx {
	tx := &Tx{
		db:        db,
		stx:       stx,
		startTime: time.Now(),
	}
	if trackTxns {
		tx.stack = debug.Stack()
		db.addTx(tx)
	}
	if stx.Writable() {
		db.WriterCount.Add(1)
		db.WriteCount.Add(1)
	} else {
		db.ReaderCount.Add(1)
		db.ReadCount.Add(1)
	}
	return tx
}

func (tx *Tx) DB() *DB {
	return tx.db
}

func (tx *Tx) IsWritable() bool {
	return tx.stx.Writable()
}

// OnChange installs a handler called after every row put or delete.
func (tx *Tx) OnChange(f func(chg *Change)) {
	tx.changeHandler = f
}

// Tx runs f in a transaction. A writable transaction is committed when f
// returns nil and rolled back otherwise. A panic inside f is recovered and
// returned as an error.
func (db *DB) Tx(writable bool, f func(tx *Tx) error) error {
	tx, err := db.Begin(writable)
	if err != nil {
		return err
	}
	defer tx.Close()

	err = safelyCall(f, tx)
	if err == nil && writable {
		err = tx.Commit()
	}
	tx.observe(err)
	return err
}

func (db *DB) Read(f func(tx *Tx) error) error {
	return db.Tx(false, f)
}

func (db *DB) Write(f func(tx *Tx) error) error {
	return db.Tx(true, f)
}

// Begin starts an unmanaged transaction; the caller must Close it, after
// calling Commit for writable ones.
func (db *DB) Begin(writable bool) (*Tx, error) {
	stx, err := db.st.BeginTx(writable)
	if err != nil {
		return nil, fmt.Errorf("propdb: begin (writable=%v): %w", writable, err)
	}
	return db.newTx(stx), nil
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(*Tx) error, tx *Tx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}

func (tx *Tx) Commit() error {
	if tx.finished {
		return fmt.Errorf("propdb: commit: tx already finished")
	}
	size := tx.stx.Size()
	err := tx.stx.Commit()
	tx.finish()
	if err != nil {
		return fmt.Errorf("propdb: commit: %w", err)
	}
	if tx.written {
		tx.db.lastSize.Store(size)
		tx.db.metrics.StorageSizeBytes.Set(float64(size))
	}
	return nil
}

// Close rolls back the transaction unless it has been committed.
func (tx *Tx) Close() {
	if tx.finished {
		return
	}
	err := tx.stx.Rollback()
	tx.finish()
	if err != nil {
		tx.db.log.Error().Err(err).Msg("rollback failed")
	}
}

func (tx *Tx) finish() {
	tx.finished = true
	if tx.stx.Writable() {
		tx.db.WriterCount.Add(-1)
	} else {
		tx.db.ReaderCount.Add(-1)
	}
	if trackTxns {
		tx.db.removeTx(tx)
	}
}

func (tx *Tx) observe(err error) {
	mode, status := "read", "ok"
	if tx.stx.Writable() {
		mode = "write"
	}
	if err != nil {
		status = "error"
	}
	tx.db.metrics.TxDuration.WithLabelValues(mode, status).Observe(time.Since(tx.startTime).Seconds())
}

func (tx *Tx) bucket(name string) storageBucket {
	return tx.stx.Bucket(name)
}

func (tx *Tx) writableBucket(name string) (storageBucket, error) {
	if !tx.stx.Writable() {
		return nil, fmt.Errorf("propdb: %s: write in a read-only tx", name)
	}
	b := tx.stx.Bucket(name)
	if b != nil {
		return b, nil
	}
	return tx.stx.CreateBucket(name)
}

func (tx *Tx) notify(chg *Change) {
	tx.written = true
	tx.db.metrics.StorageOperationsTotal.WithLabelValues(chg.Table, chg.Op.String()).Inc()
	if tx.db.verbose {
		tx.db.log.Debug().Str("table", chg.Table).Stringer("op", chg.Op).Stringer("key", chg.Key).Msg("row change")
	}
	if tx.changeHandler != nil {
		tx.changeHandler(chg)
	}
}

// NextSequence returns the next value of a named counter, starting at 1.
func (tx *Tx) NextSequence(name string) (uint64, error) {
	b, err := tx.writableBucket(sequenceBucket)
	if err != nil {
		return 0, err
	}
	key := []byte(name)
	var n uint64
	if raw := b.Get(key); raw != nil {
		if len(raw) != 8 {
			return 0, dataErrf(raw, 0, nil, "invalid sequence %q", name)
		}
		n = binary.BigEndian.Uint64(raw)
	}
	n++
	err = b.Put(key, binary.BigEndian.AppendUint64(nil, n))
	if err != nil {
		return 0, fmt.Errorf("propdb: sequence %s: %w", name, err)
	}
	return n, nil
}
