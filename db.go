package propdb

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andreyvit/propdb/internal/metrics"
)

const trackTxns = true

// Backend selects the key-value store under a DB.
type Backend string

const (
	BackendBolt   Backend = "bolt"
	BackendBadger Backend = "badger"
	BackendMemory Backend = "memory"
)

type DB struct {
	st      storage
	log     zerolog.Logger
	metrics *metrics.Metrics
	verbose bool

	lastSize    atomic.Int64
	ReaderCount atomic.Int64
	WriterCount atomic.Int64
	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64

	txns     []*Tx
	txnsLock sync.Mutex
}

type Options struct {
	Backend Backend
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// Verbose logs every row write at debug level.
	Verbose   bool
	IsTesting bool

	// Bolt
	MmapSize    int
	LockTimeout time.Duration

	// Badger
	SyncWrites bool
}

// Open opens (creating if needed) a database at path. An empty path is
// only valid for the memory backend and for Badger, which then runs in
// memory.
func Open(path string, opt Options) (*DB, error) {
	if opt.LockTimeout == 0 {
		opt.LockTimeout = 10 * time.Second
	}

	var st storage
	var err error
	switch opt.Backend {
	case BackendBolt, "":
		if path == "" {
			return nil, fmt.Errorf("propdb: bolt backend requires a path")
		}
		st, err = openBoltStorage(path, opt)
	case BackendBadger:
		st, err = openBadgerStorage(path, opt)
	case BackendMemory:
		st = newMemStorage()
	default:
		return nil, fmt.Errorf("propdb: unknown backend %q", opt.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("propdb: %w", err)
	}
	return newDB(st, opt), nil
}

// OpenMemory returns a transient in-memory database.
func OpenMemory(opt Options) *DB {
	return newDB(newMemStorage(), opt)
}

func newDB(st storage, opt Options) *DB {
	m := opt.Metrics
	if m == nil {
		m = metrics.Nop()
	}
	db := &DB{
		st:      st,
		log:     opt.Logger.With().Str("component", "db").Str("backend", st.Name()).Logger(),
		metrics: m,
		verbose: opt.Verbose,
	}
	db.log.Debug().Msg("db opened")
	return db
}

func (db *DB) Backend() string {
	return db.st.Name()
}

func (db *DB) Logger() zerolog.Logger {
	return db.log
}

func (db *DB) Metrics() *metrics.Metrics {
	return db.metrics
}

// Size returns the storage size observed at the last committed write.
func (db *DB) Size() int64 {
	return db.lastSize.Load()
}

func (db *DB) Close() error {
	err := db.st.Close()
	if err != nil {
		return fmt.Errorf("propdb: closing: %w", err)
	}
	return nil
}

func (db *DB) addTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()
	db.txns = append(db.txns, tx)
}

func (db *DB) removeTx(tx *Tx) {
	db.txnsLock.Lock()
	defer db.txnsLock.Unlock()

	i := slices.Index(db.txns, tx)
	if i < 0 {
		panic("tx not found in list")
	}
	n := len(db.txns)
	db.txns[i] = db.txns[n-1]
	db.txns[n-1] = nil // ensure it gets collected
	db.txns = db.txns[:n-1]
}

func (db *DB) DescribeOpenTxns() string {
	if !trackTxns {
		return "OPEN TX TRACKING DISABLED"
	}

	db.txnsLock.Lock()
	txns := slices.Clone(db.txns)
	db.txnsLock.Unlock()

	if len(txns) == 0 {
		return "NO OPEN TRANSACTIONS"
	}

	slices.SortFunc(txns, func(a, b *Tx) int {
		return a.startTime.Compare(b.startTime)
	})

	now := time.Now()

	var buf strings.Builder
	fmt.Fprintf(&buf, "%d OPEN TRANSACTIONS:\n", len(txns))
	for _, tx := range txns {
		ms := now.Sub(tx.startTime).Milliseconds()
		if ms < 100 {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms\n", ms)
		} else {
			fmt.Fprintf(&buf, "\n---\nopen for %d ms:\n%s", ms, tx.stack)
		}
	}

	return buf.String()
}
