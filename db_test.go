package propdb

import (
	"bytes"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/propdb/internal/metrics"
)

type widget struct {
	Group string `msgpack:"g"`
	N     int64  `msgpack:"n"`
	Name  string `msgpack:"name"`
}

var widgets = DefineTable("widgets", func(w *widget) Key {
	return MakeKey(w.Group, w.N)
})

var secrets = DefineTable("secrets", func(w *widget) Key {
	return MakeKey(w.Group)
}).SuppressContent()

func backends(t *testing.T, f func(t *testing.T, db *DB)) {
	t.Run("memory", func(t *testing.T) {
		db := OpenMemory(Options{IsTesting: true})
		t.Cleanup(func() { db.Close() })
		f(t, db)
	})
	t.Run("bolt", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{Backend: BackendBolt, IsTesting: true})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		f(t, db)
	})
	t.Run("badger", func(t *testing.T) {
		db, err := Open("", Options{Backend: BackendBadger, IsTesting: true})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		f(t, db)
	})
}

func putAll(t *testing.T, db *DB, rows ...*widget) {
	t.Helper()
	require.NoError(t, db.Write(func(tx *Tx) error {
		for _, w := range rows {
			if err := widgets.Put(tx, w); err != nil {
				return err
			}
		}
		return nil
	}))
}

func scanNames(t *testing.T, db *DB, prefix Key) []string {
	t.Helper()
	var names []string
	require.NoError(t, db.Read(func(tx *Tx) error {
		for w, err := range widgets.Scan(tx, prefix) {
			if err != nil {
				return err
			}
			names = append(names, w.Name)
		}
		return nil
	}))
	return names
}

func TestTable(t *testing.T) {
	backends(t, func(t *testing.T, db *DB) {
		require.NoError(t, db.Read(func(tx *Tx) error {
			w, err := widgets.Get(tx, MakeKey("a", 1))
			assert.Nil(t, w)
			assert.Equal(t, 0, widgets.Count(tx))
			assert.Empty(t, slices.Collect(widgets.Keys(tx, nil)))
			return err
		}))

		putAll(t, db,
			&widget{Group: "b", N: 1, Name: "b1"},
			&widget{Group: "a", N: 10, Name: "a10"},
			&widget{Group: "a", N: -5, Name: "a-5"},
			&widget{Group: "ab", N: 0, Name: "ab0"},
			&widget{Group: "a", N: 2, Name: "a2"},
		)

		require.NoError(t, db.Read(func(tx *Tx) error {
			w, err := widgets.Get(tx, MakeKey("a", 2))
			require.NoError(t, err)
			assert.Equal(t, &widget{Group: "a", N: 2, Name: "a2"}, w)
			assert.True(t, widgets.Exists(tx, MakeKey("b", 1)))
			assert.False(t, widgets.Exists(tx, MakeKey("b", 2)))
			assert.Equal(t, 5, widgets.Count(tx))
			return nil
		}))

		assert.Equal(t, []string{"a-5", "a2", "a10", "ab0", "b1"}, scanNames(t, db, nil))
		assert.Equal(t, []string{"a-5", "a2", "a10"}, scanNames(t, db, MakeKey("a")))
		assert.Empty(t, scanNames(t, db, MakeKey("c")))

		putAll(t, db, &widget{Group: "a", N: 2, Name: "a2 renamed"})
		assert.Equal(t, []string{"a-5", "a2 renamed", "a10"}, scanNames(t, db, MakeKey("a")))

		require.NoError(t, db.Write(func(tx *Tx) error {
			ok, err := widgets.Delete(tx, MakeKey("b", 1))
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = widgets.Delete(tx, MakeKey("b", 1))
			require.NoError(t, err)
			assert.False(t, ok)

			n, err := widgets.DeletePrefix(tx, MakeKey("a"))
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			return nil
		}))
		assert.Equal(t, []string{"ab0"}, scanNames(t, db, nil))
	})
}

func TestTableScanStopsEarly(t *testing.T) {
	backends(t, func(t *testing.T, db *DB) {
		putAll(t, db,
			&widget{Group: "a", N: 1, Name: "a1"},
			&widget{Group: "a", N: 2, Name: "a2"},
			&widget{Group: "a", N: 3, Name: "a3"},
		)
		var got []Key
		require.NoError(t, db.Read(func(tx *Tx) error {
			for k := range widgets.Keys(tx, MakeKey("a")) {
				got = append(got, k)
				if len(got) == 2 {
					break
				}
			}
			return nil
		}))
		require.Len(t, got, 2)

		var group string
		var n int64
		require.NoError(t, DecodeKey(got[1], &group, &n))
		assert.Equal(t, "a", group)
		assert.Equal(t, int64(2), n)
	})
}

func TestTx(t *testing.T) {
	backends(t, func(t *testing.T, db *DB) {
		t.Run("error rolls back", func(t *testing.T) {
			boom := errors.New("boom")
			err := db.Write(func(tx *Tx) error {
				require.NoError(t, widgets.Put(tx, &widget{Group: "x", N: 1, Name: "lost"}))
				return boom
			})
			assert.ErrorIs(t, err, boom)
			assert.Empty(t, scanNames(t, db, MakeKey("x")))
		})

		t.Run("panic is recovered", func(t *testing.T) {
			err := db.Write(func(tx *Tx) error {
				require.NoError(t, widgets.Put(tx, &widget{Group: "x", N: 2, Name: "lost"}))
				panic("kaboom")
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "panic: kaboom")
			assert.Empty(t, scanNames(t, db, MakeKey("x")))
		})

		t.Run("read-only", func(t *testing.T) {
			err := db.Read(func(tx *Tx) error {
				assert.False(t, tx.IsWritable())
				return widgets.Put(tx, &widget{Group: "x", N: 3})
			})
			assert.ErrorContains(t, err, "read-only tx")
		})

		t.Run("sequences", func(t *testing.T) {
			var got []uint64
			for range 3 {
				require.NoError(t, db.Write(func(tx *Tx) error {
					n, err := tx.NextSequence("widgets")
					got = append(got, n)
					return err
				}))
			}
			require.NoError(t, db.Write(func(tx *Tx) error {
				n, err := tx.NextSequence("other")
				assert.Equal(t, uint64(1), n)
				return err
			}))
			assert.Equal(t, []uint64{1, 2, 3}, got)
		})

		t.Run("change handler", func(t *testing.T) {
			var changes []Change
			require.NoError(t, db.Write(func(tx *Tx) error {
				tx.OnChange(func(chg *Change) { changes = append(changes, *chg) })
				if err := widgets.Put(tx, &widget{Group: "y", N: 1}); err != nil {
					return err
				}
				_, err := widgets.Delete(tx, MakeKey("y", 1))
				return err
			}))
			require.Len(t, changes, 2)
			assert.Equal(t, Change{Table: "widgets", Op: OpPut, Key: MakeKey("y", 1)}, changes[0])
			assert.Equal(t, OpDelete, changes[1].Op)
		})

		t.Run("open transactions", func(t *testing.T) {
			assert.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeOpenTxns())
			tx, err := db.Begin(false)
			require.NoError(t, err)
			assert.Equal(t, int64(1), db.ReaderCount.Load())
			assert.Contains(t, db.DescribeOpenTxns(), "1 OPEN TRANSACTIONS")
			tx.Close()
			tx.Close()
			assert.Equal(t, int64(0), db.ReaderCount.Load())
			assert.Equal(t, "NO OPEN TRANSACTIONS", db.DescribeOpenTxns())
		})

		t.Run("double commit", func(t *testing.T) {
			tx, err := db.Begin(true)
			require.NoError(t, err)
			defer tx.Close()
			require.NoError(t, tx.Commit())
			assert.ErrorContains(t, tx.Commit(), "already finished")
		})
	})
}

func TestClosed(t *testing.T) {
	backends(t, func(t *testing.T, db *DB) {
		require.NoError(t, db.Close())
		err := db.Read(func(tx *Tx) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestOpen(t *testing.T) {
	_, err := Open("", Options{Backend: BackendBolt})
	assert.ErrorContains(t, err, "requires a path")

	_, err = Open("x", Options{Backend: "leveldb"})
	assert.ErrorContains(t, err, `unknown backend "leveldb"`)

	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := Open(path, Options{IsTesting: true})
	require.NoError(t, err)
	assert.Equal(t, "bolt", db.Backend())
	putAll(t, db, &widget{Group: "p", N: 1, Name: "persisted"})
	assert.Positive(t, db.Size())
	require.NoError(t, db.Close())

	db, err = Open(path, Options{IsTesting: true})
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, []string{"persisted"}, scanNames(t, db, nil))
}

func TestMetricsAndLogging(t *testing.T) {
	var logs bytes.Buffer
	m := metrics.New("test", prometheus.NewRegistry())
	db := OpenMemory(Options{
		Logger:  zerolog.New(&logs).Level(zerolog.DebugLevel),
		Metrics: m,
		Verbose: true,
	})
	defer db.Close()

	putAll(t, db, &widget{Group: "m", N: 1, Name: "visible"})
	require.NoError(t, db.Write(func(tx *Tx) error {
		return secrets.Put(tx, &widget{Group: "s", Name: "hidden"})
	}))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("widgets", "put")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.StorageOperationsTotal.WithLabelValues("secrets", "put")))
	assert.Positive(t, testutil.ToFloat64(m.StorageSizeBytes))

	out := logs.String()
	assert.Contains(t, out, `"backend":"memory"`)
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "<suppressed>")
	assert.NotContains(t, out, "hidden")
}

func TestDump(t *testing.T) {
	db := OpenMemory(Options{})
	defer db.Close()
	putAll(t, db, &widget{Group: "d", N: 1, Name: "dumped"})
	require.NoError(t, db.Write(func(tx *Tx) error {
		return secrets.Put(tx, &widget{Group: "s", Name: "hidden"})
	}))

	require.NoError(t, db.Read(func(tx *Tx) error {
		out := tx.Dump(DumpAll, widgets, secrets)
		assert.Contains(t, out, "widgets (1 rows)")
		assert.Contains(t, out, `"Name":"dumped"`)
		assert.Contains(t, out, "secrets (1 rows)")
		assert.NotContains(t, out, "hidden")

		assert.False(t, strings.Contains(tx.Dump(DumpTableHeaders, widgets), "dumped"))
		assert.Equal(t, []TableStats{{"widgets", 1}, {"secrets", 1}}, tx.Stats(widgets, secrets))
		return nil
	}))
}

func TestDefineTableRejectsReservedNames(t *testing.T) {
	assert.Panics(t, func() { DefineTable("", func(w *widget) Key { return nil }) })
	assert.Panics(t, func() { DefineTable("_seq", func(w *widget) Key { return nil }) })
}

func TestConcurrentWriters(t *testing.T) {
	backends(t, func(t *testing.T, db *DB) {
		const n = 32
		ids := make(chan uint64, n)
		errs := make(chan error, n)
		for i := range n {
			go func() {
				errs <- db.Write(func(tx *Tx) error {
					id, err := tx.NextSequence("widgets")
					if err != nil {
						return err
					}
					ids <- id
					return widgets.Put(tx, &widget{Group: "c", N: int64(i), Name: "w"})
				})
			}()
		}
		for range n {
			require.NoError(t, <-errs)
		}
		close(ids)

		var got []uint64
		for id := range ids {
			got = append(got, id)
		}
		slices.Sort(got)
		assert.Len(t, slices.Compact(got), n, "sequence values are unique")
		assert.Len(t, scanNames(t, db, MakeKey("c")), n)
	})
}
