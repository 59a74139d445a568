package props_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/propdb"
	"github.com/andreyvit/propdb/internal/metrics"
	"github.com/andreyvit/propdb/props"
	"github.com/andreyvit/propdb/proto"
	"github.com/andreyvit/propdb/value"
)

const (
	kindDocument props.Kind = 1
	kindFolder   props.Kind = 2
)

type staticResolver map[props.Kind]props.Fields

func (r staticResolver) ResolveModel(ctx context.Context, key props.EntityKey) (props.Model, error) {
	if f, ok := r[key.Kind]; ok {
		return f, nil
	}
	return nil, nil
}

var documentFields = props.Fields{
	"title": {Name: "title", DataType: value.TypeText},
	"tags":  {Name: "tags", DataType: value.TypeText, MultiValued: true},
	"count": {Name: "count", DataType: value.TypeInt},
}

type fixture struct {
	db      *propdb.DB
	catalog *proto.Catalog
	store   *props.Store
	metrics *metrics.Metrics
	events  []*props.ChangeEvent
}

func setup(t *testing.T, tweak func(o *props.Options)) *fixture {
	t.Helper()
	m := metrics.New("test", prometheus.NewRegistry())
	db := propdb.OpenMemory(propdb.Options{IsTesting: true, Metrics: m})
	t.Cleanup(func() { db.Close() })
	f := &fixture{db: db, metrics: m}
	f.catalog = proto.New(db, proto.Options{Metrics: m})
	opt := props.Options{
		Metrics:               m,
		Kinds:                 []props.Kind{kindDocument, kindFolder},
		Resolver:              staticResolver{kindDocument: documentFields},
		SaveWithoutDefinition: true,
	}
	if tweak != nil {
		tweak(&opt)
	}
	f.store = props.New(db, f.catalog, opt)
	f.store.Bus().Subscribe(func(ctx context.Context, ev *props.ChangeEvent) {
		f.events = append(f.events, ev)
	})
	return f
}

func (f *fixture) rowCount(t *testing.T) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.Read(func(tx *propdb.Tx) error {
		n = props.Rows.Count(tx)
		return nil
	}))
	return n
}

func (f *fixture) freshStore(opt props.Options) *props.Store {
	return props.New(f.db, proto.New(f.db, proto.Options{}), opt)
}

func doc(id string) props.EntityKey {
	return props.EntityKey{Kind: kindDocument, BeanID: id}
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")

	saved, err := f.store.Save(ctx, key, value.Map{
		"title": value.String("Report"),
		"tags":  value.List(value.String("a"), value.String("b")),
		"count": value.String("5"),
	}, props.Replace)
	require.NoError(t, err)
	assert.True(t, value.Int(5).Equal(saved["count"]), "count converted, got %v", saved["count"])
	assert.Equal(t, 4, f.rowCount(t))

	for _, s := range []*props.Store{f.store, f.freshStore(props.Options{Resolver: staticResolver{kindDocument: documentFields}})} {
		loaded, err := s.Load(ctx, key)
		require.NoError(t, err)
		assert.True(t, saved.Equal(loaded), "loaded %v, saved %v", loaded, saved)
		assert.Equal(t, value.KindInteger, loaded["count"].Kind())
		assert.Equal(t, 2, loaded["tags"].Len())
	}

	require.Len(t, f.events, 1)
	ev := f.events[0]
	assert.Equal(t, key, ev.Key)
	assert.Len(t, ev.Added, 3)
	assert.Empty(t, ev.Removed)
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")
	m := value.Map{"title": value.String("x"), "tags": value.List(value.String("a"))}

	_, err := f.store.Save(ctx, key, m, props.Replace)
	require.NoError(t, err)
	rows := f.rowCount(t)
	_, err = f.store.Save(ctx, key, m, props.Replace)
	require.NoError(t, err)

	assert.Equal(t, rows, f.rowCount(t))
	assert.Len(t, f.events, 1, "unchanged save publishes nothing")
	assert.Equal(t, float64(rows), testutil.ToFloat64(f.metrics.PropertyRowsWritten.WithLabelValues("insert")))
}

func TestReplaceDeletesMissing(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")

	_, err := f.store.Save(ctx, key, value.Map{
		"title": value.String("A"),
		"tags":  value.List(value.String("a"), value.String("b")),
		"count": value.Int(1),
	}, props.Replace)
	require.NoError(t, err)

	saved, err := f.store.Save(ctx, key, value.Map{"title": value.String("B")}, props.Replace)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
	assert.Equal(t, 1, f.rowCount(t))

	require.Len(t, f.events, 2)
	ev := f.events[1]
	assert.Equal(t, "B", ev.Added["title"].Text())
	assert.Equal(t, "A", ev.Removed["title"].Text())
	assert.Contains(t, ev.Removed, "tags")
	assert.Contains(t, ev.Removed, "count")
}

func TestAddOnly(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")

	_, err := f.store.Save(ctx, key, value.Map{"title": value.String("A"), "count": value.Int(1)}, props.Replace)
	require.NoError(t, err)

	t.Run("empty map is a no-op", func(t *testing.T) {
		m, err := f.store.Save(ctx, key, value.Map{}, props.AddOnly)
		require.NoError(t, err)
		assert.Len(t, m, 2)
		assert.Len(t, f.events, 1)
	})

	t.Run("keeps unmentioned properties", func(t *testing.T) {
		m, err := f.store.Save(ctx, key, value.Map{"count": value.Int(2)}, props.AddOnly)
		require.NoError(t, err)
		assert.Equal(t, "A", m["title"].Text())
		assert.Equal(t, int64(2), m["count"].Int64())

		loaded, err := f.store.Load(ctx, key)
		require.NoError(t, err)
		assert.True(t, m.Equal(loaded))
		assert.Equal(t, 2, f.rowCount(t))
	})
}

func TestCollections(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")

	t.Run("explicit empty collection survives", func(t *testing.T) {
		_, err := f.store.Save(ctx, key, value.Map{"tags": value.List()}, props.Replace)
		require.NoError(t, err)
		assert.Equal(t, 1, f.rowCount(t))

		loaded, err := f.freshStore(props.Options{}).Load(ctx, key)
		require.NoError(t, err)
		require.Contains(t, loaded, "tags")
		assert.True(t, loaded["tags"].IsCollection())
		assert.Equal(t, 0, loaded["tags"].Len())
	})

	t.Run("order is preserved", func(t *testing.T) {
		tags := value.List(value.String("z"), value.String("a"), value.String("m"))
		_, err := f.store.Save(ctx, key, value.Map{"tags": tags}, props.Replace)
		require.NoError(t, err)
		assert.Equal(t, 3, f.rowCount(t))

		loaded, err := f.freshStore(props.Options{}).Load(ctx, key)
		require.NoError(t, err)
		assert.True(t, tags.Equal(loaded["tags"]), "got %v", loaded["tags"])
	})

	t.Run("scalar for multi-valued field is wrapped", func(t *testing.T) {
		m, err := f.store.Save(ctx, key, value.Map{"tags": value.String("solo")}, props.Replace)
		require.NoError(t, err)
		assert.True(t, m["tags"].IsCollection())
		assert.Equal(t, 1, m["tags"].Len())
	})
}

func TestDroppedValues(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(o *props.Options) {
		o.NonPersistent = []string{"transient"}
	})
	key := doc("d1")

	m, err := f.store.Save(ctx, key, value.Map{
		"title":     value.String("ok"),
		"count":     value.String("not a number"),
		"transient": value.String("skip me"),
		"nothing":   value.Null(),
	}, props.Replace)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Contains(t, m, "title")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.PropertiesDropped.WithLabelValues("conversion")))
}

func TestUndeclaredProperties(t *testing.T) {
	ctx := context.Background()

	t.Run("allowed through with a fallback prototype", func(t *testing.T) {
		f := setup(t, nil)
		m, err := f.store.Save(ctx, doc("d1"), value.Map{"note": value.Long(3)}, props.Replace)
		require.NoError(t, err)
		assert.Equal(t, int64(3), m["note"].Int64())

		ps, err := f.catalog.FindByName(ctx, "note")
		require.NoError(t, err)
		require.Len(t, ps, 1)
		assert.Equal(t, value.TypeLong, ps[0].DataType)
	})

	t.Run("dropped when disabled", func(t *testing.T) {
		f := setup(t, func(o *props.Options) { o.SaveWithoutDefinition = false })
		m, err := f.store.Save(ctx, doc("d1"), value.Map{"note": value.Long(3), "title": value.String("t")}, props.Replace)
		require.NoError(t, err)
		assert.NotContains(t, m, "note")
		assert.Contains(t, m, "title")
	})

	t.Run("collection promotes an existing prototype", func(t *testing.T) {
		f := setup(t, nil)
		key := props.EntityKey{Kind: kindFolder, BeanID: "f1"}
		_, err := f.store.Save(ctx, key, value.Map{"label": value.String("a")}, props.Replace)
		require.NoError(t, err)
		before, err := f.catalog.FindByName(ctx, "label")
		require.NoError(t, err)

		m, err := f.store.Save(ctx, key, value.Map{"label": value.List(value.String("a"), value.String("b"))}, props.Replace)
		require.NoError(t, err)
		assert.Equal(t, 2, m["label"].Len())

		after, err := f.catalog.FindByName(ctx, "label")
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, before[0].ID, after[0].ID)
		assert.True(t, after[0].MultiValued)
	})
}

func TestUnsupportedKind(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := props.EntityKey{Kind: 99, BeanID: "x"}

	m, err := f.store.Save(ctx, key, value.Map{"title": value.String("t")}, props.Replace)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, 0, f.rowCount(t))

	loaded, err := f.store.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadBatch(t *testing.T) {
	ctx := context.Background()
	f := setup(t, func(o *props.Options) { o.BatchSize = 2 })
	var keys []props.EntityKey
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		key := doc(id)
		keys = append(keys, key)
		_, err := f.store.Save(ctx, key, value.Map{"title": value.String(id)}, props.Replace)
		require.NoError(t, err)
	}
	empty := props.EntityKey{Kind: kindFolder, BeanID: "none"}
	keys = append(keys, empty)

	s := f.freshStore(props.Options{BatchSize: 2})
	result, err := s.LoadBatch(ctx, keys)
	require.NoError(t, err)
	require.Len(t, result, 6)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		assert.Equal(t, id, result[doc(id)]["title"].Text())
	}
	assert.Empty(t, result[empty])

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = f.freshStore(props.Options{}).LoadBatch(canceled, keys)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")
	_, err := f.store.Save(ctx, key, value.Map{
		"title": value.String("A"),
		"tags":  value.List(value.String("a"), value.String("b")),
	}, props.Replace)
	require.NoError(t, err)

	require.NoError(t, f.store.Remove(ctx, key, "tags", "missing"))
	m, err := f.store.Load(ctx, key)
	require.NoError(t, err)
	assert.Len(t, m, 1)
	assert.Equal(t, 1, f.rowCount(t))
	require.Len(t, f.events, 2)
	assert.Contains(t, f.events[1].Removed, "tags")

	require.NoError(t, f.store.RemoveAll(ctx, key))
	m, err = f.store.Load(ctx, key)
	require.NoError(t, err)
	assert.Empty(t, m)
	assert.Equal(t, 0, f.rowCount(t))
	require.Len(t, f.events, 3)

	require.NoError(t, f.store.RemoveAll(ctx, key))
	assert.Len(t, f.events, 3, "nothing left to remove")
}

func TestOperationIsReported(t *testing.T) {
	f := setup(t, nil)
	ctx := props.WithOperation(context.Background(), "import")
	_, err := f.store.Save(ctx, doc("d1"), value.Map{"title": value.String("t")}, props.Replace)
	require.NoError(t, err)
	require.Len(t, f.events, 1)
	assert.Equal(t, "import", f.events[0].Operation)
	assert.NotEqual(t, [16]byte{}, [16]byte(f.events[0].ID))
}

func TestSaveError(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	p, err := f.catalog.FindOrCreate(ctx, "linked", false, value.TypeText)
	require.NoError(t, err)
	f.store = props.New(f.db, f.catalog, props.Options{
		Resolver: staticResolver{kindDocument: props.Fields{
			"linked": {Name: "linked", DataType: value.TypeText, PrototypeID: p.ID},
		}},
	})
	key := doc("d1")
	_, err = f.store.Load(ctx, key)
	require.NoError(t, err)

	require.NoError(t, f.db.Close())
	_, err = f.store.Save(ctx, key, value.Map{"linked": value.String("v")}, props.Replace)

	var se *props.SaveError
	require.ErrorAs(t, err, &se)
	assert.ErrorIs(t, err, propdb.ErrClosed)
	assert.Equal(t, key, se.Key)
	require.Len(t, se.Inserts, 1)
	assert.Equal(t, p.ID, se.Inserts[0].PropertyID)
	assert.Equal(t, props.RightOnly, se.Diff[0].Op)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestSaveChangesOnlyWhatDiffers(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := props.EntityKey{Kind: kindFolder, BeanID: "f1"}

	_, err := f.store.Save(ctx, key, value.Map{"a": value.Int(1), "b": value.String("x")}, props.Replace)
	require.NoError(t, err)
	require.Equal(t, 2, f.rowCount(t))

	saved, err := f.store.Save(ctx, key, value.Map{
		"a": value.Int(1),
		"b": value.String("y"),
		"c": value.Bool(true),
	}, props.Replace)
	require.NoError(t, err)

	want := value.Map{"a": value.Int(1), "b": value.String("y"), "c": value.Bool(true)}
	assert.True(t, want.Equal(saved), "saved %v", saved)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PropertyRowsWritten.WithLabelValues("delete")))
	assert.Equal(t, float64(4), testutil.ToFloat64(f.metrics.PropertyRowsWritten.WithLabelValues("insert")))
	assert.Equal(t, 3, f.rowCount(t))

	require.Len(t, f.events, 2)
	ev := f.events[1]
	assert.True(t, value.Map{"b": value.String("x")}.Equal(ev.Removed), "removed %v", ev.Removed)
	assert.True(t, value.Map{"b": value.String("y"), "c": value.Bool(true)}.Equal(ev.Added), "added %v", ev.Added)

	cached, err := f.store.Load(ctx, key)
	require.NoError(t, err)
	assert.True(t, want.Equal(cached), "cached %v", cached)

	stored, err := f.freshStore(props.Options{}).Load(ctx, key)
	require.NoError(t, err)
	assert.True(t, want.Equal(stored), "stored %v", stored)
}

func TestRevisionsShareProperties(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	rev1 := props.EntityKey{Kind: kindDocument, BeanID: "d1", Revision: 1}
	rev2 := props.EntityKey{Kind: kindDocument, BeanID: "d1", Revision: 2, Path: "body"}

	_, err := f.store.Save(ctx, rev1, value.Map{"title": value.String("x")}, props.Replace)
	require.NoError(t, err)
	m, err := f.store.Load(ctx, rev2)
	require.NoError(t, err)
	assert.Equal(t, "x", m["title"].Text())

	_, err = f.store.Save(ctx, rev1, value.Map{"title": value.String("y")}, props.Replace)
	require.NoError(t, err)
	m, err = f.store.Load(ctx, rev2)
	require.NoError(t, err)
	assert.Equal(t, "y", m["title"].Text())

	saved, err := f.store.Save(ctx, rev2, value.Map{"title": value.String("x")}, props.Replace)
	require.NoError(t, err)
	assert.Equal(t, "x", saved["title"].Text())
	require.Len(t, f.events, 3, "every change is written and published")
	assert.Equal(t, "y", f.events[2].Removed["title"].Text())

	f.store.Invalidate(rev1)
	stored, err := f.store.Load(ctx, rev1)
	require.NoError(t, err)
	assert.Equal(t, "x", stored["title"].Text())
}

func TestAddOnlyEmptyDoesNotRead(t *testing.T) {
	ctx := context.Background()
	f := setup(t, nil)
	key := doc("d1")
	_, err := f.store.Save(ctx, key, value.Map{"title": value.String("A")}, props.Replace)
	require.NoError(t, err)

	s := f.freshStore(props.Options{})
	reads := f.db.ReadCount.Load()
	m, err := s.Save(ctx, key, value.Map{}, props.AddOnly)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Equal(t, reads, f.db.ReadCount.Load())
}

func TestConcurrentSavesOnBadger(t *testing.T) {
	ctx := context.Background()
	db, err := propdb.Open("", propdb.Options{Backend: propdb.BackendBadger, IsTesting: true})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	catalog := proto.New(db, proto.Options{})
	store := props.New(db, catalog, props.Options{
		Resolver: staticResolver{kindDocument: documentFields},
	})
	_, err = catalog.FindOrCreate(ctx, "title", false, value.TypeText)
	require.NoError(t, err)

	const n = 32
	errs := make(chan error, n)
	for i := range n {
		go func() {
			key := doc(fmt.Sprintf("e%d", i))
			_, err := store.Save(ctx, key, value.Map{"title": value.String(key.BeanID)}, props.Replace)
			errs <- err
		}()
	}
	for range n {
		assert.NoError(t, <-errs)
	}

	loaded, err := props.New(db, catalog, props.Options{}).LoadBatch(ctx, []props.EntityKey{doc("e0"), doc("e31")})
	require.NoError(t, err)
	assert.Equal(t, "e0", loaded[doc("e0")]["title"].Text())
	assert.Equal(t, "e31", loaded[doc("e31")]["title"].Text())
}
