package props

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/propdb/value"
)

func TestExplode(t *testing.T) {
	codec := value.NewCodec(zerolog.Nop())

	cells, err := explode(codec, value.TypeText, value.String("x"))
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.Equal(t, value.NotInList, cells[0].ListIndex)

	cells, err = explode(codec, value.TypeLong, value.List(value.Long(1), value.Long(2)))
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, int32(0), cells[0].ListIndex)
	assert.Equal(t, int32(1), cells[1].ListIndex)
	assert.Equal(t, int64(2), cells[1].Value.Long)

	cells, err = explode(codec, value.TypeText, value.List())
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.True(t, cells[0].Value.IsCollectionMarker())

	_, err = explode(codec, value.TypeText, value.List(value.String("a"), value.Null()))
	assert.Error(t, err)
}

func TestCollapseCollisions(t *testing.T) {
	var logBuf bytes.Buffer
	log := zerolog.New(&logBuf)
	codec := value.NewCodec(log)
	row := func(id int64, idx int32, s string) *Row {
		return &Row{ID: id, PropertyID: 7, ListIndex: idx, Value: value.Persisted{Actual: value.KindString, Type: value.KindString, String: s}}
	}

	t.Run("duplicate list position keeps the last row", func(t *testing.T) {
		logBuf.Reset()
		v := collapse(codec, log, value.TypeText, []*Row{row(1, 0, "a"), row(2, 1, "b"), row(3, 1, "c")})
		assert.True(t, value.List(value.String("a"), value.String("c")).Equal(v), "got %v", v)
		assert.Contains(t, logBuf.String(), "duplicate list position")
	})

	t.Run("duplicate single value keeps the last row", func(t *testing.T) {
		logBuf.Reset()
		v := collapse(codec, log, value.TypeText, []*Row{row(1, -1, "a"), row(2, -1, "b")})
		assert.Equal(t, "b", v.Text())
		assert.Contains(t, logBuf.String(), "duplicate property row")
	})

	t.Run("empty collection marker", func(t *testing.T) {
		v := collapse(codec, log, value.TypeText, []*Row{{PropertyID: 7, ListIndex: -1, Value: value.EmptyCollectionMarker()}})
		assert.True(t, v.IsCollection())
		assert.Equal(t, 0, v.Len())
	})
}

func TestCompare(t *testing.T) {
	old := value.Map{"a": value.Long(1), "b": value.String("x"), "c": value.Bool(true)}
	cur := value.Map{"a": value.Long(1), "b": value.String("y"), "d": value.Long(4)}
	d := Compare(old, cur)
	require.Len(t, d, 3)
	assert.Equal(t, "b", d[0].Name)
	assert.Equal(t, NotEqual, d[0].Op)
	assert.Equal(t, LeftOnly, d[1].Op)
	assert.Equal(t, RightOnly, d[2].Op)
	assert.Equal(t, []string{"b", "c"}, d.Deleted())
	assert.Equal(t, []string{"b", "d"}, d.Inserted())
	assert.True(t, cur.Equal(d.Apply(old)))
	assert.True(t, Compare(cur, cur).IsEmpty())
}
