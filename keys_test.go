package propdb

import (
	"bytes"
	"cmp"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tuple struct {
	s string
	n int64
	i int32
}

func (t tuple) key() Key {
	return MakeKey(t.s, t.n, t.i)
}

func TestKeyOrderMatchesTupleOrder(t *testing.T) {
	var tuples []tuple
	for _, s := range []string{"", "a", "a\x00", "a\x00b", "a\x01", "ab", "b", "\xff"} {
		for _, n := range []int64{math.MinInt64, -1, 0, 1, 255, 256, math.MaxInt64} {
			for _, i := range []int32{math.MinInt32, -7, 0, 7, math.MaxInt32} {
				tuples = append(tuples, tuple{s, n, i})
			}
		}
	}

	byTuple := slices.Clone(tuples)
	slices.SortFunc(byTuple, func(a, b tuple) int {
		return cmp.Or(cmp.Compare(a.s, b.s), cmp.Compare(a.n, b.n), cmp.Compare(a.i, b.i))
	})
	byKey := slices.Clone(tuples)
	slices.SortFunc(byKey, func(a, b tuple) int {
		return bytes.Compare(a.key(), b.key())
	})
	assert.Equal(t, byTuple, byKey)
}

func TestKeyPrefix(t *testing.T) {
	full := MakeKey("bean", int64(42), int32(3))
	assert.True(t, bytes.HasPrefix(full, MakeKey("bean")))
	assert.True(t, bytes.HasPrefix(full, MakeKey("bean", int64(42))))
	assert.False(t, bytes.HasPrefix(MakeKey("beans", int64(42)), MakeKey("bean")))
	assert.Equal(t, MakeKey(42), MakeKey(int64(42)))
}

func TestDecodeKey(t *testing.T) {
	k := MakeKey("a\x00b", int64(-9), int32(12), uint64(7), true, "")

	var (
		s1, s2 string
		n      int64
		i      int32
		u      uint64
		b      bool
	)
	require.NoError(t, DecodeKey(k, &s1, &n, &i, &u, &b, &s2))
	assert.Equal(t, "a\x00b", s1)
	assert.Equal(t, int64(-9), n)
	assert.Equal(t, int32(12), i)
	assert.Equal(t, uint64(7), u)
	assert.True(t, b)
	assert.Equal(t, "", s2)

	var lead string
	require.NoError(t, DecodeKey(k, &lead))
	assert.Equal(t, "a\x00b", lead)
}

func TestDecodeKeyErrors(t *testing.T) {
	var s string
	var n int64

	err := DecodeKey(Key("abc"), &s)
	var de *DataError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, err.Error(), "unterminated string")

	err = DecodeKey(Key("a\x00\x05"), &s)
	assert.ErrorContains(t, err, "invalid string escape 0x05")

	err = DecodeKey(MakeKey("x").AppendInt32(1), &s, &n)
	assert.ErrorContains(t, err, "key part 1: not enough data: 4 bytes remaining, 8 wanted")

	assert.Panics(t, func() { MakeKey(1.5) })
	assert.Panics(t, func() { _ = DecodeKey(MakeKey(1), new(float64)) })
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "<nil>", Key(nil).String())
	assert.Equal(t, "<empty>", Key{}.String())
	assert.Equal(t, "610001", MakeKey("a").String())
}

func TestErrors(t *testing.T) {
	inner := errors.New("bad bytes")

	short := dataErrf([]byte{1, 2}, 0, inner, "decoding %s", "row")
	assert.Equal(t, "decoding row: bad bytes: (2) 0102", short.Error())
	assert.ErrorIs(t, short, inner)

	long := dataErrf(bytes.Repeat([]byte{0xAB}, 200), 0, nil, "huge")
	assert.Equal(t, "huge: (200) "+
		string(bytes.Repeat([]byte("ab"), 64))+"..."+string(bytes.Repeat([]byte("ab"), 32)),
		long.Error())

	te := tableErrf("widgets", MakeKey("a"), short, "get")
	assert.Equal(t, "widgets/610001: get: decoding row: bad bytes: (2) 0102", te.Error())
	assert.ErrorIs(t, te, inner)

	var target *TableError
	require.ErrorAs(t, te, &target)
	assert.Equal(t, "widgets", target.Table)

	assert.Equal(t, "widgets: boom", (&TableError{Table: "widgets", Err: errors.New("boom")}).Error())
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "put", OpPut.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "none", OpNone.String())
	assert.Equal(t, "invalid op 9", Op(9).String())
}
