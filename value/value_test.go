package value

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_Equal(t *testing.T) {
	assert.True(t, Null().Equal(Value{}))
	assert.False(t, Int(1).Equal(Long(1)), "kind is part of identity")
	assert.True(t, Date(time.Unix(10, 0).UTC()).Equal(Date(time.Unix(10, 0).In(time.FixedZone("x", 3600)))))
	assert.False(t, List().Equal(Null()))
	assert.True(t, List(String("a"), String("b")).Equal(List(String("a"), String("b"))))
	assert.False(t, List(String("a"), String("b")).Equal(List(String("b"), String("a"))))
}

func TestValue_ListIsCopied(t *testing.T) {
	items := []Value{Long(1), Long(2)}
	v := List(items...)
	items[0] = Long(100)
	assert.Equal(t, int64(1), v.Index(0).Int64())

	got := v.Items()
	got[1] = Long(200)
	assert.Equal(t, int64(2), v.Index(1).Int64())
}

func TestOf(t *testing.T) {
	v, err := Of([]any{"a", 1, true})
	require.NoError(t, err)
	assert.True(t, List(String("a"), Long(1), Bool(true)).Equal(v))

	_, err = Of(struct{}{})
	assert.Error(t, err)

	assert.Equal(t, []any{"a", int64(1)}, MustOf([]any{"a", int64(1)}).Any())
}

func TestMap_Equal(t *testing.T) {
	a := Map{"a": Long(1), "b": String("x")}
	assert.True(t, a.Equal(Map{"b": String("x"), "a": Long(1)}))
	assert.False(t, a.Equal(Map{"a": Long(1), "b": String("y")}))
	assert.False(t, a.Equal(Map{"a": Long(1)}))
}

func TestPropertyKey_Compare(t *testing.T) {
	a := PropertyKey{1, NotInList}
	b := PropertyKey{1, 0}
	c := PropertyKey{2, NotInList}
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, -1, b.Compare(c))
	assert.Equal(t, 0, b.Compare(PropertyKey{1, 0}))
	assert.Equal(t, "1[0]", b.String())
	assert.Equal(t, "2", c.String())
}

func TestParseDataType(t *testing.T) {
	tests := []struct {
		in     string
		dt     DataType
		length int
		ok     bool
	}{
		{"text", TypeText, 0, true},
		{"DateTime", TypeDateTime, 0, true},
		{"an..180", TypeText, 180, true},
		{"an20", TypeText, 20, true},
		{"n..9", TypeInt, 9, true},
		{"n..18", TypeLong, 18, true},
		{"n..10,2", TypeDouble, 10, true},
		{"x..10", "", 0, false},
		{"", "", 0, false},
	}
	for _, tt := range tests {
		dt, n, ok := ParseDataType(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.dt, dt, tt.in)
		assert.Equal(t, tt.length, n, tt.in)
	}
}

func TestDetectDataType(t *testing.T) {
	assert.Equal(t, TypeText, DetectDataType(String("x")))
	assert.Equal(t, TypeInt, DetectDataType(Int(1)))
	assert.Equal(t, TypeDateTime, DetectDataType(Date(time.Now())))
	assert.Equal(t, TypeBoolean, DetectDataType(List(Bool(true), String("x"))))
	assert.Equal(t, TypeAny, DetectDataType(List()))
	assert.Equal(t, TypeAny, DetectDataType(Bytes([]byte("z"))))
}
