package value

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Value is an immutable property value. The zero Value is null.
type Value struct {
	kind Kind
	n    int64 // boolean (0/1), integer, long
	f    float64
	s    string // string, uri
	t    time.Time
	raw  []byte
	ref  InstanceRef
	list []Value
}

// InstanceRef points at another entity.
type InstanceRef struct {
	Kind string
	ID   string
}

func (r InstanceRef) String() string {
	return r.Kind + ":" + r.ID
}

// ParseInstanceRef parses the kind:id form produced by InstanceRef.String.
func ParseInstanceRef(s string) (InstanceRef, bool) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return InstanceRef{}, false
	}
	return InstanceRef{Kind: kind, ID: id}, true
}

func Null() Value { return Value{} }
func Bool(v bool) Value { return Value{kind: KindBoolean, n: b2i(v)} }
func Int(v int32) Value { return Value{kind: KindInteger, n: int64(v)} }
func Long(v int64) Value { return Value{kind: KindLong, n: v} }
func Float(v float32) Value { return Value{kind: KindFloat, f: float64(v)} }
func Double(v float64) Value { return Value{kind: KindDouble, f: v} }
func String(v string) Value { return Value{kind: KindString, s: v} }
func URI(v string) Value { return Value{kind: KindURI, s: v} }
func Date(v time.Time) Value { return Value{kind: KindDate, t: v} }
func Instance(kind, id string) Value {
	return Value{kind: KindInstance, ref: InstanceRef{kind, id}}
}

// Bytes wraps an opaque serialized payload.
func Bytes(v []byte) Value {
	return Value{kind: KindSerializable, raw: slices.Clone(v)}
}

// List returns a collection. List() with no items is an explicitly empty
// collection, which is distinct from null.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindCollection, list: slices.Clone(items)}
}

func b2i(v bool) int64 {
	if v {
		return 1
	}
	return 0
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) IsCollection() bool { return v.kind == KindCollection }
func (v Value) Bool() bool { return v.n != 0 }
func (v Value) Int64() int64 { return v.n }
func (v Value) Float64() float64 { return v.f }
func (v Value) Time() time.Time { return v.t }
func (v Value) Ref() InstanceRef { return v.ref }
func (v Value) Raw() []byte { return slices.Clone(v.raw) }
func (v Value) Len() int { return len(v.list) }
func (v Value) Items() []Value { return slices.Clone(v.list) }
func (v Value) Index(i int) Value { return v.list[i] }

// Text returns the payload of a string or uri value.
func (v Value) Text() string {
	return v.s
}

// IsNumeric reports whether the value is one of the four number kinds.
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindInteger, KindLong, KindFloat, KindDouble:
		return true
	}
	return false
}

// Equal compares kind and payload. Dates compare as instants.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean, KindInteger, KindLong:
		return v.n == o.n
	case KindFloat, KindDouble:
		return v.f == o.f
	case KindString, KindURI:
		return v.s == o.s
	case KindDate:
		return v.t.Equal(o.t)
	case KindInstance:
		return v.ref == o.ref
	case KindSerializable:
		return bytes.Equal(v.raw, o.raw)
	case KindCollection:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	}
	return false
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBoolean:
		return strconv.FormatBool(v.Bool())
	case KindInteger, KindLong:
		return strconv.FormatInt(v.n, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindURI:
		return "<" + v.s + ">"
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	case KindInstance:
		return v.ref.String()
	case KindSerializable:
		return fmt.Sprintf("bytes(%d)", len(v.raw))
	case KindCollection:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	return v.kind.String()
}

// Any returns the Go representation of the value: nil, bool, int32, int64,
// float32, float64, string, time.Time, []byte, InstanceRef or []any. URIs
// come back as plain strings.
func (v Value) Any() any {
	switch v.kind {
	case KindBoolean:
		return v.Bool()
	case KindInteger:
		return int32(v.n)
	case KindLong:
		return v.n
	case KindFloat:
		return float32(v.f)
	case KindDouble:
		return v.f
	case KindString, KindURI:
		return v.s
	case KindDate:
		return v.t
	case KindInstance:
		return v.ref
	case KindSerializable:
		return v.Raw()
	case KindCollection:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}
		return out
	}
	return nil
}

// Of wraps a Go value. Supported: nil, Value, bool, int, int32, int64,
// float32, float64, string, time.Time, []byte, InstanceRef and slices of
// any of those.
func Of(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Long(int64(v)), nil
	case int32:
		return Int(v), nil
	case int64:
		return Long(v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Double(v), nil
	case string:
		return String(v), nil
	case time.Time:
		return Date(v), nil
	case []byte:
		return Bytes(v), nil
	case InstanceRef:
		return Instance(v.Kind, v.ID), nil
	case []Value:
		return List(v...), nil
	case []string:
		return listOf(v)
	case []int64:
		return listOf(v)
	case []any:
		return listOf(v)
	default:
		return Null(), fmt.Errorf("value: unsupported Go type %T", x)
	}
}

func listOf[T any](xs []T) (Value, error) {
	items := make([]Value, len(xs))
	for i, x := range xs {
		v, err := Of(x)
		if err != nil {
			return Null(), err
		}
		items[i] = v
	}
	return List(items...), nil
}

// MustOf is Of for literals in tests and static tables.
func MustOf(x any) Value {
	v, err := Of(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Map is a property bag keyed by property name.
type Map map[string]Value

// Equal reports whether both maps hold equal values under the same names.
func (m Map) Equal(o Map) bool {
	if len(m) != len(o) {
		return false
	}
	for k, v := range m {
		ov, ok := o[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}
