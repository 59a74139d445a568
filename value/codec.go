package value

import (
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// StringBlobThreshold is the longest string, in characters, stored inline.
const StringBlobThreshold = 1024

// Persisted is the storage form of a single (non-collection) value: the
// actual kind, the slot kind, and the one slot that is populated.
type Persisted struct {
	Actual Kind    `msgpack:"a" json:"actual"`
	Type   Kind    `msgpack:"t" json:"type"`
	Bool   bool    `msgpack:"b,omitempty" json:"bool,omitempty"`
	Long   int64   `msgpack:"l,omitempty" json:"long,omitempty"`
	Float  float32 `msgpack:"f,omitempty" json:"float,omitempty"`
	Double float64 `msgpack:"d,omitempty" json:"double,omitempty"`
	String string  `msgpack:"s,omitempty" json:"string,omitempty"`
	Blob   []byte  `msgpack:"x,omitempty" json:"blob,omitempty"`
}

// EmptyCollectionMarker is the row stored for an explicitly empty
// collection.
func EmptyCollectionMarker() Persisted {
	return Persisted{Actual: KindCollection, Type: KindNull}
}

func (p Persisted) IsCollectionMarker() bool {
	return p.Actual == KindCollection && p.Type == KindNull
}

// Codec converts values to and from their persisted form.
type Codec struct {
	Converter Converter
	Log       zerolog.Logger
}

func NewCodec(log zerolog.Logger) *Codec {
	return &Codec{Log: log}
}

// ToPersisted coerces v to dt and encodes it. Callers explode collections
// first; a collection reaching the codec is only valid for TypeAny (or a
// nested collection) and is stored as a serialized blob.
func (c *Codec) ToPersisted(dt DataType, v Value) (Persisted, error) {
	v, err := c.Converter.Convert(dt, v)
	if err != nil {
		return Persisted{}, err
	}
	p := Persisted{Actual: v.kind, Type: persistedKind(v)}
	switch p.Type {
	case KindNull:
	case KindBoolean:
		p.Bool = v.Bool()
	case KindLong:
		p.Long = v.n
	case KindFloat:
		p.Float = float32(v.f)
	case KindDouble:
		p.Double = v.f
	case KindString:
		switch v.kind {
		case KindDate:
			p.String = v.t.UTC().Format(time.RFC3339Nano)
		case KindInstance:
			p.String = v.ref.String()
		default:
			p.String = v.s
		}
	case KindSerializable:
		p.Blob, err = EncodeBlob(v)
		if err != nil {
			return Persisted{}, err
		}
	}
	return p, nil
}

// persistedKind picks the storage slot; it depends only on the value.
func persistedKind(v Value) Kind {
	if v.kind == KindString && utf8.RuneCountInString(v.s) > StringBlobThreshold {
		return KindSerializable
	}
	return v.kind.Persisted()
}

// FromPersisted decodes p and, when dt is concrete, coerces the result to
// it. It never fails: unknown ordinals and corrupt payloads are logged and
// decode to null, and a failed coercion keeps the decoded value.
func (c *Codec) FromPersisted(dt DataType, p Persisted) Value {
	v, ok := c.decode(p)
	if !ok || v.kind == KindNull || v.kind == KindCollection {
		return v
	}
	conv, err := c.Converter.Convert(dt, v)
	if err != nil {
		c.Log.Debug().Err(err).Stringer("datatype", dt).Msg("stored value does not match declared type, keeping as stored")
		return v
	}
	return conv
}

func (c *Codec) decode(p Persisted) (Value, bool) {
	if !p.Actual.Valid() || !p.Type.Valid() {
		c.Log.Error().Uint8("actual", uint8(p.Actual)).Uint8("type", uint8(p.Type)).Msg("unknown value type ordinal")
		return Null(), false
	}
	switch p.Type {
	case KindNull:
		if p.Actual == KindCollection {
			return List(), true
		}
		return Null(), true
	case KindBoolean:
		return Bool(p.Bool), true
	case KindLong:
		if p.Actual == KindInteger {
			return Int(int32(p.Long)), true
		}
		return Long(p.Long), true
	case KindFloat:
		return Float(p.Float), true
	case KindDouble:
		return Double(p.Double), true
	case KindString:
		switch p.Actual {
		case KindDate:
			t, err := time.Parse(time.RFC3339Nano, p.String)
			if err != nil {
				c.Log.Error().Err(err).Str("value", p.String).Msg("invalid stored date")
				return Null(), false
			}
			return Date(t), true
		case KindInstance:
			ref, ok := ParseInstanceRef(p.String)
			if !ok {
				c.Log.Error().Str("value", p.String).Msg("invalid stored instance reference")
				return Null(), false
			}
			return Instance(ref.Kind, ref.ID), true
		case KindURI:
			return URI(p.String), true
		default:
			return String(p.String), true
		}
	case KindSerializable:
		v, err := DecodeBlob(p.Blob)
		if err != nil {
			c.Log.Error().Err(err).Int("size", len(p.Blob)).Msg("invalid stored blob")
			return Null(), false
		}
		return v, true
	}
	c.Log.Error().Stringer("type", p.Type).Msg("value type cannot be used as a storage slot")
	return Null(), false
}
