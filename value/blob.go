package value

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

var (
	_ msgpack.CustomEncoder = Value{}
	_ msgpack.CustomDecoder = (*Value)(nil)
)

// EncodeBlob serializes v, including its kind, with msgpack.
func EncodeBlob(v Value) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("value: encode %s: %w", v.kind, err)
	}
	return b, nil
}

func DecodeBlob(b []byte) (Value, error) {
	var v Value
	if err := msgpack.Unmarshal(b, &v); err != nil {
		return Null(), fmt.Errorf("value: decode blob: %w", err)
	}
	return v, nil
}

// EncodeMsgpack writes a value as a two-element array [kind, payload].
func (v Value) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeUint8(uint8(v.kind)); err != nil {
		return err
	}
	switch v.kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBoolean:
		return enc.EncodeBool(v.Bool())
	case KindInteger, KindLong:
		return enc.EncodeInt(v.n)
	case KindFloat:
		return enc.EncodeFloat32(float32(v.f))
	case KindDouble:
		return enc.EncodeFloat64(v.f)
	case KindString, KindURI:
		return enc.EncodeString(v.s)
	case KindDate:
		return enc.EncodeTime(v.t)
	case KindInstance:
		return enc.EncodeString(v.ref.String())
	case KindSerializable:
		return enc.EncodeBytes(v.raw)
	case KindCollection:
		if err := enc.EncodeArrayLen(len(v.list)); err != nil {
			return err
		}
		for _, item := range v.list {
			if err := item.EncodeMsgpack(enc); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported kind %s", v.kind)
}

func (v *Value) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 2 {
		return fmt.Errorf("value: expected 2-element array, got %d", n)
	}
	k, err := dec.DecodeUint8()
	if err != nil {
		return err
	}
	kind := Kind(k)
	switch kind {
	case KindNull:
		*v = Null()
		return dec.DecodeNil()
	case KindBoolean:
		b, err := dec.DecodeBool()
		*v = Bool(b)
		return err
	case KindInteger:
		n, err := dec.DecodeInt64()
		*v = Int(int32(n))
		return err
	case KindLong:
		n, err := dec.DecodeInt64()
		*v = Long(n)
		return err
	case KindFloat:
		f, err := dec.DecodeFloat32()
		*v = Float(f)
		return err
	case KindDouble:
		f, err := dec.DecodeFloat64()
		*v = Double(f)
		return err
	case KindString, KindURI:
		s, err := dec.DecodeString()
		*v = Value{kind: kind, s: s}
		return err
	case KindDate:
		var t time.Time
		t, err = dec.DecodeTime()
		*v = Date(t)
		return err
	case KindInstance:
		s, err := dec.DecodeString()
		if err != nil {
			return err
		}
		ref, ok := ParseInstanceRef(s)
		if !ok {
			return fmt.Errorf("value: invalid instance reference %q", s)
		}
		*v = Instance(ref.Kind, ref.ID)
		return nil
	case KindSerializable:
		b, err := dec.DecodeBytes()
		*v = Value{kind: KindSerializable, raw: b}
		return err
	case KindCollection:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		items := make([]Value, max(n, 0))
		for i := range items {
			if err := items[i].DecodeMsgpack(dec); err != nil {
				return err
			}
		}
		*v = Value{kind: KindCollection, list: items}
		return nil
	}
	return fmt.Errorf("value: unknown kind ordinal %d", k)
}
