package propdb

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Key is an order-preserving encoding of a tuple. Comparing two keys
// bytewise gives the same result as comparing their tuples component by
// component, and a key built from a tuple prefix is a byte prefix of every
// key extending it.
//
// Strings are escaped (0x00 becomes 0x00 0xFF) and terminated by 0x00 0x01.
// Signed integers are big-endian with the sign bit flipped.
type Key []byte

// MakeKey encodes parts, which must be string, int64, int32, int, uint64 or bool.
func MakeKey(parts ...any) Key {
	var k Key
	for _, p := range parts {
		k = k.Append(p)
	}
	return k
}

func (k Key) Append(part any) Key {
	switch v := part.(type) {
	case string:
		return k.AppendString(v)
	case int64:
		return k.AppendInt64(v)
	case int32:
		return k.AppendInt32(v)
	case int:
		return k.AppendInt64(int64(v))
	case uint64:
		return k.AppendUint64(v)
	case bool:
		if v {
			return append(k, 1)
		}
		return append(k, 0)
	default:
		panic(fmt.Errorf("propdb: unsupported key part %T", part))
	}
}

func (k Key) AppendString(s string) Key {
	buf := ensureCapacity(k, len(k)+len(s)+2)
	for i := 0; i < len(s); i++ {
		c := s[i]
		buf = append(buf, c)
		if c == 0 {
			buf = append(buf, 0xFF)
		}
	}
	return append(buf, 0, 1)
}

func (k Key) AppendInt64(v int64) Key {
	return k.AppendUint64(uint64(v) ^ (1 << 63))
}

func (k Key) AppendInt32(v int32) Key {
	return binary.BigEndian.AppendUint32(k, uint32(v)^(1<<31))
}

func (k Key) AppendUint64(v uint64) Key {
	return binary.BigEndian.AppendUint64(k, v)
}

func (k Key) String() string {
	return hexstr(k)
}

// DecodeKey decodes k into the given pointers (*string, *int64, *int32,
// *uint64 or *bool), in order. Trailing bytes are allowed, so a caller may
// decode only the leading components.
func DecodeKey(k Key, parts ...any) error {
	d := keyDecoder{orig: k, buf: k}
	for i, p := range parts {
		var err error
		switch v := p.(type) {
		case *string:
			*v, err = d.string()
		case *int64:
			var u uint64
			u, err = d.uint64()
			*v = int64(u ^ (1 << 63))
		case *int32:
			var u uint32
			u, err = d.uint32()
			*v = int32(u ^ (1 << 31))
		case *uint64:
			*v, err = d.uint64()
		case *bool:
			var b []byte
			b, err = d.raw(1)
			if err == nil {
				*v = b[0] != 0
			}
		default:
			panic(fmt.Errorf("propdb: unsupported key part pointer %T", p))
		}
		if err != nil {
			return fmt.Errorf("key part %d: %w", i, err)
		}
	}
	return nil
}

type keyDecoder struct {
	orig []byte
	buf  []byte
}

func (d *keyDecoder) off() int {
	return len(d.orig) - len(d.buf)
}

func (d *keyDecoder) raw(n int) ([]byte, error) {
	if len(d.buf) < n {
		return nil, dataErrf(d.orig, d.off(), nil, "not enough data: %d bytes remaining, %d wanted", len(d.buf), n)
	}
	v := d.buf[:n]
	d.buf = d.buf[n:]
	return v, nil
}

func (d *keyDecoder) uint64() (uint64, error) {
	b, err := d.raw(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (d *keyDecoder) uint32() (uint32, error) {
	b, err := d.raw(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (d *keyDecoder) string() (string, error) {
	var sb strings.Builder
	for i := 0; i < len(d.buf); i++ {
		c := d.buf[i]
		if c != 0 {
			sb.WriteByte(c)
			continue
		}
		if i+1 >= len(d.buf) {
			break
		}
		switch d.buf[i+1] {
		case 0xFF:
			sb.WriteByte(0)
			i++
		case 1:
			d.buf = d.buf[i+2:]
			return sb.String(), nil
		default:
			return "", dataErrf(d.orig, d.off()+i, nil, "invalid string escape 0x%02x", d.buf[i+1])
		}
	}
	return "", dataErrf(d.orig, d.off(), nil, "unterminated string")
}
