package value

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrNotConvertible is the cause of a ConversionError when no conversion
// path exists between the two kinds.
var ErrNotConvertible = errors.New("not convertible")

type ConversionError struct {
	From  Kind
	To    DataType
	Value string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s %s to %s: %v", e.From, e.Value, e.To, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// dateLayouts are tried in order when parsing strings as dates.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Converter coerces values to declared data types.
type Converter struct {
	// Location is used for date strings without a zone; nil means UTC.
	Location *time.Location
}

// Convert coerces v to dt. Null stays null; TypeAny returns v unchanged.
// A collection is converted item by item.
func (c *Converter) Convert(dt DataType, v Value) (Value, error) {
	target := dt.Kind()
	if v.kind == KindNull || target == KindNull || v.kind == target {
		return v, nil
	}
	if v.kind == KindCollection {
		items := make([]Value, len(v.list))
		for i, item := range v.list {
			conv, err := c.Convert(dt, item)
			if err != nil {
				return Null(), err
			}
			items[i] = conv
		}
		return List(items...), nil
	}

	out, err := c.convert(target, v)
	if err != nil {
		return Null(), &ConversionError{From: v.kind, To: dt, Value: v.String(), Err: err}
	}
	return out, nil
}

func (c *Converter) convert(target Kind, v Value) (Value, error) {
	switch target {
	case KindString:
		return c.toString(v)
	case KindBoolean:
		switch {
		case v.kind == KindString:
			b, err := strconv.ParseBool(strings.TrimSpace(v.s))
			if err != nil {
				return Null(), err
			}
			return Bool(b), nil
		case v.kind == KindInteger || v.kind == KindLong:
			return Bool(v.n != 0), nil
		}
	case KindInteger:
		n, err := c.toInt64(v)
		if err != nil {
			return Null(), err
		}
		if n < math.MinInt32 || n > math.MaxInt32 {
			return Null(), fmt.Errorf("%d out of int32 range", n)
		}
		return Int(int32(n)), nil
	case KindLong:
		n, err := c.toInt64(v)
		if err != nil {
			return Null(), err
		}
		return Long(n), nil
	case KindFloat:
		f, err := c.toFloat64(v, 32)
		if err != nil {
			return Null(), err
		}
		return Float(float32(f)), nil
	case KindDouble:
		f, err := c.toFloat64(v, 64)
		if err != nil {
			return Null(), err
		}
		return Double(f), nil
	case KindDate:
		switch v.kind {
		case KindString:
			t, err := c.parseDate(v.s)
			if err != nil {
				return Null(), err
			}
			return Date(t), nil
		case KindLong, KindInteger:
			return Date(time.UnixMilli(v.n).UTC()), nil
		}
	case KindInstance:
		if v.kind == KindString {
			if ref, ok := ParseInstanceRef(v.s); ok {
				return Instance(ref.Kind, ref.ID), nil
			}
			return Null(), fmt.Errorf("expected kind:id")
		}
	case KindURI:
		if v.kind == KindString {
			u, err := url.Parse(strings.TrimSpace(v.s))
			if err != nil {
				return Null(), err
			}
			if u.Scheme == "" && !strings.Contains(v.s, ":") {
				return Null(), fmt.Errorf("missing scheme or prefix")
			}
			return URI(u.String()), nil
		}
	}
	return Null(), ErrNotConvertible
}

func (c *Converter) toString(v Value) (Value, error) {
	switch v.kind {
	case KindBoolean, KindInteger, KindLong, KindFloat, KindDouble:
		return String(v.String()), nil
	case KindURI:
		return String(v.s), nil
	case KindDate:
		return String(v.t.UTC().Format(time.RFC3339Nano)), nil
	case KindInstance:
		return String(v.ref.String()), nil
	}
	return Null(), ErrNotConvertible
}

func (c *Converter) toInt64(v Value) (int64, error) {
	switch v.kind {
	case KindInteger, KindLong:
		return v.n, nil
	case KindFloat, KindDouble:
		if v.f != math.Trunc(v.f) || math.IsInf(v.f, 0) || math.IsNaN(v.f) {
			return 0, fmt.Errorf("%v is not integral", v.f)
		}
		if v.f < math.MinInt64 || v.f >= math.MaxInt64 {
			return 0, fmt.Errorf("%v out of int64 range", v.f)
		}
		return int64(v.f), nil
	case KindString:
		return strconv.ParseInt(strings.TrimSpace(v.s), 10, 64)
	case KindBoolean:
		return v.n, nil
	case KindDate:
		return v.t.UnixMilli(), nil
	}
	return 0, ErrNotConvertible
}

func (c *Converter) toFloat64(v Value, bits int) (float64, error) {
	switch v.kind {
	case KindInteger, KindLong:
		return float64(v.n), nil
	case KindFloat, KindDouble:
		if bits == 32 && !math.IsInf(v.f, 0) && math.Abs(v.f) > math.MaxFloat32 {
			return 0, fmt.Errorf("%v out of float32 range", v.f)
		}
		return v.f, nil
	case KindString:
		return strconv.ParseFloat(strings.TrimSpace(v.s), bits)
	}
	return 0, ErrNotConvertible
}

func (c *Converter) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	var firstErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
