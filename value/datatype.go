package value

import (
	"strconv"
	"strings"
)

// DataType is the declared type of a property in a definition.
type DataType string

const (
	TypeText     DataType = "text"
	TypeInt      DataType = "int"
	TypeLong     DataType = "long"
	TypeFloat    DataType = "float"
	TypeDouble   DataType = "double"
	TypeBoolean  DataType = "boolean"
	TypeDate     DataType = "date"
	TypeDateTime DataType = "datetime"
	TypeInstance DataType = "instance"
	TypeURI      DataType = "uri"
	TypeAny      DataType = "any"
)

// Kind returns the value kind a property of this type is coerced to.
// TypeAny and unknown types return KindNull, meaning "keep as is".
func (dt DataType) Kind() Kind {
	switch dt {
	case TypeText:
		return KindString
	case TypeInt:
		return KindInteger
	case TypeLong:
		return KindLong
	case TypeFloat:
		return KindFloat
	case TypeDouble:
		return KindDouble
	case TypeBoolean:
		return KindBoolean
	case TypeDate, TypeDateTime:
		return KindDate
	case TypeInstance:
		return KindInstance
	case TypeURI:
		return KindURI
	default:
		return KindNull
	}
}

func (dt DataType) String() string {
	return string(dt)
}

// ParseDataType accepts the type names above plus the legacy length
// notation: "an..180" or "a..20" is text, "n..9" fits int, longer "n..N"
// is long and "n..10,2" is double. The second result is the max length
// carried by the notation, or 0.
func ParseDataType(s string) (DataType, int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch dt := DataType(s); dt {
	case TypeText, TypeInt, TypeLong, TypeFloat, TypeDouble, TypeBoolean,
		TypeDate, TypeDateTime, TypeInstance, TypeURI, TypeAny:
		return dt, 0, true
	case "string":
		return TypeText, 0, true
	case "integer":
		return TypeInt, 0, true
	case "bool":
		return TypeBoolean, 0, true
	case "":
		return "", 0, false
	}

	prefix, size, ok := strings.Cut(s, "..")
	if !ok {
		// "an20" is a fixed-length form of "an..20"
		i := strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' })
		if i <= 0 {
			return "", 0, false
		}
		prefix, size = s[:i], s[i:]
	}
	switch prefix {
	case "a", "an":
		n, err := strconv.Atoi(size)
		if err != nil {
			return "", 0, false
		}
		return TypeText, n, true
	case "n":
		digits, frac, hasFrac := strings.Cut(size, ",")
		n, err := strconv.Atoi(digits)
		if err != nil {
			return "", 0, false
		}
		if hasFrac {
			if _, err := strconv.Atoi(frac); err != nil {
				return "", 0, false
			}
			return TypeDouble, n, true
		}
		if n < 10 {
			return TypeInt, n, true
		}
		return TypeLong, n, true
	}
	return "", 0, false
}

// DetectDataType infers a declared type from a value, for properties that
// have no definition. Collections use their first item; an empty
// collection is TypeAny.
func DetectDataType(v Value) DataType {
	switch v.kind {
	case KindString:
		return TypeText
	case KindInteger:
		return TypeInt
	case KindLong:
		return TypeLong
	case KindFloat:
		return TypeFloat
	case KindDouble:
		return TypeDouble
	case KindBoolean:
		return TypeBoolean
	case KindDate:
		return TypeDateTime
	case KindURI:
		return TypeURI
	case KindInstance:
		return TypeInstance
	case KindCollection:
		if len(v.list) == 0 {
			return TypeAny
		}
		return DetectDataType(v.list[0])
	default:
		return TypeAny
	}
}
