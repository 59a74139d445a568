package value

import "fmt"

// Kind is the stable ordinal of a value variant. Ordinals are persisted
// and must never be renumbered; gaps are retired variants.
type Kind uint8

const (
	KindNull         Kind = 0
	KindBoolean      Kind = 1
	KindInteger      Kind = 2
	KindLong         Kind = 3
	KindFloat        Kind = 4
	KindDouble       Kind = 5
	KindString       Kind = 6
	KindDate         Kind = 7
	KindSerializable Kind = 9
	KindInstance     Kind = 10
	KindURI          Kind = 12
	KindCollection   Kind = 19
)

var kindNames = map[Kind]string{
	KindNull:         "null",
	KindBoolean:      "boolean",
	KindInteger:      "integer",
	KindLong:         "long",
	KindFloat:        "float",
	KindDouble:       "double",
	KindString:       "string",
	KindDate:         "date",
	KindSerializable: "serializable",
	KindInstance:     "instance",
	KindURI:          "uri",
	KindCollection:   "collection",
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Persisted returns the storage slot used for a value of this kind.
// Long strings are the one case not decided by kind alone, see Codec.
func (k Kind) Persisted() Kind {
	switch k {
	case KindInteger:
		return KindLong
	case KindDate, KindInstance, KindURI:
		return KindString
	case KindCollection:
		return KindSerializable
	default:
		return k
	}
}
