package props

import (
	"fmt"
	"strconv"
)

// Kind discriminates entity types that share the property table.
type Kind int32

// EntityKey identifies the owner of a property map. It is a plain value,
// so keys with equal fields are equal map keys.
type EntityKey struct {
	Kind     Kind
	BeanID   string
	Revision int64
	// Path is the owning path within the definition, empty for the root.
	Path string
}

// Bean drops Revision and Path. Rows and cached property maps belong to the
// bean, so every revision and path of one bean shares them.
func (k EntityKey) Bean() EntityKey {
	return EntityKey{Kind: k.Kind, BeanID: k.BeanID}
}

func (k EntityKey) String() string {
	s := strconv.Itoa(int(k.Kind)) + "/" + k.BeanID
	if k.Revision != 0 {
		s += "@" + strconv.FormatInt(k.Revision, 10)
	}
	if k.Path != "" {
		s += ":" + k.Path
	}
	return s
}

// Mode selects how Save treats properties missing from the new map.
type Mode int

const (
	// Replace makes the new map the complete property set.
	Replace Mode = iota
	// AddOnly adds or updates the given properties and leaves others alone.
	AddOnly
)

func (m Mode) String() string {
	switch m {
	case Replace:
		return "replace"
	case AddOnly:
		return "add_only"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}
