package props

import (
	"context"

	"github.com/andreyvit/propdb/value"
)

// Field is what the store needs to know about a declared property.
type Field struct {
	Name        string
	DataType    value.DataType
	MultiValued bool
	// PrototypeID is the linked prototype, 0 if the definition has not
	// been linked yet.
	PrototypeID int64
}

// Model answers which properties an entity declares.
type Model interface {
	Field(name string) (Field, bool)
}

// DefinitionResolver finds the model for an entity. It returns a nil Model
// when the entity has no definition.
type DefinitionResolver interface {
	ResolveModel(ctx context.Context, key EntityKey) (Model, error)
}

// Fields is a Model backed by a map.
type Fields map[string]Field

func (m Fields) Field(name string) (Field, bool) {
	f, ok := m[name]
	return f, ok
}
