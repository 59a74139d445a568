// Package defs is the definition model: the schema that says which
// properties an entity has and of what type.
//
// Every entity exists in two forms. A spec (FieldSpec, RegionSpec,
// DefinitionSpec, ...) is a mutable builder, produced by Parse and
// modified by MergeFrom. Seal turns a spec into its read-only form (Field,
// Region, Definition, ...) by deep copying it; there is no way back other
// than Spec, which returns a fresh mutable copy.
//
// A child definition inherits from its parent through MergeFrom: any
// attribute the child leaves unset comes from the parent, list elements
// are merged by identifier, and a field the child moved between the root
// and a region (or between regions) ends up in exactly one place.
package defs
