package scenario

// Primitive is a leaf type marker in a payload schema.
type Primitive string

// Payload schema primitives.
const (
	TypeString   Primitive = "string"
	TypeNumber   Primitive = "number"
	TypeBoolean  Primitive = "boolean"
	TypeDatetime Primitive = "datetime"
)

// knownPrimitives is the closed set of leaf markers.
var knownPrimitives = map[Primitive]bool{
	TypeString:   true,
	TypeNumber:   true,
	TypeBoolean:  true,
	TypeDatetime: true,
}

// PayloadSchema describes the shape of an event's data field: a mapping
// from field name to field type.
type PayloadSchema map[string]FieldType

// FieldType is the recursive schema value. Exactly one of the three members
// is set: a primitive marker, a nested object schema, or the item schema of
// an array-of-object field.
type FieldType struct {
	Primitive Primitive
	Object    PayloadSchema
	Array     PayloadSchema
}

// IsPrimitive reports whether the field is a primitive leaf.
func (f FieldType) IsPrimitive() bool { return f.Primitive != "" }

// IsObject reports whether the field is a nested object.
func (f FieldType) IsObject() bool { return f.Object != nil }

// IsArray reports whether the field is an array of objects.
func (f FieldType) IsArray() bool { return f.Array != nil }

// EmitMapping declares how a source payload projects onto a destination
// event's payload schema. It is structured parallel to the destination
// schema; keys without an entry are omitted from the output.
type EmitMapping map[string]MappingEntry

// MappingEntry is one mapping rule. The variants are mutually exclusive:
//
//   - From: copy the named source field (a bare string in the document).
//   - Const (with HasConst): inject a literal.
//   - ObjectFrom + Map: descend into the named source field as sub-source.
//   - ArrayFrom + Map: iterate the named source array, mapping each element.
//   - Map alone: a bare nested mapping, descending in place.
type MappingEntry struct {
	From       string
	Const      any
	HasConst   bool
	ObjectFrom string
	ArrayFrom  string
	Map        EmitMapping
}

// FromField builds a source-field copy entry.
func FromField(name string) MappingEntry {
	return MappingEntry{From: name}
}

// ConstValue builds a literal injection entry.
func ConstValue(v any) MappingEntry {
	return MappingEntry{Const: v, HasConst: true}
}

// ObjectMapping builds a nested-object entry descending into source field
// name. Pass an empty name to descend in place.
func ObjectMapping(name string, m EmitMapping) MappingEntry {
	if name == "" {
		return MappingEntry{Map: m}
	}
	return MappingEntry{ObjectFrom: name, Map: m}
}

// ArrayMapping builds an array entry iterating source field name.
func ArrayMapping(name string, m EmitMapping) MappingEntry {
	return MappingEntry{ArrayFrom: name, Map: m}
}
