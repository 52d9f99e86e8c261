package primitives

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Schema declares the fields a pipeline's Examples may carry. Required
// fields must be present at construction; optional fields may be absent
// and filled in later by stages (each fill produces a new Example).
type Schema struct {
	Required []string
	Optional []string
}

// Allows reports whether the schema declares the given field at all.
// A zero-value Schema allows every field (untyped field bag).
func (s Schema) Allows(name string) bool {
	if len(s.Required) == 0 && len(s.Optional) == 0 {
		return true
	}
	for _, f := range s.Required {
		if f == name {
			return true
		}
	}
	for _, f := range s.Optional {
		if f == name {
			return true
		}
	}
	return false
}

// Validate checks the given fields against the schema.
func (s Schema) Validate(fields map[string]any) error {
	for _, f := range s.Required {
		if _, ok := fields[f]; !ok {
			return fmt.Errorf("required field %q absent: %w", f, ErrMissingField)
		}
	}
	for name := range fields {
		if !s.Allows(name) {
			return fmt.Errorf("field %q not declared by schema", name)
		}
	}
	return nil
}

// Example is an immutable-by-convention record of named fields threaded
// through pipeline stages. Values are strings, numbers, or nested Examples.
// Mutating helpers return copies; the receiver is never modified.
type Example struct {
	id      string
	schema  Schema
	fields  map[string]any
	sources []string // ordered IDs of the Examples this one was derived from
}

// NewExample validates fields against the schema and returns a fresh
// Example with a unique identity.
func NewExample(schema Schema, fields map[string]any) (Example, error) {
	if err := schema.Validate(fields); err != nil {
		return Example{}, err
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return Example{
		id:     uuid.NewString(),
		schema: schema,
		fields: copied,
	}, nil
}

// MustExample is NewExample for statically known fields; panics on schema
// violation. Intended for tests and literal construction.
func MustExample(schema Schema, fields map[string]any) Example {
	ex, err := NewExample(schema, fields)
	if err != nil {
		panic(err)
	}
	return ex
}

// ID returns the Example's unique identity.
func (e Example) ID() string { return e.id }

// Has reports whether the field is present.
func (e Example) Has(name string) bool {
	_, ok := e.fields[name]
	return ok
}

// Get returns the raw field value.
func (e Example) Get(name string) (any, bool) {
	v, ok := e.fields[name]
	return v, ok
}

// Field returns the field value rendered as a string, or ErrMissingField
// if the field is absent. Nested Examples render their text field when
// present, their ID otherwise.
func (e Example) Field(name string) (string, error) {
	v, ok := e.fields[name]
	if !ok {
		return "", fmt.Errorf("field %q: %w", name, ErrMissingField)
	}
	return renderValue(v), nil
}

func renderValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case Example:
		if text, err := t.Field("text"); err == nil {
			return text
		}
		return t.ID()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FieldNames returns the present field names in sorted order.
func (e Example) FieldNames() []string {
	names := make([]string, 0, len(e.fields))
	for k := range e.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Fields returns a copy of the field map.
func (e Example) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Schema returns the schema the Example was constructed with.
func (e Example) Schema() Schema { return e.schema }

// Sources returns the ordered provenance chain (IDs of source Examples).
func (e Example) Sources() []string {
	out := make([]string, len(e.sources))
	copy(out, e.sources)
	return out
}

// With returns a copy of the Example with one field set. The copy keeps
// the receiver's identity in its provenance chain and gets a fresh ID.
func (e Example) With(name string, value any) (Example, error) {
	if !e.schema.Allows(name) {
		return Example{}, fmt.Errorf("field %q not declared by schema", name)
	}
	fields := e.Fields()
	fields[name] = value
	return Example{
		id:      uuid.NewString(),
		schema:  e.schema,
		fields:  fields,
		sources: append(e.Sources(), e.id),
	}, nil
}

// Merge returns a copy of the Example with the other Example's fields
// merged in (other wins on conflicts). Fields the receiver's schema does
// not declare are skipped. Both parents join the provenance chain.
func (e Example) Merge(other Example) Example {
	fields := e.Fields()
	for k, v := range other.fields {
		if e.schema.Allows(k) {
			fields[k] = v
		}
	}
	return Example{
		id:      uuid.NewString(),
		schema:  e.schema,
		fields:  fields,
		sources: append(e.Sources(), e.id, other.id),
	}
}

// Restore rebuilds an Example from serialized parts, preserving identity.
// Used when deserializing compiled programs; fields are not re-validated
// beyond required-field presence.
func Restore(id string, schema Schema, fields map[string]any, sources []string) (Example, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if err := schema.Validate(fields); err != nil {
		return Example{}, err
	}
	copied := make(map[string]any, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	srcs := make([]string, len(sources))
	copy(srcs, sources)
	return Example{id: id, schema: schema, fields: copied, sources: srcs}, nil
}
