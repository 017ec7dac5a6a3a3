// Package schema holds the per import type field contracts and turns raw
// decoded rows into typed, company scoped records.
package schema

import (
	"fmt"
	"strings"

	"github.com/inventory-importer/internal/models"
	"github.com/inventory-importer/internal/types"
)

// Kind is the primitive type a field is coerced into
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindMoney   Kind = "money"
	KindEnum    Kind = "enum"
	KindDate    Kind = "date"
	KindBool    Kind = "bool"
	KindEmail   Kind = "email"
)

// Field describes one canonical column of an import type
type Field struct {
	Name        string   `json:"name"`
	Kind        Kind     `json:"kind"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
	Constraint  string   `json:"constraint,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Schema is the field contract of one import type
type Schema struct {
	Type   types.ImportType `json:"type"`
	Fields []Field          `json:"fields"`

	build func(v *values, companyID string) Record
}

// Record is a validated row ready to be sent to a destination
type Record interface {
	ImportType() types.ImportType
	Company() string
}

// FieldError is a single field failure inside a row
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field failure of one row
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, ", ")
}

// ForType returns the schema registered for an import type
func ForType(t types.ImportType) (*Schema, error) {
	s, ok := registry[t]
	if !ok {
		return nil, fmt.Errorf("no schema for import type %q", t)
	}
	return s, nil
}

// All returns every schema in display order
func All() []*Schema {
	out := make([]*Schema, 0, len(types.AllImportTypes))
	for _, t := range types.AllImportTypes {
		out = append(out, registry[t])
	}
	return out
}

// FieldNames returns the canonical field names in declaration order
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Validate coerces raw into the typed record of this schema, stamps the
// company scope on it and checks every constraint. All failures of the row
// are returned together as a *ValidationError.
func (s *Schema) Validate(raw models.RawRecord, companyID string) (Record, error) {
	v := newValues(raw)
	for _, f := range s.Fields {
		v.coerce(f)
	}

	rec := s.build(v, companyID)

	if err := validate.Struct(rec); err != nil {
		v.addValidatorErrors(err)
	}

	if len(v.errs) > 0 {
		return nil, &ValidationError{Fields: v.orderedErrors(s.Fields)}
	}
	return rec, nil
}
