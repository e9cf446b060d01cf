// Package collection holds the collection meta aggregate.
package collection

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

var nameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Collection is the persisted meta of a document collection. The live
// per-collection state (index, locks, reference back-edges) is owned by the
// registry; this struct is what `$CM_<name>` serializes.
type Collection struct {
	Name      string `json:"name"`
	ID        uint32 `json:"id"`
	CreatedAt int64  `json:"created_at"`

	Fields              []field.Field `json:"fields"`
	DefaultSortingField string        `json:"default_sorting_field,omitempty"`
	// FallbackFieldType is used for fields matched by a ".*" dynamic field.
	FallbackFieldType field.Type `json:"fallback_field_type,omitempty"`

	SymbolsToIndex  []string `json:"symbols_to_index,omitempty"`
	TokenSeparators []string `json:"token_separators,omitempty"`

	EnableNestedFields bool `json:"enable_nested_fields"`

	// NumDocuments is a persisted snapshot of the live document count.
	NumDocuments uint64 `json:"num_documents"`
}

// New validates and creates a Collection.
func New(name string, id uint32, fields []field.Field, defaultSortingField string,
	enableNested bool) (Collection, error) {
	if name == "" {
		return Collection{}, fmt.Errorf("%w: collection name is required", domain.ErrInvalidArgument)
	}
	if !nameRegex.MatchString(name) {
		return Collection{}, fmt.Errorf("%w: collection name must be alphanumeric with underscores and hyphens",
			domain.ErrInvalidArgument)
	}
	seen := make(map[string]bool, len(fields))
	var fallback field.Type
	for _, f := range fields {
		if seen[f.Name] {
			return Collection{}, fmt.Errorf("%w: duplicate field name %q", domain.ErrInvalidArgument, f.Name)
		}
		seen[f.Name] = true
		if f.Name == ".*" {
			fallback = f.Type
		}
		if strings.Contains(f.Name, ".") && !f.IsDynamic() && !enableNested {
			return Collection{}, fmt.Errorf("%w: field %q requires enable_nested_fields",
				domain.ErrInvalidArgument, f.Name)
		}
	}
	if defaultSortingField != "" {
		f, ok := fieldByName(fields, defaultSortingField)
		if !ok {
			return Collection{}, fmt.Errorf("%w: default sorting field %q is not a declared field",
				domain.ErrInvalidArgument, defaultSortingField)
		}
		if !f.IsNumerical() || f.IsArray() {
			return Collection{}, fmt.Errorf("%w: default sorting field %q must be a numerical scalar",
				domain.ErrInvalidArgument, defaultSortingField)
		}
	}
	return Collection{
		Name:                name,
		ID:                  id,
		CreatedAt:           time.Now().Unix(),
		Fields:              fields,
		DefaultSortingField: defaultSortingField,
		FallbackFieldType:   fallback,
		EnableNestedFields:  enableNested,
	}, nil
}

// FieldByName looks up a declared field by exact name.
func (c *Collection) FieldByName(name string) (field.Field, bool) {
	return fieldByName(c.Fields, name)
}

func fieldByName(fields []field.Field, name string) (field.Field, bool) {
	for _, f := range fields {
		if f.Name == name {
			return f, true
		}
	}
	return field.Field{}, false
}

// ResolveField looks up a field by name, falling back to dynamic field
// patterns when no exact declaration exists. The returned field carries the
// concrete name with the dynamic field's type and flags.
func (c *Collection) ResolveField(name string) (field.Field, bool) {
	if f, ok := c.FieldByName(name); ok {
		return f, true
	}
	for _, f := range c.Fields {
		if f.IsDynamic() && f.Name != name && f.MatchesDynamicName(name) {
			resolved := f
			resolved.Name = name
			if resolved.Type == field.Auto || resolved.Type == field.StringOrArray {
				if c.FallbackFieldType != "" {
					resolved.Type = c.FallbackFieldType
				}
			}
			return resolved, true
		}
	}
	return field.Field{}, false
}

// ReferenceFields returns the declared reference fields.
func (c *Collection) ReferenceFields() []field.Field {
	var out []field.Field
	for _, f := range c.Fields {
		if f.IsReference() {
			out = append(out, f)
		}
	}
	return out
}

// EmbeddingFields returns the declared auto-embedding vector fields.
func (c *Collection) EmbeddingFields() []field.Field {
	var out []field.Field
	for _, f := range c.Fields {
		if f.IsAutoEmbedding() {
			out = append(out, f)
		}
	}
	return out
}
