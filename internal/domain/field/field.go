// Package field describes the typed, flagged schema fields of a collection.
package field

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
)

// Type is the declared indexing type of a field.
type Type string

// Field types. Array variants append "[]" to the scalar name.
const (
	String         Type = "string"
	Int32          Type = "int32"
	Int64          Type = "int64"
	Float          Type = "float"
	Bool           Type = "bool"
	Geopoint       Type = "geopoint"
	Object         Type = "object"
	StringArray    Type = "string[]"
	Int32Array     Type = "int32[]"
	Int64Array     Type = "int64[]"
	FloatArray     Type = "float[]"
	BoolArray      Type = "bool[]"
	GeopointArray  Type = "geopoint[]"
	ObjectArray    Type = "object[]"
	Auto           Type = "auto"
	StringOrArray  Type = "string*"
)

// ReferenceHelperSuffix marks the hidden helper fields that carry resolved
// reference seq ids.
const ReferenceHelperSuffix = "_sequence_id"

// UnresolvedReference is the helper sentinel for async references whose
// target document does not exist yet.
const UnresolvedReference uint32 = 0xFFFFFFFF

// DistanceMetric is the vector distance function of a vector field.
type DistanceMetric string

// Vector distance metrics.
const (
	Cosine       DistanceMetric = "cosine"
	InnerProduct DistanceMetric = "ip"
)

var dynamicNameRegex = regexp.MustCompile(`^[^\s]*\.\*[^\s]*$`)

// EmbedSpec configures automatic embedding of source fields.
type EmbedSpec struct {
	From        []string    `json:"from"`
	ModelConfig ModelConfig `json:"model_config"`
}

// ModelConfig identifies the embedding model and its prefixes.
type ModelConfig struct {
	ModelName      string `json:"model_name"`
	APIKey         string `json:"api_key,omitempty"`
	IndexingPrefix string `json:"indexing_prefix,omitempty"`
	QueryPrefix    string `json:"query_prefix,omitempty"`
}

// Field is a declared collection field. Dot-separated names denote nesting.
type Field struct {
	Name     string `json:"name"`
	Type     Type   `json:"type"`
	Facet    bool   `json:"facet"`
	Sort     bool   `json:"sort"`
	Index    bool   `json:"index"`
	Optional bool   `json:"optional"`
	Store    bool   `json:"store"`
	Nested   bool   `json:"nested,omitempty"`
	Infix    bool   `json:"infix,omitempty"`
	Stem     bool   `json:"stem,omitempty"`
	RangeIndex bool `json:"range_index,omitempty"`

	Locale          string   `json:"locale,omitempty"`
	TokenSeparators []string `json:"token_separators,omitempty"`
	SymbolsToIndex  []string `json:"symbols_to_index,omitempty"`

	// NumDim > 0 marks a float[] field as a vector of that dimensionality.
	NumDim  int            `json:"num_dim,omitempty"`
	VecDist DistanceMetric `json:"vec_dist,omitempty"`

	Embed *EmbedSpec `json:"embed,omitempty"`

	// Reference is "OtherCollection.field" for join fields.
	Reference      string `json:"reference,omitempty"`
	AsyncReference bool   `json:"async_reference,omitempty"`
}

// New validates and creates a Field with computed defaults: numeric scalar
// fields are sortable by default, everything is indexed and stored unless
// turned off by the caller afterwards.
func New(name string, t Type) (Field, error) {
	if name == "" {
		return Field{}, fmt.Errorf("%w: field name is required", domain.ErrInvalidArgument)
	}
	if name == ".flat" || strings.HasPrefix(name, ".flat.") {
		return Field{}, fmt.Errorf("%w: field name %q is reserved", domain.ErrInvalidArgument, name)
	}
	if !t.valid() {
		return Field{}, fmt.Errorf("%w: field %q has invalid type %q", domain.ErrInvalidArgument, name, t)
	}
	f := Field{Name: name, Type: t, Index: true, Store: true}
	f.Sort = f.IsNumerical() && !f.IsArray()
	return f, nil
}

func (t Type) valid() bool {
	switch t {
	case String, Int32, Int64, Float, Bool, Geopoint, Object,
		StringArray, Int32Array, Int64Array, FloatArray, BoolArray,
		GeopointArray, ObjectArray, Auto, StringOrArray:
		return true
	}
	return false
}

// IsArray reports whether the field holds multiple values.
func (f Field) IsArray() bool {
	return strings.HasSuffix(string(f.Type), "[]")
}

// ElementType returns the scalar type of an array field (identity otherwise).
func (f Field) ElementType() Type {
	return Type(strings.TrimSuffix(string(f.Type), "[]"))
}

// IsString reports whether the field is string-valued (scalar or array).
func (f Field) IsString() bool {
	return f.ElementType() == String || f.Type == StringOrArray
}

// IsNumerical reports whether the field sorts and filters numerically.
func (f Field) IsNumerical() bool {
	switch f.ElementType() {
	case Int32, Int64, Float, Bool:
		return true
	}
	return false
}

// IsInteger reports whether the field's element type is int32 or int64.
func (f Field) IsInteger() bool {
	et := f.ElementType()
	return et == Int32 || et == Int64
}

// IsGeopoint reports whether the field holds lat/lng values.
func (f Field) IsGeopoint() bool {
	return f.ElementType() == Geopoint
}

// IsObject reports whether the field is an object or object array.
func (f Field) IsObject() bool {
	return f.ElementType() == Object
}

// IsVector reports whether the field is a dense float vector.
func (f Field) IsVector() bool {
	return f.Type == FloatArray && f.NumDim > 0
}

// IsAutoEmbedding reports whether the field computes its vector from
// source fields via a model.
func (f Field) IsAutoEmbedding() bool {
	return f.IsVector() && f.Embed != nil && len(f.Embed.From) > 0
}

// IsReference reports whether the field joins into another collection.
func (f Field) IsReference() bool {
	return f.Reference != ""
}

// IsReferenceHelper reports whether the field is a hidden helper carrying
// resolved reference seq ids.
func (f Field) IsReferenceHelper() bool {
	return strings.HasSuffix(f.Name, ReferenceHelperSuffix)
}

// IsDynamic reports whether the field name is a wildcard/regex pattern whose
// concrete fields are discovered from documents.
func (f Field) IsDynamic() bool {
	return f.Name == ".*" || f.Type == Auto || f.Type == StringOrArray ||
		dynamicNameRegex.MatchString(f.Name)
}

// ReferencedCollection splits Reference into (collection, field).
func (f Field) ReferencedCollection() (string, string, error) {
	i := strings.LastIndex(f.Reference, ".")
	if i <= 0 || i == len(f.Reference)-1 {
		return "", "", fmt.Errorf("%w: reference %q must be of the form collection.field",
			domain.ErrInvalidArgument, f.Reference)
	}
	return f.Reference[:i], f.Reference[i+1:], nil
}

// HelperName returns the hidden helper field name for a reference field.
func (f Field) HelperName() string {
	return f.Name + ReferenceHelperSuffix
}

// MatchesDynamicName reports whether a concrete field name matches this
// dynamic field's pattern.
func (f Field) MatchesDynamicName(name string) bool {
	if f.Name == ".*" {
		return true
	}
	if !f.IsDynamic() {
		return false
	}
	re, err := regexp.Compile("^" + strings.ReplaceAll(f.Name, ".*", ".*") + "$")
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
