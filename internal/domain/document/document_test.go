package document

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

func makeField(t *testing.T, name string, ft field.Type) field.Field {
	t.Helper()
	f, err := field.New(name, ft)
	if err != nil {
		t.Fatalf("field.New(%s): %v", name, err)
	}
	return f
}

func TestFlatten_NestedObject(t *testing.T) {
	meta := makeField(t, "meta", field.Object)
	doc := Doc{
		"id":   "a",
		"meta": map[string]any{"title": "hello", "depth": map[string]any{"level": 2.0}},
	}
	if err := Flatten(doc, []field.Field{meta}); err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if doc["meta.title"] != "hello" {
		t.Errorf("expected flattened meta.title, got %v", doc["meta.title"])
	}
	if doc["meta.depth.level"] != 2.0 {
		t.Errorf("expected flattened meta.depth.level, got %v", doc["meta.depth.level"])
	}
	flat, ok := doc[FlatKey].([]string)
	if !ok || len(flat) != 2 {
		t.Errorf("expected 2 entries in the flat list, got %v", doc[FlatKey])
	}
}

func TestFlatten_ObjectArrayMergesLeaves(t *testing.T) {
	items := makeField(t, "items", field.ObjectArray)
	doc := Doc{
		"id": "a",
		"items": []any{
			map[string]any{"name": "one"},
			map[string]any{"name": "two"},
		},
	}
	if err := Flatten(doc, []field.Field{items}); err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	names, ok := doc["items.name"].([]any)
	if !ok || len(names) != 2 {
		t.Fatalf("expected merged items.name array, got %v", doc["items.name"])
	}
}

func TestValidate_CoercesIntegralFloat(t *testing.T) {
	views := makeField(t, "views", field.Int64)
	doc := Doc{"views": 42.0}
	if err := Validate(doc, []field.Field{views}, CoerceOrReject); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if doc["views"] != int64(42) {
		t.Errorf("expected int64 42, got %T %v", doc["views"], doc["views"])
	}
}

func TestValidate_RejectsNonIntegralFloat(t *testing.T) {
	views := makeField(t, "views", field.Int64)
	err := Validate(Doc{"views": 4.2}, []field.Field{views}, CoerceOrReject)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestValidate_MissingRequiredField(t *testing.T) {
	title := makeField(t, "title", field.String)
	err := Validate(Doc{}, []field.Field{title}, CoerceOrReject)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestValidate_OptionalFieldMayBeAbsent(t *testing.T) {
	title := makeField(t, "title", field.String)
	title.Optional = true
	if err := Validate(Doc{}, []field.Field{title}, CoerceOrReject); err != nil {
		t.Errorf("optional field should not be required: %v", err)
	}
}

func TestValidate_CoerceOrDropRemovesBadField(t *testing.T) {
	views := makeField(t, "views", field.Int64)
	views.Optional = true
	doc := Doc{"views": "garbage"}
	if err := Validate(doc, []field.Field{views}, CoerceOrDrop); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if _, present := doc["views"]; present {
		t.Error("expected the uncoercible field to be dropped")
	}
}

func TestValidate_Geopoint(t *testing.T) {
	loc := makeField(t, "loc", field.Geopoint)
	if err := Validate(Doc{"loc": []any{48.85, 2.35}}, []field.Field{loc}, CoerceOrReject); err != nil {
		t.Errorf("valid geopoint rejected: %v", err)
	}
	err := Validate(Doc{"loc": []any{120.0, 2.35}}, []field.Field{loc}, CoerceOrReject)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected out-of-range latitude rejection, got %v", err)
	}
}

func TestPrune_StripsInternalFields(t *testing.T) {
	doc := Doc{
		"id":                    "a",
		"title":                 "x",
		"meta.title":            "x",
		FlatKey:                 []string{"meta.title"},
		"brand_sequence_id":     7.0,
		"meta":                  map[string]any{"title": "x"},
	}
	out := Prune(doc, nil, nil)
	if _, ok := out[FlatKey]; ok {
		t.Error(".flat must not reach the client")
	}
	if _, ok := out["brand_sequence_id"]; ok {
		t.Error("reference helper fields must not reach the client")
	}
	if _, ok := out["meta.title"]; ok {
		t.Error("flattened children must not reach the client")
	}
	if out["title"] != "x" {
		t.Error("regular fields must survive pruning")
	}
}

func TestPrune_IncludeExclude(t *testing.T) {
	doc := Doc{"id": "a", "title": "x", "secret": "y"}
	out := Prune(doc, map[string]bool{"title": true}, nil)
	if len(out) != 1 || out["title"] != "x" {
		t.Errorf("include projection failed: %v", out)
	}
	out = Prune(doc, nil, map[string]bool{"secret": true})
	if _, ok := out["secret"]; ok {
		t.Error("exclude projection failed")
	}
}

func TestGetNested(t *testing.T) {
	doc := Doc{"meta": map[string]any{"inner": map[string]any{"v": 1.0}}}
	v, ok := GetNested(doc, "meta.inner.v")
	if !ok || v != 1.0 {
		t.Errorf("expected nested lookup to find 1.0, got %v (%v)", v, ok)
	}
	if _, ok := GetNested(doc, "meta.missing"); ok {
		t.Error("missing path should not resolve")
	}
}
