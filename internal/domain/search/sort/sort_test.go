package sort

import (
	"errors"
	"testing"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

type mockSchema struct {
	fields map[string]field.Field
}

func (m *mockSchema) ResolveField(name string) (field.Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

func makeSchema(t *testing.T) *mockSchema {
	t.Helper()
	fields := map[string]field.Field{}
	add := func(name string, ft field.Type, sortable bool) {
		f, err := field.New(name, ft)
		if err != nil {
			t.Fatalf("field.New(%s): %v", name, err)
		}
		f.Sort = sortable
		fields[name] = f
	}
	add("price", field.Float, true)
	add("rank", field.Int32, true)
	add("title", field.String, false)
	add("loc", field.Geopoint, true)
	return &mockSchema{fields: fields}
}

func TestParse_FieldClause(t *testing.T) {
	clauses, err := Parse([]string{"price:desc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clauses) != 1 {
		t.Fatalf("expected 1 clause, got %d", len(clauses))
	}
	c := clauses[0]
	if c.Kind != KindField || c.Name != "price" || c.Order != Desc {
		t.Errorf("unexpected clause: %+v", c)
	}
}

func TestParse_NotSortable(t *testing.T) {
	_, err := Parse([]string{"title:asc"}, makeSchema(t))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for non-sortable field, got %v", err)
	}
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]string{"missing:asc"}, makeSchema(t))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestParse_TextMatchBuckets(t *testing.T) {
	clauses, err := Parse([]string{"_text_match(buckets:2):desc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := clauses[0]
	if c.Kind != KindTextMatch || c.Buckets != 2 {
		t.Errorf("unexpected clause: %+v", c)
	}
}

func TestParse_BucketSize(t *testing.T) {
	clauses, err := Parse([]string{"_vector_distance(bucket_size:10):asc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clauses[0].BucketSize != 10 {
		t.Errorf("expected bucket_size 10, got %d", clauses[0].BucketSize)
	}
}

func TestParse_GeoClause(t *testing.T) {
	clauses, err := Parse([]string{"loc(48.85, 2.34, precision: 2 km):asc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := clauses[0]
	if c.Kind != KindGeo {
		t.Fatalf("expected geo clause, got kind %d", c.Kind)
	}
	if c.GeoLat != 48.85 || c.GeoLng != 2.34 {
		t.Errorf("unexpected point: %v,%v", c.GeoLat, c.GeoLng)
	}
	if c.GeoPrecision != 2000 {
		t.Errorf("expected 2000m precision, got %v", c.GeoPrecision)
	}
}

func TestParse_DecayClause(t *testing.T) {
	clauses, err := Parse([]string{"price(func:gauss, origin:100, scale:50):desc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := clauses[0]
	if c.Kind != KindDecay || c.Decay == nil {
		t.Fatalf("expected decay clause, got %+v", c)
	}
	if c.Decay.Func != DecayGauss || c.Decay.Origin != 100 || c.Decay.Scale != 50 {
		t.Errorf("unexpected decay spec: %+v", c.Decay)
	}
	if c.Decay.Decay != 0.5 {
		t.Errorf("expected default decay 0.5, got %v", c.Decay.Decay)
	}
}

func TestParse_DecayOutOfRange(t *testing.T) {
	_, err := Parse([]string{"price(func:gauss, origin:0, scale:10, decay:1.5):desc"}, makeSchema(t))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for decay > 1, got %v", err)
	}
}

func TestParse_RandomOrderSeed(t *testing.T) {
	clauses, err := Parse([]string{"_random_order(42):asc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if clauses[0].Kind != KindRandom || clauses[0].RandomSeed != 42 {
		t.Errorf("unexpected clause: %+v", clauses[0])
	}
}

func TestParse_MaxThreeClauses(t *testing.T) {
	_, err := Parse([]string{"price:asc", "rank:asc", "_seq_id:desc", "_text_match:desc"},
		makeSchema(t))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for 4 clauses, got %v", err)
	}
}

func TestParse_SingleEvalOnly(t *testing.T) {
	_, err := Parse([]string{
		"_eval(price:>10): desc",
		"_eval(price:<5): desc",
	}, makeSchema(t))
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for two _eval clauses, got %v", err)
	}
}

func TestApplyDefaults_NonWildcard(t *testing.T) {
	clauses := ApplyDefaults(nil, false, false, false, "", makeSchema(t))
	if len(clauses) == 0 || clauses[0].Kind != KindTextMatch || clauses[0].Order != Desc {
		t.Fatalf("expected leading _text_match desc, got %+v", clauses)
	}
	last := clauses[len(clauses)-1]
	if last.Kind != KindSeqID || last.Order != Desc {
		t.Errorf("expected trailing _seq_id desc, got %+v", last)
	}
}

func TestApplyDefaults_VectorWildcard(t *testing.T) {
	clauses := ApplyDefaults(nil, true, true, false, "", makeSchema(t))
	if clauses[0].Kind != KindVectorDistance || clauses[0].Order != Asc {
		t.Fatalf("expected leading _vector_distance asc, got %+v", clauses[0])
	}
}

func TestApplyDefaults_DefaultSortingField(t *testing.T) {
	clauses := ApplyDefaults(nil, false, false, false, "price", makeSchema(t))
	if len(clauses) < 2 || clauses[1].Name != "price" || clauses[1].Order != Desc {
		t.Fatalf("expected default sorting field second, got %+v", clauses)
	}
}

func TestApplyDefaults_UnionTieBreak(t *testing.T) {
	base, err := Parse([]string{"price:asc"}, makeSchema(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clauses := ApplyDefaults(base, false, false, true, "", makeSchema(t))
	if len(clauses) != 3 {
		t.Fatalf("expected 3 clauses, got %d", len(clauses))
	}
	if clauses[1].Kind != KindUnionIndex || clauses[1].Order != Asc {
		t.Errorf("expected _union_search_index asc second, got %+v", clauses[1])
	}
	if clauses[2].Kind != KindSeqID || clauses[2].Order != Desc {
		t.Errorf("expected _seq_id desc third, got %+v", clauses[2])
	}
}
