package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
)

func unionFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)

	titleA := makeField(t, "title", field.String)
	priceA := makeField(t, "price", field.Float)
	f.createCollection(t, "books", []field.Field{titleA, priceA}, "")

	titleB := makeField(t, "title", field.String)
	rankB := makeField(t, "rank", field.Int32)
	f.createCollection(t, "films", []field.Field{titleB, rankB}, "")

	for i := 1; i <= 5; i++ {
		f.addDoc(t, "books", domdoc.Doc{
			"id": fmt.Sprintf("b%d", i), "title": "story time", "price": float64(i * 10),
		})
		f.addDoc(t, "films", domdoc.Doc{
			"id": fmt.Sprintf("f%d", i), "title": "story reel", "rank": float64(i),
		})
	}
	return f
}

func TestUnion_SortTypeMismatch(t *testing.T) {
	f := unionFixture(t)

	a := searchParams("books", "story", "title")
	a.SortBy = []string{"price:asc"}
	b := searchParams("films", "story", "title")
	b.SortBy = []string{"rank:asc"}

	_, err := f.search.Union(context.Background(), []request.Params{a, b}, UnionParams{PerPage: 10})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"books", "films", "float", "int32"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message should mention %q: %s", want, msg)
		}
	}
}

func TestUnion_SingleSubSearch(t *testing.T) {
	f := unionFixture(t)

	a := searchParams("books", "story", "title")
	resp, err := f.search.Union(context.Background(), []request.Params{a}, UnionParams{PerPage: 10})
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if resp.Found != 5 {
		t.Fatalf("expected 5 found, got %d", resp.Found)
	}
	for _, hit := range resp.Hits {
		if hit.SearchIndex == nil || *hit.SearchIndex != 0 {
			t.Error("expected search_index 0 on every hit")
		}
		if hit.Collection != "books" {
			t.Errorf("expected collection books, got %q", hit.Collection)
		}
	}
}

func TestUnion_MergesAcrossCollections(t *testing.T) {
	f := unionFixture(t)

	// Identical clause types across both collections: sort by _seq_id.
	a := searchParams("books", "story", "title")
	a.SortBy = []string{"_seq_id:asc"}
	b := searchParams("films", "story", "title")
	b.SortBy = []string{"_seq_id:asc"}

	resp, err := f.search.Union(context.Background(), []request.Params{a, b}, UnionParams{PerPage: 20})
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if resp.Found != 10 {
		t.Fatalf("expected 10 found, got %d", resp.Found)
	}
	if len(resp.Hits) != 10 {
		t.Fatalf("expected 10 hits, got %d", len(resp.Hits))
	}
	// Equal seq ids interleave by search index ascending.
	if *resp.Hits[0].SearchIndex != 0 || *resp.Hits[1].SearchIndex != 1 {
		t.Errorf("expected tie-break by union search index, got %d then %d",
			*resp.Hits[0].SearchIndex, *resp.Hits[1].SearchIndex)
	}
}

func TestUnion_PaginationWindow(t *testing.T) {
	f := unionFixture(t)

	a := searchParams("books", "story", "title")
	a.SortBy = []string{"_seq_id:asc"}
	b := searchParams("films", "story", "title")
	b.SortBy = []string{"_seq_id:asc"}

	resp, err := f.search.Union(context.Background(), []request.Params{a, b},
		UnionParams{PerPage: 3, Page: 2})
	if err != nil {
		t.Fatalf("Union: %v", err)
	}
	if len(resp.Hits) != 3 {
		t.Fatalf("expected 3 hits on page 2, got %d", len(resp.Hits))
	}
}
