package search

import (
	"context"
	"strings"
	"testing"

	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

func TestHighlight_SnippetWrapsMatch(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "articles", []field.Field{makeField(t, "body", field.String)}, "")
	f.addDoc(t, "articles", domdoc.Doc{"id": "a", "body": "the quick brown fox jumps"})

	resp, err := f.search.Search(context.Background(), searchParams("articles", "brown", "body"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(resp.Hits))
	}
	node, ok := resp.Hits[0].Highlight["body"].(map[string]any)
	if !ok {
		t.Fatalf("expected a body highlight node, got %T", resp.Hits[0].Highlight["body"])
	}
	snippet, _ := node["snippet"].(string)
	if !strings.Contains(snippet, "<mark>brown</mark>") {
		t.Errorf("expected marked snippet, got %q", snippet)
	}
	matched, _ := node["matched_tokens"].([]string)
	if len(matched) != 1 || matched[0] != "brown" {
		t.Errorf("unexpected matched tokens: %v", matched)
	}
}

func TestHighlight_TrailingPunctuationOutsideMark(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "articles", []field.Field{makeField(t, "body", field.String)}, "")
	f.addDoc(t, "articles", domdoc.Doc{"id": "a", "body": "hello world."})

	resp, err := f.search.Search(context.Background(), searchParams("articles", "world", "body"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	node := resp.Hits[0].Highlight["body"].(map[string]any)
	snippet := node["snippet"].(string)
	if !strings.Contains(snippet, "<mark>world</mark>.") {
		t.Errorf("trailing punctuation must stay outside the wrapper: %q", snippet)
	}
}

func TestHighlight_SnippetWindowForLongText(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "articles", []field.Field{makeField(t, "body", field.String)}, "")

	words := make([]string, 0, 80)
	for i := 0; i < 40; i++ {
		words = append(words, "filler")
	}
	words = append(words, "needle")
	for i := 0; i < 40; i++ {
		words = append(words, "padding")
	}
	f.addDoc(t, "articles", domdoc.Doc{"id": "a", "body": strings.Join(words, " ")})

	resp, err := f.search.Search(context.Background(), searchParams("articles", "needle", "body"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	node := resp.Hits[0].Highlight["body"].(map[string]any)
	snippet := node["snippet"].(string)
	if !strings.Contains(snippet, "<mark>needle</mark>") {
		t.Fatalf("expected the match inside the snippet: %q", snippet)
	}
	if len(strings.Fields(snippet)) > 35 {
		t.Errorf("snippet window too wide: %d tokens", len(strings.Fields(snippet)))
	}
}

func TestHighlight_NestedField(t *testing.T) {
	f := newFixture(t)
	title := makeField(t, "meta.title", field.String)
	metaObj := makeField(t, "meta", field.Object)

	if _, err := f.collections.Create(context.Background(), "nested",
		[]field.Field{metaObj, title}, "", true); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.addDoc(t, "nested", domdoc.Doc{
		"id":   "a",
		"meta": map[string]any{"title": "deep blue sea"},
	})

	resp, err := f.search.Search(context.Background(), searchParams("nested", "blue", "meta.title"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(resp.Hits))
	}
	meta, ok := resp.Hits[0].Highlight["meta"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested highlight under meta, got %+v", resp.Hits[0].Highlight)
	}
	node, ok := meta["title"].(map[string]any)
	if !ok {
		t.Fatalf("expected highlight node under meta.title, got %+v", meta)
	}
	if !strings.Contains(node["snippet"].(string), "<mark>blue</mark>") {
		t.Errorf("unexpected nested snippet: %v", node["snippet"])
	}
}

func TestHighlight_FullFieldValue(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, "articles", []field.Field{makeField(t, "body", field.String)}, "")
	f.addDoc(t, "articles", domdoc.Doc{"id": "a", "body": "alpha beta gamma"})

	p := searchParams("articles", "beta", "body")
	p.HighlightFullFields = []string{"body"}
	resp, err := f.search.Search(context.Background(), p)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	node := resp.Hits[0].Highlight["body"].(map[string]any)
	value, _ := node["value"].(string)
	if value != "alpha <mark>beta</mark> gamma" {
		t.Errorf("unexpected full value: %q", value)
	}
}
