package omnidex

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(context.Background(), WithInMemoryStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClient_RequiresStore(t *testing.T) {
	_, err := New(context.Background())
	if err == nil {
		t.Fatal("expected an error without a store option")
	}
}

func TestClient_IndexAndSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	title, err := NewField("title", field.String)
	if err != nil {
		t.Fatalf("NewField: %v", err)
	}
	if err := client.CreateCollection(ctx, "articles", []Field{title}, "", false); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if err := client.Index(ctx, "articles", Document{"id": "a", "title": "green tea"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := client.Index(ctx, "articles", Document{"id": "b", "title": "black coffee"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	resp, err := client.Search(ctx, NewSearchParams("articles", "tea", "title"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Found != 1 || resp.Hits[0].Document["id"] != "a" {
		t.Errorf("unexpected search result: found=%d", resp.Found)
	}
}

func TestClient_DocumentRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	title, _ := NewField("title", field.String)
	if err := client.CreateCollection(ctx, "c", []Field{title}, "", false); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if err := client.Index(ctx, "c", Document{"id": "x", "title": "hello"}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	doc, err := client.GetDocument(ctx, "c", "x")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc["title"] != "hello" {
		t.Errorf("unexpected document: %v", doc)
	}

	if err := client.DeleteDocument(ctx, "c", "x"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := client.GetDocument(ctx, "c", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
