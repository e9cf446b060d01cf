package document

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
	"github.com/kailas-cloud/omnidex/internal/usecase/embedding"
)

// --- Mocks ---

type fakeMeta struct {
	mu   sync.Mutex
	cols map[string]domcol.Collection
	seqs map[string]uint32
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{cols: map[string]domcol.Collection{}, seqs: map[string]uint32{}}
}

func (m *fakeMeta) Save(_ context.Context, col domcol.Collection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols[col.Name] = col
	return nil
}

func (m *fakeMeta) Get(_ context.Context, name string) (domcol.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	col, ok := m.cols[name]
	if !ok {
		return domcol.Collection{}, fmt.Errorf("%w: collection %q", domain.ErrNotFound, name)
	}
	return col, nil
}

func (m *fakeMeta) List(_ context.Context) ([]domcol.Collection, error) { return nil, nil }

func (m *fakeMeta) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cols, name)
	return nil
}

func (m *fakeMeta) NextSeqID(_ context.Context, name string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqs[name]++
	return m.seqs[name], nil
}

type docKey struct {
	colID uint32
	seqID uint32
}

type fakeDocs struct {
	mu    sync.Mutex
	bySeq map[docKey]domdoc.Doc
	byID  map[string]uint32
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{bySeq: map[docKey]domdoc.Doc{}, byID: map[string]uint32{}}
}

func idKey(colID uint32, docID string) string {
	return strconv.FormatUint(uint64(colID), 10) + "/" + docID
}

func (d *fakeDocs) Save(_ context.Context, colID, seqID uint32, doc domdoc.Doc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bySeq[docKey{colID, seqID}] = doc
	if docID, ok := doc["id"].(string); ok {
		d.byID[idKey(colID, docID)] = seqID
	}
	return nil
}

func (d *fakeDocs) GetBySeq(_ context.Context, colID, seqID uint32) (domdoc.Doc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.bySeq[docKey{colID, seqID}]
	if !ok {
		return nil, fmt.Errorf("%w: document with seq id %d", domain.ErrNotFound, seqID)
	}
	return doc, nil
}

func (d *fakeDocs) SeqForDocID(_ context.Context, colID uint32, docID string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seqID, ok := d.byID[idKey(colID, docID)]
	if !ok {
		return 0, fmt.Errorf("%w: document %q", domain.ErrNotFound, docID)
	}
	return seqID, nil
}

func (d *fakeDocs) Delete(_ context.Context, colID, seqID uint32, docID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bySeq, docKey{colID, seqID})
	delete(d.byID, idKey(colID, docID))
	return nil
}

func (d *fakeDocs) WalkSeqOrder(_ context.Context, colID uint32,
	fn func(seqID uint32, doc domdoc.Doc) bool) error {
	d.mu.Lock()
	var seqs []uint32
	for k := range d.bySeq {
		if k.colID == colID {
			seqs = append(seqs, k.seqID)
		}
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	docs := make([]domdoc.Doc, len(seqs))
	for i, s := range seqs {
		docs[i] = d.bySeq[docKey{colID, s}]
	}
	d.mu.Unlock()
	for i, s := range seqs {
		if !fn(s, docs[i]) {
			return nil
		}
	}
	return nil
}

// --- Fixture ---

type fixture struct {
	collections *collection.Service
	documents   *Service
	docs        *fakeDocs
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	meta := newFakeMeta()
	docs := newFakeDocs()
	registry := collection.NewRegistry(meta, docs, logger)
	collections := collection.New(registry, meta, logger)
	dispatcher := embedding.NewDispatcher(nil, embedding.NewLocalEmbedder(16), logger)
	documents := New(registry, meta, docs, dispatcher, logger)
	return &fixture{collections: collections, documents: documents, docs: docs}
}

func makeField(t *testing.T, name string, ft field.Type) field.Field {
	t.Helper()
	f, err := field.New(name, ft)
	if err != nil {
		t.Fatalf("field.New(%s): %v", name, err)
	}
	return f
}

// --- Tests ---

func TestAdd_RoundTrip(t *testing.T) {
	f := newFixture(t)
	title := makeField(t, "title", field.String)
	price := makeField(t, "price", field.Float)
	if _, err := f.collections.Create(context.Background(), "products",
		[]field.Field{title, price}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := f.documents.Add(context.Background(), "products",
		domdoc.Doc{"id": "p1", "title": "thing", "price": 9.5},
		ActionCreate, domdoc.CoerceOrReject)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := f.documents.Get(context.Background(), "products", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "thing" || got["price"] != 9.5 {
		t.Errorf("unexpected stored document: %v", got)
	}
}

func TestAdd_CreateConflict(t *testing.T) {
	f := newFixture(t)
	if _, err := f.collections.Create(context.Background(), "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc := domdoc.Doc{"id": "p1", "title": "thing"}
	if _, err := f.documents.Add(context.Background(), "products", doc,
		ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	_, err := f.documents.Add(context.Background(), "products",
		domdoc.Doc{"id": "p1", "title": "again"}, ActionCreate, domdoc.CoerceOrReject)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestAdd_UpdateMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.collections.Create(context.Background(), "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := f.documents.Add(context.Background(), "products",
		domdoc.Doc{"id": "nope", "title": "x"}, ActionUpdate, domdoc.CoerceOrReject)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAdd_EmplaceMerges(t *testing.T) {
	f := newFixture(t)
	title := makeField(t, "title", field.String)
	price := makeField(t, "price", field.Float)
	price.Optional = true
	if _, err := f.collections.Create(context.Background(), "products",
		[]field.Field{title, price}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	ctx := context.Background()
	if _, err := f.documents.Add(ctx, "products",
		domdoc.Doc{"id": "p1", "title": "original", "price": 3.0},
		ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.documents.Add(ctx, "products",
		domdoc.Doc{"id": "p1", "price": 4.0},
		ActionEmplace, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("emplace: %v", err)
	}
	got, err := f.documents.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got["title"] != "original" || got["price"] != 4.0 {
		t.Errorf("emplace should merge over the stored doc, got %v", got)
	}
}

// Cascade over an array reference: deleting one referenced category removes
// the element and its helper entry while preserving correspondence.
func TestDelete_CascadeArrayReference(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	catName := makeField(t, "name", field.String)
	if _, err := f.collections.Create(ctx, "categories",
		[]field.Field{catName}, "", false); err != nil {
		t.Fatalf("Create categories: %v", err)
	}

	prodTitle := makeField(t, "title", field.String)
	cats := makeField(t, "cats", field.StringArray)
	cats.Reference = "categories.name"
	if _, err := f.collections.Create(ctx, "products",
		[]field.Field{prodTitle, cats}, "", false); err != nil {
		t.Fatalf("Create products: %v", err)
	}

	if _, err := f.documents.Add(ctx, "categories",
		domdoc.Doc{"id": "c1", "name": "shoes"}, ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add c1: %v", err)
	}
	if _, err := f.documents.Add(ctx, "categories",
		domdoc.Doc{"id": "c2", "name": "boots"}, ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add c2: %v", err)
	}

	if _, err := f.documents.Add(ctx, "products", domdoc.Doc{
		"id": "p1", "title": "prod", "cats": []any{"shoes", "boots"},
	}, ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add p1: %v", err)
	}

	stored, err := f.documents.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get p1: %v", err)
	}
	helpers, _ := stored["cats"+field.ReferenceHelperSuffix].([]any)
	if len(helpers) != 2 {
		t.Fatalf("expected 2 helper entries, got %v", helpers)
	}

	if _, err := f.documents.Delete(ctx, "categories", "c1"); err != nil {
		t.Fatalf("Delete c1: %v", err)
	}

	stored, err = f.documents.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get p1 after cascade: %v", err)
	}
	vals, _ := stored["cats"].([]any)
	if len(vals) != 1 || vals[0] != "boots" {
		t.Errorf("expected cats=[boots], got %v", vals)
	}
	helpers, _ = stored["cats"+field.ReferenceHelperSuffix].([]any)
	if len(helpers) != 1 {
		t.Errorf("expected one helper entry, got %v", helpers)
	}
}

func TestDelete_CascadeSingularDeletesOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.collections.Create(ctx, "brands",
		[]field.Field{makeField(t, "name", field.String)}, "", false); err != nil {
		t.Fatalf("Create brands: %v", err)
	}
	title := makeField(t, "title", field.String)
	brandRef := makeField(t, "brand", field.String)
	brandRef.Reference = "brands.name"
	if _, err := f.collections.Create(ctx, "products",
		[]field.Field{title, brandRef}, "", false); err != nil {
		t.Fatalf("Create products: %v", err)
	}

	if _, err := f.documents.Add(ctx, "brands",
		domdoc.Doc{"id": "b1", "name": "acme"}, ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add b1: %v", err)
	}
	if _, err := f.documents.Add(ctx, "products",
		domdoc.Doc{"id": "p1", "title": "x", "brand": "acme"},
		ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add p1: %v", err)
	}

	if _, err := f.documents.Delete(ctx, "brands", "b1"); err != nil {
		t.Fatalf("Delete b1: %v", err)
	}
	if _, err := f.documents.Get(ctx, "products", "p1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected owning document removed by cascade, got %v", err)
	}
}

func TestAdd_SyncReferenceUnresolvedFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.collections.Create(ctx, "brands",
		[]field.Field{makeField(t, "name", field.String)}, "", false); err != nil {
		t.Fatalf("Create brands: %v", err)
	}
	title := makeField(t, "title", field.String)
	brandRef := makeField(t, "brand", field.String)
	brandRef.Reference = "brands.name"
	if _, err := f.collections.Create(ctx, "products",
		[]field.Field{title, brandRef}, "", false); err != nil {
		t.Fatalf("Create products: %v", err)
	}

	_, err := f.documents.Add(ctx, "products",
		domdoc.Doc{"id": "p1", "title": "x", "brand": "ghost"},
		ActionCreate, domdoc.CoerceOrReject)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unresolved sync reference, got %v", err)
	}
}

func TestAdd_AsyncReferenceBackfill(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.collections.Create(ctx, "brands",
		[]field.Field{makeField(t, "name", field.String)}, "", false); err != nil {
		t.Fatalf("Create brands: %v", err)
	}
	title := makeField(t, "title", field.String)
	brandRef := makeField(t, "brand", field.String)
	brandRef.Reference = "brands.name"
	brandRef.AsyncReference = true
	if _, err := f.collections.Create(ctx, "products",
		[]field.Field{title, brandRef}, "", false); err != nil {
		t.Fatalf("Create products: %v", err)
	}

	// The referenced brand does not exist yet: the helper carries the
	// sentinel.
	if _, err := f.documents.Add(ctx, "products",
		domdoc.Doc{"id": "p1", "title": "x", "brand": "future"},
		ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	stored, err := f.documents.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get p1: %v", err)
	}
	helper, _ := stored["brand"+field.ReferenceHelperSuffix].(float64)
	if uint32(helper) != field.UnresolvedReference {
		t.Fatalf("expected unresolved sentinel, got %v", helper)
	}

	// Inserting the brand back-fills the reference.
	if _, err := f.documents.Add(ctx, "brands",
		domdoc.Doc{"id": "b1", "name": "future"}, ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("add b1: %v", err)
	}
	stored, err = f.documents.Get(ctx, "products", "p1")
	if err != nil {
		t.Fatalf("Get p1 after backfill: %v", err)
	}
	helper, _ = stored["brand"+field.ReferenceHelperSuffix].(float64)
	if uint32(helper) == field.UnresolvedReference {
		t.Error("expected the helper to be resolved after the referenced insert")
	}
}

func TestImport_CollectsPerRecordErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.collections.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}

	ndjson := `{"id": "a", "title": "ok"}
not json at all
{"id": "a", "title": "duplicate"}`
	results, err := f.documents.Import(ctx, "products",
		strings.NewReader(ndjson), ActionCreate, domdoc.CoerceOrReject)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || results[1].Success || results[2].Success {
		t.Errorf("unexpected outcomes: %+v", results)
	}
}

func TestTruncateTopK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	count := makeField(t, "count", field.Int64)
	q := makeField(t, "q", field.String)
	if _, err := f.collections.Create(ctx, "suggestions",
		[]field.Field{q, count}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 1; i <= 10; i++ {
		if _, err := f.documents.Add(ctx, "suggestions", domdoc.Doc{
			"id": fmt.Sprintf("s%d", i), "q": "query", "count": float64(i),
		}, ActionCreate, domdoc.CoerceOrReject); err != nil {
			t.Fatalf("add s%d: %v", i, err)
		}
	}
	removed, err := f.documents.TruncateTopK(ctx, "suggestions", "count", 3)
	if err != nil {
		t.Fatalf("TruncateTopK: %v", err)
	}
	if removed != 7 {
		t.Errorf("expected 7 removed, got %d", removed)
	}
	// The three highest counts survive.
	for i := 8; i <= 10; i++ {
		if _, err := f.documents.Get(ctx, "suggestions", fmt.Sprintf("s%d", i)); err != nil {
			t.Errorf("expected s%d retained: %v", i, err)
		}
	}
}
