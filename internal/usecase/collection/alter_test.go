package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/index"
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

func (d *fakeDocs) Save(_ context.Context, colID, seqID uint32, doc domdoc.Doc) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bySeq[docKey{colID, seqID}] = doc
	if docID, ok := doc["id"].(string); ok {
		d.byID[strconv.Itoa(int(colID)) + "/" + docID] = seqID
	}
	return nil
}

func (d *fakeDocs) GetBySeq(_ context.Context, colID, seqID uint32) (domdoc.Doc, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	doc, ok := d.bySeq[docKey{colID, seqID}]
	if !ok {
		return nil, fmt.Errorf("%w: seq %d", domain.ErrNotFound, seqID)
	}
	return doc, nil
}

func (d *fakeDocs) SeqForDocID(_ context.Context, colID uint32, docID string) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	seqID, ok := d.byID[strconv.Itoa(int(colID))+"/"+docID]
	if !ok {
		return 0, fmt.Errorf("%w: document %q", domain.ErrNotFound, docID)
	}
	return seqID, nil
}

func (d *fakeDocs) Delete(_ context.Context, colID, seqID uint32, docID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.bySeq, docKey{colID, seqID})
	delete(d.byID, strconv.Itoa(int(colID))+"/"+docID)
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

func newServices(t *testing.T) (*Service, *fakeMeta, *fakeDocs) {
	t.Helper()
	logger := zap.NewNop()
	meta := newFakeMeta()
	docs := newFakeDocs()
	registry := NewRegistry(meta, docs, logger)
	return New(registry, meta, logger), meta, docs
}

func makeField(t *testing.T, name string, ft field.Type) field.Field {
	t.Helper()
	f, err := field.New(name, ft)
	if err != nil {
		t.Fatalf("field.New(%s): %v", name, err)
	}
	return f
}

func seedDocs(t *testing.T, svc *Service, docs *fakeDocs, name string, seed []domdoc.Doc) {
	t.Helper()
	h, err := svc.Registry().Get(name)
	if err != nil {
		t.Fatalf("Get handle: %v", err)
	}
	ctx := context.Background()
	for i, doc := range seed {
		seqID := uint32(i + 1)
		if err := docs.Save(ctx, h.Meta.ID, seqID, doc); err != nil {
			t.Fatalf("Save: %v", err)
		}
		if err := h.Index.BatchMemoryIndex(ctx, []index.Record{{SeqID: seqID, Doc: doc}}); err != nil {
			t.Fatalf("BatchMemoryIndex: %v", err)
		}
	}
}

func schemaJSON(t *testing.T, svc *Service, name string) string {
	t.Helper()
	col, err := svc.Get(context.Background(), name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	data, err := json.Marshal(col.Fields)
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}
	return string(data)
}

// --- Tests ---

func TestAlter_AddField(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedDocs(t, svc, docs, "products", []domdoc.Doc{
		{"id": "a", "title": "one", "stock": 5.0},
	})

	stock := makeField(t, "stock", field.Int32)
	stock.Optional = true
	col, err := svc.Alter(ctx, "products", []SchemaChange{{Field: stock}}, docs, nil)
	if err != nil {
		t.Fatalf("Alter: %v", err)
	}
	if _, ok := col.FieldByName("stock"); !ok {
		t.Error("expected stock in the altered schema")
	}
}

// Validation failure leaves the schema byte-identical (atomic alter).
func TestAlter_IncompatibleStoredDataRollsBack(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedDocs(t, svc, docs, "products", []domdoc.Doc{
		{"id": "a", "title": "one"},
	})
	before := schemaJSON(t, svc, "products")

	// A required int field cannot be satisfied by the stored document.
	count := makeField(t, "count", field.Int32)
	_, err := svc.Alter(ctx, "products", []SchemaChange{{Field: count}}, docs, nil)
	if !errors.Is(err, domain.ErrIncompatibleStoredData) {
		t.Fatalf("expected ErrIncompatibleStoredData, got %v", err)
	}

	after := schemaJSON(t, svc, "products")
	if before != after {
		t.Error("schema changed despite failed validation")
	}
}

func TestAlter_DropField(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	title := makeField(t, "title", field.String)
	extra := makeField(t, "extra", field.String)
	extra.Optional = true
	if _, err := svc.Create(ctx, "products", []field.Field{title, extra}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedDocs(t, svc, docs, "products", []domdoc.Doc{
		{"id": "a", "title": "one", "extra": "x"},
	})

	col, err := svc.Alter(ctx, "products",
		[]SchemaChange{{Drop: true, Field: field.Field{Name: "extra"}}}, docs, nil)
	if err != nil {
		t.Fatalf("Alter: %v", err)
	}
	if _, ok := col.FieldByName("extra"); ok {
		t.Error("expected extra removed from the schema")
	}
}

func TestAlter_DropUnknownField(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := svc.Alter(ctx, "products",
		[]SchemaChange{{Drop: true, Field: field.Field{Name: "ghost"}}}, docs, nil)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestAlter_AddExistingWithoutDrop(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := svc.Alter(ctx, "products",
		[]SchemaChange{{Field: makeField(t, "title", field.String)}}, docs, nil)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for re-adding an existing field, got %v", err)
	}
}

func TestAlter_DropAndAddReindexes(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	title := makeField(t, "title", field.String)
	num := makeField(t, "num", field.String)
	num.Optional = true
	if _, err := svc.Create(ctx, "products", []field.Field{title, num}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedDocs(t, svc, docs, "products", []domdoc.Doc{
		{"id": "a", "title": "one", "num": "42"},
	})

	asInt := makeField(t, "num", field.Int32)
	asInt.Optional = true
	col, err := svc.Alter(ctx, "products", []SchemaChange{
		{Drop: true, Field: field.Field{Name: "num"}},
		{Field: asInt},
	}, docs, nil)
	if err != nil {
		t.Fatalf("Alter: %v", err)
	}
	f, ok := col.FieldByName("num")
	if !ok || f.Type != field.Int32 {
		t.Errorf("expected num reindexed as int32, got %+v", f)
	}
}

func TestAlterStatus_RingBuffer(t *testing.T) {
	status := NewAlterStatus()
	for i := 0; i < AlterStatusMsgCount+3; i++ {
		status.Record(fmt.Sprintf("entry %d", i))
	}
	_, _, _, history := status.Snapshot()
	if len(history) != AlterStatusMsgCount {
		t.Fatalf("expected %d history entries, got %d", AlterStatusMsgCount, len(history))
	}
	if history[0] != "entry 3" || history[len(history)-1] != "entry 7" {
		t.Errorf("unexpected ring contents: %v", history)
	}
}

func TestCreate_DuplicateCollection(t *testing.T) {
	svc, _, _ := newServices(t)
	ctx := context.Background()
	if _, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String)}, "", false)
	if !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestCreate_ReferenceHelperExpansion(t *testing.T) {
	svc, _, _ := newServices(t)
	ctx := context.Background()
	ref := makeField(t, "brand", field.String)
	ref.Reference = "brands.name"
	col, err := svc.Create(ctx, "products",
		[]field.Field{makeField(t, "title", field.String), ref}, "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	helper, ok := col.FieldByName("brand" + field.ReferenceHelperSuffix)
	if !ok {
		t.Fatal("expected the hidden reference helper field")
	}
	if !helper.Optional || helper.Type != field.Int64 {
		t.Errorf("unexpected helper field: %+v", helper)
	}
}

// TestAlter_ReindexValidationSeesCoercion confirms the validation phase uses
// coerce-or-reject: a stored integral float that coerces cleanly passes.
func TestAlter_ReindexValidationSeesCoercion(t *testing.T) {
	svc, _, docs := newServices(t)
	ctx := context.Background()
	title := makeField(t, "title", field.String)
	if _, err := svc.Create(ctx, "products", []field.Field{title}, "", false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	seedDocs(t, svc, docs, "products", []domdoc.Doc{
		{"id": "a", "title": "one", "views": 3.0},
	})

	views := makeField(t, "views", field.Int64)
	views.Optional = true
	if _, err := svc.Alter(ctx, "products", []SchemaChange{{Field: views}}, docs, nil); err != nil {
		t.Fatalf("Alter should coerce stored float 3.0 into int64: %v", err)
	}
}
