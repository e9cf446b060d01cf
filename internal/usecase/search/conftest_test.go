package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	domover "github.com/kailas-cloud/omnidex/internal/domain/override"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	collectionuc "github.com/kailas-cloud/omnidex/internal/usecase/collection"
	curationuc "github.com/kailas-cloud/omnidex/internal/usecase/curation"
	documentuc "github.com/kailas-cloud/omnidex/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/omnidex/internal/usecase/embedding"
)

// --- In-memory stores ---

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

func (m *fakeMeta) List(_ context.Context) ([]domcol.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domcol.Collection
	for _, c := range m.cols {
		out = append(out, c)
	}
	return out, nil
}

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
	mu     sync.Mutex
	bySeq  map[docKey]domdoc.Doc
	byID   map[string]uint32
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

type fakeOverrides struct {
	mu        sync.Mutex
	overrides map[string][]domover.Override
}

func newFakeOverrides() *fakeOverrides {
	return &fakeOverrides{overrides: map[string][]domover.Override{}}
}

func (f *fakeOverrides) Save(_ context.Context, collection string, o domover.Override) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.overrides[collection]
	for i, existing := range list {
		if existing.ID == o.ID {
			list[i] = o
			return nil
		}
	}
	f.overrides[collection] = append(list, o)
	sort.Slice(f.overrides[collection], func(i, j int) bool {
		return f.overrides[collection][i].ID < f.overrides[collection][j].ID
	})
	return nil
}

func (f *fakeOverrides) Get(_ context.Context, collection, id string) (domover.Override, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.overrides[collection] {
		if o.ID == id {
			return o, nil
		}
	}
	return domover.Override{}, fmt.Errorf("%w: override %q", domain.ErrNotFound, id)
}

func (f *fakeOverrides) List(_ context.Context, collection string) ([]domover.Override, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domover.Override(nil), f.overrides[collection]...), nil
}

func (f *fakeOverrides) Delete(_ context.Context, collection, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.overrides[collection]
	kept := list[:0]
	for _, o := range list {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	f.overrides[collection] = kept
	return nil
}

// --- Fixture ---

type fixture struct {
	collections *collectionuc.Service
	documents   *documentuc.Service
	curation    *curationuc.Service
	search      *Service
	overrides   *fakeOverrides
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	meta := newFakeMeta()
	docs := newFakeDocs()
	overrides := newFakeOverrides()

	registry := collectionuc.NewRegistry(meta, docs, logger)
	collections := collectionuc.New(registry, meta, logger)
	dispatcher := embeddinguc.NewDispatcher(nil, embeddinguc.NewLocalEmbedder(16), logger)
	documents := documentuc.New(registry, meta, docs, dispatcher, logger)
	curation := curationuc.New(overrides, logger)
	search := New(registry, docs, curation, dispatcher, Options{MaxPerPage: 250}, logger)

	return &fixture{
		collections: collections,
		documents:   documents,
		curation:    curation,
		search:      search,
		overrides:   overrides,
	}
}

func (f *fixture) createCollection(t *testing.T, name string, fields []field.Field,
	defaultSortingField string) {
	t.Helper()
	if _, err := f.collections.Create(context.Background(), name, fields,
		defaultSortingField, false); err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
}

func (f *fixture) addDoc(t *testing.T, collection string, doc domdoc.Doc) {
	t.Helper()
	if _, err := f.documents.Add(context.Background(), collection, doc,
		documentuc.ActionCreate, domdoc.CoerceOrReject); err != nil {
		t.Fatalf("Add(%v): %v", doc["id"], err)
	}
}

func makeField(t *testing.T, name string, ft field.Type) field.Field {
	t.Helper()
	f, err := field.New(name, ft)
	if err != nil {
		t.Fatalf("field.New(%s): %v", name, err)
	}
	return f
}
