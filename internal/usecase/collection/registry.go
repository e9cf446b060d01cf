package collection

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/index/memindex"
)

// Handle is the live state of one collection: the meta, its index, the
// writer lock, and the weak-by-name reference back-edges.
type Handle struct {
	// mu is the collection's reader-writer lock: schema and document
	// mutations take the exclusive side, searches take the shared side.
	mu sync.RWMutex
	// lifecycle guards destruction against in-flight requests.
	lifecycle sync.RWMutex

	Meta  domcol.Collection
	Index *memindex.Index

	Alter *AlterStatus

	// referencedIn maps referencing collection name -> its local reference
	// field. Resolution goes through the registry that owns all handles.
	referencedIn      map[string]string
	asyncReferencedIn map[string][]string
}

// RLock takes the shared side of the collection lock.
func (h *Handle) RLock() { h.mu.RLock() }

// RUnlock releases the shared side.
func (h *Handle) RUnlock() { h.mu.RUnlock() }

// Lock takes the exclusive side of the collection lock.
func (h *Handle) Lock() { h.mu.Lock() }

// Unlock releases the exclusive side.
func (h *Handle) Unlock() { h.mu.Unlock() }

// ReferencedIn snapshots the backward edges.
func (h *Handle) ReferencedIn() map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string, len(h.referencedIn))
	for k, v := range h.referencedIn {
		out[k] = v
	}
	return out
}

// AddReferencedIn registers a backward edge from a referencing collection.
func (h *Handle) AddReferencedIn(collection, localField string, async bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if async {
		h.asyncReferencedIn[collection] = append(h.asyncReferencedIn[collection], localField)
		return
	}
	h.referencedIn[collection] = localField
}

// RemoveReferencedIn drops backward edges from a collection.
func (h *Handle) RemoveReferencedIn(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.referencedIn, collection)
	delete(h.asyncReferencedIn, collection)
}

// AsyncReferencedIn snapshots the async backward edges.
func (h *Handle) AsyncReferencedIn() map[string][]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]string, len(h.asyncReferencedIn))
	for k, v := range h.asyncReferencedIn {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Registry owns every live collection handle. It is the explicit service
// registry components receive at construction; tests supply a narrower one.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle

	meta MetaStore
	docs DocStore

	logger *zap.Logger
}

var _ memindex.RefEval = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(meta MetaStore, docs DocStore, logger *zap.Logger) *Registry {
	return &Registry{
		handles: make(map[string]*Handle),
		meta:    meta,
		docs:    docs,
		logger:  logger,
	}
}

// Get returns a live handle.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q", domain.ErrNotFound, name)
	}
	return h, nil
}

// Names lists live collection names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handles))
	for name := range r.handles {
		out = append(out, name)
	}
	return out
}

// Handles snapshots the live handles.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h)
	}
	return out
}

// install creates the live handle for a collection meta and wires the
// reference back-edges of its schema.
func (r *Registry) install(col domcol.Collection) *Handle {
	h := &Handle{
		Meta:              col,
		Index:             memindex.New(col.Fields, col.SymbolsToIndex, col.TokenSeparators),
		Alter:             NewAlterStatus(),
		referencedIn:      make(map[string]string),
		asyncReferencedIn: make(map[string][]string),
	}
	h.Index.SetRefEval(r)

	r.mu.Lock()
	r.handles[col.Name] = h
	r.mu.Unlock()

	r.wireReferences(col)
	return h
}

// wireReferences registers this collection's forward references as backward
// edges on the referenced collections.
func (r *Registry) wireReferences(col domcol.Collection) {
	for _, f := range col.ReferenceFields() {
		refColl, _, err := f.ReferencedCollection()
		if err != nil {
			continue
		}
		target, err := r.Get(refColl)
		if err != nil {
			// The referenced collection may load later; edges are re-wired
			// after startup load completes.
			continue
		}
		target.AddReferencedIn(col.Name, f.Name, f.AsyncReference)
	}
}

// remove drops the handle and its backward edges elsewhere.
func (r *Registry) remove(name string) {
	r.mu.Lock()
	delete(r.handles, name)
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	for _, h := range handles {
		h.RemoveReferencedIn(name)
	}
}

// EvalInCollection evaluates a filter tree against another collection's
// index; reference join atoms reach across collections through this.
func (r *Registry) EvalInCollection(ctx context.Context, collection string,
	node *filter.Node) (filter.Result, error) {
	h, err := r.Get(collection)
	if err != nil {
		return filter.Result{}, err
	}
	return h.Index.EvalFilterResult(ctx, node)
}

// rebuildIndex replays stored documents into a fresh index (startup load).
func (r *Registry) rebuildIndex(ctx context.Context, h *Handle) error {
	batch := make([]index.Record, 0, ingestBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := h.Index.BatchMemoryIndex(ctx, batch); err != nil {
			return err
		}
		batch = batch[:0]
		return nil
	}
	err := r.docs.WalkSeqOrder(ctx, h.Meta.ID, func(seqID uint32, doc domdoc.Doc) bool {
		batch = append(batch, index.Record{SeqID: seqID, Doc: doc, Fields: indexTargets(h.Meta, doc)})
		if len(batch) >= ingestBatchSize {
			if err := flush(); err != nil {
				r.logger.Error("index rebuild batch failed", zap.String("collection", h.Meta.Name),
					zap.Error(err))
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	return flush()
}

// indexTargets resolves the concrete fields to index for a document,
// expanding dynamic field patterns against the document's keys.
func indexTargets(col domcol.Collection, doc domdoc.Doc) []field.Field {
	var out []field.Field
	seen := map[string]bool{}
	for _, f := range col.Fields {
		if f.IsDynamic() {
			continue
		}
		out = append(out, f)
		seen[f.Name] = true
	}
	for name := range doc {
		if seen[name] || name == domdoc.FlatKey {
			continue
		}
		// ResolveField materializes dynamic patterns under the concrete name.
		if f, ok := col.ResolveField(name); ok {
			out = append(out, f)
			seen[name] = true
		}
	}
	return out
}
