// Package document implements document ingestion, import actions, deletes
// with reference cascades, and auto-embedding.
package document

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
	"github.com/kailas-cloud/omnidex/internal/usecase/embedding"
)

// Index actions.
const (
	ActionCreate  = "create"
	ActionUpsert  = "upsert"
	ActionUpdate  = "update"
	ActionEmplace = "emplace"
)

// Service handles document writes for all collections.
type Service struct {
	registry *collection.Registry
	meta     collection.MetaStore
	docs     collection.DocStore
	embed    *embedding.Dispatcher
	logger   *zap.Logger
}

// New creates the document service.
func New(registry *collection.Registry, meta collection.MetaStore, docs collection.DocStore,
	embed *embedding.Dispatcher, logger *zap.Logger) *Service {
	return &Service{registry: registry, meta: meta, docs: docs, embed: embed, logger: logger}
}

// Docs exposes the underlying document store to the transport layer
// (collection drops walk it).
func (s *Service) Docs() collection.DocStore { return s.docs }

// Add ingests one document under the given action and dirty-values mode.
// Returns the stored document (with helper fields stripped by callers that
// serve it back).
func (s *Service) Add(ctx context.Context, collectionName string, doc domdoc.Doc,
	action string, mode domdoc.DirtyValues) (domdoc.Doc, error) {
	h, err := s.registry.Get(collectionName)
	if err != nil {
		return nil, err
	}
	h.Lock()
	defer h.Unlock()
	return s.addLocked(ctx, h, doc, action, mode)
}

// addLocked performs the write with the collection writer lock held. The lock
// is released while async references to a new document are back-filled.
func (s *Service) addLocked(ctx context.Context, h *collection.Handle, doc domdoc.Doc,
	action string, mode domdoc.DirtyValues) (domdoc.Doc, error) {
	col := h.Meta

	docID, _ := doc["id"].(string)
	if docID == "" {
		if action == ActionUpdate {
			return nil, fmt.Errorf("%w: update requires a document id", domain.ErrInvalidArgument)
		}
		docID = uuid.NewString()
		doc["id"] = docID
	}
	if _, bad := doc[domdoc.FlatKey]; bad {
		return nil, fmt.Errorf("%w: field name %q is reserved", domain.ErrInvalidArgument, domdoc.FlatKey)
	}

	existingSeq, err := s.docs.SeqForDocID(ctx, col.ID, docID)
	exists := err == nil
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	switch action {
	case ActionCreate:
		if exists {
			return nil, fmt.Errorf("%w: a document with id %s already exists", domain.ErrConflict, docID)
		}
	case ActionUpdate:
		if !exists {
			return nil, fmt.Errorf("%w: could not find a document with id %s", domain.ErrNotFound, docID)
		}
	case ActionUpsert, ActionEmplace:
	default:
		return nil, fmt.Errorf("%w: unknown index action %q", domain.ErrInvalidArgument, action)
	}

	// Update and emplace merge the incoming partial document over the
	// stored one.
	if exists && (action == ActionUpdate || action == ActionEmplace) {
		stored, err := s.docs.GetBySeq(ctx, col.ID, existingSeq)
		if err != nil {
			return nil, err
		}
		doc = mergeDocs(stored, doc)
	}

	if col.EnableNestedFields {
		if err := domdoc.Flatten(doc, col.Fields); err != nil {
			return nil, err
		}
	}
	targets := indexTargetsFor(col, doc)
	if err := domdoc.Validate(doc, targets, mode); err != nil {
		return nil, err
	}

	if err := s.resolveReferences(ctx, col, doc); err != nil {
		return nil, err
	}
	if err := s.EmbedDocument(ctx, col, doc); err != nil {
		return nil, err
	}

	seqID := existingSeq
	if !exists {
		seqID, err = s.meta.NextSeqID(ctx, col.Name)
		if err != nil {
			return nil, err
		}
	}

	if exists {
		old, err := s.docs.GetBySeq(ctx, col.ID, seqID)
		if err == nil {
			if rmErr := h.Index.Remove(seqID, old, nil); rmErr != nil {
				return nil, rmErr
			}
		}
	}
	if err := s.docs.Save(ctx, col.ID, seqID, doc); err != nil {
		return nil, err
	}
	if err := h.Index.BatchMemoryIndex(ctx, []index.Record{
		{SeqID: seqID, Doc: doc, Fields: targets},
	}); err != nil {
		return nil, err
	}

	if !exists {
		// Back-fill reads h's edges under its shared lock and takes the
		// owning collections' writer locks, so h's writer lock is released.
		h.Unlock()
		s.backfillAsyncReferences(ctx, h, doc, seqID)
		h.Lock()
	}
	return doc, nil
}

// Get fetches a document by id with helper fields intact.
func (s *Service) Get(ctx context.Context, collectionName, docID string) (domdoc.Doc, error) {
	h, err := s.registry.Get(collectionName)
	if err != nil {
		return nil, err
	}
	h.RLock()
	defer h.RUnlock()
	seqID, err := s.docs.SeqForDocID(ctx, h.Meta.ID, docID)
	if err != nil {
		return nil, err
	}
	return s.docs.GetBySeq(ctx, h.Meta.ID, seqID)
}

// Delete removes a document and cascades through reference back-edges.
func (s *Service) Delete(ctx context.Context, collectionName, docID string) (domdoc.Doc, error) {
	h, err := s.registry.Get(collectionName)
	if err != nil {
		return nil, err
	}
	h.Lock()
	col := h.Meta
	seqID, err := s.docs.SeqForDocID(ctx, col.ID, docID)
	if err != nil {
		h.Unlock()
		return nil, err
	}
	doc, err := s.docs.GetBySeq(ctx, col.ID, seqID)
	if err != nil {
		h.Unlock()
		return nil, err
	}
	if err := s.docs.Delete(ctx, col.ID, seqID, docID); err != nil {
		h.Unlock()
		return nil, err
	}
	if err := h.Index.Remove(seqID, doc, nil); err != nil {
		h.Unlock()
		return nil, err
	}
	h.Unlock()
	backEdges := h.ReferencedIn()

	// Cascade outside this collection's writer lock; each owning
	// collection takes its own.
	s.cascadeDelete(ctx, col, doc, seqID, backEdges)
	return doc, nil
}

// EmbedDocument computes missing auto-embedding vectors from their source
// fields. Documents carrying an explicit vector keep it.
func (s *Service) EmbedDocument(ctx context.Context, col domcol.Collection, doc domdoc.Doc) error {
	for _, f := range col.EmbeddingFields() {
		if _, has := doc[f.Name]; has {
			continue
		}
		var parts []string
		for _, src := range f.Embed.From {
			if v, ok := domdoc.GetNested(doc, src); ok {
				if str, ok := v.(string); ok {
					parts = append(parts, str)
				}
			}
		}
		if len(parts) == 0 {
			continue
		}
		emb, err := s.embed.Resolve(f.Embed.ModelConfig.ModelName)
		if err != nil {
			return err
		}
		text := f.Embed.ModelConfig.IndexingPrefix + strings.Join(parts, " ")
		res, err := s.embed.Embed(ctx, emb, text, embedding.Budget{NumTries: 2})
		if err != nil {
			return err
		}
		vec := make([]any, len(res.Embedding))
		for i, v := range res.Embedding {
			vec[i] = float64(v)
		}
		doc[f.Name] = vec
	}
	return nil
}

// mergeDocs overlays incoming keys over the stored document.
func mergeDocs(stored, incoming domdoc.Doc) domdoc.Doc {
	out := make(domdoc.Doc, len(stored)+len(incoming))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range incoming {
		out[k] = v
	}
	return out
}

// indexTargetsFor resolves concrete indexable fields for a document.
func indexTargetsFor(col domcol.Collection, doc domdoc.Doc) []field.Field {
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
		if f, ok := col.ResolveField(name); ok {
			out = append(out, f)
			seen[name] = true
		}
	}
	return out
}
