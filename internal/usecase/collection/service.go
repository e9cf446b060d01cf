package collection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
)

// ingestBatchSize is how many records the ingestion path hands to the index
// before yielding to its internal batching.
const ingestBatchSize = 1000

// Service manages collection lifecycle: create, load, drop, alter.
type Service struct {
	registry *Registry
	meta     MetaStore
	logger   *zap.Logger

	nextCollectionID uint32
}

// New creates the collection service.
func New(registry *Registry, meta MetaStore, logger *zap.Logger) *Service {
	return &Service{registry: registry, meta: meta, logger: logger}
}

// Registry exposes the handle registry to sibling services.
func (s *Service) Registry() *Registry { return s.registry }

// Load hydrates every persisted collection at startup and rebuilds indexes.
func (s *Service) Load(ctx context.Context) error {
	cols, err := s.meta.List(ctx)
	if err != nil {
		return err
	}
	for _, col := range cols {
		if col.ID >= s.nextCollectionID {
			s.nextCollectionID = col.ID + 1
		}
		s.registry.install(col)
	}
	// Re-wire reference edges once every collection is present.
	for _, col := range cols {
		s.registry.wireReferences(col)
	}
	for _, h := range s.registry.Handles() {
		if err := s.registry.rebuildIndex(ctx, h); err != nil {
			return fmt.Errorf("rebuild index of %q: %w", h.Meta.Name, err)
		}
		s.logger.Info("collection loaded",
			zap.String("collection", h.Meta.Name),
			zap.Int("num_documents", h.Index.NumDocuments()))
	}
	return nil
}

// Create validates, persists, and installs a new collection.
func (s *Service) Create(ctx context.Context, name string, fields []field.Field,
	defaultSortingField string, enableNested bool) (domcol.Collection, error) {
	if _, err := s.registry.Get(name); err == nil {
		return domcol.Collection{}, fmt.Errorf("%w: a collection with name %q already exists",
			domain.ErrConflict, name)
	}

	fields, err := expandReferenceHelpers(fields)
	if err != nil {
		return domcol.Collection{}, err
	}

	id := s.nextCollectionID
	s.nextCollectionID++
	col, err := domcol.New(name, id, fields, defaultSortingField, enableNested)
	if err != nil {
		return domcol.Collection{}, err
	}
	if err := s.meta.Save(ctx, col); err != nil {
		return domcol.Collection{}, err
	}
	s.registry.install(col)
	s.logger.Info("collection created", zap.String("collection", name), zap.Uint32("id", id))
	return col, nil
}

// expandReferenceHelpers appends the hidden helper field of every reference
// field, preserving arity (array references get array helpers).
func expandReferenceHelpers(fields []field.Field) ([]field.Field, error) {
	var out []field.Field
	for _, f := range fields {
		out = append(out, f)
		if !f.IsReference() {
			continue
		}
		if _, _, err := f.ReferencedCollection(); err != nil {
			return nil, err
		}
		helperType := field.Int64
		if f.IsArray() {
			helperType = field.Int64Array
		}
		helper, err := field.New(f.HelperName(), helperType)
		if err != nil {
			return nil, err
		}
		helper.Optional = true
		helper.Sort = false
		out = append(out, helper)
	}
	return out, nil
}

// Get returns a collection's meta.
func (s *Service) Get(_ context.Context, name string) (domcol.Collection, error) {
	h, err := s.registry.Get(name)
	if err != nil {
		return domcol.Collection{}, err
	}
	h.RLock()
	defer h.RUnlock()
	return h.Meta, nil
}

// List returns every live collection meta.
func (s *Service) List(_ context.Context) []domcol.Collection {
	handles := s.registry.Handles()
	out := make([]domcol.Collection, 0, len(handles))
	for _, h := range handles {
		h.RLock()
		out = append(out, h.Meta)
		h.RUnlock()
	}
	return out
}

// Drop removes a collection: meta, stored documents, and the live handle.
// The lifecycle lock keeps destruction from racing in-flight requests.
func (s *Service) Drop(ctx context.Context, name string, docs DocStore) error {
	h, err := s.registry.Get(name)
	if err != nil {
		return err
	}
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.Lock()
	meta := h.Meta
	h.Unlock()

	var seqIDs []uint32
	var docIDs []string
	walkErr := docs.WalkSeqOrder(ctx, meta.ID, func(seqID uint32, doc map[string]any) bool {
		seqIDs = append(seqIDs, seqID)
		if id, ok := doc["id"].(string); ok {
			docIDs = append(docIDs, id)
		} else {
			docIDs = append(docIDs, "")
		}
		return true
	})
	if walkErr != nil && !errors.Is(walkErr, domain.ErrNotFound) {
		return walkErr
	}
	for i, seqID := range seqIDs {
		if err := docs.Delete(ctx, meta.ID, seqID, docIDs[i]); err != nil {
			return err
		}
	}
	if err := s.meta.Delete(ctx, name); err != nil {
		return err
	}
	s.registry.remove(name)
	s.logger.Info("collection dropped", zap.String("collection", name),
		zap.Int("documents_removed", len(seqIDs)))
	return nil
}
