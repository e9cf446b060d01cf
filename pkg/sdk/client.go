// Package omnidex is the embedded SDK: it wires the engine's services over
// a local store so applications can index and search without running the
// HTTP server.
package omnidex

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	domover "github.com/kailas-cloud/omnidex/internal/domain/override"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	collectionrepo "github.com/kailas-cloud/omnidex/internal/repository/collection"
	documentrepo "github.com/kailas-cloud/omnidex/internal/repository/document"
	overriderepo "github.com/kailas-cloud/omnidex/internal/repository/override"
	"github.com/kailas-cloud/omnidex/internal/store"
	storeBadger "github.com/kailas-cloud/omnidex/internal/store/badger"
	storeRedis "github.com/kailas-cloud/omnidex/internal/store/redis"
	collectionuc "github.com/kailas-cloud/omnidex/internal/usecase/collection"
	curationuc "github.com/kailas-cloud/omnidex/internal/usecase/curation"
	documentuc "github.com/kailas-cloud/omnidex/internal/usecase/document"
	embeddinguc "github.com/kailas-cloud/omnidex/internal/usecase/embedding"
	searchuc "github.com/kailas-cloud/omnidex/internal/usecase/search"
)

const defaultReadinessTimeout = 10 * time.Second

// Re-exported domain types so callers do not import internal packages.
type (
	// Field is a schema field definition.
	Field = field.Field
	// FieldType is the declared field type.
	FieldType = field.Type
	// Document is a JSON document.
	Document = domdoc.Doc
	// SearchParams is the full set of search parameters.
	SearchParams = request.Params
	// SearchResponse is the search response document.
	SearchResponse = result.Response
	// Override is a curation rule.
	Override = domover.Override
)

// Client is the omnidex SDK entry point.
type Client struct {
	kv store.KV

	collections *collectionuc.Service
	documents   *documentuc.Service
	curation    *curationuc.Service
	search      *searchuc.Service
}

// New creates a Client over a local or remote store and hydrates persisted
// collections. The context bounds the initial readiness check and load.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{logger: zap.NewNop()}
	for _, o := range opts {
		o.apply(cfg)
	}

	kv, err := createStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := kv.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("omnidex: store not ready: %w", err)
	}

	colRepo := collectionrepo.New(kv)
	docRepo := documentrepo.New(kv)
	overRepo := overriderepo.New(kv)

	registry := collectionuc.NewRegistry(colRepo, docRepo, cfg.logger)
	collections := collectionuc.New(registry, colRepo, cfg.logger)
	dispatcher := embeddinguc.NewDispatcher(nil, embeddinguc.NewLocalEmbedder(384), cfg.logger)
	documents := documentuc.New(registry, colRepo, docRepo, dispatcher, cfg.logger)
	curation := curationuc.New(overRepo, cfg.logger)
	search := searchuc.New(registry, docRepo, curation, dispatcher, searchuc.Options{
		MaxPerPage: cfg.maxPerPage,
	}, cfg.logger)

	if err := collections.Load(ctx); err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("omnidex: load collections: %w", err)
	}

	return &Client{
		kv:          kv,
		collections: collections,
		documents:   documents,
		curation:    curation,
		search:      search,
	}, nil
}

func createStore(cfg *clientConfig) (store.KV, error) {
	switch cfg.driver {
	case "badger":
		s, err := storeBadger.NewStore(storeBadger.Config{Path: cfg.path, InMemory: cfg.inMemory})
		if err != nil {
			return nil, fmt.Errorf("omnidex: create badger store: %w", err)
		}
		return s, nil
	case "redis":
		s, err := storeRedis.NewStore(storeRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
		if err != nil {
			return nil, fmt.Errorf("omnidex: create redis store: %w", err)
		}
		return s, nil
	case "":
		return nil, errors.New("omnidex: store required (use WithBadger, WithInMemoryStore or WithRedis)")
	default:
		return nil, fmt.Errorf("omnidex: unknown driver %q", cfg.driver)
	}
}

// Close releases the underlying store.
func (c *Client) Close() error {
	return c.kv.Close()
}

// NewField creates a validated schema field.
func NewField(name string, t FieldType) (Field, error) {
	return field.New(name, t)
}

// CreateCollection declares a new collection.
func (c *Client) CreateCollection(ctx context.Context, name string, fields []Field,
	defaultSortingField string, enableNested bool) error {
	_, err := c.collections.Create(ctx, name, fields, defaultSortingField, enableNested)
	return err
}

// DropCollection removes a collection and its documents.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	return c.collections.Drop(ctx, name, c.documents.Docs())
}

// Index ingests one document with upsert semantics.
func (c *Client) Index(ctx context.Context, collection string, doc Document) error {
	_, err := c.documents.Add(ctx, collection, doc, documentuc.ActionUpsert, domdoc.CoerceOrReject)
	return err
}

// GetDocument fetches one document by id.
func (c *Client) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	doc, err := c.documents.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return domdoc.Prune(doc, nil, nil), nil
}

// DeleteDocument removes a document, cascading through references.
func (c *Client) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := c.documents.Delete(ctx, collection, id)
	return err
}

// Search runs the full search pipeline.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResponse, error) {
	return c.search.Search(ctx, params)
}

// NewSearchParams creates search parameters with defaults applied.
func NewSearchParams(collection, query string, queryBy ...string) SearchParams {
	p := request.NewParams(collection, query)
	p.SearchFields = queryBy
	return p
}

// UpsertOverride installs a curation rule.
func (c *Client) UpsertOverride(ctx context.Context, collection, id string, o Override) error {
	_, err := c.curation.Upsert(ctx, collection, id, o)
	return err
}

// DeleteOverride removes a curation rule.
func (c *Client) DeleteOverride(ctx context.Context, collection, id string) error {
	return c.curation.Delete(ctx, collection, id)
}
