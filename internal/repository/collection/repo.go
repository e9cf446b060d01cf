// Package collection persists collection meta and seq counters.
package collection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	"github.com/kailas-cloud/omnidex/internal/store"
)

// Repo stores collection meta under $CM_<name> and next-seq counters under
// $CS_<name>.
type Repo struct {
	kv store.KV
}

// New creates the repository.
func New(kv store.KV) *Repo {
	return &Repo{kv: kv}
}

// Save persists the collection meta JSON.
func (r *Repo) Save(ctx context.Context, col domcol.Collection) error {
	data, err := json.Marshal(col)
	if err != nil {
		return fmt.Errorf("%w: marshal collection meta: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Set(ctx, store.CollectionMetaKey(col.Name), data); err != nil {
		return fmt.Errorf("%w: persist collection meta: %v", domain.ErrInternal, err)
	}
	return nil
}

// Get loads one collection meta.
func (r *Repo) Get(ctx context.Context, name string) (domcol.Collection, error) {
	data, err := r.kv.Get(ctx, store.CollectionMetaKey(name))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return domcol.Collection{}, fmt.Errorf("%w: collection %q", domain.ErrNotFound, name)
		}
		return domcol.Collection{}, fmt.Errorf("%w: load collection meta: %v", domain.ErrInternal, err)
	}
	var col domcol.Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return domcol.Collection{}, fmt.Errorf("%w: parse collection meta: %v", domain.ErrInternal, err)
	}
	return col, nil
}

// List loads every persisted collection meta.
func (r *Repo) List(ctx context.Context) ([]domcol.Collection, error) {
	var out []domcol.Collection
	var parseErr error
	err := r.kv.ScanPrefix(ctx, store.CollectionMetaPrefix, func(e store.Entry) bool {
		var col domcol.Collection
		if err := json.Unmarshal(e.Value, &col); err != nil {
			parseErr = fmt.Errorf("%w: parse collection meta at %s: %v", domain.ErrInternal, e.Key, err)
			return false
		}
		out = append(out, col)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan collections: %v", domain.ErrInternal, err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// Delete removes the collection meta and its seq counter.
func (r *Repo) Delete(ctx context.Context, name string) error {
	if err := r.kv.Delete(ctx, store.CollectionMetaKey(name)); err != nil {
		return fmt.Errorf("%w: delete collection meta: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Delete(ctx, store.CollectionNextSeqKey(name)); err != nil {
		return fmt.Errorf("%w: delete seq counter: %v", domain.ErrInternal, err)
	}
	return nil
}

// NextSeqID allocates the next monotonic seq id of a collection.
func (r *Repo) NextSeqID(ctx context.Context, name string) (uint32, error) {
	v, err := r.kv.IncrBy(ctx, store.CollectionNextSeqKey(name), 1)
	if err != nil {
		return 0, fmt.Errorf("%w: allocate seq id: %v", domain.ErrInternal, err)
	}
	if v <= 0 || v > 0xFFFFFFFE {
		return 0, fmt.Errorf("%w: seq id space exhausted for %q", domain.ErrInternal, name)
	}
	return uint32(v), nil
}

// NameFromMetaKey recovers the collection name from a meta key.
func NameFromMetaKey(key string) string {
	return strings.TrimPrefix(key, store.CollectionMetaPrefix)
}
