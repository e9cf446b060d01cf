// Package override persists curation overrides per collection.
package override

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domover "github.com/kailas-cloud/omnidex/internal/domain/override"
	"github.com/kailas-cloud/omnidex/internal/store"
)

// Repo stores overrides under $CO_<collection>_<id>.
type Repo struct {
	kv store.KV
}

// New creates the repository.
func New(kv store.KV) *Repo {
	return &Repo{kv: kv}
}

// Save persists an override.
func (r *Repo) Save(ctx context.Context, collection string, o domover.Override) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("%w: marshal override: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Set(ctx, store.OverrideKey(collection, o.ID), data); err != nil {
		return fmt.Errorf("%w: persist override: %v", domain.ErrInternal, err)
	}
	return nil
}

// Get loads one override.
func (r *Repo) Get(ctx context.Context, collection, id string) (domover.Override, error) {
	data, err := r.kv.Get(ctx, store.OverrideKey(collection, id))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return domover.Override{}, fmt.Errorf("%w: override %q", domain.ErrNotFound, id)
		}
		return domover.Override{}, fmt.Errorf("%w: load override: %v", domain.ErrInternal, err)
	}
	var o domover.Override
	if err := json.Unmarshal(data, &o); err != nil {
		return domover.Override{}, fmt.Errorf("%w: parse override: %v", domain.ErrInternal, err)
	}
	return o, nil
}

// List loads every override of a collection, ordered by id so override
// application is deterministic.
func (r *Repo) List(ctx context.Context, collection string) ([]domover.Override, error) {
	var out []domover.Override
	var parseErr error
	err := r.kv.ScanPrefix(ctx, store.OverridePrefix(collection), func(e store.Entry) bool {
		var o domover.Override
		if err := json.Unmarshal(e.Value, &o); err != nil {
			parseErr = fmt.Errorf("%w: parse override at %s: %v", domain.ErrInternal, e.Key, err)
			return false
		}
		out = append(out, o)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan overrides: %v", domain.ErrInternal, err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes an override.
func (r *Repo) Delete(ctx context.Context, collection, id string) error {
	if err := r.kv.Delete(ctx, store.OverrideKey(collection, id)); err != nil {
		return fmt.Errorf("%w: delete override: %v", domain.ErrInternal, err)
	}
	return nil
}

// IDFromKey recovers the override id from its storage key.
func IDFromKey(collection, key string) string {
	return strings.TrimPrefix(key, store.OverridePrefix(collection))
}
