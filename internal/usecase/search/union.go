package search

import (
	"container/heap"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	srt "github.com/kailas-cloud/omnidex/internal/domain/search/sort"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/index/memindex"
	"github.com/kailas-cloud/omnidex/internal/metrics"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
)

// UnionParams bounds the merged union ranking.
type UnionParams struct {
	Page      int
	PerPage   int
	Offset    int
	LimitHits int
}

// unionSub is the executed state of one sub-search.
type unionSub struct {
	params  request.Params
	handle  *collection.Handle
	plan    *plan.Plan
	raw     *index.SearchResult
	kvs     []index.KV
	next    int
	cutoff  bool
	found   int
	outOf   int
	err     error
}

// Union runs every sub-search under the ordinary pipeline in parallel and
// folds their rankings into one tournament under a shared sort contract.
func (s *Service) Union(ctx context.Context, searches []request.Params,
	up UnionParams) (*result.Response, error) {
	if len(searches) == 0 {
		return nil, fmt.Errorf("%w: union requires at least one search", domain.ErrInvalidArgument)
	}
	searchBegin := time.Now()

	if up.PerPage == 0 {
		up.PerPage = request.DefaultPerPage
	}
	if up.Page > 0 {
		up.Offset = (up.Page - 1) * up.PerPage
	}
	if up.LimitHits <= 0 {
		up.LimitHits = 1000000
	}
	fetchSize := up.Offset + up.PerPage
	if fetchSize > up.LimitHits {
		fetchSize = up.LimitHits
	}

	subs := make([]*unionSub, len(searches))
	var wg sync.WaitGroup
	for i := range searches {
		p := searches[i]
		p.IsUnionSearch = true
		p.UnionSearchIndex = i
		subs[i] = &unionSub{params: p}
		wg.Add(1)
		go func(sub *unionSub) {
			defer wg.Done()
			sub.err = s.runUnionSub(ctx, sub, searchBegin, fetchSize)
		}(subs[i])
	}
	wg.Wait()

	cutoff := false
	for _, sub := range subs {
		if sub.err != nil {
			return nil, sub.err
		}
		if sub.cutoff {
			cutoff = true
		}
	}

	if err := checkSortCompatibility(subs); err != nil {
		return nil, err
	}

	merged := mergeUnion(subs, fetchSize)

	resp := &result.Response{
		Page:         pageOf(up),
		SearchCutoff: cutoff,
		FacetCounts:  []result.FacetResult{},
		SearchTimeMs: int(time.Since(searchBegin).Milliseconds()),
	}
	for _, sub := range subs {
		resp.Found += sub.found
		resp.OutOf += sub.outOf
		resp.UnionRequestParams = append(resp.UnionRequestParams, map[string]any{
			"collection_name": sub.params.Collection,
			"q":               sub.params.Query,
			"per_page":        up.PerPage,
		})
	}

	start := up.Offset
	if start > len(merged) {
		start = len(merged)
	}
	end := start + up.PerPage
	if end > len(merged) {
		end = len(merged)
	}
	for _, item := range merged[start:end] {
		sub := subs[item.subIndex]
		hit, err := s.buildHit(ctx, sub.handle, sub.plan, sub.raw, item.kv)
		if err != nil {
			continue
		}
		si := item.subIndex
		hit.SearchIndex = &si
		hit.Collection = sub.params.Collection
		resp.Hits = append(resp.Hits, hit)
	}

	if cutoff && len(resp.Hits) == 0 {
		metrics.ObserveSearchCutoff()
		return nil, fmt.Errorf("%w: search cutoff exceeded and no results to return", domain.ErrTimeout)
	}
	return resp, nil
}

func pageOf(up UnionParams) int {
	if up.PerPage <= 0 {
		return 1
	}
	return up.Offset/up.PerPage + 1
}

// runUnionSub executes one sub-search down to merged, rescored KVs.
func (s *Service) runUnionSub(ctx context.Context, sub *unionSub, searchBegin time.Time,
	fetchSize int) error {
	h, err := s.registry.Get(sub.params.Collection)
	if err != nil {
		return err
	}
	sub.handle = h

	h.RLock()
	defer h.RUnlock()

	pl, err := s.assemble(ctx, h, &sub.params, searchBegin)
	if err != nil {
		return err
	}
	pl.Pagination.FetchSize = fetchSize
	pl.Pagination.Offset = 0
	sub.plan = pl

	flt, err := h.Index.EvalFilter(ctx, pl.FilterTree)
	if err != nil {
		return err
	}
	raw, err := h.Index.RunSearch(ctx, pl, flt)
	if err != nil {
		return err
	}
	sub.raw = raw
	sub.kvs = applyBucketRescoring(pl, mergeKVs(pl, raw), searchBegin, raw)
	sub.cutoff = raw.SearchCutoff
	sub.found = raw.FoundCount + len(raw.OverrideKVs)
	sub.outOf = h.Index.NumDocuments()
	return nil
}

// checkSortCompatibility verifies that every sort clause position declares
// the same type and direction across sub-searches. The error names the
// diverging collections and hints at default sorting fields.
func checkSortCompatibility(subs []*unionSub) error {
	base := subs[0]
	for _, sub := range subs[1:] {
		a, b := base.plan.SortClauses, sub.plan.SortClauses
		n := len(a)
		if len(b) < n {
			n = len(b)
		}
		for i := 0; i < n; i++ {
			if a[i].TypeLabel() == b[i].TypeLabel() && a[i].Order == b[i].Order {
				continue
			}
			msg := fmt.Sprintf(
				"union searches must sort by the same types: collection %q uses %s:%s at position %d "+
					"while collection %q uses %s:%s",
				base.params.Collection, a[i].TypeLabel(), a[i].Order, i,
				sub.params.Collection, b[i].TypeLabel(), b[i].Order)
			var defaults []string
			if base.handle.Meta.DefaultSortingField != "" && a[i].Name == base.handle.Meta.DefaultSortingField {
				defaults = append(defaults, base.params.Collection)
			}
			if sub.handle.Meta.DefaultSortingField != "" && b[i].Name == sub.handle.Meta.DefaultSortingField {
				defaults = append(defaults, sub.params.Collection)
			}
			if len(defaults) > 0 {
				msg += fmt.Sprintf("; the default sorting field of collection(s) %s contributes this "+
					"clause, consider removing it", strings.Join(defaults, ", "))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, msg)
		}
	}
	return nil
}

// unionItem is one tournament entry.
type unionItem struct {
	kv       index.KV
	subIndex int
	clauses  []srt.Clause
}

// unionHeap is a priority queue keyed by the shared sort order; ties break
// by the appended _union_search_index asc, _seq_id desc chain.
type unionHeap []unionItem

func (h unionHeap) Len() int { return len(h) }

func (h unionHeap) Less(i, j int) bool {
	c := memindex.CompareSortValues(h[i].kv.SortValues, h[j].kv.SortValues, h[i].clauses)
	if c != 0 {
		return c < 0
	}
	if h[i].subIndex != h[j].subIndex {
		return h[i].subIndex < h[j].subIndex
	}
	return h[i].kv.SeqID > h[j].kv.SeqID
}

func (h unionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *unionHeap) Push(x any) { *h = append(*h, x.(unionItem)) }

func (h *unionHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeUnion promotes each sub-search's next item into a shared tournament
// of fetchSize winners.
func mergeUnion(subs []*unionSub, fetchSize int) []unionItem {
	var pq unionHeap
	for i, sub := range subs {
		if len(sub.kvs) > 0 {
			pq = append(pq, unionItem{kv: sub.kvs[0], subIndex: i, clauses: sub.plan.SortClauses})
			sub.next = 1
		}
	}
	heap.Init(&pq)

	var out []unionItem
	for len(out) < fetchSize && pq.Len() > 0 {
		item := heap.Pop(&pq).(unionItem)
		out = append(out, item)
		sub := subs[item.subIndex]
		if sub.next < len(sub.kvs) {
			heap.Push(&pq, unionItem{kv: sub.kvs[sub.next], subIndex: item.subIndex,
				clauses: sub.plan.SortClauses})
			sub.next++
		}
	}
	return out
}
