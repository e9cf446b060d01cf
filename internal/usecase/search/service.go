// Package search implements the per-collection search pipeline: request
// assembly, filter evaluation, ranking, merging, highlighting, and the
// cross-collection union executor.
package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	srt "github.com/kailas-cloud/omnidex/internal/domain/search/sort"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/metrics"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
	"github.com/kailas-cloud/omnidex/internal/usecase/embedding"
)

// Service executes searches against live collections.
type Service struct {
	registry *collection.Registry
	docs     DocReader
	curator  Curator
	embed    *embedding.Dispatcher

	voice        VoiceTranscriber
	conversation ConversationModel
	observer     QueryObserver

	maxPerPage      int
	defaultCutoffMs int

	logger *zap.Logger
}

// Options carries optional collaborators and limits.
type Options struct {
	Voice           VoiceTranscriber
	Conversation    ConversationModel
	Observer        QueryObserver
	MaxPerPage      int
	DefaultCutoffMs int
}

// New creates the search service.
func New(registry *collection.Registry, docs DocReader, curator Curator,
	embed *embedding.Dispatcher, opts Options, logger *zap.Logger) *Service {
	maxPerPage := opts.MaxPerPage
	if maxPerPage <= 0 {
		maxPerPage = 250
	}
	return &Service{
		registry:        registry,
		docs:            docs,
		curator:         curator,
		embed:           embed,
		voice:           opts.Voice,
		conversation:    opts.Conversation,
		observer:        opts.Observer,
		maxPerPage:      maxPerPage,
		defaultCutoffMs: opts.DefaultCutoffMs,
		logger:          logger,
	}
}

// Search runs the full pipeline for one collection.
func (s *Service) Search(ctx context.Context, p request.Params) (*result.Response, error) {
	searchBegin := time.Now()
	h, err := s.registry.Get(p.Collection)
	if err != nil {
		return nil, err
	}
	metrics.ObserveSearch(p.Collection)

	h.RLock()
	defer h.RUnlock()

	pl, err := s.assemble(ctx, h, &p, searchBegin)
	if err != nil {
		return nil, err
	}

	flt, err := h.Index.EvalFilter(ctx, pl.FilterTree)
	if err != nil {
		return nil, err
	}

	raw, err := h.Index.RunSearch(ctx, pl, flt)
	if err != nil {
		return nil, err
	}

	resp, err := s.assembleResponse(ctx, h, pl, raw, searchBegin)
	if err != nil {
		return nil, err
	}

	s.observeQuery(pl, resp, p)

	if resp.SearchCutoff {
		metrics.ObserveSearchCutoff()
		if resp.Found == 0 {
			return nil, fmt.Errorf("%w: search cutoff exceeded and no results to return", domain.ErrTimeout)
		}
	}
	return resp, nil
}

// assembleResponse merges, rescores, highlights, and prunes the raw index
// output into the response document.
func (s *Service) assembleResponse(ctx context.Context, h *collection.Handle, pl *plan.Plan,
	raw *index.SearchResult, searchBegin time.Time) (*result.Response, error) {
	merged := mergeKVs(pl, raw)
	merged = applyBucketRescoring(pl, merged, searchBegin, raw)
	window := pageWindow(pl, merged)

	resp := &result.Response{
		Found:        raw.FoundCount + len(raw.OverrideKVs),
		OutOf:        h.Index.NumDocuments(),
		Page:         pl.Pagination.Page,
		FacetCounts:  raw.FacetCounts,
		SearchCutoff: raw.SearchCutoff,
		SearchTimeMs: int(time.Since(searchBegin).Milliseconds()),
		RequestParams: map[string]any{
			"collection_name": pl.Collection,
			"q":               pl.RawQuery,
			"per_page":        pl.Pagination.PerPage,
		},
	}
	if len(pl.GroupBy) > 0 {
		fd := raw.FoundDocs
		resp.FoundDocs = &fd
	}
	if resp.FacetCounts == nil {
		resp.FacetCounts = []result.FacetResult{}
	}

	hits := make([]result.Hit, 0, len(window))
	for _, kv := range window {
		hit, err := s.buildHit(ctx, h, pl, raw, kv)
		if err != nil {
			s.logger.Warn("dropping unloadable hit", zap.Uint32("seq_id", kv.SeqID), zap.Error(err))
			continue
		}
		hits = append(hits, hit)
	}

	if len(pl.GroupBy) > 0 {
		resp.GroupedHits = groupHits(pl, hits)
	} else {
		resp.Hits = hits
	}
	return resp, nil
}

// buildHit loads, highlights, and prunes one ranked document.
func (s *Service) buildHit(ctx context.Context, h *collection.Handle, pl *plan.Plan,
	raw *index.SearchResult, kv index.KV) (result.Hit, error) {
	doc, err := s.docs.GetBySeq(ctx, h.Meta.ID, kv.SeqID)
	if err != nil {
		return result.Hit{}, err
	}

	hit := result.Hit{
		SeqID:      kv.SeqID,
		SortValues: kv.SortValues,
		GroupKey:   kv.GroupKey,
		GroupSize:  kv.GroupSize,
		Curated:    pl.Curated[kv.SeqID],
	}

	highlight, flat := s.highlightDoc(h, pl, raw.QTokens, doc)
	hit.Highlight = highlight
	if pl.HighlightSpec.EnableV1 {
		hit.Highlights = flat
	}

	if kv.TextMatch != 0 {
		tm := kv.TextMatch
		hit.TextMatch = &tm
		info := result.DecodeTextMatch(tm, result.MatchTypeMaxScore)
		hit.TextMatchInfo = &info
	}
	if kv.HasVector {
		vd := kv.VectorDistance
		hit.VectorDistance = &vd
	}
	if kv.HybridScore > 0 {
		hit.HybridInfo = &result.HybridInfo{RankFusionScore: kv.HybridScore}
	}
	for _, c := range pl.SortClauses {
		if c.Kind == srt.KindGeo {
			if d, err := h.Index.GetGeoDistance(c.Name, kv.SeqID, c.GeoLat, c.GeoLng); err == nil {
				if hit.GeoDistanceMeters == nil {
					hit.GeoDistanceMeters = map[string]int{}
				}
				hit.GeoDistanceMeters[c.Name] = int(d)
			}
		}
	}

	hit.Document = domdoc.Prune(doc, pl.IncludeFields, pl.ExcludeFields)
	return hit, nil
}

// observeQuery feeds the analytics aggregator with executed queries.
func (s *Service) observeQuery(pl *plan.Plan, resp *result.Response, p request.Params) {
	if s.observer == nil || pl.Wildcard || pl.IsUnionSearch {
		return
	}
	if resp.Found == 0 {
		s.observer.ObserveNoHits(pl.Collection, pl.RawQuery, true, "", p.FilterQuery, "")
		return
	}
	s.observer.ObserveQuery(pl.Collection, pl.RawQuery, pl.RawQuery, true, "", p.FilterQuery, "")
}

// groupHits folds the flat hit window back into grouped_hits.
func groupHits(pl *plan.Plan, hits []result.Hit) []result.GroupedHit {
	var out []result.GroupedHit
	pos := map[string]int{}
	for _, hit := range hits {
		key := hit.GroupKey
		if i, ok := pos[key]; ok {
			out[i].Hits = append(out[i].Hits, hit)
			continue
		}
		var groupKey []any
		for _, f := range pl.GroupBy {
			if v, ok := hit.Document[f]; ok {
				groupKey = append(groupKey, v)
			}
		}
		pos[key] = len(out)
		out = append(out, result.GroupedHit{
			GroupKey: groupKey,
			Hits:     []result.Hit{hit},
			Found:    hitGroupSize(hit, pl),
		})
	}
	return out
}

func hitGroupSize(hit result.Hit, _ *plan.Plan) int {
	return hit.GroupSize
}
