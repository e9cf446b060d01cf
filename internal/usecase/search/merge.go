package search

import (
	"math"
	"sort"
	"time"

	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	srt "github.com/kailas-cloud/omnidex/internal/domain/search/sort"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/index/memindex"
)

// mergeKVs interleaves curated override hits into the raw ranked stream:
// at each position p the override whose target position equals p+1 is
// emitted, otherwise the next raw item.
func mergeKVs(pl *plan.Plan, raw *index.SearchResult) []index.KV {
	if len(raw.OverrideKVs) == 0 {
		return raw.RawKVs
	}

	byPosition := make(map[int]index.KV, len(raw.OverrideKVs))
	curated := make(map[uint32]bool, len(raw.OverrideKVs))
	for _, kv := range raw.OverrideKVs {
		byPosition[kv.Position] = kv
		curated[kv.SeqID] = true
	}

	out := make([]index.KV, 0, len(raw.RawKVs)+len(raw.OverrideKVs))
	ri := 0
	for len(out) < len(raw.RawKVs)+len(byPosition) {
		if kv, ok := byPosition[len(out)+1]; ok {
			out = append(out, kv)
			continue
		}
		// Skip raw entries that were promoted to pinned positions.
		for ri < len(raw.RawKVs) && curated[raw.RawKVs[ri].SeqID] {
			ri++
		}
		if ri >= len(raw.RawKVs) {
			break
		}
		out = append(out, raw.RawKVs[ri])
		ri++
	}
	// Trailing overrides pinned past the end of the result list.
	if len(out) < len(raw.RawKVs)+len(byPosition) {
		var rest []int
		for pos := range byPosition {
			if pos > len(out) {
				rest = append(rest, pos)
			}
		}
		sort.Ints(rest)
		for _, pos := range rest {
			out = append(out, byPosition[pos])
		}
	}
	_ = pl
	return out
}

// applyBucketRescoring coarsens text-match or vector-distance scores into
// bucket ordinals so secondary sort keys dominate inside a bucket, then
// restores the original scores. Runs only when the bucket clause threshold
// is met, and records the cutoff first.
func applyBucketRescoring(pl *plan.Plan, kvs []index.KV, searchBegin time.Time,
	raw *index.SearchResult) []index.KV {
	if pl.DeadlineExceeded(time.Now()) {
		raw.SearchCutoff = true
	}

	clause, ok := pl.BucketClause()
	if !ok || len(kvs) == 0 {
		return kvs
	}
	clauseIdx := -1
	for i, c := range pl.SortClauses {
		if c.Name == clause.Name {
			clauseIdx = i
			break
		}
	}
	if clauseIdx < 0 {
		return kvs
	}

	size := clause.BucketSize
	if clause.Buckets > 0 {
		size = int(math.Ceil(float64(len(kvs)) / float64(clause.Buckets)))
	}
	if size <= 0 || len(kvs) < size {
		return kvs
	}

	// Original scores survive in a side map and come back after the bucket
	// ordinal has driven the re-sort, so the response carries real scores.
	original := make(map[uint32]result.SortValue, len(kvs))
	for i := range kvs {
		if clauseIdx < len(kvs[i].SortValues) {
			original[kvs[i].SeqID] = kvs[i].SortValues[clauseIdx]
			kvs[i].SortValues[clauseIdx] = result.SortValue{Num: float64(i / size)}
			if clause.Order == srt.Desc {
				// Bucket ordinals ascend with rank; invert so descending
				// order keeps bucket 0 first.
				kvs[i].SortValues[clauseIdx].Num = -kvs[i].SortValues[clauseIdx].Num
			}
		}
	}

	sort.SliceStable(kvs, func(i, j int) bool {
		c := memindex.CompareSortValues(kvs[i].SortValues, kvs[j].SortValues, pl.SortClauses)
		if c != 0 {
			return c < 0
		}
		return kvs[i].SeqID > kvs[j].SeqID
	})

	for i := range kvs {
		if v, ok := original[kvs[i].SeqID]; ok && clauseIdx < len(kvs[i].SortValues) {
			kvs[i].SortValues[clauseIdx] = v
		}
	}
	return kvs
}

// pageWindow slices the merged ranking to the requested page.
func pageWindow(pl *plan.Plan, kvs []index.KV) []index.KV {
	if len(kvs) > pl.Pagination.FetchSize && pl.Pagination.FetchSize > 0 {
		kvs = kvs[:pl.Pagination.FetchSize]
	}
	start := pl.Pagination.Offset
	if start > len(kvs) {
		return nil
	}
	end := start + pl.Pagination.PerPage
	if end > len(kvs) {
		end = len(kvs)
	}
	return kvs[start:end]
}
