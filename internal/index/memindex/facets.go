package memindex

import (
	"sort"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	"github.com/kailas-cloud/omnidex/internal/index"
)

// maxFacetValues bounds the value buckets returned per facet field.
const maxFacetValues = 10

// computeFacets counts facet values over the ranked result set, honoring
// sampling, range buckets, the facet query, and per-facet sort parameters.
func (x *Index) computeFacets(p *plan.Plan, kvs []index.KV, res *index.SearchResult) {
	if len(p.Facets) == 0 {
		return
	}

	sampled := false
	step := 1
	if p.FacetSamplePercent > 0 && p.FacetSamplePercent < 100 &&
		len(kvs) > p.FacetSampleThreshold {
		step = 100 / p.FacetSamplePercent
		if step < 1 {
			step = 1
		}
		sampled = step > 1
	}

	for _, spec := range p.Facets {
		fr := result.FacetResult{FieldName: spec.FieldName, Sampled: sampled}
		if len(spec.Ranges) > 0 {
			x.facetRanges(spec, kvs, step, &fr)
		} else {
			x.facetValues(p, spec, kvs, step, &fr)
		}
		res.FacetCounts = append(res.FacetCounts, fr)
	}
}

func (x *Index) facetValues(p *plan.Plan, spec plan.FacetSpec, kvs []index.KV, step int,
	fr *result.FacetResult) {
	counts := map[string]int{}
	strCol := x.strRaw[spec.FieldName]
	numCol := x.num[spec.FieldName]

	var stats result.FacetStats
	statCount := 0

	for i := 0; i < len(kvs); i += step {
		id := kvs[i].SeqID
		if strCol != nil {
			for _, v := range strCol[id] {
				counts[v]++
			}
		}
		if numCol != nil {
			for _, v := range numCol[id] {
				counts[formatNum(v)]++
				v := v
				if stats.Min == nil || v < *stats.Min {
					stats.Min = &v
				}
				if stats.Max == nil || v > *stats.Max {
					stats.Max = &v
				}
				if stats.Sum == nil {
					zero := 0.0
					stats.Sum = &zero
				}
				*stats.Sum += v
				statCount++
			}
		}
	}

	// facet_query narrows values to prefix matches and highlights them.
	prefix := ""
	if p.FacetQuery != "" {
		if f, q, ok := strings.Cut(p.FacetQuery, ":"); ok && f == spec.FieldName {
			prefix = strings.ToLower(strings.TrimSpace(q))
		}
	}

	type fc struct {
		value string
		count int
	}
	var list []fc
	for v, c := range counts {
		if prefix != "" && !strings.HasPrefix(strings.ToLower(v), prefix) {
			continue
		}
		list = append(list, fc{v, c})
	}
	if spec.SortByAlpha {
		sort.Slice(list, func(i, j int) bool { return list[i].value < list[j].value })
	} else {
		sort.Slice(list, func(i, j int) bool {
			if list[i].count != list[j].count {
				return list[i].count > list[j].count
			}
			return list[i].value < list[j].value
		})
	}
	if len(list) > maxFacetValues {
		list = list[:maxFacetValues]
	}
	for _, e := range list {
		out := result.FacetCount{Value: e.value, Count: e.count}
		if prefix != "" {
			out.Highlighted = "<mark>" + e.value[:len(prefix)] + "</mark>" + e.value[len(prefix):]
		}
		fr.Counts = append(fr.Counts, out)
	}
	if statCount > 0 {
		avg := *stats.Sum / float64(statCount)
		stats.Avg = &avg
		stats.TotalValues = statCount
		fr.Stats = &stats
	}
}

func (x *Index) facetRanges(spec plan.FacetSpec, kvs []index.KV, step int, fr *result.FacetResult) {
	numCol := x.num[spec.FieldName]
	if numCol == nil {
		return
	}
	counts := make([]int, len(spec.Ranges))
	for i := 0; i < len(kvs); i += step {
		for _, v := range numCol[kvs[i].SeqID] {
			for ri, r := range spec.Ranges {
				if v >= r.Low && v < r.High {
					counts[ri]++
				}
			}
		}
	}
	for ri, r := range spec.Ranges {
		if counts[ri] == 0 {
			continue
		}
		fr.Counts = append(fr.Counts, result.FacetCount{Value: r.Label, Count: counts[ri]})
	}
}
