package memindex

import (
	"context"
	"hash/fnv"
	"math"
	"sort"

	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	srt "github.com/kailas-cloud/omnidex/internal/domain/search/sort"
	"github.com/kailas-cloud/omnidex/internal/index"
)

// evalScores holds the pre-evaluated id sets of one _eval clause's
// expressions, parallel to the clause's EvalExprs.
type evalScores struct {
	sets   []filter.Result
	scores []int64
}

// evalSortFilters pre-evaluates _eval clause expressions once per search.
func (x *Index) evalSortFilters(ctx context.Context, clauses []srt.Clause) []evalScores {
	out := make([]evalScores, len(clauses))
	for i, c := range clauses {
		if c.Kind != srt.KindEval {
			continue
		}
		es := evalScores{}
		for _, ee := range c.EvalExprs {
			res, err := x.evalNode(ctx, ee.Expr)
			if err != nil {
				res = filter.Result{}
			}
			es.sets = append(es.sets, res)
			es.scores = append(es.scores, ee.Score)
		}
		out[i] = es
	}
	return out
}

// sortValuesFor resolves the per-clause sort keys of one ranked entry.
func (x *Index) sortValuesFor(p *plan.Plan, clauses []srt.Clause, kv *index.KV,
	evalResults []evalScores) []result.SortValue {
	out := make([]result.SortValue, len(clauses))
	for i, c := range clauses {
		switch c.Kind {
		case srt.KindTextMatch:
			out[i] = result.SortValue{Num: float64(kv.TextMatch)}
		case srt.KindVectorDistance, srt.KindVectorQuery:
			if kv.HasVector {
				out[i] = result.SortValue{Num: float64(kv.VectorDistance)}
			} else {
				out[i] = result.SortValue{Num: math.MaxFloat64, Missing: true}
			}
		case srt.KindEval:
			var score int64
			for j, set := range evalResults[i].sets {
				if set.Contains(kv.SeqID) {
					score = evalResults[i].scores[j]
					break
				}
			}
			out[i] = result.SortValue{Num: float64(score)}
		case srt.KindRandom:
			out[i] = result.SortValue{Num: float64(seededRandom(c.RandomSeed, kv.SeqID))}
		case srt.KindSeqID:
			out[i] = result.SortValue{Num: float64(kv.SeqID)}
		case srt.KindGroupFound:
			out[i] = result.SortValue{Num: float64(kv.GroupSize)}
		case srt.KindUnionIndex:
			out[i] = result.SortValue{Num: float64(p.UnionSearchIndex)}
		case srt.KindGeo:
			out[i] = x.geoSortValue(c, kv.SeqID)
		case srt.KindDecay:
			out[i] = x.decaySortValue(c, kv.SeqID)
		case srt.KindField:
			out[i] = x.fieldSortValue(c, kv.SeqID)
		}
	}
	return out
}

func (x *Index) fieldSortValue(c srt.Clause, seqID uint32) result.SortValue {
	if col, ok := x.num[c.Name]; ok {
		if vals, ok := col[seqID]; ok && len(vals) > 0 {
			return result.SortValue{Num: vals[0]}
		}
		return result.SortValue{Missing: true}
	}
	if col, ok := x.strRaw[c.Name]; ok {
		if vals, ok := col[seqID]; ok && len(vals) > 0 {
			return result.SortValue{Str: vals[0], IsStr: true}
		}
		return result.SortValue{IsStr: true, Missing: true}
	}
	return result.SortValue{Missing: true}
}

// geoSortValue resolves the sort distance in meters, applying exclude_radius
// (points inside sort as equal zero) and precision bucketing.
func (x *Index) geoSortValue(c srt.Clause, seqID uint32) result.SortValue {
	d, err := x.geoDistanceLocked(c.Name, seqID, c.GeoLat, c.GeoLng)
	if err != nil {
		return result.SortValue{Num: math.MaxFloat64, Missing: true}
	}
	if c.ExcludeRadius > 0 && d <= c.ExcludeRadius {
		d = 0
	}
	if c.GeoPrecision > 0 {
		d = math.Floor(d/c.GeoPrecision) * c.GeoPrecision
	}
	return result.SortValue{Num: d}
}

// geoDistanceLocked assumes the caller already holds the read lock.
func (x *Index) geoDistanceLocked(fieldName string, seqID uint32, lat, lng float64) (float64, error) {
	col, ok := x.geo[fieldName]
	if !ok {
		return 0, errNoColumn
	}
	points, ok := col[seqID]
	if !ok || len(points) == 0 {
		return 0, errNoColumn
	}
	best := filter.HaversineMeters(points[0][0], points[0][1], lat, lng)
	for _, p := range points[1:] {
		if d := filter.HaversineMeters(p[0], p[1], lat, lng); d < best {
			best = d
		}
	}
	return best, nil
}

var errNoColumn = errNotIndexed{}

type errNotIndexed struct{}

func (errNotIndexed) Error() string { return "value not indexed" }

// decaySortValue scores a numeric field through the clause's decay function.
// Higher scores sort closer to the origin.
func (x *Index) decaySortValue(c srt.Clause, seqID uint32) result.SortValue {
	col, ok := x.num[c.Name]
	if !ok {
		return result.SortValue{Missing: true}
	}
	vals, ok := col[seqID]
	if !ok || len(vals) == 0 {
		missing := math.Inf(-1)
		if c.Decay.MissingValues == "first" {
			missing = math.Inf(1)
		}
		return result.SortValue{Num: missing, Missing: true}
	}
	v := vals[0]
	spec := c.Decay
	dist := math.Abs(v-spec.Origin) - spec.Offset
	if dist < 0 {
		dist = 0
	}
	var score float64
	switch spec.Func {
	case srt.DecayGauss:
		sigma2 := spec.Scale * spec.Scale / (-2 * math.Log(spec.Decay))
		score = math.Exp(-dist * dist / (2 * sigma2))
	case srt.DecayExp:
		lambda := math.Log(spec.Decay) / spec.Scale
		score = math.Exp(lambda * dist)
	case srt.DecayLinear:
		s := spec.Scale / (1 - spec.Decay)
		score = math.Max(0, (s-dist)/s)
	case srt.DecayDiff:
		score = -dist
	}
	return result.SortValue{Num: score}
}

// seededRandom derives a deterministic pseudo-random key from seed and seq id.
func seededRandom(seed uint64, seqID uint32) uint64 {
	h := fnv.New64a()
	var b [12]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(seed >> (8 * i))
	}
	for i := 0; i < 4; i++ {
		b[8+i] = byte(seqID >> (8 * i))
	}
	_, _ = h.Write(b[:])
	return h.Sum64()
}

// sortKVs orders ranked entries by the clause chain; final tie-break is
// seq id descending so equal keys stay deterministic.
func sortKVs(kvs []index.KV, clauses []srt.Clause) {
	sort.SliceStable(kvs, func(i, j int) bool {
		c := CompareSortValues(kvs[i].SortValues, kvs[j].SortValues, clauses)
		if c != 0 {
			return c < 0
		}
		return kvs[i].SeqID > kvs[j].SeqID
	})
}

// CompareSortValues compares two sort key tuples under the clause orders.
// Negative means a ranks before b.
func CompareSortValues(a, b []result.SortValue, clauses []srt.Clause) int {
	for i := range clauses {
		if i >= len(a) || i >= len(b) {
			break
		}
		var c int
		av, bv := a[i], b[i]
		switch {
		case av.IsStr || bv.IsStr:
			switch {
			case av.Str == bv.Str:
				c = 0
			case av.Str < bv.Str:
				c = -1
			default:
				c = 1
			}
		default:
			switch {
			case av.Num == bv.Num:
				c = 0
			case av.Num < bv.Num:
				c = -1
			default:
				c = 1
			}
		}
		if c == 0 {
			continue
		}
		if clauses[i].Order == srt.Desc {
			c = -c
		}
		return c
	}
	return 0
}
