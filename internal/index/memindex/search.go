package memindex

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
	srt "github.com/kailas-cloud/omnidex/internal/domain/search/sort"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/index"
)

// rrfK is the reciprocal rank fusion constant (Cormack et al. 2009).
const rrfK = 60

// tokenHit records how one query token matched in one field of a document.
type tokenHit struct {
	typos      int
	prefixOnly bool
}

// docMatch accumulates per-document scoring state during candidate collection.
type docMatch struct {
	seqID uint32
	// fieldHits maps field index -> token index -> hit.
	fieldHits map[int]map[int]tokenHit
}

// RunSearch ranks documents for the plan against the pre-evaluated filter.
func (x *Index) RunSearch(ctx context.Context, p *plan.Plan, flt filter.Outcome) (*index.SearchResult, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	res := &index.SearchResult{}

	allowed := x.allowedSet(p, flt)

	var matches []docMatch
	if p.Wildcard {
		matches = make([]docMatch, 0, len(allowed))
		for _, id := range allowed {
			matches = append(matches, docMatch{seqID: id})
		}
		res.QTokens = nil
	} else {
		matches = x.collectMatches(p, allowed, res)
	}

	if p.DeadlineExceeded(time.Now()) {
		res.SearchCutoff = true
	}

	// Vector scoring: pure vector search widens to the allowed set; hybrid
	// fuses lexical and vector rankings.
	kvs := x.scoreMatches(ctx, p, matches)
	if p.VectorQuery != nil && len(p.VectorQuery.Values) > 0 {
		kvs = x.applyVectorScoring(p, kvs, allowed)
	}

	clauses := p.SortClauses
	evalResults := x.evalSortFilters(ctx, clauses)
	for i := range kvs {
		kvs[i].SortValues = x.sortValuesFor(p, clauses, &kvs[i], evalResults)
	}

	sortKVs(kvs, clauses)

	// Exclusions from curation drop out of the raw stream before paging.
	if len(p.ExcludedIDs) > 0 {
		filtered := kvs[:0]
		for _, kv := range kvs {
			if !p.ExcludedIDs[kv.SeqID] {
				filtered = append(filtered, kv)
			}
		}
		kvs = filtered
	}

	res.AllResultIDsLen = len(kvs)
	res.FoundDocs = len(kvs)

	if len(p.GroupBy) > 0 {
		kvs = x.groupKVs(p, kvs, clauses, res)
	} else {
		res.FoundCount = len(kvs)
	}

	x.computeFacets(p, kvs, res)

	// Override (curated) hits carry their target positions into the merger.
	res.OverrideKVs = x.overrideKVs(ctx, p, clauses, evalResults)

	fetch := p.Pagination.FetchSize
	if fetch > 0 && len(kvs) > fetch {
		kvs = kvs[:fetch]
	}
	res.RawKVs = kvs
	return res, nil
}

// allowedSet resolves the filter outcome to a sorted candidate id set
// (nil means unfiltered).
func (x *Index) allowedSet(p *plan.Plan, flt filter.Outcome) []uint32 {
	switch {
	case flt.Materialized():
		return flt.Result.IDs
	case flt.Iterator != nil:
		var ids []uint32
		for {
			id, ok := flt.Iterator.Next()
			if !ok {
				break
			}
			ids = append(ids, id)
		}
		return ids
	case p.FilterTree != nil:
		return nil
	default:
		return append([]uint32(nil), x.ids...)
	}
}

// collectMatches walks query tokens over weighted fields, with typo and
// prefix tolerance, falling back to token dropping when nothing matches.
func (x *Index) collectMatches(p *plan.Plan, allowed []uint32, res *index.SearchResult) []docMatch {
	tokens := p.QueryTokens
	matches, qTokens := x.matchTokens(p, tokens, allowed)

	dropsLeft := p.DropTokensThreshold
	for len(matches) == 0 && len(tokens) > 1 && dropsLeft > 0 {
		tokens = dropToken(tokens, p.DropTokensMode)
		matches, qTokens = x.matchTokens(p, tokens, allowed)
		dropsLeft--
	}
	res.QTokens = qTokens
	return matches
}

func dropToken(tokens []string, mode string) []string {
	if strings.HasPrefix(mode, "right_to_left") {
		return tokens[:len(tokens)-1]
	}
	return tokens[1:]
}

// matchTokens returns candidate documents matching at least one live token
// in some field, plus the set of tokens that produced postings.
func (x *Index) matchTokens(p *plan.Plan, tokens []string, allowed []uint32) ([]docMatch, []string) {
	type perDoc struct {
		hits map[int]map[int]tokenHit
	}
	docs := map[uint32]*perDoc{}
	matchedTokens := map[string]bool{}

	for fi, wf := range p.Fields {
		postings, ok := x.str[wf.Name]
		if !ok {
			continue
		}
		for ti, token := range tokens {
			for cand, hit := range x.candidatesForToken(postings, token, wf, p) {
				if allowed != nil && !containsID(allowed, cand) {
					continue
				}
				d := docs[cand]
				if d == nil {
					d = &perDoc{hits: map[int]map[int]tokenHit{}}
					docs[cand] = d
				}
				fh := d.hits[fi]
				if fh == nil {
					fh = map[int]tokenHit{}
					d.hits[fi] = fh
				}
				if prev, ok := fh[ti]; !ok || betterHit(hit, prev) {
					fh[ti] = hit
				}
				matchedTokens[token] = true
			}
		}
	}

	// Exclude tokens: any document containing one is dropped.
	exclude := map[uint32]bool{}
	for _, wf := range p.Fields {
		postings, ok := x.str[wf.Name]
		if !ok {
			continue
		}
		for _, ex := range p.ExcludeTokens {
			for id := range postings[ex] {
				exclude[id] = true
			}
		}
	}

	var out []docMatch
	for id, d := range docs {
		if exclude[id] {
			continue
		}
		// Any matched token qualifies the document; tokens_matched in the
		// packed score ranks fuller matches above partial ones.
		if len(d.hits) == 0 {
			continue
		}
		if !x.matchesPhrases(p, id) {
			continue
		}
		out = append(out, docMatch{seqID: id, fieldHits: d.hits})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seqID < out[j].seqID })

	qTokens := make([]string, 0, len(matchedTokens))
	for t := range matchedTokens {
		qTokens = append(qTokens, t)
	}
	sort.Strings(qTokens)
	return out, qTokens
}

func betterHit(a, b tokenHit) bool {
	if a.typos != b.typos {
		return a.typos < b.typos
	}
	return !a.prefixOnly && b.prefixOnly
}

// candidatesForToken matches one query token against a field's postings:
// exact, prefix (when enabled), and typo-tolerant within the field's budget.
func (x *Index) candidatesForToken(postings map[string]posting, token string,
	wf plan.WeightedField, p *plan.Plan) map[uint32]tokenHit {
	out := map[uint32]tokenHit{}

	if pl, ok := postings[token]; ok {
		for id := range pl {
			out[id] = tokenHit{}
		}
	}

	if wf.Prefix {
		for t, pl := range postings {
			if t != token && strings.HasPrefix(t, token) {
				for id := range pl {
					if _, seen := out[id]; !seen {
						out[id] = tokenHit{prefixOnly: true}
					}
				}
			}
		}
	}

	maxTypos := wf.NumTypos
	if maxTypos > 0 && len([]rune(token)) >= p.MinLenForTypos(1) {
		if len([]rune(token)) < p.MinLenForTypos(2) && maxTypos > 1 {
			maxTypos = 1
		}
		for t, pl := range postings {
			if t == token {
				continue
			}
			d := boundedEditDistance(token, t, maxTypos)
			if d < 0 {
				continue
			}
			for id := range pl {
				if prev, seen := out[id]; !seen || betterHit(tokenHit{typos: d}, prev) {
					out[id] = tokenHit{typos: d}
				}
			}
		}
	}
	return out
}

// matchesPhrases verifies that every quoted phrase occurs with consecutive
// positions in at least one field.
func (x *Index) matchesPhrases(p *plan.Plan, id uint32) bool {
	if len(p.Phrases) == 0 {
		return true
	}
	for _, phrase := range p.Phrases {
		matched := false
		for _, wf := range p.Fields {
			postings, ok := x.str[wf.Name]
			if !ok {
				continue
			}
			if phraseInField(postings, phrase, id) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func phraseInField(postings map[string]posting, phrase []string, id uint32) bool {
	if len(phrase) == 0 {
		return true
	}
	first, ok := postings[phrase[0]]
	if !ok {
		return false
	}
	for _, start := range first[id] {
		all := true
		for k := 1; k < len(phrase); k++ {
			pl, ok := postings[phrase[k]]
			if !ok || !containsPos(pl[id], start+k) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func containsPos(positions []int, pos int) bool {
	for _, p := range positions {
		if p == pos {
			return true
		}
	}
	return false
}

// scoreMatches packs per-document text match scores.
func (x *Index) scoreMatches(_ context.Context, p *plan.Plan, matches []docMatch) []index.KV {
	kvs := make([]index.KV, 0, len(matches))
	matchType := result.MatchTypeMaxScore
	for _, m := range matches {
		kv := index.KV{SeqID: m.seqID}
		if m.fieldHits != nil {
			var bestScore uint64
			var bestWeight uint8
			tokensMatched := 0
			for fi, fh := range m.fieldHits {
				if len(fh) > tokensMatched {
					tokensMatched = len(fh)
				}
				var score uint64
				for _, hit := range fh {
					typos := hit.typos
					if typos > 3 {
						typos = 3
					}
					tokenScore := uint64(255 - 64*typos) //nolint:gosec // typos clamped
					if hit.prefixOnly {
						tokenScore -= 32
					}
					score += tokenScore
				}
				weight := uint8(0)
				if fi < len(p.Fields) {
					weight = uint8(p.Fields[fi].Weight) //nolint:gosec // normalized <= FieldMaxWeight
				}
				if score > bestScore || (score == bestScore && weight > bestWeight) {
					bestScore, bestWeight = score, weight
				}
			}
			numFields := len(m.fieldHits)
			if numFields > 7 {
				numFields = 7
			}
			kv.TextMatch = result.PackTextMatchScore(
				uint8(min(tokensMatched, 15)), bestScore, bestWeight, uint8(numFields), matchType) //nolint:gosec // bounded above
		}
		kvs = append(kvs, kv)
	}
	return kvs
}

// applyVectorScoring computes distances for the vector query and fuses
// lexical and vector rankings when both participate.
func (x *Index) applyVectorScoring(p *plan.Plan, kvs []index.KV, allowed []uint32) []index.KV {
	vq := p.VectorQuery
	col := x.vec[vq.FieldName]
	if col == nil {
		return kvs
	}
	metric := x.vecMetric[vq.FieldName]

	type scored struct {
		id   uint32
		dist float32
	}
	var ranked []scored
	for id, vec := range col {
		if allowed != nil && !containsID(allowed, id) {
			continue
		}
		d := distance(vq.Values, vec, metric)
		if vq.DistanceThreshold > 0 && d > vq.DistanceThreshold {
			continue
		}
		ranked = append(ranked, scored{id, d})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist < ranked[j].dist })
	k := vq.K
	if k <= 0 {
		k = p.Pagination.FetchSize
	}
	if k > 0 && len(ranked) > k {
		ranked = ranked[:k]
	}

	if p.Wildcard {
		// Pure vector search: candidates are the k-nearest alone.
		out := make([]index.KV, 0, len(ranked))
		for _, s := range ranked {
			out = append(out, index.KV{SeqID: s.id, VectorDistance: s.dist, HasVector: true})
		}
		return out
	}

	// Hybrid: reciprocal rank fusion of the lexical and vector rankings,
	// weighted by alpha on the vector side.
	vecRank := make(map[uint32]int, len(ranked))
	vecDist := make(map[uint32]float32, len(ranked))
	for r, s := range ranked {
		vecRank[s.id] = r
		vecDist[s.id] = s.dist
	}
	lexRank := make(map[uint32]int, len(kvs))
	sortKVsByTextMatch(kvs)
	for r, kv := range kvs {
		lexRank[kv.SeqID] = r
	}

	merged := make(map[uint32]index.KV, len(kvs)+len(ranked))
	for _, kv := range kvs {
		merged[kv.SeqID] = kv
	}
	for _, s := range ranked {
		kv, ok := merged[s.id]
		if !ok {
			kv = index.KV{SeqID: s.id}
		}
		kv.VectorDistance = s.dist
		kv.HasVector = true
		merged[s.id] = kv
	}
	out := make([]index.KV, 0, len(merged))
	for id, kv := range merged {
		var score float32
		if r, ok := lexRank[id]; ok {
			score += (1 - vq.Alpha) / float32(rrfK+r+1)
		}
		if r, ok := vecRank[id]; ok {
			score += vq.Alpha / float32(rrfK+r+1)
		}
		kv.HybridScore = score
		out = append(out, kv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HybridScore != out[j].HybridScore {
			return out[i].HybridScore > out[j].HybridScore
		}
		return out[i].SeqID > out[j].SeqID
	})
	return out
}

func sortKVsByTextMatch(kvs []index.KV) {
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].TextMatch != kvs[j].TextMatch {
			return kvs[i].TextMatch > kvs[j].TextMatch
		}
		return kvs[i].SeqID > kvs[j].SeqID
	})
}

// groupKVs coalesces group members up to group_limit; groups inherit their
// best member's rank and carry the group size for _group_found.
func (x *Index) groupKVs(p *plan.Plan, kvs []index.KV, clauses []srt.Clause, res *index.SearchResult) []index.KV {
	type group struct {
		kvs  []index.KV
		size int
	}
	groups := map[string]*group{}
	var order []string
	for _, kv := range kvs {
		key := x.groupKeyFor(p, kv.SeqID)
		if key == "" && !p.GroupMissingValues {
			key = "\x00" + string(rune(kv.SeqID))
		}
		g := groups[key]
		if g == nil {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		g.size++
		if len(g.kvs) < p.GroupLimit {
			kv.GroupKey = key
			g.kvs = append(g.kvs, kv)
		}
	}
	res.FoundCount = len(order)
	res.GroupsProcessed = len(order)

	out := make([]index.KV, 0, len(kvs))
	for _, key := range order {
		g := groups[key]
		for i := range g.kvs {
			g.kvs[i].GroupSize = g.size
			// _group_found sorts by the size of the owning group.
			for ci, c := range clauses {
				if c.Kind == srt.KindGroupFound && ci < len(g.kvs[i].SortValues) {
					g.kvs[i].SortValues[ci] = result.SortValue{Num: float64(g.size)}
				}
			}
		}
		out = append(out, g.kvs...)
	}
	return out
}

func (x *Index) groupKeyFor(p *plan.Plan, seqID uint32) string {
	var parts []string
	for _, f := range p.GroupBy {
		if col, ok := x.strRaw[f]; ok {
			parts = append(parts, strings.Join(col[seqID], "|"))
			continue
		}
		if col, ok := x.num[f]; ok {
			vals := col[seqID]
			var sb strings.Builder
			for i, v := range vals {
				if i > 0 {
					sb.WriteByte('|')
				}
				sb.WriteString(formatNum(v))
			}
			parts = append(parts, sb.String())
		}
	}
	key := strings.Join(parts, "\x1f")
	if strings.Trim(key, "\x1f") == "" {
		return ""
	}
	return key
}

func formatNum(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// overrideKVs resolves pinned hits into ranked entries carrying their
// target positions.
func (x *Index) overrideKVs(ctx context.Context, p *plan.Plan, clauses []srt.Clause,
	evalResults []evalScores) []index.KV {
	if len(p.IncludedIDs) == 0 {
		return nil
	}
	out := make([]index.KV, 0, len(p.IncludedIDs))
	for _, pin := range p.IncludedIDs {
		kv := index.KV{SeqID: pin.SeqID, Position: pin.Position}
		kv.SortValues = x.sortValuesFor(p, clauses, &kv, evalResults)
		out = append(out, kv)
	}
	_ = ctx
	return out
}

func containsID(sorted []uint32, id uint32) bool {
	i := searchID(sorted, id)
	return i < len(sorted) && sorted[i] == id
}

// boundedEditDistance returns the Damerau-Levenshtein distance between a
// and b if it is <= maxD, else -1.
func boundedEditDistance(a, b string, maxD int) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if abs(la-lb) > maxD {
		return -1
	}
	prev2 := make([]int, lb+1)
	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = minOf3(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				if t := prev2[j-2] + 1; t < cur[j] {
					cur[j] = t
				}
			}
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin > maxD {
			return -1
		}
		prev2, prev, cur = prev, cur, prev2
	}
	if prev[lb] > maxD {
		return -1
	}
	return prev[lb]
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func minOf3(a, b, c int) int {
	if a < b {
		b = a
	}
	if b < c {
		return b
	}
	return c
}

// distance computes the vector distance under the field's metric.
func distance(q, v []float32, metric field.DistanceMetric) float32 {
	if len(q) != len(v) || len(q) == 0 {
		return math.MaxFloat32
	}
	var dot, qn, vn float64
	for i := range q {
		dot += float64(q[i]) * float64(v[i])
		qn += float64(q[i]) * float64(q[i])
		vn += float64(v[i]) * float64(v[i])
	}
	if metric == field.InnerProduct {
		return float32(1 - dot)
	}
	denom := math.Sqrt(qn) * math.Sqrt(vn)
	if denom == 0 {
		return math.MaxFloat32
	}
	return float32(1 - dot/denom)
}
