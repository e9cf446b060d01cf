package memindex

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
)

// EvalFilter evaluates a filter tree to sorted seq ids. When the estimated
// candidate set exceeds the compute threshold a lazy iterator is returned
// instead of a materialized array.
func (x *Index) EvalFilter(ctx context.Context, node *filter.Node) (filter.Outcome, error) {
	if node == nil {
		return filter.Outcome{}, nil
	}
	x.mu.RLock()
	estimate := x.estimate(node)
	x.mu.RUnlock()

	if estimate > filter.ComputeIteratorThreshold {
		// The iterator reads index state without locking; RunSearch drains
		// it under its own read lock.
		it := &lazyIterator{idx: x, ctx: ctx, node: node}
		return filter.Outcome{Iterator: it, ApproxCount: estimate}, nil
	}

	x.mu.RLock()
	res, err := x.evalNode(ctx, node)
	x.mu.RUnlock()
	if err != nil {
		return filter.Outcome{}, err
	}
	return filter.Outcome{Result: &res}, nil
}

// EvalFilterResult materializes an evaluation regardless of size.
func (x *Index) EvalFilterResult(ctx context.Context, node *filter.Node) (filter.Result, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.evalNode(ctx, node)
}

// estimate approximates the candidate count of a subtree (upper bound).
func (x *Index) estimate(node *filter.Node) int {
	if node == nil {
		return 0
	}
	switch node.Op {
	case filter.OpAnd:
		l, r := x.estimate(node.Left), x.estimate(node.Right)
		if l < r {
			return l
		}
		return r
	case filter.OpOr:
		return x.estimate(node.Left) + x.estimate(node.Right)
	default:
		return x.estimateLeaf(node.Leaf)
	}
}

func (x *Index) estimateLeaf(a *filter.Atom) int {
	if a == nil || a.Ignored {
		return 0
	}
	if a.ApplyNotEquals || a.IsNegateJoin || isMatchAllAtom(a) {
		return len(x.ids)
	}
	if a.Geo != nil {
		return len(x.geo[a.FieldName])
	}
	if postings, ok := x.str[a.FieldName]; ok {
		n := 0
		for _, v := range a.Values {
			for _, t := range strings.Fields(strings.ToLower(v)) {
				n += len(postings[t])
			}
		}
		return n
	}
	if col, ok := x.num[a.FieldName]; ok {
		// Numeric comparators may select broad ranges.
		for _, c := range a.Comparators {
			if c != filter.Equals {
				return len(col)
			}
		}
		return len(col)
	}
	return len(x.ids)
}

func isMatchAllAtom(a *filter.Atom) bool {
	return a.FieldName == "id" && len(a.Values) > 0 && a.Values[0] == "*"
}

func (x *Index) evalNode(ctx context.Context, node *filter.Node) (filter.Result, error) {
	if node == nil {
		return filter.Result{}, nil
	}
	switch node.Op {
	case filter.OpAnd:
		l, err := x.evalNode(ctx, node.Left)
		if err != nil {
			return filter.Result{}, err
		}
		r, err := x.evalNode(ctx, node.Right)
		if err != nil {
			return filter.Result{}, err
		}
		return filter.Result{IDs: intersect(l.IDs, r.IDs)}, nil
	case filter.OpOr:
		l, err := x.evalNode(ctx, node.Left)
		if err != nil {
			return filter.Result{}, err
		}
		r, err := x.evalNode(ctx, node.Right)
		if err != nil {
			return filter.Result{}, err
		}
		return filter.Result{IDs: unite(l.IDs, r.IDs)}, nil
	default:
		return x.evalLeaf(ctx, node.Leaf)
	}
}

// evalLeaf assumes the caller holds the read lock.
func (x *Index) evalLeaf(ctx context.Context, a *filter.Atom) (filter.Result, error) {
	if a == nil || a.Ignored {
		return filter.Result{}, nil
	}
	if a.ReferencedCollection != "" {
		return x.evalReference(ctx, a)
	}

	var ids []uint32
	var universe []uint32
	switch {
	case a.FieldName == "id":
		if isMatchAllAtom(a) {
			return filter.Result{IDs: append([]uint32(nil), x.ids...)}, nil
		}
		for _, v := range a.Values {
			if seq, ok := x.idMap[v]; ok {
				ids = appendSorted(ids, seq)
			}
		}
		universe = x.ids
	case a.Geo != nil:
		ids = x.evalGeo(a)
		universe = columnIDsGeo(x.geo[a.FieldName])
	case x.refs[a.FieldName] != nil:
		ids = x.evalRefHelper(a)
		universe = columnIDsRefs(x.refs[a.FieldName])
	case x.str[a.FieldName] != nil || x.strRaw[a.FieldName] != nil:
		ids = x.evalString(a)
		universe = columnIDsStr(x.strRaw[a.FieldName])
	case x.num[a.FieldName] != nil:
		ids = x.evalNumeric(a)
		universe = columnIDsNum(x.num[a.FieldName])
	default:
		// Field declared but nothing indexed yet.
		universe = nil
	}

	if a.ApplyNotEquals {
		ids = subtract(universe, ids)
	}
	return filter.Result{IDs: ids}, nil
}

// evalReference maps a referenced-side result back through the helper
// field. The caller holds this index's read lock; the referenced
// collection's index locks itself.
func (x *Index) evalReference(ctx context.Context, a *filter.Atom) (filter.Result, error) {
	var helper string
	for name, f := range x.fields {
		if !f.IsReference() {
			continue
		}
		if coll, _, err := f.ReferencedCollection(); err == nil && coll == a.ReferencedCollection {
			helper = name + field.ReferenceHelperSuffix
			break
		}
	}
	refEval := x.refEval

	if helper == "" {
		return filter.Result{}, fmt.Errorf("%w: no reference field into collection %q",
			domain.ErrNotFound, a.ReferencedCollection)
	}

	var refSet filter.Result
	if a.SubFilter != nil {
		if refEval == nil {
			return filter.Result{}, fmt.Errorf("%w: reference joins are not wired", domain.ErrInternal)
		}
		var err error
		refSet, err = refEval.EvalInCollection(ctx, a.ReferencedCollection, a.SubFilter)
		if err != nil {
			return filter.Result{}, err
		}
	}

	col := x.refs[helper]
	var ids []uint32
	for _, ownID := range x.ids {
		related := col[ownID]
		matched := false
		for _, refID := range related {
			if refID == field.UnresolvedReference {
				continue
			}
			if a.SubFilter == nil || refSet.Contains(refID) {
				matched = true
				break
			}
		}
		if a.IsNegateJoin {
			// Negate-left-join keeps docs whose referenced set is empty,
			// absent, or disjoint from the referenced result.
			if !matched {
				ids = append(ids, ownID)
			}
			continue
		}
		if matched {
			ids = append(ids, ownID)
		}
	}
	return filter.Result{IDs: ids}, nil
}

func (x *Index) evalString(a *filter.Atom) []uint32 {
	postings := x.str[a.FieldName]
	rawCol := x.strRaw[a.FieldName]
	tok := x.tokenizers[a.FieldName]
	if tok == nil {
		tok = x.defaultTok
	}

	var ids []uint32
	for i, v := range a.Values {
		comp := filter.Contains
		if i < len(a.Comparators) {
			comp = a.Comparators[i]
		}
		var matched []uint32
		if comp == filter.Equals {
			norm := tok.Normalize(v)
			for id, vals := range rawCol {
				for _, val := range vals {
					if val == norm {
						matched = appendSorted(matched, id)
						break
					}
				}
			}
		} else {
			// CONTAINS: the document must hold every token of the value.
			tokens := tok.TokenTexts(v)
			var acc []uint32
			for ti, t := range tokens {
				var tokenIDs []uint32
				for id := range postings[t] {
					tokenIDs = appendSorted(tokenIDs, id)
				}
				if ti == 0 {
					acc = tokenIDs
				} else {
					acc = intersect(acc, tokenIDs)
				}
			}
			matched = acc
		}
		ids = unite(ids, matched)
	}
	return ids
}

func (x *Index) evalNumeric(a *filter.Atom) []uint32 {
	col := x.num[a.FieldName]
	var ids []uint32
	for i, v := range a.Values {
		comp := filter.Equals
		if i < len(a.Comparators) {
			comp = a.Comparators[i]
		}
		var want float64
		if comp != filter.RangeInclusive {
			if v == "true" {
				want = 1
			} else if v == "false" {
				want = 0
			} else {
				f, err := strconv.ParseFloat(v, 64)
				if err != nil {
					continue
				}
				want = f
			}
		}
		var matched []uint32
		for id, vals := range col {
			for _, val := range vals {
				if numericMatch(val, want, comp, a, i) {
					matched = appendSorted(matched, id)
					break
				}
			}
		}
		ids = unite(ids, matched)
	}
	return ids
}

func numericMatch(val, want float64, comp filter.Comparator, a *filter.Atom, i int) bool {
	switch comp {
	case filter.Equals, filter.Contains:
		return val == want
	case filter.NotEquals:
		return val != want
	case filter.LessThan:
		return val < want
	case filter.LessThanEquals:
		return val <= want
	case filter.GreaterThan:
		return val > want
	case filter.GreaterThanEquals:
		return val >= want
	case filter.RangeInclusive:
		return val >= a.RangeLow[i] && val <= a.RangeHigh[i]
	}
	return false
}

// evalGeo runs a cheap bounding-box pass; the exact haversine pass only runs
// when the radius is within the atom's exact filter radius.
func (x *Index) evalGeo(a *filter.Atom) []uint32 {
	col := x.geo[a.FieldName]
	spec := a.Geo
	exact := len(spec.Polygon) > 0 || spec.RadiusMeters <= spec.ExactFilterRadius

	var ids []uint32
	for id, points := range col {
		for _, p := range points {
			if exact {
				if spec.ContainsPoint(p[0], p[1]) {
					ids = appendSorted(ids, id)
					break
				}
				continue
			}
			if withinBoundingBox(spec, p[0], p[1]) {
				ids = appendSorted(ids, id)
				break
			}
		}
	}
	return ids
}

// withinBoundingBox approximates radius containment with a degree box.
func withinBoundingBox(spec *filter.GeoSpec, lat, lng float64) bool {
	// ~111,320 meters per degree of latitude.
	dLat := spec.RadiusMeters / 111320.0
	dLng := dLat * 1.5
	return lat >= spec.Lat-dLat && lat <= spec.Lat+dLat &&
		lng >= spec.Lng-dLng && lng <= spec.Lng+dLng
}

// lazyIterator walks the global id stream testing the tree per document.
type lazyIterator struct {
	idx  *Index
	ctx  context.Context
	node *filter.Node
	pos  int
}

func (it *lazyIterator) Next() (uint32, bool) {
	ids := it.idx.ids
	for it.pos < len(ids) {
		id := ids[it.pos]
		it.pos++
		if it.Test(id) {
			return id, true
		}
	}
	return 0, false
}

func (it *lazyIterator) Test(id uint32) bool {
	return it.idx.testNode(it.ctx, it.node, id)
}

func (x *Index) testNode(ctx context.Context, node *filter.Node, id uint32) bool {
	if node == nil {
		return false
	}
	switch node.Op {
	case filter.OpAnd:
		return x.testNode(ctx, node.Left, id) && x.testNode(ctx, node.Right, id)
	case filter.OpOr:
		return x.testNode(ctx, node.Left, id) || x.testNode(ctx, node.Right, id)
	default:
		res, err := x.evalLeaf(ctx, node.Leaf)
		if err != nil {
			return false
		}
		return res.Contains(id)
	}
}

// --- sorted id set primitives ---

func appendSorted(ids []uint32, id uint32) []uint32 {
	n := len(ids)
	if n == 0 || ids[n-1] < id {
		return append(ids, id)
	}
	i := searchID(ids, id)
	if i < n && ids[i] == id {
		return ids
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func searchID(ids []uint32, id uint32) int {
	lo, hi := 0, len(ids)
	for lo < hi {
		mid := (lo + hi) / 2
		if ids[mid] < id {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func intersect(a, b []uint32) []uint32 {
	var out []uint32
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func unite(a, b []uint32) []uint32 {
	var out []uint32
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	return out
}

func subtract(universe, remove []uint32) []uint32 {
	var out []uint32
	j := 0
	for _, id := range universe {
		for j < len(remove) && remove[j] < id {
			j++
		}
		if j < len(remove) && remove[j] == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

// evalRefHelper matches reference helper columns by resolved seq id value.
func (x *Index) evalRefHelper(a *filter.Atom) []uint32 {
	col := x.refs[a.FieldName]
	var ids []uint32
	for _, v := range a.Values {
		want, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			continue
		}
		for id, refIDs := range col {
			for _, refID := range refIDs {
				if refID == uint32(want) {
					ids = appendSorted(ids, id)
					break
				}
			}
		}
	}
	return ids
}

func columnIDsRefs(col map[uint32][]uint32) []uint32 {
	out := make([]uint32, 0, len(col))
	for id := range col {
		out = appendSorted(out, id)
	}
	return out
}

func columnIDsStr(col map[uint32][]string) []uint32 {
	out := make([]uint32, 0, len(col))
	for id := range col {
		out = appendSorted(out, id)
	}
	return out
}

func columnIDsNum(col map[uint32][]float64) []uint32 {
	out := make([]uint32, 0, len(col))
	for id := range col {
		out = appendSorted(out, id)
	}
	return out
}

func columnIDsGeo(col map[uint32][][2]float64) []uint32 {
	out := make([]uint32, 0, len(col))
	for id := range col {
		out = appendSorted(out, id)
	}
	return out
}
