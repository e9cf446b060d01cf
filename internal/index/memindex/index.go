// Package memindex is the in-memory reference implementation of the index
// contract: per-field posting lists, typed columns, brute-force vector
// scoring, and geo distance math.
package memindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/index"
	"github.com/kailas-cloud/omnidex/internal/tokenizer"
)

// RefEval evaluates a filter tree against another collection; it is how
// reference join atoms reach across collections without the index owning
// the registry.
type RefEval interface {
	EvalInCollection(ctx context.Context, collection string, node *filter.Node) (filter.Result, error)
}

// posting maps seq id to token positions within the field value.
type posting map[uint32][]int

// Index is a per-collection in-memory index.
type Index struct {
	mu sync.RWMutex

	fields map[string]field.Field

	// str maps field -> normalized token -> posting.
	str map[string]map[string]posting
	// strRaw maps field -> seq id -> normalized full values (facets, equality).
	strRaw map[string]map[uint32][]string
	// num maps field -> seq id -> numeric values (bools as 0/1).
	num map[string]map[uint32][]float64
	// geo maps field -> seq id -> lat/lng pairs.
	geo map[string]map[uint32][][2]float64
	// vec maps field -> seq id -> dense vector.
	vec       map[string]map[uint32][]float32
	vecMetric map[string]field.DistanceMetric
	// refs maps helper field -> seq id -> referenced seq ids.
	refs map[string]map[uint32][]uint32

	ids   []uint32
	idMap map[string]uint32

	tokenizers map[string]*tokenizer.Tokenizer
	defaultTok *tokenizer.Tokenizer

	refEval RefEval
}

var _ index.Searcher = (*Index)(nil)

// New creates an index over the given schema fields.
func New(fields []field.Field, symbolsToIndex, tokenSeparators []string) *Index {
	idx := &Index{
		fields:     make(map[string]field.Field, len(fields)),
		str:        make(map[string]map[string]posting),
		strRaw:     make(map[string]map[uint32][]string),
		num:        make(map[string]map[uint32][]float64),
		geo:        make(map[string]map[uint32][][2]float64),
		vec:        make(map[string]map[uint32][]float32),
		vecMetric:  make(map[string]field.DistanceMetric),
		refs:       make(map[string]map[uint32][]uint32),
		idMap:      make(map[string]uint32),
		tokenizers: make(map[string]*tokenizer.Tokenizer),
		defaultTok: tokenizer.New("", symbolsToIndex, tokenSeparators),
	}
	for _, f := range fields {
		idx.registerField(f, symbolsToIndex, tokenSeparators)
	}
	return idx
}

// SetRefEval wires the cross-collection join evaluator.
func (x *Index) SetRefEval(r RefEval) {
	x.mu.Lock()
	x.refEval = r
	x.mu.Unlock()
}

func (x *Index) registerField(f field.Field, defSymbols, defSeparators []string) {
	x.fields[f.Name] = f
	if f.IsVector() {
		metric := f.VecDist
		if metric == "" {
			metric = field.Cosine
		}
		x.vecMetric[f.Name] = metric
	}
	if f.IsString() {
		symbols := f.SymbolsToIndex
		if symbols == nil {
			symbols = defSymbols
		}
		seps := f.TokenSeparators
		if seps == nil {
			seps = defSeparators
		}
		x.tokenizers[f.Name] = tokenizer.New(f.Locale, symbols, seps)
	}
}

// AddField registers a new schema field (schema alter additions).
func (x *Index) AddField(f field.Field) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.registerField(f, nil, nil)
}

// DropField removes a field and all its postings.
func (x *Index) DropField(name string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.fields, name)
	delete(x.str, name)
	delete(x.strRaw, name)
	delete(x.num, name)
	delete(x.geo, name)
	delete(x.vec, name)
	delete(x.vecMetric, name)
	delete(x.refs, name)
	delete(x.tokenizers, name)
}

// Tokenizer returns the per-field tokenizer (highlighting shares it).
func (x *Index) Tokenizer(fieldName string) *tokenizer.Tokenizer {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if t, ok := x.tokenizers[fieldName]; ok {
		return t
	}
	return x.defaultTok
}

// BatchMemoryIndex indexes or removes a batch of records.
func (x *Index) BatchMemoryIndex(ctx context.Context, records []index.Record) error {
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: batch index interrupted after %d records", domain.ErrTimeout, i)
		}
		if rec.Op == index.OpDelete {
			if err := x.Remove(rec.SeqID, rec.Doc, rec.Fields); err != nil {
				return err
			}
			continue
		}
		if err := x.indexOne(rec.SeqID, rec.Doc, rec.Fields); err != nil {
			return err
		}
	}
	return nil
}

func (x *Index) indexOne(seqID uint32, doc document.Doc, only []field.Field) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if docID, ok := doc["id"].(string); ok {
		x.idMap[docID] = seqID
	}
	x.insertID(seqID)

	targets := only
	if targets == nil {
		targets = make([]field.Field, 0, len(x.fields))
		for _, f := range x.fields {
			targets = append(targets, f)
		}
	}
	for _, f := range targets {
		if !f.Index || f.Name == ".*" {
			continue
		}
		raw, ok := document.GetNested(doc, f.Name)
		if !ok || raw == nil {
			continue
		}
		x.indexValue(seqID, f, raw)
	}
	return nil
}

func (x *Index) indexValue(seqID uint32, f field.Field, raw any) {
	switch {
	case f.IsVector():
		if vals, ok := toFloat32s(raw); ok {
			col := x.vec[f.Name]
			if col == nil {
				col = make(map[uint32][]float32)
				x.vec[f.Name] = col
			}
			col[seqID] = vals
		}
	case f.IsReferenceHelper():
		col := x.refs[f.Name]
		if col == nil {
			col = make(map[uint32][]uint32)
			x.refs[f.Name] = col
		}
		col[seqID] = toUint32s(raw)
	case f.IsGeopoint():
		col := x.geo[f.Name]
		if col == nil {
			col = make(map[uint32][][2]float64)
			x.geo[f.Name] = col
		}
		col[seqID] = toGeoPairs(raw, f.IsArray())
	case f.IsString():
		x.indexString(seqID, f, stringValues(raw))
	case f.IsNumerical():
		col := x.num[f.Name]
		if col == nil {
			col = make(map[uint32][]float64)
			x.num[f.Name] = col
		}
		col[seqID] = numericValues(raw)
	}
}

func (x *Index) indexString(seqID uint32, f field.Field, values []string) {
	tok := x.tokenizers[f.Name]
	if tok == nil {
		tok = x.defaultTok
	}
	rawCol := x.strRaw[f.Name]
	if rawCol == nil {
		rawCol = make(map[uint32][]string)
		x.strRaw[f.Name] = rawCol
	}
	postings := x.str[f.Name]
	if postings == nil {
		postings = make(map[string]posting)
		x.str[f.Name] = postings
	}
	var normalized []string
	pos := 0
	for _, v := range values {
		normalized = append(normalized, tok.Normalize(v))
		for _, t := range tok.Tokenize(v) {
			pl := postings[t.Text]
			if pl == nil {
				pl = make(posting)
				postings[t.Text] = pl
			}
			pl[seqID] = append(pl[seqID], pos+t.Position)
		}
		pos += len(tok.Tokenize(v))
	}
	rawCol[seqID] = normalized
}

// Remove deletes a document's postings for the given fields (nil = all).
func (x *Index) Remove(seqID uint32, doc document.Doc, fields []field.Field) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	all := fields == nil
	names := make(map[string]bool, len(fields))
	for _, f := range fields {
		names[f.Name] = true
	}
	target := func(name string) bool { return all || names[name] }

	for name, postings := range x.str {
		if !target(name) {
			continue
		}
		for token, pl := range postings {
			delete(pl, seqID)
			if len(pl) == 0 {
				delete(postings, token)
			}
		}
	}
	for name, col := range x.strRaw {
		if target(name) {
			delete(col, seqID)
		}
	}
	for name, col := range x.num {
		if target(name) {
			delete(col, seqID)
		}
	}
	for name, col := range x.geo {
		if target(name) {
			delete(col, seqID)
		}
	}
	for name, col := range x.vec {
		if target(name) {
			delete(col, seqID)
		}
	}
	for name, col := range x.refs {
		if target(name) {
			delete(col, seqID)
		}
	}

	if all {
		if docID, ok := doc["id"].(string); ok {
			delete(x.idMap, docID)
		}
		x.removeID(seqID)
	}
	return nil
}

// RepairHNSWIndex drops vector entries of removed documents.
func (x *Index) RepairHNSWIndex() {
	x.mu.Lock()
	defer x.mu.Unlock()
	live := make(map[uint32]bool, len(x.ids))
	for _, id := range x.ids {
		live[id] = true
	}
	for _, col := range x.vec {
		for id := range col {
			if !live[id] {
				delete(col, id)
			}
		}
	}
}

// NumDocuments returns the live document count.
func (x *Index) NumDocuments() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.ids)
}

// VectorFor returns a document's stored vector for the given field.
func (x *Index) VectorFor(fieldName string, seqID uint32) ([]float32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.vec[fieldName]
	if !ok {
		return nil, false
	}
	v, ok := col[seqID]
	return v, ok
}

// SeqIDForDocID resolves a document id to its seq id.
func (x *Index) SeqIDForDocID(docID string) (uint32, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	id, ok := x.idMap[docID]
	return id, ok
}

// SeqIDsOutsideTopK returns ids ranked below the top k by the integer field,
// descending.
func (x *Index) SeqIDsOutsideTopK(fieldName string, k int) ([]uint32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.num[fieldName]
	if !ok {
		return nil, fmt.Errorf("%w: field %q has no numeric index", domain.ErrNotFound, fieldName)
	}
	type pair struct {
		id  uint32
		val float64
	}
	pairs := make([]pair, 0, len(col))
	for id, vals := range col {
		v := 0.0
		if len(vals) > 0 {
			v = vals[0]
		}
		pairs = append(pairs, pair{id, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].val != pairs[j].val {
			return pairs[i].val > pairs[j].val
		}
		return pairs[i].id < pairs[j].id
	})
	if len(pairs) <= k {
		return nil, nil
	}
	out := make([]uint32, 0, len(pairs)-k)
	for _, p := range pairs[k:] {
		out = append(out, p.id)
	}
	return out, nil
}

// GetGeoDistance computes meters between the document's nearest stored point
// and the reference point.
func (x *Index) GetGeoDistance(fieldName string, seqID uint32, lat, lng float64) (float64, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.geo[fieldName]
	if !ok {
		return 0, fmt.Errorf("%w: field %q has no geo index", domain.ErrNotFound, fieldName)
	}
	points, ok := col[seqID]
	if !ok || len(points) == 0 {
		return 0, fmt.Errorf("%w: document %d has no value for %q", domain.ErrNotFound, seqID, fieldName)
	}
	best := filter.HaversineMeters(points[0][0], points[0][1], lat, lng)
	for _, p := range points[1:] {
		if d := filter.HaversineMeters(p[0], p[1], lat, lng); d < best {
			best = d
		}
	}
	return best, nil
}

// GetRelatedIDs resolves the reference helper values of a document.
func (x *Index) GetRelatedIDs(refHelperField string, seqID uint32) ([]uint32, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.refs[refHelperField]
	if !ok {
		return nil, fmt.Errorf("%w: no reference helper index for %q", domain.ErrNotFound, refHelperField)
	}
	var out []uint32
	for _, id := range col[seqID] {
		if id != field.UnresolvedReference {
			out = append(out, id)
		}
	}
	return out, nil
}

func (x *Index) insertID(id uint32) {
	i := sort.Search(len(x.ids), func(i int) bool { return x.ids[i] >= id })
	if i < len(x.ids) && x.ids[i] == id {
		return
	}
	x.ids = append(x.ids, 0)
	copy(x.ids[i+1:], x.ids[i:])
	x.ids[i] = id
}

func (x *Index) removeID(id uint32) {
	i := sort.Search(len(x.ids), func(i int) bool { return x.ids[i] >= id })
	if i < len(x.ids) && x.ids[i] == id {
		x.ids = append(x.ids[:i], x.ids[i+1:]...)
	}
}

// --- value coercion helpers ---

func stringValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			if s, ok := el.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	}
	return nil
}

func numericValues(raw any) []float64 {
	switch v := raw.(type) {
	case float64:
		return []float64{v}
	case int64:
		return []float64{float64(v)}
	case int:
		return []float64{float64(v)}
	case bool:
		if v {
			return []float64{1}
		}
		return []float64{0}
	case []any:
		out := make([]float64, 0, len(v))
		for _, el := range v {
			out = append(out, numericValues(el)...)
		}
		return out
	}
	return nil
}

func toFloat32s(raw any) ([]float32, bool) {
	switch v := raw.(type) {
	case []float32:
		return v, true
	case []any:
		out := make([]float32, 0, len(v))
		for _, el := range v {
			switch n := el.(type) {
			case float64:
				out = append(out, float32(n))
			case int64:
				out = append(out, float32(n))
			default:
				return nil, false
			}
		}
		return out, true
	}
	return nil, false
}

func toUint32s(raw any) []uint32 {
	switch v := raw.(type) {
	case []uint32:
		return v
	case float64:
		return []uint32{uint32(v)} //nolint:gosec // helper values are seq ids
	case []any:
		out := make([]uint32, 0, len(v))
		for _, el := range v {
			if n, ok := el.(float64); ok {
				out = append(out, uint32(n)) //nolint:gosec // helper values are seq ids
			}
		}
		return out
	}
	return nil
}

func toGeoPairs(raw any, isArray bool) [][2]float64 {
	pair := func(v any) ([2]float64, bool) {
		arr, ok := v.([]any)
		if !ok || len(arr) != 2 {
			return [2]float64{}, false
		}
		lat, ok1 := asFloat(arr[0])
		lng, ok2 := asFloat(arr[1])
		if !ok1 || !ok2 {
			return [2]float64{}, false
		}
		return [2]float64{lat, lng}, true
	}
	if isArray {
		arr, ok := raw.([]any)
		if !ok {
			return nil
		}
		var out [][2]float64
		for _, el := range arr {
			if p, ok := pair(el); ok {
				out = append(out, p)
			}
		}
		return out
	}
	if p, ok := pair(raw); ok {
		return [][2]float64{p}
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}
