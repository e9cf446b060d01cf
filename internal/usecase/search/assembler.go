package search

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
	srt "github.com/kailas-cloud/omnidex/internal/domain/search/sort"
	"github.com/kailas-cloud/omnidex/internal/usecase/collection"
	"github.com/kailas-cloud/omnidex/internal/usecase/curation"
	"github.com/kailas-cloud/omnidex/internal/usecase/embedding"
)

// assemble validates and normalizes every search parameter into an
// immutable plan. searchBegin anchors the cutoff and embedding budgets.
func (s *Service) assemble(ctx context.Context, h *collection.Handle, p *request.Params,
	searchBegin time.Time) (*plan.Plan, error) {
	col := h.Meta

	if p.VoiceQuery != "" {
		if s.voice == nil {
			return nil, fmt.Errorf("%w: collection %q has no voice query model",
				domain.ErrInvalidArgument, col.Name)
		}
		q, err := s.voice.Transcribe(ctx, p.VoiceQuery)
		if err != nil {
			return nil, err
		}
		p.Query = q
	} else if p.Query == "" && p.VectorQuery == "" {
		return nil, fmt.Errorf("%w: q parameter is required", domain.ErrInvalidArgument)
	}

	if p.Conversation {
		if p.ConversationModelID == "" {
			return nil, fmt.Errorf("%w: conversation requires conversation_model_id",
				domain.ErrInvalidArgument)
		}
		if s.conversation == nil {
			return nil, fmt.Errorf("%w: no conversation model is configured", domain.ErrInvalidArgument)
		}
		if p.ConversationID != "" {
			q, err := s.conversation.StandaloneQuery(ctx, p.ConversationModelID, p.ConversationID, p.Query)
			if err != nil {
				return nil, err
			}
			p.Query = q
		}
	}

	if p.SynonymNumTypos > 2 {
		return nil, fmt.Errorf("%w: synonym_num_typos must be at most 2", domain.ErrInvalidArgument)
	}
	if p.FacetSamplePercent < 0 || p.FacetSamplePercent > 100 {
		return nil, fmt.Errorf("%w: facet_sample_percent must be in [0, 100]", domain.ErrInvalidArgument)
	}
	if p.RemoteEmbeddingNumTries < 1 {
		return nil, fmt.Errorf("%w: remote_embedding_num_tries must be at least 1",
			domain.ErrInvalidArgument)
	}

	wildcard := p.IsWildcard()
	if wildcard && len(p.SearchFields) > 0 && p.VectorQuery == "" {
		// Wildcard needs no search fields; they are simply ignored.
		p.SearchFields = nil
	}
	if !wildcard && len(p.SearchFields) == 0 {
		return nil, fmt.Errorf("%w: query_by is required for non-wildcard queries",
			domain.ErrInvalidArgument)
	}

	fields, err := s.resolveSearchFields(col, p)
	if err != nil {
		return nil, err
	}

	// Curation before query reshaping: replace_query and matched-token
	// removal feed the tokenizer below.
	nowTs := searchBegin.Unix()
	cur, err := s.curator.Process(ctx, col.Name, p.Query, p.FilterQuery,
		p.OverrideTags, p.PinnedHits, p.HiddenHits, nowTs)
	if err != nil {
		return nil, err
	}
	query := p.Query
	if cur.ReplaceQuery != "" {
		query = cur.ReplaceQuery
	}
	if len(cur.RemoveMatchedTokens) > 0 {
		query = removeTokens(query, cur.RemoveMatchedTokens)
		if strings.TrimSpace(query) == "" {
			query = "*"
		}
	}
	wildcard = query == "" || query == "*"

	filterQuery := p.FilterQuery
	for _, extra := range cur.FilterBy {
		if filterQuery == "" {
			filterQuery = extra
		} else {
			filterQuery = "(" + filterQuery + ") || (" + extra + ")"
		}
	}

	var filterTree *filter.Node
	if filterQuery != "" {
		filterTree, err = filter.Parse(filterQuery, &col, p.ValidateFieldNames)
		if err != nil {
			return nil, err
		}
	}

	sortBy := p.SortBy
	if cur.SortBy != "" {
		sortBy = splitClauses(cur.SortBy)
	}
	clauses, err := srt.Parse(sortBy, &col)
	if err != nil {
		return nil, err
	}

	vq, err := s.resolveVectorQuery(ctx, col, h, p, &clauses, searchBegin)
	if err != nil {
		return nil, err
	}
	clauses = srt.ApplyDefaults(clauses, wildcard, vq != nil, p.IsUnionSearch,
		col.DefaultSortingField, &col)

	pagination, err := resolvePagination(p, s.maxPerPage)
	if err != nil {
		return nil, err
	}

	groupLimit := p.GroupLimit
	if len(p.GroupByFields) == 0 {
		groupLimit = 0
	} else {
		if groupLimit == 0 {
			groupLimit = 3
		}
		if groupLimit < 1 || groupLimit > 1000 {
			return nil, fmt.Errorf("%w: group_limit must be in [1, 1000]", domain.ErrInvalidArgument)
		}
		for _, g := range p.GroupByFields {
			f, ok := col.ResolveField(g)
			if !ok {
				return nil, fmt.Errorf("%w: group_by field %q not found in the schema",
					domain.ErrNotFound, g)
			}
			if !f.Facet {
				return nil, fmt.Errorf("%w: group_by field %q must be a facet field",
					domain.ErrInvalidArgument, g)
			}
		}
	}

	facets, err := parseFacetSpecs(col, p.FacetFields)
	if err != nil {
		return nil, err
	}

	include, exclude := fieldSet(p.IncludeFields), fieldSet(p.ExcludeFields)

	tokens, excludeTokens, phrases := tokenizeQuery(h, query)

	pl := &plan.Plan{
		Collection:   col.Name,
		CollectionID: col.ID,

		QueryTokens:   tokens,
		ExcludeTokens: excludeTokens,
		Phrases:       phrases,
		RawQuery:      query,
		Wildcard:      wildcard,

		Fields:     fields,
		FilterTree: filterTree,

		SortClauses: clauses,

		Facets:               facets,
		FacetQuery:           p.FacetQuery,
		FacetQueryNumTypos:   p.FacetQueryNumTypos,
		FacetSamplePercent:   orDefault(p.FacetSamplePercent, 100),
		FacetSampleThreshold: p.FacetSampleThreshold,

		Pagination: pagination,

		HighlightSpec: highlightSpec(p),

		GroupBy:            p.GroupByFields,
		GroupLimit:         groupLimit,
		GroupMissingValues: p.GroupMissingValues,

		DropTokensThreshold: orDefault(p.DropTokensThreshold, request.DefaultDropTokensThreshold),
		DropTokensMode:      orDefaultStr(p.DropTokensMode, request.DropTokensRightToLeft),
		TypoTokensThreshold: orDefault(p.TypoTokensThreshold, request.DefaultTypoTokensThreshold),
		MinLen1Typo:         p.MinLen1Typo,
		MinLen2Typo:         p.MinLen2Typo,
		TokenOrder:          p.TokenOrder,
		SplitJoinTokens:     p.SplitJoinTokens,
		ExhaustiveSearch:    p.ExhaustiveSearch,
		MaxCandidates:       orDefault(p.MaxCandidates, request.DefaultMaxCandidates),

		PrioritizeExactMatch:        p.PrioritizeExactMatch,
		PrioritizeTokenPosition:     p.PrioritizeTokenPosition,
		PrioritizeNumMatchingFields: p.PrioritizeNumMatchingFields,
		EnableLazyFilter:            p.EnableLazyFilter,

		VectorQuery: vq,

		IncludeFields: include,
		ExcludeFields: exclude,

		SearchBegin:    searchBegin,
		SearchCutoffMs: orDefault(p.SearchCutoffMs, s.defaultCutoffMs),

		IsUnionSearch:    p.IsUnionSearch,
		UnionSearchIndex: p.UnionSearchIndex,

		ValidateFieldNames: p.ValidateFieldNames,
	}

	s.resolveCuration(ctx, h, pl, cur)
	return pl, nil
}

// resolveSearchFields validates search fields and normalizes weights:
// explicit weights sort fields descending and map into [0, FieldMaxWeight]
// preserving ties; implicit weights decay by position.
func (s *Service) resolveSearchFields(col domcol.Collection, p *request.Params) ([]plan.WeightedField, error) {
	n := len(p.SearchFields)
	if n == 0 {
		return nil, nil
	}
	numTypos, err := broadcast(p.NumTypos, n, 2, "num_typos")
	if err != nil {
		return nil, err
	}
	prefixes, err := broadcastBool(p.Prefixes, n, true, "prefix")
	if err != nil {
		return nil, err
	}
	infixes, err := broadcastStr(p.Infixes, n, "off", "infix")
	if err != nil {
		return nil, err
	}
	if len(p.QueryByWeights) > 0 && len(p.QueryByWeights) != n {
		return nil, fmt.Errorf("%w: query_by_weights must match the number of query_by fields",
			domain.ErrInvalidArgument)
	}

	embeddingFields := 0
	out := make([]plan.WeightedField, 0, n)
	for i, name := range p.SearchFields {
		f, ok := col.ResolveField(name)
		if !ok {
			if !p.ValidateFieldNames {
				continue
			}
			return nil, fmt.Errorf("%w: could not find a field named %q in the schema",
				domain.ErrNotFound, name)
		}
		if f.IsAutoEmbedding() {
			embeddingFields++
			continue
		}
		if !f.Index {
			return nil, fmt.Errorf("%w: field %q is marked as a non-indexed field",
				domain.ErrInvalidArgument, name)
		}
		wf := plan.WeightedField{
			Name:     name,
			NumTypos: numTypos[i],
			Prefix:   prefixes[i],
			Infix:    infixes[i],
		}
		if len(p.QueryByWeights) > 0 {
			wf.Weight = p.QueryByWeights[i]
		} else {
			wf.Weight = maxInt(0, plan.FieldMaxWeight-i)
		}
		out = append(out, wf)
	}
	if embeddingFields > 1 {
		return nil, fmt.Errorf("%w: only one embedding field may appear in query_by",
			domain.ErrInvalidArgument)
	}

	if len(p.QueryByWeights) > 0 {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
		normalizeWeights(out)
	}
	return out, nil
}

// normalizeWeights maps explicit weights into [0, FieldMaxWeight] while
// preserving ties.
func normalizeWeights(fields []plan.WeightedField) {
	prevRaw := -1
	next := plan.FieldMaxWeight
	for i := range fields {
		if fields[i].Weight != prevRaw {
			if i > 0 {
				next--
			}
			prevRaw = fields[i].Weight
		}
		fields[i].Weight = next
	}
}

// resolveVectorQuery binds the top-level vector_query and any _vector_query
// sort clause to a concrete dense vector, embedding query text when needed.
func (s *Service) resolveVectorQuery(ctx context.Context, col domcol.Collection,
	h *collection.Handle, p *request.Params, clauses *[]srt.Clause,
	searchBegin time.Time) (*request.VectorQuery, error) {
	var raw string
	if p.VectorQuery != "" {
		raw = p.VectorQuery
	}
	for _, c := range *clauses {
		if c.Kind == srt.KindVectorQuery {
			raw = c.VectorQueryRaw
		}
	}

	// Hybrid search: a non-wildcard query over an embedding field becomes a
	// vector query on that field.
	var embedField *field.Field
	for _, name := range p.SearchFields {
		if f, ok := col.ResolveField(name); ok && f.IsAutoEmbedding() {
			embedField = &f
			break
		}
	}

	if raw == "" && embedField == nil {
		return nil, nil
	}

	var vq request.VectorQuery
	if raw != "" {
		parsed, err := request.ParseVectorQuery(raw)
		if err != nil {
			return nil, err
		}
		vq = parsed
		f, ok := col.ResolveField(vq.FieldName)
		if !ok || !f.IsVector() {
			return nil, fmt.Errorf("%w: vector query field %q is not a vector field",
				domain.ErrNotFound, vq.FieldName)
		}
		if embedField != nil && embedField.Name != vq.FieldName {
			return nil, fmt.Errorf("%w: only one embedding field may participate in a search",
				domain.ErrInvalidArgument)
		}
		if len(vq.Queries) > 0 && !f.IsAutoEmbedding() {
			return nil, fmt.Errorf("%w: vector query `queries` requires an auto-embedding field",
				domain.ErrInvalidArgument)
		}
	} else {
		vq.FieldName = embedField.Name
	}

	budget := embedding.Budget{
		SearchBegin: searchBegin,
		TimeoutMs:   p.RemoteEmbeddingTimeoutMs,
		NumTries:    p.RemoteEmbeddingNumTries,
	}

	switch {
	case len(vq.Values) > 0:
		// Literal values bind directly.
	case vq.DocID != "":
		seqID, ok := h.Index.SeqIDForDocID(vq.DocID)
		if !ok {
			return nil, fmt.Errorf("%w: document %q referenced in vector query",
				domain.ErrNotFound, vq.DocID)
		}
		vec, ok := h.Index.VectorFor(vq.FieldName, seqID)
		if !ok {
			return nil, fmt.Errorf("%w: document %q has no vector for field %q",
				domain.ErrNotFound, vq.DocID, vq.FieldName)
		}
		vq.Values = vec
	case len(vq.Queries) > 0:
		f, _ := col.ResolveField(vq.FieldName)
		vec, err := s.embedQueries(ctx, f, vq.Queries, vq.QueryWeights, budget)
		if err != nil {
			return nil, err
		}
		vq.Values = vec
	case embedField != nil && !p.IsWildcard():
		vec, err := s.embedQueries(ctx, *embedField, []string{p.Query}, nil, budget)
		if err != nil {
			return nil, err
		}
		vq.Values = vec
	default:
		return nil, fmt.Errorf("%w: vector query has no values, id or queries", domain.ErrInvalidArgument)
	}
	return &vq, nil
}

// embedQueries embeds one or more query strings with the field's model and
// combines them (unweighted average or weighted sum).
func (s *Service) embedQueries(ctx context.Context, f field.Field, queries []string,
	weights []float32, budget embedding.Budget) ([]float32, error) {
	if f.Embed == nil {
		return nil, fmt.Errorf("%w: field %q is not an auto-embedding field",
			domain.ErrInvalidArgument, f.Name)
	}
	emb, err := s.embed.Resolve(f.Embed.ModelConfig.ModelName)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, 0, len(queries))
	for _, q := range queries {
		res, err := s.embed.Embed(ctx, emb, f.Embed.ModelConfig.QueryPrefix+q, budget)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, res.Embedding)
	}
	return embedding.Combine(vectors, weights)
}

// resolveCuration resolves curated doc ids to seq ids at plan build time.
// Resolution failures are silently skipped.
func (s *Service) resolveCuration(_ context.Context, h *collection.Handle, pl *plan.Plan,
	cur curation.Outcome) {
	pl.ExcludedIDs = map[uint32]bool{}
	pl.Curated = map[uint32]bool{}
	hidden := map[uint32]bool{}
	for _, docID := range cur.Hidden {
		if seqID, ok := h.Index.SeqIDForDocID(docID); ok {
			pl.ExcludedIDs[seqID] = true
			hidden[seqID] = true
		}
	}
	for _, docID := range cur.Excludes {
		if seqID, ok := h.Index.SeqIDForDocID(docID); ok {
			pl.ExcludedIDs[seqID] = true
		}
	}
	for _, pin := range cur.Includes {
		seqID, ok := h.Index.SeqIDForDocID(pin.DocID)
		if !ok {
			continue
		}
		if hidden[seqID] {
			// hidden_hits always exclude, even against add_hits.
			continue
		}
		// Drop hits precede add hits, so a pinned hit survives a drop.
		delete(pl.ExcludedIDs, seqID)
		pl.IncludedIDs = append(pl.IncludedIDs, plan.Pinned{SeqID: seqID, Position: pin.Position})
		pl.Curated[seqID] = true
	}
}

func removeTokens(query string, tokens []string) string {
	drop := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		drop[t] = true
	}
	var kept []string
	for _, w := range strings.Fields(query) {
		if !drop[strings.ToLower(w)] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

func resolvePagination(p *request.Params, maxPerPage int) (plan.Pagination, error) {
	perPage := p.PerPage
	if perPage == 0 {
		perPage = request.DefaultPerPage
	}
	if perPage < 0 || perPage > maxPerPage {
		return plan.Pagination{}, fmt.Errorf("%w: per_page must be in [0, %d]",
			domain.ErrInvalidArgument, maxPerPage)
	}
	page := p.Page
	offset := p.Offset
	if page > 0 {
		offset = (page - 1) * perPage
	} else {
		page = offset/maxInt(perPage, 1) + 1
	}
	if offset < 0 {
		return plan.Pagination{}, fmt.Errorf("%w: offset must be non-negative", domain.ErrInvalidArgument)
	}
	limitHits := p.LimitHits
	if limitHits <= 0 {
		limitHits = 1000000
	}
	fetch := offset + perPage
	if fetch > limitHits {
		fetch = limitHits
	}
	return plan.Pagination{
		Page:      page,
		PerPage:   perPage,
		Offset:    offset,
		FetchSize: fetch,
		LimitHits: limitHits,
	}, nil
}

func highlightSpec(p *request.Params) plan.Highlight {
	return plan.Highlight{
		Fields:           splitClauses(strings.Join(p.HighlightFields, ",")),
		FullFields:       splitClauses(strings.Join(p.HighlightFullFields, ",")),
		StartTag:         orDefaultStr(p.HighlightStartTag, "<mark>"),
		EndTag:           orDefaultStr(p.HighlightEndTag, "</mark>"),
		SnippetThreshold: orDefault(p.SnippetThreshold, request.DefaultSnippetThreshold),
		AffixNumTokens:   orDefault(p.HighlightAffixNumTokens, request.DefaultHighlightAffixTokens),
		EnableV1:         p.EnableHighlightV1,
	}
}

// tokenizeQuery splits the raw query into include tokens, `-` exclusions,
// and quoted phrases.
func tokenizeQuery(h *collection.Handle, query string) (tokens, excludeTokens []string, phrases [][]string) {
	if query == "" || query == "*" {
		return nil, nil, nil
	}
	tok := h.Index.Tokenizer("")

	rest := query
	for {
		start := strings.IndexByte(rest, '"')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start+1:], '"')
		if end < 0 {
			break
		}
		phrase := tok.TokenTexts(rest[start+1 : start+1+end])
		if len(phrase) > 0 {
			phrases = append(phrases, phrase)
			tokens = append(tokens, phrase...)
		}
		rest = rest[:start] + " " + rest[start+1+end+1:]
	}

	for _, w := range strings.Fields(rest) {
		if strings.HasPrefix(w, "-") && len(w) > 1 {
			excludeTokens = append(excludeTokens, tok.TokenTexts(w[1:])...)
			continue
		}
		tokens = append(tokens, tok.TokenTexts(w)...)
	}
	return tokens, excludeTokens, phrases
}

// parseFacetSpecs parses facet_by entries: `name`, `name(sort_by: _alpha:asc)`,
// or labeled ranges `price(economy:[0,100], premium:[100,500])`.
func parseFacetSpecs(col domcol.Collection, raw []string) ([]plan.FacetSpec, error) {
	var out []plan.FacetSpec
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		spec := plan.FacetSpec{}
		name := entry
		if i := strings.Index(entry, "("); i > 0 && strings.HasSuffix(entry, ")") {
			name = strings.TrimSpace(entry[:i])
			params := entry[i+1 : len(entry)-1]
			if err := parseFacetParams(&spec, params); err != nil {
				return nil, err
			}
		}
		f, ok := col.ResolveField(name)
		if !ok {
			return nil, fmt.Errorf("%w: could not find a facet field named %q in the schema",
				domain.ErrNotFound, name)
		}
		if !f.Facet {
			return nil, fmt.Errorf("%w: field %q is not a facet field", domain.ErrInvalidArgument, name)
		}
		if len(spec.Ranges) > 0 && !f.IsNumerical() {
			return nil, fmt.Errorf("%w: range facets require a numerical field, %q is %s",
				domain.ErrInvalidArgument, name, f.Type)
		}
		spec.FieldName = name
		out = append(out, spec)
	}
	return out, nil
}

func parseFacetParams(spec *plan.FacetSpec, params string) error {
	for _, part := range splitTopLevelComma(params) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("%w: invalid facet parameter %q", domain.ErrInvalidArgument, part)
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		switch key {
		case "sort_by":
			if val == "_alpha" || strings.HasPrefix(val, "_alpha:") {
				spec.SortByAlpha = true
				continue
			}
			f, ord, ok := strings.Cut(val, ":")
			if !ok || (ord != "asc" && ord != "desc") {
				return fmt.Errorf("%w: facet sort_by must be _alpha or field:asc|desc",
					domain.ErrInvalidArgument)
			}
			spec.SortField, spec.SortOrder = f, ord
		case "top_k":
			spec.TopK = val == "true"
		default:
			// Labeled range: label:[low, high]
			if !strings.HasPrefix(val, "[") || !strings.HasSuffix(val, "]") {
				return fmt.Errorf("%w: unknown facet parameter %q", domain.ErrInvalidArgument, key)
			}
			bounds := strings.Split(val[1:len(val)-1], ",")
			if len(bounds) != 2 {
				return fmt.Errorf("%w: facet range %q must be [low, high]", domain.ErrInvalidArgument, key)
			}
			low, err1 := strconv.ParseFloat(strings.TrimSpace(bounds[0]), 64)
			high, err2 := strconv.ParseFloat(strings.TrimSpace(bounds[1]), 64)
			if err1 != nil || err2 != nil || low >= high {
				return fmt.Errorf("%w: facet range %q must be [low, high] with low < high",
					domain.ErrInvalidArgument, key)
			}
			spec.Ranges = append(spec.Ranges, plan.FacetRange{Label: key, Low: low, High: high})
		}
	}
	return nil
}

func splitTopLevelComma(s string) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[', '(':
			depth++
		case ']', ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

func fieldSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		for _, part := range strings.Split(n, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out[part] = true
			}
		}
	}
	return out
}

func splitClauses(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(raw[start:i]))
				start = i + 1
			}
		}
	}
	if tail := strings.TrimSpace(raw[start:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func broadcast(vals []int, n, def int, name string) ([]int, error) {
	switch len(vals) {
	case 0:
		out := make([]int, n)
		for i := range out {
			out[i] = def
		}
		return out, nil
	case 1:
		out := make([]int, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	case n:
		return vals, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a single value or match the number of query_by fields",
			domain.ErrInvalidArgument, name)
	}
}

func broadcastBool(vals []bool, n int, def bool, name string) ([]bool, error) {
	switch len(vals) {
	case 0:
		out := make([]bool, n)
		for i := range out {
			out[i] = def
		}
		return out, nil
	case 1:
		out := make([]bool, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	case n:
		return vals, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a single value or match the number of query_by fields",
			domain.ErrInvalidArgument, name)
	}
}

func broadcastStr(vals []string, n int, def, name string) ([]string, error) {
	switch len(vals) {
	case 0:
		out := make([]string, n)
		for i := range out {
			out[i] = def
		}
		return out, nil
	case 1:
		out := make([]string, n)
		for i := range out {
			out[i] = vals[0]
		}
		return out, nil
	case n:
		return vals, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a single value or match the number of query_by fields",
			domain.ErrInvalidArgument, name)
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func orDefaultStr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
