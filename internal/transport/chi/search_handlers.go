package chi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	chiRouter "github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
	searchuc "github.com/kailas-cloud/omnidex/internal/usecase/search"
)

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	collection := chiRouter.URLParam(r, "collection")
	params := paramsFromQuery(collection, r.URL.Query())
	resp, err := s.search.Search(r.Context(), params)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// multiSearchPayload is the body of POST /multi_search.
type multiSearchPayload struct {
	Searches []map[string]any `json:"searches"`
	Union    bool             `json:"union"`
}

func (s *Server) handleMultiSearch(w http.ResponseWriter, r *http.Request) {
	var body multiSearchPayload
	if err := decodeBody(r, &body); err != nil {
		s.handleDomainError(w, err)
		return
	}
	q := r.URL.Query()
	union := body.Union || q.Get("union") == "true"

	searches := make([]request.Params, 0, len(body.Searches))
	for _, raw := range body.Searches {
		searches = append(searches, paramsFromBody(raw))
	}

	if union {
		up := searchuc.UnionParams{
			Page:      atoiOr(q.Get("page"), 0),
			PerPage:   atoiOr(q.Get("per_page"), 0),
			Offset:    atoiOr(q.Get("offset"), 0),
			LimitHits: atoiOr(q.Get("limit_hits"), 0),
		}
		resp, err := s.search.Union(r.Context(), searches, up)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	// Non-union multi-search: independent responses in request order.
	results := make([]any, 0, len(searches))
	for _, p := range searches {
		resp, err := s.search.Search(r.Context(), p)
		if err != nil {
			results = append(results, map[string]any{"error": err.Error()})
			continue
		}
		results = append(results, resp)
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// paramsFromQuery maps the HTTP query parameters onto request.Params.
func paramsFromQuery(collection string, q url.Values) request.Params {
	p := request.NewParams(collection, q.Get("q"))

	p.SearchFields = splitCSV(q.Get("query_by"))
	p.FilterQuery = q.Get("filter_by")
	p.FacetFields = splitCSVTopLevel(q.Get("facet_by"))
	p.SortBy = splitCSVTopLevel(q.Get("sort_by"))
	p.FacetQuery = q.Get("facet_query")
	p.FacetQueryNumTypos = atoiOr(q.Get("facet_query_num_typos"), 0)
	if v := q.Get("facet_sample_percent"); v != "" {
		p.FacetSamplePercent = atoiOr(v, 100)
	}
	p.FacetSampleThreshold = atoiOr(q.Get("facet_sample_threshold"), 0)
	if v := q.Get("facet_strategy"); v != "" {
		p.FacetStrategy = v
	}

	p.NumTypos = splitInts(q.Get("num_typos"))
	p.Prefixes = splitBools(q.Get("prefix"))
	p.Infixes = splitCSV(q.Get("infix"))

	p.Page = atoiOr(q.Get("page"), 0)
	p.Offset = atoiOr(q.Get("offset"), 0)
	p.PerPage = atoiOr(q.Get("per_page"), 0)
	p.LimitHits = atoiOr(q.Get("limit_hits"), 0)

	if v := q.Get("token_order"); v != "" {
		p.TokenOrder = v
	}
	p.DropTokensThreshold = atoiOr(q.Get("drop_tokens_threshold"), 0)
	if v := q.Get("drop_tokens_mode"); v != "" {
		p.DropTokensMode = v
	}
	p.TypoTokensThreshold = atoiOr(q.Get("typo_tokens_threshold"), 0)

	p.IncludeFields = splitCSV(q.Get("include_fields"))
	p.ExcludeFields = splitCSV(q.Get("exclude_fields"))

	p.HighlightFields = splitCSV(q.Get("highlight_fields"))
	p.HighlightFullFields = splitCSV(q.Get("highlight_full_fields"))
	p.HighlightStartTag = q.Get("highlight_start_tag")
	p.HighlightEndTag = q.Get("highlight_end_tag")
	p.SnippetThreshold = atoiOr(q.Get("snippet_threshold"), 0)
	p.HighlightAffixNumTokens = atoiOr(q.Get("highlight_affix_num_tokens"), 0)
	p.EnableHighlightV1 = q.Get("enable_highlight_v1") == "true"

	p.PinnedHits = q.Get("pinned_hits")
	p.HiddenHits = q.Get("hidden_hits")

	p.GroupByFields = splitCSV(q.Get("group_by"))
	p.GroupLimit = atoiOr(q.Get("group_limit"), 0)
	p.GroupMissingValues = q.Get("group_missing_values") == "true"

	p.QueryByWeights = splitInts(q.Get("query_by_weights"))

	p.PrioritizeExactMatch = boolOr(q.Get("prioritize_exact_match"), true)
	p.PrioritizeTokenPosition = q.Get("prioritize_token_position") == "true"
	p.PrioritizeNumMatchingFields = boolOr(q.Get("prioritize_num_matching_fields"), false)

	p.ExhaustiveSearch = q.Get("exhaustive_search") == "true"
	p.SearchCutoffMs = atoiOr(q.Get("search_cutoff_ms"), 0)

	p.MinLen1Typo = atoiOr(q.Get("min_len_1typo"), 0)
	p.MinLen2Typo = atoiOr(q.Get("min_len_2typo"), 0)

	if v := q.Get("split_join_tokens"); v != "" {
		p.SplitJoinTokens = v
	}
	p.MaxCandidates = atoiOr(q.Get("max_candidates"), 0)
	p.MaxExtraPrefix = atoiOr(q.Get("max_extra_prefix"), 0)
	p.MaxExtraSuffix = atoiOr(q.Get("max_extra_suffix"), 0)

	p.StopwordsSet = q.Get("stopwords")

	p.Conversation = q.Get("conversation") == "true"
	p.ConversationModelID = q.Get("conversation_model_id")
	p.ConversationID = q.Get("conversation_id")

	p.VectorQuery = q.Get("vector_query")
	p.OverrideTags = q.Get("override_tags")
	p.VoiceQuery = q.Get("voice_query")

	p.RemoteEmbeddingTimeoutMs = atoiOr(q.Get("remote_embedding_timeout_ms"), 0)
	if v := q.Get("remote_embedding_num_tries"); v != "" {
		p.RemoteEmbeddingNumTries = atoiOr(v, request.DefaultRemoteEmbeddingTries)
	}
	p.RerankHybridMatches = q.Get("rerank_hybrid_matches") == "true"

	p.ValidateFieldNames = boolOr(q.Get("validate_field_names"), true)

	p.EnableSynonyms = boolOr(q.Get("enable_synonyms"), true)
	p.SynonymPrefix = q.Get("synonym_prefix") == "true"
	p.SynonymNumTypos = atoiOr(q.Get("synonym_num_typos"), 0)

	p.EnableLazyFilter = q.Get("enable_lazy_filter") == "true"
	p.EnableTyposForNumericalTokens = boolOr(q.Get("enable_typos_for_numerical_tokens"), true)
	p.EnableTyposForAlphaNumericalTokens = boolOr(q.Get("enable_typos_for_alpha_numerical_tokens"), true)
	p.MaxFilterByCandidates = atoiOr(q.Get("max_filter_by_candidates"), 0)

	return p
}

// paramsFromBody maps a multi-search entry onto request.Params by reusing
// the query-parameter names.
func paramsFromBody(raw map[string]any) request.Params {
	q := url.Values{}
	collection := ""
	for k, v := range raw {
		if k == "collection" {
			collection, _ = v.(string)
			continue
		}
		switch val := v.(type) {
		case string:
			q.Set(k, val)
		case bool:
			q.Set(k, strconv.FormatBool(val))
		case float64:
			q.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		}
	}
	return paramsFromQuery(collection, q)
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitCSVTopLevel splits on commas outside parentheses/brackets (sort and
// facet clauses carry parameter lists).
func splitCSVTopLevel(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(raw); i++ {
		switch raw[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				if p := strings.TrimSpace(raw[start:i]); p != "" {
					out = append(out, p)
				}
				start = i + 1
			}
		}
	}
	if p := strings.TrimSpace(raw[start:]); p != "" {
		out = append(out, p)
	}
	return out
}

func splitInts(raw string) []int {
	var out []int
	for _, p := range splitCSV(raw) {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func splitBools(raw string) []bool {
	var out []bool
	for _, p := range splitCSV(raw) {
		out = append(out, p == "true")
	}
	return out
}

func atoiOr(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func boolOr(raw string, def bool) bool {
	if raw == "" {
		return def
	}
	return raw == "true"
}
