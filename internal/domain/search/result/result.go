// Package result defines the search response shapes.
package result

import "github.com/kailas-cloud/omnidex/internal/domain/document"

// HighlightField is the v1 flat highlight entry for one field.
type HighlightField struct {
	Field         string   `json:"field"`
	Snippet       string   `json:"snippet,omitempty"`
	Snippets      []string `json:"snippets,omitempty"`
	Value         string   `json:"value,omitempty"`
	Values        []string `json:"values,omitempty"`
	MatchedTokens []string `json:"matched_tokens"`
	Indices       []int    `json:"indices,omitempty"`
}

// HybridInfo carries the rank fusion score of hybrid searches.
type HybridInfo struct {
	RankFusionScore float32 `json:"rank_fusion_score"`
}

// Hit is one search result entry.
type Hit struct {
	Document  document.Doc   `json:"document"`
	Highlight map[string]any `json:"highlight"`
	// Highlights is the flat v1 array, emitted only when enable_highlight_v1.
	Highlights []HighlightField `json:"highlights,omitempty"`

	TextMatch     *int64         `json:"text_match,omitempty"`
	TextMatchInfo *TextMatchInfo `json:"text_match_info,omitempty"`
	HybridInfo    *HybridInfo    `json:"hybrid_search_info,omitempty"`

	VectorDistance    *float32 `json:"vector_distance,omitempty"`
	GeoDistanceMeters map[string]int `json:"geo_distance_meters,omitempty"`

	Curated bool `json:"curated,omitempty"`

	// Union metadata.
	SearchIndex *int    `json:"search_index,omitempty"`
	Collection  string  `json:"collection,omitempty"`

	// SeqID is internal plumbing for merge/highlight stages; not serialized.
	SeqID uint32 `json:"-"`
	// SortValues are the resolved per-clause sort keys; not serialized.
	SortValues []SortValue `json:"-"`
	GroupKey   string      `json:"-"`
	GroupSize  int         `json:"-"`
}

// SortValue is one resolved sort key of a hit.
type SortValue struct {
	Num   float64
	Str   string
	IsStr bool
	// Missing marks absent optional values for missing_values placement.
	Missing bool
}

// GroupedHit is one group of hits under group_by.
type GroupedHit struct {
	GroupKey []any `json:"group_key"`
	Hits     []Hit `json:"hits"`
	Found    int   `json:"found"`
}

// FacetCount is one value bucket of a facet field.
type FacetCount struct {
	Value       string `json:"value"`
	Count       int    `json:"count"`
	Highlighted string `json:"highlighted,omitempty"`
}

// FacetResult is the facet payload of one field.
type FacetResult struct {
	FieldName string       `json:"field_name"`
	Counts    []FacetCount `json:"counts"`
	Sampled   bool         `json:"sampled,omitempty"`
	Stats     *FacetStats  `json:"stats,omitempty"`
}

// FacetStats summarizes numeric facet fields.
type FacetStats struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Sum   *float64 `json:"sum,omitempty"`
	Avg   *float64 `json:"avg,omitempty"`
	TotalValues int `json:"total_values,omitempty"`
}

// Response is the full search response document.
type Response struct {
	Found     int  `json:"found"`
	FoundDocs *int `json:"found_docs,omitempty"`
	OutOf     int  `json:"out_of"`
	Page      int  `json:"page,omitempty"`

	Hits        []Hit        `json:"hits,omitempty"`
	GroupedHits []GroupedHit `json:"grouped_hits,omitempty"`

	FacetCounts []FacetResult `json:"facet_counts"`

	SearchCutoff bool `json:"search_cutoff"`

	RequestParams map[string]any `json:"request_params,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Conversation  map[string]any `json:"conversation,omitempty"`

	SearchTimeMs int `json:"search_time_ms"`

	UnionRequestParams []map[string]any `json:"union_request_params,omitempty"`
}
