// Package plan defines the immutable search plan the assembler produces and
// the index consumes.
package plan

import (
	"time"

	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/domain/search/request"
	"github.com/kailas-cloud/omnidex/internal/domain/search/sort"
)

// FieldMaxWeight is the ceiling query_by_weights are normalized into.
const FieldMaxWeight = 100

// WeightedField is one search field with its normalized weight.
type WeightedField struct {
	Name     string
	Weight   int
	NumTypos int
	Prefix   bool
	Infix    string // off, always, fallback
}

// FacetRange is a labeled [low, high) numeric facet bucket.
type FacetRange struct {
	Label string
	Low   float64
	High  float64
}

// FacetSpec is one requested facet with its presentation parameters.
type FacetSpec struct {
	FieldName string
	SortByAlpha bool
	SortField   string
	SortOrder   string
	TopK        bool
	Ranges      []FacetRange
}

// Highlight holds the normalized highlighting directives.
type Highlight struct {
	Fields       []string
	FullFields   []string
	StartTag     string
	EndTag       string
	SnippetThreshold int
	AffixNumTokens   int
	EnableV1     bool
}

// Pagination is the resolved page window.
type Pagination struct {
	Page      int
	PerPage   int
	Offset    int
	FetchSize int
	LimitHits int
}

// Pinned is a curated hit with its target position (1-based).
type Pinned struct {
	SeqID    uint32
	Position int
}

// Plan is the immutable output of the search request assembler. The index
// treats it as read-only.
type Plan struct {
	Collection   string
	CollectionID uint32

	// Tokens of the normalized query, exclusions (`-token`) and phrases
	// (`"a b"`) separated.
	QueryTokens   []string
	ExcludeTokens []string
	Phrases       [][]string
	RawQuery      string
	Wildcard      bool

	Fields []WeightedField

	FilterTree *filter.Node

	// Curation output, resolved at plan build time.
	IncludedIDs []Pinned
	ExcludedIDs map[uint32]bool
	Curated     map[uint32]bool

	SortClauses []sort.Clause

	Facets     []FacetSpec
	FacetQuery string
	FacetQueryNumTypos int
	FacetSamplePercent int
	FacetSampleThreshold int

	Pagination Pagination

	HighlightSpec Highlight

	GroupBy            []string
	GroupLimit         int
	GroupMissingValues bool

	DropTokensThreshold int
	DropTokensMode      string
	TypoTokensThreshold int
	MinLen1Typo         int
	MinLen2Typo         int
	TokenOrder          string
	SplitJoinTokens     string
	ExhaustiveSearch    bool
	MaxCandidates       int
	PrioritizeExactMatch        bool
	PrioritizeTokenPosition     bool
	PrioritizeNumMatchingFields bool
	EnableLazyFilter bool

	VectorQuery *request.VectorQuery

	IncludeFields map[string]bool
	ExcludeFields map[string]bool

	SearchBegin    time.Time
	SearchCutoffMs int

	IsUnionSearch    bool
	UnionSearchIndex int

	ValidateFieldNames bool
}

// Deadline returns the absolute search deadline, or zero when no cutoff is set.
func (p *Plan) Deadline() time.Time {
	if p.SearchCutoffMs <= 0 {
		return time.Time{}
	}
	return p.SearchBegin.Add(time.Duration(p.SearchCutoffMs) * time.Millisecond)
}

// DeadlineExceeded reports whether the cutoff has passed.
func (p *Plan) DeadlineExceeded(now time.Time) bool {
	d := p.Deadline()
	return !d.IsZero() && now.After(d)
}

// MinLenForTypos returns the minimum token length for the given typo count.
func (p *Plan) MinLenForTypos(typos int) int {
	if typos >= 2 {
		if p.MinLen2Typo > 0 {
			return p.MinLen2Typo
		}
		return 7
	}
	if p.MinLen1Typo > 0 {
		return p.MinLen1Typo
	}
	return 4
}

// HasVectorSearch reports whether any vector scoring participates.
func (p *Plan) HasVectorSearch() bool {
	if p.VectorQuery != nil {
		return true
	}
	for _, c := range p.SortClauses {
		if c.Kind == sort.KindVectorQuery {
			return true
		}
	}
	return false
}

// BucketClause returns the first text-match or vector-distance clause with
// bucketing enabled, if any.
func (p *Plan) BucketClause() (sort.Clause, bool) {
	for _, c := range p.SortClauses {
		if (c.Kind == sort.KindTextMatch || c.Kind == sort.KindVectorDistance) &&
			(c.Buckets > 0 || c.BucketSize > 0) {
			return c, true
		}
	}
	return sort.Clause{}, false
}
