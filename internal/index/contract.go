// Package index defines the boundary contract between the search pipeline
// and the underlying inverted/vector index.
package index

import (
	"context"

	"github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/domain/field"
	"github.com/kailas-cloud/omnidex/internal/domain/search/filter"
	"github.com/kailas-cloud/omnidex/internal/domain/search/plan"
	"github.com/kailas-cloud/omnidex/internal/domain/search/result"
)

// KV is one ranked entry produced by the index.
type KV struct {
	SeqID uint32

	TextMatch      int64
	VectorDistance float32
	HasVector      bool
	// HybridScore is the rank fusion score of hybrid (lexical+vector) hits.
	HybridScore float32

	// SortValues are resolved per sort clause, in clause order.
	SortValues []result.SortValue

	GroupKey  string
	GroupSize int

	// Position is the 1-based target position of override KVs.
	Position int
}

// SearchResult is the raw output of RunSearch before merging/highlighting.
type SearchResult struct {
	RawKVs      []KV
	OverrideKVs []KV

	FoundCount int
	FoundDocs  int

	GroupsProcessed int

	// QTokens are the normalized query tokens that produced matches,
	// consumed by the highlighter.
	QTokens []string

	FacetCounts []result.FacetResult

	AllResultIDsLen int

	SearchCutoff bool
}

// RecordOp distinguishes batch index operations.
type RecordOp int

// Batch operations.
const (
	OpIndex RecordOp = iota
	OpDelete
)

// Record is one document of a batch index call.
type Record struct {
	Op    RecordOp
	SeqID uint32
	Doc   document.Doc
	// Fields restricts indexing to the named fields (nil = all).
	Fields []field.Field
}

// Searcher is the index contract consumed by the search pipeline. No other
// internals of the index are assumed.
type Searcher interface {
	// EvalFilter evaluates a filter tree to a sorted seq-id set, or a lazy
	// iterator when the candidate set exceeds the compute threshold.
	EvalFilter(ctx context.Context, node *filter.Node) (filter.Outcome, error)

	// RunSearch ranks documents for the plan against the pre-evaluated
	// filter outcome.
	RunSearch(ctx context.Context, p *plan.Plan, flt filter.Outcome) (*SearchResult, error)

	// SeqIDsOutsideTopK returns ids ranked below the top k by the integer field.
	SeqIDsOutsideTopK(fieldName string, k int) ([]uint32, error)

	// GetGeoDistance computes meters between a stored geopoint and a reference.
	GetGeoDistance(fieldName string, seqID uint32, lat, lng float64) (float64, error)

	// GetRelatedIDs resolves the reference helper values of a document.
	GetRelatedIDs(refHelperField string, seqID uint32) ([]uint32, error)

	// BatchMemoryIndex indexes or re-indexes a batch of records.
	BatchMemoryIndex(ctx context.Context, records []Record) error

	// Remove deletes a document's postings for the given fields (nil = all).
	Remove(seqID uint32, doc document.Doc, fields []field.Field) error

	// RepairHNSWIndex compacts vector postings after bulk deletes.
	RepairHNSWIndex()

	// NumDocuments returns the live document count.
	NumDocuments() int
}
