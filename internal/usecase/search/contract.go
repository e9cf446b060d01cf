package search

import (
	"context"

	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/usecase/curation"
)

// DocReader fetches stored documents for response assembly.
type DocReader interface {
	GetBySeq(ctx context.Context, collectionID uint32, seqID uint32) (domdoc.Doc, error)
	SeqForDocID(ctx context.Context, collectionID uint32, docID string) (uint32, error)
}

// Curator computes the curation outcome of a search.
type Curator interface {
	Process(ctx context.Context, collection, rawQuery, filterQuery,
		overrideTags, pinnedHits, hiddenHits string, nowTs int64) (curation.Outcome, error)
}

// VoiceTranscriber converts a voice query payload into text. Optional; a
// collection without a voice model rejects voice queries.
type VoiceTranscriber interface {
	Transcribe(ctx context.Context, payload string) (string, error)
}

// ConversationModel turns a follow-up question plus history into a
// standalone query. Optional.
type ConversationModel interface {
	StandaloneQuery(ctx context.Context, modelID, conversationID, question string) (string, error)
}

// QueryObserver receives executed queries for analytics aggregation.
type QueryObserver interface {
	ObserveQuery(collection, query, expandedQuery string, liveQuery bool, userID, filterBy, tag string)
	ObserveNoHits(collection, query string, liveQuery bool, userID, filterBy, tag string)
}
