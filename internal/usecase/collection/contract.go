package collection

import (
	"context"

	domcol "github.com/kailas-cloud/omnidex/internal/domain/collection"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
)

// MetaStore persists collection meta and allocates seq ids.
type MetaStore interface {
	Save(ctx context.Context, col domcol.Collection) error
	Get(ctx context.Context, name string) (domcol.Collection, error)
	List(ctx context.Context) ([]domcol.Collection, error)
	Delete(ctx context.Context, name string) error
	NextSeqID(ctx context.Context, name string) (uint32, error)
}

// DocStore reads and writes stored documents.
type DocStore interface {
	Save(ctx context.Context, collectionID uint32, seqID uint32, doc domdoc.Doc) error
	GetBySeq(ctx context.Context, collectionID uint32, seqID uint32) (domdoc.Doc, error)
	SeqForDocID(ctx context.Context, collectionID uint32, docID string) (uint32, error)
	Delete(ctx context.Context, collectionID uint32, seqID uint32, docID string) error
	WalkSeqOrder(ctx context.Context, collectionID uint32,
		fn func(seqID uint32, doc domdoc.Doc) bool) error
}
