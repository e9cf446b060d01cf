// Package document persists stored documents and the doc-id to seq-id map.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	"github.com/kailas-cloud/omnidex/internal/store"
)

// Repo stores document JSON under {cid}_S_{seq} and the primary key map
// under {cid}_D_{doc_id}.
type Repo struct {
	kv store.KV
}

// New creates the repository.
func New(kv store.KV) *Repo {
	return &Repo{kv: kv}
}

// Save persists a document and then its id mapping as two separate writes.
// The writes are not atomic: if the mapping write fails, the document stays
// stored without a mapping, and SeqForDocID does not find it.
func (r *Repo) Save(ctx context.Context, collectionID uint32, seqID uint32, doc domdoc.Doc) error {
	docID, _ := doc["id"].(string)
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal document: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Set(ctx, store.DocSeqKey(collectionID, seqID), data); err != nil {
		return fmt.Errorf("%w: persist document: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Set(ctx, store.DocIDKey(collectionID, docID),
		[]byte(strconv.FormatUint(uint64(seqID), 10))); err != nil {
		return fmt.Errorf("%w: persist doc id mapping: %v", domain.ErrInternal, err)
	}
	return nil
}

// GetBySeq loads a document by seq id.
func (r *Repo) GetBySeq(ctx context.Context, collectionID uint32, seqID uint32) (domdoc.Doc, error) {
	data, err := r.kv.Get(ctx, store.DocSeqKey(collectionID, seqID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: document with seq id %d", domain.ErrNotFound, seqID)
		}
		return nil, fmt.Errorf("%w: load document: %v", domain.ErrInternal, err)
	}
	var doc domdoc.Doc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse stored document: %v", domain.ErrInternal, err)
	}
	return doc, nil
}

// SeqForDocID resolves a document id to its seq id.
func (r *Repo) SeqForDocID(ctx context.Context, collectionID uint32, docID string) (uint32, error) {
	data, err := r.kv.Get(ctx, store.DocIDKey(collectionID, docID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: document %q", domain.ErrNotFound, docID)
		}
		return 0, fmt.Errorf("%w: load doc id mapping: %v", domain.ErrInternal, err)
	}
	v, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt seq id for %q: %v", domain.ErrInternal, docID, err)
	}
	return uint32(v), nil
}

// Delete removes the document and its id mapping.
func (r *Repo) Delete(ctx context.Context, collectionID uint32, seqID uint32, docID string) error {
	if err := r.kv.Delete(ctx, store.DocSeqKey(collectionID, seqID)); err != nil {
		return fmt.Errorf("%w: delete document: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Delete(ctx, store.DocIDKey(collectionID, docID)); err != nil {
		return fmt.Errorf("%w: delete doc id mapping: %v", domain.ErrInternal, err)
	}
	return nil
}

// WalkSeqOrder visits stored documents in ascending seq id order (the seq
// key encoding is big-endian, so byte order matches numeric order).
func (r *Repo) WalkSeqOrder(ctx context.Context, collectionID uint32,
	fn func(seqID uint32, doc domdoc.Doc) bool) error {
	prefix := store.DocSeqPrefix(collectionID)
	var parseErr error
	err := r.kv.ScanPrefix(ctx, prefix, func(e store.Entry) bool {
		seqID := store.DeserializeUint32(e.Key[len(prefix):])
		var doc domdoc.Doc
		if err := json.Unmarshal(e.Value, &doc); err != nil {
			parseErr = fmt.Errorf("%w: parse stored document at %s: %v", domain.ErrInternal, e.Key, err)
			return false
		}
		return fn(seqID, doc)
	})
	if err != nil {
		return fmt.Errorf("%w: scan documents: %v", domain.ErrInternal, err)
	}
	return parseErr
}
