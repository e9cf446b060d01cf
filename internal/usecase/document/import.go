package document

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
)

// ImportResult is the per-record outcome of a batch import.
type ImportResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Document string `json:"document,omitempty"`
	ID       string `json:"id,omitempty"`
}

// maxImportLineBytes bounds a single NDJSON line.
const maxImportLineBytes = 4 * 1024 * 1024

// Import ingests an NDJSON stream under the given action. Failures are
// collected per record; the batch never aborts midway.
func (s *Service) Import(ctx context.Context, collectionName string, r io.Reader,
	action string, mode domdoc.DirtyValues) ([]ImportResult, error) {
	if _, err := s.registry.Get(collectionName); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxImportLineBytes)

	var results []ImportResult
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var doc domdoc.Doc
		if err := json.Unmarshal([]byte(line), &doc); err != nil {
			results = append(results, ImportResult{
				Success: false, Error: "invalid JSON: " + err.Error(), Document: line,
			})
			continue
		}
		// $operations.increment merges counter deltas into numeric fields
		// (the analytics flusher imports suggestion counts this way).
		applyOperations(ctx, s, collectionName, doc)

		stored, err := s.Add(ctx, collectionName, doc, action, mode)
		if err != nil {
			results = append(results, ImportResult{Success: false, Error: err.Error(), Document: line})
			continue
		}
		id, _ := stored["id"].(string)
		results = append(results, ImportResult{Success: true, ID: id})
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("%w: read import stream: %v", domain.ErrInternal, err)
	}
	return results, nil
}

// applyOperations folds "$operations": {"increment": {field: delta}} into
// plain field values against the currently stored document.
func applyOperations(ctx context.Context, s *Service, collectionName string, doc domdoc.Doc) {
	rawOps, ok := doc["$operations"].(map[string]any)
	if !ok {
		return
	}
	delete(doc, "$operations")
	inc, ok := rawOps["increment"].(map[string]any)
	if !ok {
		return
	}
	docID, _ := doc["id"].(string)
	var stored domdoc.Doc
	if docID != "" {
		stored, _ = s.Get(ctx, collectionName, docID)
	}
	for fieldName, rawDelta := range inc {
		delta, ok := rawDelta.(float64)
		if !ok {
			continue
		}
		var current float64
		if stored != nil {
			if v, ok := stored[fieldName].(float64); ok {
				current = v
			}
		}
		doc[fieldName] = current + delta
	}
}

// TruncateTopK retains the top k documents by the named integer field and
// deletes the rest (DELETE /documents?top_k_by=field:K).
func (s *Service) TruncateTopK(ctx context.Context, collectionName, fieldName string, k int) (int, error) {
	h, err := s.registry.Get(collectionName)
	if err != nil {
		return 0, err
	}
	if k <= 0 {
		return 0, fmt.Errorf("%w: top_k_by requires a positive K", domain.ErrInvalidArgument)
	}
	f, ok := h.Meta.FieldByName(fieldName)
	if !ok || !f.IsInteger() {
		return 0, fmt.Errorf("%w: top_k_by requires an int32/int64 field, got %q",
			domain.ErrInvalidArgument, fieldName)
	}

	h.RLock()
	outside, err := h.Index.SeqIDsOutsideTopK(fieldName, k)
	h.RUnlock()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, seqID := range outside {
		doc, err := s.docs.GetBySeq(ctx, h.Meta.ID, seqID)
		if err != nil {
			continue
		}
		docID, _ := doc["id"].(string)
		if _, err := s.Delete(ctx, collectionName, docID); err != nil {
			s.logger.Warn("top-k truncation delete failed",
				zap.String("collection", collectionName), zap.String("doc_id", docID), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		h.Index.RepairHNSWIndex()
	}
	return removed, nil
}
