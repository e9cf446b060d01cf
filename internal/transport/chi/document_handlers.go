package chi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	chiRouter "github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domdoc "github.com/kailas-cloud/omnidex/internal/domain/document"
	documentuc "github.com/kailas-cloud/omnidex/internal/usecase/document"
)

func dirtyValuesMode(raw string) domdoc.DirtyValues {
	switch raw {
	case "coerce_or_drop":
		return domdoc.CoerceOrDrop
	case "drop":
		return domdoc.Drop
	case "reject":
		return domdoc.Reject
	default:
		return domdoc.CoerceOrReject
	}
}

func (s *Server) handleAddDocument(w http.ResponseWriter, r *http.Request) {
	var doc domdoc.Doc
	if err := decodeBody(r, &doc); err != nil {
		s.handleDomainError(w, err)
		return
	}
	action := r.URL.Query().Get("action")
	if action == "" {
		action = documentuc.ActionCreate
	}
	stored, err := s.documents.Add(r.Context(), chiRouter.URLParam(r, "collection"), doc,
		action, dirtyValuesMode(r.URL.Query().Get("dirty_values")))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domdoc.Prune(stored, nil, nil))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), chiRouter.URLParam(r, "collection"),
		chiRouter.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domdoc.Prune(doc, nil, nil))
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Delete(r.Context(), chiRouter.URLParam(r, "collection"),
		chiRouter.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domdoc.Prune(doc, nil, nil))
}

// handleDeleteDocuments implements top-K truncation:
// DELETE /documents?top_k_by=field:K.
func (s *Server) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	topKBy := r.URL.Query().Get("top_k_by")
	if topKBy == "" {
		s.handleDomainError(w, fmt.Errorf("%w: top_k_by parameter is required",
			domain.ErrInvalidArgument))
		return
	}
	fieldName, kStr, ok := strings.Cut(topKBy, ":")
	if !ok {
		s.handleDomainError(w, fmt.Errorf("%w: top_k_by must be field:K", domain.ErrInvalidArgument))
		return
	}
	k, err := strconv.Atoi(kStr)
	if err != nil {
		s.handleDomainError(w, fmt.Errorf("%w: top_k_by K must be an integer", domain.ErrInvalidArgument))
		return
	}
	removed, err := s.documents.TruncateTopK(r.Context(), chiRouter.URLParam(r, "collection"),
		fieldName, k)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"num_deleted": removed})
}

func (s *Server) handleImportDocuments(w http.ResponseWriter, r *http.Request) {
	action := r.URL.Query().Get("action")
	if action == "" {
		action = documentuc.ActionCreate
	}
	results, err := s.documents.Import(r.Context(), chiRouter.URLParam(r, "collection"),
		r.Body, action, dirtyValuesMode(r.URL.Query().Get("dirty_values")))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	// Import responses are NDJSON, one result per input record.
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	for _, res := range results {
		line, merr := json.Marshal(res)
		if merr != nil {
			continue
		}
		_, _ = w.Write(line)
		_, _ = w.Write([]byte("\n"))
	}
}
