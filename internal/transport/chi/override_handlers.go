package chi

import (
	"net/http"

	chiRouter "github.com/go-chi/chi/v5"

	domover "github.com/kailas-cloud/omnidex/internal/domain/override"
)

func (s *Server) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	var o domover.Override
	if err := decodeBody(r, &o); err != nil {
		s.handleDomainError(w, err)
		return
	}
	saved, err := s.curation.Upsert(r.Context(), chiRouter.URLParam(r, "collection"),
		chiRouter.URLParam(r, "id"), o)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleGetOverride(w http.ResponseWriter, r *http.Request) {
	o, err := s.curation.Get(r.Context(), chiRouter.URLParam(r, "collection"),
		chiRouter.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := s.curation.List(r.Context(), chiRouter.URLParam(r, "collection"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if overrides == nil {
		overrides = []domover.Override{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"overrides": overrides})
}

func (s *Server) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	id := chiRouter.URLParam(r, "id")
	if err := s.curation.Delete(r.Context(), chiRouter.URLParam(r, "collection"), id); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}
