package chi

import (
	"net/http"

	chiRouter "github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/omnidex/internal/domain/field"
	collectionuc "github.com/kailas-cloud/omnidex/internal/usecase/collection"
)

// fieldPayload is the wire shape of a schema field.
type fieldPayload struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Facet    bool   `json:"facet"`
	Optional bool   `json:"optional"`
	Index    *bool  `json:"index"`
	Sort     *bool  `json:"sort"`
	Store    *bool  `json:"store"`
	Infix    bool   `json:"infix"`
	Stem     bool   `json:"stem"`
	RangeIndex bool `json:"range_index"`
	Locale   string `json:"locale"`
	NumDim   int    `json:"num_dim"`
	VecDist  string `json:"vec_dist"`
	Drop     bool   `json:"drop"`

	TokenSeparators []string `json:"token_separators"`
	SymbolsToIndex  []string `json:"symbols_to_index"`

	Embed *field.EmbedSpec `json:"embed"`

	Reference      string `json:"reference"`
	AsyncReference bool   `json:"async_reference"`
}

func (p fieldPayload) toField() (field.Field, error) {
	f, err := field.New(p.Name, field.Type(p.Type))
	if err != nil {
		return field.Field{}, err
	}
	f.Facet = p.Facet
	f.Optional = p.Optional
	if p.Index != nil {
		f.Index = *p.Index
	}
	if p.Sort != nil {
		f.Sort = *p.Sort
	}
	if p.Store != nil {
		f.Store = *p.Store
	}
	f.Infix = p.Infix
	f.Stem = p.Stem
	f.RangeIndex = p.RangeIndex
	f.Locale = p.Locale
	f.NumDim = p.NumDim
	f.VecDist = field.DistanceMetric(p.VecDist)
	f.TokenSeparators = p.TokenSeparators
	f.SymbolsToIndex = p.SymbolsToIndex
	f.Embed = p.Embed
	f.Reference = p.Reference
	f.AsyncReference = p.AsyncReference
	return f, nil
}

type createCollectionPayload struct {
	Name                string         `json:"name"`
	Fields              []fieldPayload `json:"fields"`
	DefaultSortingField string         `json:"default_sorting_field"`
	EnableNestedFields  bool           `json:"enable_nested_fields"`
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req createCollectionPayload
	if err := decodeBody(r, &req); err != nil {
		s.handleDomainError(w, err)
		return
	}
	fields := make([]field.Field, 0, len(req.Fields))
	for _, fp := range req.Fields {
		f, err := fp.toField()
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		fields = append(fields, f)
	}
	col, err := s.collections.Create(r.Context(), req.Name, fields,
		req.DefaultSortingField, req.EnableNestedFields)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, col)
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collections.List(r.Context()))
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.collections.Get(r.Context(), chiRouter.URLParam(r, "collection"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) handleDropCollection(w http.ResponseWriter, r *http.Request) {
	name := chiRouter.URLParam(r, "collection")
	if err := s.collections.Drop(r.Context(), name, s.documents.Docs()); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

type alterPayload struct {
	Fields []fieldPayload `json:"fields"`
}

func (s *Server) handleAlterCollection(w http.ResponseWriter, r *http.Request) {
	var req alterPayload
	if err := decodeBody(r, &req); err != nil {
		s.handleDomainError(w, err)
		return
	}
	changes := make([]collectionuc.SchemaChange, 0, len(req.Fields))
	for _, fp := range req.Fields {
		if fp.Drop {
			changes = append(changes, collectionuc.SchemaChange{
				Drop:  true,
				Field: field.Field{Name: fp.Name},
			})
			continue
		}
		f, err := fp.toField()
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		changes = append(changes, collectionuc.SchemaChange{Field: f})
	}
	col, err := s.collections.Alter(r.Context(), chiRouter.URLParam(r, "collection"),
		changes, s.documents.Docs(), s.documents)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) handleAlterStatus(w http.ResponseWriter, r *http.Request) {
	h, err := s.collections.Registry().Get(chiRouter.URLParam(r, "collection"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	inProgress, validated, altered, history := h.Alter.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"alter_in_progress": inProgress,
		"validated_docs":    validated,
		"altered_docs":      altered,
		"history":           history,
	})
}
