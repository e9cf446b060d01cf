package chi

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	chiRouter "github.com/go-chi/chi/v5"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domana "github.com/kailas-cloud/omnidex/internal/domain/analytics"
)

func (s *Server) handleCreateAnalyticsRule(w http.ResponseWriter, r *http.Request) {
	var rule domana.Rule
	if err := decodeBody(r, &rule); err != nil {
		s.handleDomainError(w, err)
		return
	}
	if err := s.analytics.CreateRule(r.Context(), rule, false); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleUpsertAnalyticsRule(w http.ResponseWriter, r *http.Request) {
	var rule domana.Rule
	if err := decodeBody(r, &rule); err != nil {
		s.handleDomainError(w, err)
		return
	}
	rule.Name = chiRouter.URLParam(r, "name")
	if err := s.analytics.CreateRule(r.Context(), rule, true); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleListAnalyticsRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.analytics.ListRules(r.Context())})
}

func (s *Server) handleGetAnalyticsRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.analytics.GetRule(r.Context(), chiRouter.URLParam(r, "name"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteAnalyticsRule(w http.ResponseWriter, r *http.Request) {
	name := chiRouter.URLParam(r, "name")
	if err := s.analytics.RemoveRule(r.Context(), name); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

// analyticsEventPayload is the body of POST /analytics/events.
type analyticsEventPayload struct {
	Type string         `json:"type"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

func (s *Server) handleAddAnalyticsEvent(w http.ResponseWriter, r *http.Request) {
	var ev analyticsEventPayload
	if err := decodeBody(r, &ev); err != nil {
		s.handleDomainError(w, err)
		return
	}
	if ev.Type == "" || ev.Name == "" {
		s.handleDomainError(w, fmt.Errorf("%w: event type and name are required",
			domain.ErrInvalidArgument))
		return
	}
	if err := s.analytics.AddEvent(r.Context(), clientIP(r), ev.Type, ev.Name, ev.Data); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetAnalyticsEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	n := atoiOr(q.Get("n"), 10)
	events, err := s.analytics.LastNEvents(r.Context(), q.Get("user_id"),
		q.Get("collection"), q.Get("name"), n)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if events == nil {
		events = []domana.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleAggregateEvents is the leader-side sink of the analytics flusher:
// forwarded events land in the analytics event log.
func (s *Server) handleAggregateEvents(w http.ResponseWriter, r *http.Request) {
	var events []domana.Event
	if err := decodeBody(r, &events); err != nil {
		s.handleDomainError(w, err)
		return
	}
	if err := s.analytics.WriteEvents(r.Context(), events); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// clientIP extracts the caller's IP for rate limiting, honoring
// X-Forwarded-For.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
