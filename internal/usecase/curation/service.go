// Package curation applies pinned/hidden hits and rule-based overrides
// under tag precedence.
package curation

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	domover "github.com/kailas-cloud/omnidex/internal/domain/override"
)

// OverrideStore persists overrides per collection.
type OverrideStore interface {
	Save(ctx context.Context, collection string, o domover.Override) error
	Get(ctx context.Context, collection, id string) (domover.Override, error)
	List(ctx context.Context, collection string) ([]domover.Override, error)
	Delete(ctx context.Context, collection, id string) error
}

// Service manages overrides and computes the curation outcome of a search.
type Service struct {
	repo   OverrideStore
	logger *zap.Logger
}

// New creates the curation service.
func New(repo OverrideStore, logger *zap.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Upsert validates and persists an override.
func (s *Service) Upsert(ctx context.Context, collection, id string, o domover.Override) (domover.Override, error) {
	parsed, err := domover.Parse(id, o)
	if err != nil {
		return domover.Override{}, err
	}
	if err := s.repo.Save(ctx, collection, parsed); err != nil {
		return domover.Override{}, err
	}
	return parsed, nil
}

// Get loads one override.
func (s *Service) Get(ctx context.Context, collection, id string) (domover.Override, error) {
	return s.repo.Get(ctx, collection, id)
}

// List loads all overrides of a collection in application order.
func (s *Service) List(ctx context.Context, collection string) ([]domover.Override, error) {
	return s.repo.List(ctx, collection)
}

// Delete removes an override.
func (s *Service) Delete(ctx context.Context, collection, id string) error {
	return s.repo.Delete(ctx, collection, id)
}

// Pin is a curated include with its 1-based target position (doc-id form;
// the assembler resolves seq ids).
type Pin struct {
	DocID    string
	Position int
}

// Outcome is the combined effect of matching overrides and pinned/hidden
// parameters on one search.
type Outcome struct {
	Includes []Pin
	Excludes []string
	// Hidden comes from the request's hidden_hits and always excludes,
	// even against an override's add_hits.
	Hidden []string

	// FilterBy entries are or-ed into the runtime filter tree.
	FilterBy []string
	SortBy   string

	ReplaceQuery        string
	RemoveMatchedTokens []string
	FilterCuratedHits   bool
}

// Process evaluates the collection's overrides against the query under tag
// precedence, then folds in the request's pinned/hidden hits. Pinned and
// hidden parameters always win over rule-driven curation.
func (s *Service) Process(ctx context.Context, collection, rawQuery, filterQuery,
	overrideTags, pinnedHits, hiddenHits string, nowTs int64) (Outcome, error) {
	overrides, err := s.repo.List(ctx, collection)
	if err != nil {
		return Outcome{}, err
	}

	normalized := domover.Normalize(rawQuery)
	tags := splitTags(overrideTags)

	var out Outcome
	matched := s.matchOverrides(overrides, normalized, filterQuery, tags, nowTs)
	for _, o := range matched {
		applyOverride(&out, o)
	}

	// Request-level pinned/hidden hits.
	out.Includes = append(out.Includes, parsePinned(pinnedHits)...)
	out.Hidden = splitList(hiddenHits)

	sort.SliceStable(out.Includes, func(i, j int) bool {
		return out.Includes[i].Position < out.Includes[j].Position
	})
	return out, nil
}

// matchOverrides applies the precedence classes: with tags, exact tag-set
// matches first, partial intersections second, then wildcard-tagged rules;
// untagged rules are skipped. Without tags, untagged and wildcard-tagged
// rules apply. stop_processing halts all further matching, including the
// later classes.
func (s *Service) matchOverrides(overrides []domover.Override, normalizedQuery, filterQuery string,
	tags []string, nowTs int64) []domover.Override {
	var matched []domover.Override
	applied := map[string]bool{}

	consider := func(o domover.Override) bool {
		if !o.Active(nowTs) || applied[o.ID] {
			return false
		}
		if ok, _ := o.MatchesQuery(normalizedQuery); ok {
			return true
		}
		if o.MatchesFilter(filterQuery) {
			return true
		}
		// Tag-only rules match purely by their tags.
		return o.Rule.Query == "" && o.Rule.FilterBy == "" && o.HasTags()
	}

	runClass := func(pred func(domover.Override) bool) bool {
		for _, o := range overrides {
			if !pred(o) || !consider(o) {
				continue
			}
			matched = append(matched, o)
			applied[o.ID] = true
			if o.StopProcessing {
				return true
			}
		}
		return false
	}

	if len(tags) > 0 {
		if runClass(func(o domover.Override) bool { return o.TagSetEquals(tags) }) {
			return matched
		}
		if runClass(func(o domover.Override) bool { return o.HasTags() && o.TagSetIntersects(tags) }) {
			return matched
		}
		runClass(func(o domover.Override) bool { return o.IsWildcardTagged() })
		return matched
	}

	runClass(func(o domover.Override) bool { return !o.HasTags() || o.IsWildcardTagged() })
	return matched
}

// applyOverride folds one matched override into the outcome. Drop hits
// always precede add hits in the merged order.
func applyOverride(out *Outcome, o domover.Override) {
	for _, d := range o.Excludes {
		out.Excludes = append(out.Excludes, d.ID)
	}
	for _, inc := range o.Includes {
		out.Includes = append(out.Includes, Pin{DocID: inc.ID, Position: inc.Position})
	}
	if o.FilterBy != "" {
		out.FilterBy = append(out.FilterBy, o.FilterBy)
	}
	if o.SortBy != "" && out.SortBy == "" {
		out.SortBy = o.SortBy
	}
	if o.ReplaceQuery != "" && out.ReplaceQuery == "" {
		out.ReplaceQuery = o.ReplaceQuery
	}
	if o.RemoveMatchedTokens && o.FilterBy == "" {
		// Suppressed under a dynamic filter override: the tokens are needed
		// to materialize the filter.
		out.RemoveMatchedTokens = append(out.RemoveMatchedTokens,
			strings.Fields(domover.Normalize(o.Rule.Query))...)
	}
	if o.FilterCuratedHits {
		out.FilterCuratedHits = true
	}
}

func splitTags(raw string) []string {
	return splitList(raw)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePinned parses "docid:pos,docid:pos" pinned hits.
func parsePinned(raw string) []Pin {
	var out []Pin
	for _, part := range splitList(raw) {
		id, posStr, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		pos, err := strconv.Atoi(posStr)
		if err != nil || pos <= 0 {
			continue
		}
		out = append(out, Pin{DocID: id, Position: pos})
	}
	return out
}
