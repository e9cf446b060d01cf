// Package override holds curation rules that inject, exclude, or reshape
// results for matching queries.
package override

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/omnidex/internal/domain"
)

// Match modes of a rule.
const (
	MatchExact    = "exact"
	MatchContains = "contains"
)

// Rule is the matcher of an override.
type Rule struct {
	Query    string   `json:"query,omitempty"`
	Match    string   `json:"match,omitempty"`
	FilterBy string   `json:"filter_by,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// AddHit pins a document at a 1-based position.
type AddHit struct {
	ID       string `json:"id"`
	Position int    `json:"position"`
}

// DropHit hides a document.
type DropHit struct {
	ID string `json:"id"`
}

// Override is a persisted curation rule.
type Override struct {
	ID   string `json:"id"`
	Rule Rule   `json:"rule"`

	Includes []AddHit  `json:"includes,omitempty"`
	Excludes []DropHit `json:"excludes,omitempty"`

	FilterBy string `json:"filter_by,omitempty"`
	SortBy   string `json:"sort_by,omitempty"`

	ReplaceQuery        string `json:"replace_query,omitempty"`
	RemoveMatchedTokens bool   `json:"remove_matched_tokens,omitempty"`
	FilterCuratedHits   bool   `json:"filter_curated_hits,omitempty"`
	StopProcessing      bool   `json:"stop_processing,omitempty"`

	EffectiveFromTs int64 `json:"effective_from_ts,omitempty"`
	EffectiveToTs   int64 `json:"effective_to_ts,omitempty"`
}

// Parse validates an override read from the API or the store.
func Parse(id string, o Override) (Override, error) {
	o.ID = id
	if o.Rule.Query == "" && o.Rule.FilterBy == "" && len(o.Rule.Tags) == 0 {
		return o, fmt.Errorf("%w: the override must contain either a query, a filter_by or tags",
			domain.ErrInvalidArgument)
	}
	if o.Rule.Query != "" {
		if o.Rule.Match != MatchExact && o.Rule.Match != MatchContains {
			return o, fmt.Errorf("%w: override match must be exact or contains", domain.ErrInvalidArgument)
		}
	}
	if len(o.Includes) == 0 && len(o.Excludes) == 0 && o.FilterBy == "" && o.SortBy == "" &&
		o.ReplaceQuery == "" && !o.RemoveMatchedTokens {
		return o, fmt.Errorf("%w: the override does not match any allowed properties", domain.ErrInvalidArgument)
	}
	for _, inc := range o.Includes {
		if inc.ID == "" || inc.Position <= 0 {
			return o, fmt.Errorf("%w: included hits must have an id and a positive position",
				domain.ErrInvalidArgument)
		}
	}
	if o.ReplaceQuery != "" && o.RemoveMatchedTokens {
		return o, fmt.Errorf("%w: only one of replace_query or remove_matched_tokens can be specified",
			domain.ErrInvalidArgument)
	}
	return o, nil
}

// Active reports whether the rule is inside its effective window at nowTs
// (inclusive on both bounds).
func (o *Override) Active(nowTs int64) bool {
	if o.EffectiveFromTs != 0 && nowTs < o.EffectiveFromTs {
		return false
	}
	if o.EffectiveToTs != 0 && nowTs > o.EffectiveToTs {
		return false
	}
	return true
}

// MatchesQuery checks the rule's query predicate against the normalized
// query, returning the matched token span for remove_matched_tokens.
func (o *Override) MatchesQuery(normalizedQuery string) (bool, []string) {
	if o.Rule.Query == "" {
		return false, nil
	}
	ruleQuery := Normalize(o.Rule.Query)
	switch o.Rule.Match {
	case MatchExact:
		if normalizedQuery == ruleQuery {
			return true, strings.Fields(ruleQuery)
		}
	case MatchContains:
		if strings.Contains(" "+normalizedQuery+" ", " "+ruleQuery+" ") {
			return true, strings.Fields(ruleQuery)
		}
	}
	return false, nil
}

// MatchesFilter checks the rule's filter_by predicate by string equality.
func (o *Override) MatchesFilter(filterQuery string) bool {
	return o.Rule.FilterBy != "" && o.Rule.FilterBy == filterQuery
}

// HasTags reports whether the rule carries any tags.
func (o *Override) HasTags() bool { return len(o.Rule.Tags) > 0 }

// TagSetEquals reports an exact tag-set match.
func (o *Override) TagSetEquals(tags []string) bool {
	if len(o.Rule.Tags) != len(tags) {
		return false
	}
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, t := range o.Rule.Tags {
		if !set[t] {
			return false
		}
	}
	return true
}

// TagSetIntersects reports a partial tag overlap.
func (o *Override) TagSetIntersects(tags []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, t := range o.Rule.Tags {
		if set[t] {
			return true
		}
	}
	return false
}

// IsWildcardTagged reports whether the rule applies under the `*` tag.
func (o *Override) IsWildcardTagged() bool {
	for _, t := range o.Rule.Tags {
		if t == "*" {
			return true
		}
	}
	return false
}

// Normalize lowercases and re-joins the query the way the curation engine
// matches it.
func Normalize(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}
