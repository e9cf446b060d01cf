// Package analytics holds query-analytics rules, events, and the in-memory
// popular/no-hit query aggregator.
package analytics

import (
	"fmt"

	"github.com/kailas-cloud/omnidex/internal/domain"
)

// Rule types.
const (
	TypePopularQueries = "popular_queries"
	TypeNohitsQueries  = "nohits_queries"
	TypeCounter        = "counter"
	TypeLog            = "log"
)

// Event types.
const (
	EventSearch     = "search"
	EventClick      = "click"
	EventConversion = "conversion"
	EventVisit      = "visit"
	EventCustom     = "custom"
)

// RuleEvent binds an event name and weight inside a rule.
type RuleEvent struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Weight     uint16 `json:"weight,omitempty"`
	LogToStore bool   `json:"log_to_store,omitempty"`
}

// RuleSource names the collections (and events) a rule draws from.
type RuleSource struct {
	Collections []string    `json:"collections"`
	Events      []RuleEvent `json:"events,omitempty"`
}

// RuleDestination names the sink collection and counter field.
type RuleDestination struct {
	Collection   string `json:"collection"`
	CounterField string `json:"counter_field,omitempty"`
}

// RuleParams is the parameter object of a rule.
type RuleParams struct {
	Source      RuleSource      `json:"source"`
	Destination RuleDestination `json:"destination"`
	Limit       int             `json:"limit,omitempty"`
	ExpandQuery bool            `json:"expand_query,omitempty"`
	EnableAutoAggregation *bool `json:"enable_auto_aggregation,omitempty"`
}

// Rule is a persisted analytics rule ($AR_<name>).
type Rule struct {
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Params RuleParams `json:"params"`
}

// Validate checks the rule shape.
func (r *Rule) Validate() error {
	switch r.Type {
	case TypePopularQueries, TypeNohitsQueries, TypeCounter, TypeLog:
	default:
		return fmt.Errorf("%w: invalid analytics rule type %q", domain.ErrInvalidArgument, r.Type)
	}
	if r.Name == "" {
		return fmt.Errorf("%w: bad or missing analytics rule name", domain.ErrInvalidArgument)
	}
	if len(r.Params.Source.Collections) == 0 {
		return fmt.Errorf("%w: bad or missing source collections", domain.ErrInvalidArgument)
	}
	if r.Params.Destination.Collection == "" && r.Type != TypeLog {
		return fmt.Errorf("%w: bad or missing destination collection", domain.ErrInvalidArgument)
	}
	if r.Type == TypeCounter {
		if r.Params.Destination.CounterField == "" {
			return fmt.Errorf("%w: counter rules require destination.counter_field", domain.ErrInvalidArgument)
		}
		if len(r.Params.Source.Events) == 0 {
			return fmt.Errorf("%w: counter rules require source events", domain.ErrInvalidArgument)
		}
	}
	return nil
}

// LimitOrDefault returns the rule's aggregation limit (default 1000).
func (r *Rule) LimitOrDefault() int {
	if r.Params.Limit > 0 {
		return r.Params.Limit
	}
	return 1000
}

// AutoAggregationEnabled defaults to true unless explicitly disabled.
func (r *Rule) AutoAggregationEnabled() bool {
	return r.Params.EnableAutoAggregation == nil || *r.Params.EnableAutoAggregation
}
