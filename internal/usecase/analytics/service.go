// Package analytics aggregates query analytics: popular/no-hit queries,
// counter events, and the buffered event log, flushed periodically to the
// leader.
package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domana "github.com/kailas-cloud/omnidex/internal/domain/analytics"
	"github.com/kailas-cloud/omnidex/internal/metrics"
)

// QueryCompactionIntervalS is the background loop's wait timeout.
const QueryCompactionIntervalS = 30

// RuleStore persists analytics rules and the event log.
type RuleStore interface {
	SaveRule(ctx context.Context, rule domana.Rule) error
	GetRule(ctx context.Context, name string) (domana.Rule, error)
	ListRules(ctx context.Context) ([]domana.Rule, error)
	DeleteRule(ctx context.Context, name string) error
	LogEvent(ctx context.Context, e domana.Event) error
	LastNEvents(ctx context.Context, userID, collection, eventName string, n int) ([]domana.Event, error)
}

// LeaderClient forwards aggregation writes to the leader's HTTP surface.
type LeaderClient interface {
	// LeaderURL returns the leader base URL, or "" when this node leads.
	LeaderURL() string
	IsLeader() bool
	ImportDocs(ctx context.Context, baseURL, collection, action, ndjsonPayload string) error
	AggregateEvents(ctx context.Context, baseURL string, payload []byte) error
	TruncateTopK(ctx context.Context, baseURL, collection, field string, k int) error
}

// Service is the analytics aggregator. One mutex guards every map.
type Service struct {
	mu   sync.Mutex
	cond *sync.Cond
	quit bool

	suggestionConfigs      map[string]domana.Rule
	queryCollectionMapping map[string][]string
	popularQueries         map[string]*domana.QueryAggregator
	nohitsQueries          map[string]*domana.QueryAggregator
	counterEvents          map[string]*domana.CounterState
	queryCollectionEvents  map[string][]domana.Event
	eventCollectionMap     map[string]domana.EventRoute

	limiter *rateLimiter

	repo   RuleStore
	leader LeaderClient

	flushInterval time.Duration
	lastFlush     time.Time

	logger *zap.Logger
}

// New creates the aggregator.
func New(repo RuleStore, leader LeaderClient, minuteRateLimit uint32,
	flushInterval time.Duration, logger *zap.Logger) *Service {
	s := &Service{
		suggestionConfigs:      make(map[string]domana.Rule),
		queryCollectionMapping: make(map[string][]string),
		popularQueries:         make(map[string]*domana.QueryAggregator),
		nohitsQueries:          make(map[string]*domana.QueryAggregator),
		counterEvents:          make(map[string]*domana.CounterState),
		queryCollectionEvents:  make(map[string][]domana.Event),
		eventCollectionMap:     make(map[string]domana.EventRoute),
		limiter:                newRateLimiter(minuteRateLimit),
		repo:                   repo,
		leader:                 leader,
		flushInterval:          flushInterval,
		logger:                 logger,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Load hydrates persisted rules at startup.
func (s *Service) Load(ctx context.Context) error {
	rules, err := s.repo.ListRules(ctx)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if err := s.installRule(rule); err != nil {
			s.logger.Warn("skipping invalid persisted analytics rule",
				zap.String("rule", rule.Name), zap.Error(err))
		}
	}
	return nil
}

// CreateRule validates, installs, and persists a rule.
func (s *Service) CreateRule(ctx context.Context, rule domana.Rule, upsert bool) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	_, exists := s.suggestionConfigs[rule.Name]
	s.mu.Unlock()
	if exists && !upsert {
		return fmt.Errorf("%w: there's already another configuration with the name %q",
			domain.ErrInvalidArgument, rule.Name)
	}
	if exists {
		if err := s.uninstallRule(rule.Name); err != nil {
			return err
		}
	}
	if err := s.installRule(rule); err != nil {
		return err
	}
	return s.repo.SaveRule(ctx, rule)
}

// installRule wires a rule into the runtime maps.
func (s *Service) installRule(rule domana.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := rule.Params.Destination.Collection
	switch rule.Type {
	case domana.TypePopularQueries:
		s.popularQueries[dest] = domana.NewQueryAggregator(rule.LimitOrDefault(),
			rule.Params.ExpandQuery, rule.AutoAggregationEnabled())
	case domana.TypeNohitsQueries:
		s.nohitsQueries[dest] = domana.NewQueryAggregator(rule.LimitOrDefault(),
			rule.Params.ExpandQuery, rule.AutoAggregationEnabled())
	case domana.TypeCounter:
		cs := &domana.CounterState{
			CounterField: rule.Params.Destination.CounterField,
			DocCounts:    make(map[string]uint64),
			EventWeights: make(map[string]uint16),
		}
		for _, ev := range rule.Params.Source.Events {
			cs.EventWeights[ev.Name] = ev.Weight
		}
		s.counterEvents[dest] = cs
	}

	for _, src := range rule.Params.Source.Collections {
		s.queryCollectionMapping[src] = append(s.queryCollectionMapping[src], dest)
		if _, ok := s.queryCollectionEvents[src]; !ok {
			s.queryCollectionEvents[src] = nil
		}
	}
	for _, ev := range rule.Params.Source.Events {
		s.eventCollectionMap[ev.Name] = domana.EventRoute{
			EventType:             ev.Type,
			DestinationCollection: dest,
			SrcCollections:        rule.Params.Source.Collections,
			LogToStore:            ev.LogToStore,
			RuleName:              rule.Name,
		}
	}
	s.suggestionConfigs[rule.Name] = rule
	return nil
}

// GetRule returns one installed rule.
func (s *Service) GetRule(_ context.Context, name string) (domana.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.suggestionConfigs[name]
	if !ok {
		return domana.Rule{}, fmt.Errorf("%w: analytics rule %q", domain.ErrNotFound, name)
	}
	return rule, nil
}

// ListRules returns every installed rule.
func (s *Service) ListRules(_ context.Context) []domana.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domana.Rule, 0, len(s.suggestionConfigs))
	for _, rule := range s.suggestionConfigs {
		out = append(out, rule)
	}
	return out
}

// RemoveRule uninstalls and unpersists a rule.
func (s *Service) RemoveRule(ctx context.Context, name string) error {
	s.mu.Lock()
	_, ok := s.suggestionConfigs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: analytics rule %q", domain.ErrNotFound, name)
	}
	if err := s.uninstallRule(name); err != nil {
		return err
	}
	return s.repo.DeleteRule(ctx, name)
}

func (s *Service) uninstallRule(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.suggestionConfigs[name]
	if !ok {
		return nil
	}
	dest := rule.Params.Destination.Collection
	delete(s.popularQueries, dest)
	delete(s.nohitsQueries, dest)
	delete(s.counterEvents, dest)
	for _, src := range rule.Params.Source.Collections {
		dests := s.queryCollectionMapping[src]
		kept := dests[:0]
		for _, d := range dests {
			if d != dest {
				kept = append(kept, d)
			}
		}
		if len(kept) == 0 {
			delete(s.queryCollectionMapping, src)
		} else {
			s.queryCollectionMapping[src] = kept
		}
	}
	for _, ev := range rule.Params.Source.Events {
		delete(s.eventCollectionMap, ev.Name)
	}
	delete(s.suggestionConfigs, name)
	return nil
}

// ObserveQuery feeds a live search query into the popular-queries
// aggregators of its source collection.
func (s *Service) ObserveQuery(collection, query, expandedQuery string, liveQuery bool,
	userID, filterBy, tag string) {
	nowUs := uint64(time.Now().UnixMicro()) //nolint:gosec // epoch micros
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dest := range s.queryCollectionMapping[collection] {
		if agg, ok := s.popularQueries[dest]; ok && agg.AutoAggregationEnabled() {
			agg.Add(query, expandedQuery, liveQuery, userID, nowUs, filterBy, tag)
		}
	}
}

// ObserveNoHits feeds a zero-result query into the no-hit aggregators.
func (s *Service) ObserveNoHits(collection, query string, liveQuery bool,
	userID, filterBy, tag string) {
	nowUs := uint64(time.Now().UnixMicro()) //nolint:gosec // epoch micros
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dest := range s.queryCollectionMapping[collection] {
		if agg, ok := s.nohitsQueries[dest]; ok && agg.AutoAggregationEnabled() {
			agg.Add(query, query, liveQuery, userID, nowUs, filterBy, tag)
		}
	}
}

// AddEvent ingests one external event under the per-IP rate limit.
func (s *Service) AddEvent(ctx context.Context, clientIP, eventType, eventName string,
	data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	route, ok := s.eventCollectionMap[eventName]
	if !ok {
		return fmt.Errorf("%w: no analytics rule defined for event name %s", domain.ErrNotFound, eventName)
	}
	if route.EventType != eventType {
		return fmt.Errorf("%w: event_type mismatch in analytic rules", domain.ErrInvalidArgument)
	}

	srcCollection, err := resolveSrcCollection(route, data)
	if err != nil {
		return err
	}
	if _, ok := s.queryCollectionEvents[srcCollection]; !ok {
		return fmt.Errorf("%w: failure in adding an event", domain.ErrInternal)
	}

	if !s.limiter.allow(clientIP, time.Now().Unix()) {
		return fmt.Errorf("%w: event rate limit reached", domain.ErrRateLimited)
	}

	ev := buildEvent(eventType, eventName, route, data)

	if route.LogToStore {
		s.queryCollectionEvents[srcCollection] = append(s.queryCollectionEvents[srcCollection], ev)
	}

	if eventType == domana.EventSearch {
		if agg, ok := s.popularQueries[route.DestinationCollection]; ok {
			agg.Add(ev.Query, ev.Query, false, ev.UserID, ev.TimestampUs, strField(data, "filter_by"),
				strField(data, "analytics_tag"))
		}
	}

	if cs, ok := s.counterEvents[route.DestinationCollection]; ok {
		if !cs.Increment(eventName, ev.DocID, ev.DocIDs) {
			s.logger.Error("event name not defined in analytic rule for counter events",
				zap.String("event_name", eventName))
		}
	}

	metrics.ObserveAnalyticsEvent(eventType)
	_ = ctx
	return nil
}

func resolveSrcCollection(route domana.EventRoute, data map[string]any) (string, error) {
	named, hasNamed := data["collection"].(string)
	switch {
	case !hasNamed && len(route.SrcCollections) == 1:
		return route.SrcCollections[0], nil
	case !hasNamed:
		return "", fmt.Errorf("%w: multiple source collections; 'collection' should be specified",
			domain.ErrInvalidArgument)
	default:
		for _, c := range route.SrcCollections {
			if c == named {
				return named, nil
			}
		}
		return "", fmt.Errorf("%w: %s not found in the rule %s", domain.ErrInvalidArgument,
			named, route.RuleName)
	}
}

func buildEvent(eventType, eventName string, route domana.EventRoute, data map[string]any) domana.Event {
	ev := domana.Event{
		EventType:   eventType,
		TimestampUs: uint64(time.Now().UnixMicro()), //nolint:gosec // epoch micros
		Name:        eventName,
		LogToStore:  route.LogToStore,
		Query:       strField(data, "q"),
		UserID:      strField(data, "user_id"),
		DocID:       strField(data, "doc_id"),
	}
	if eventType == domana.EventCustom {
		ev.Query = strField(data, "query")
		ev.Data = map[string]string{}
		for k, v := range data {
			switch k {
			case "query", "user_id", "doc_id", "doc_ids", "collection":
			default:
				if str, ok := v.(string); ok {
					ev.Data[k] = str
				}
			}
		}
	}
	if ids, ok := data["doc_ids"].([]any); ok {
		for _, id := range ids {
			if str, ok := id.(string); ok {
				ev.DocIDs = append(ev.DocIDs, str)
			}
		}
	}
	return ev
}

func strField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

// WriteEvents persists forwarded events into the analytics event log (the
// leader-side sink of /analytics/aggregate_events).
func (s *Service) WriteEvents(ctx context.Context, events []domana.Event) error {
	for _, ev := range events {
		if err := s.repo.LogEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// LastNEvents returns a user's most recent logged events.
func (s *Service) LastNEvents(ctx context.Context, userID, collection, eventName string,
	n int) ([]domana.Event, error) {
	return s.repo.LastNEvents(ctx, userID, collection, eventName, n)
}

// SetRateLimitEnabled toggles the per-IP rate limiter (test hook mirrored
// from the admin surface).
func (s *Service) SetRateLimitEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limiter.enabled = enabled
}
