package analytics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domana "github.com/kailas-cloud/omnidex/internal/domain/analytics"
)

// --- Mocks ---

type mockRuleStore struct {
	mu    sync.Mutex
	rules map[string]domana.Rule
	log   []domana.Event
}

func newMockRuleStore() *mockRuleStore {
	return &mockRuleStore{rules: map[string]domana.Rule{}}
}

func (m *mockRuleStore) SaveRule(_ context.Context, rule domana.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.Name] = rule
	return nil
}

func (m *mockRuleStore) GetRule(_ context.Context, name string) (domana.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[name]
	if !ok {
		return domana.Rule{}, domain.ErrNotFound
	}
	return rule, nil
}

func (m *mockRuleStore) ListRules(_ context.Context) ([]domana.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domana.Rule
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockRuleStore) DeleteRule(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules, name)
	return nil
}

func (m *mockRuleStore) LogEvent(_ context.Context, e domana.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, e)
	return nil
}

func (m *mockRuleStore) LastNEvents(_ context.Context, userID, _, eventName string,
	n int) ([]domana.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []domana.Event
	for i := len(m.log) - 1; i >= 0 && len(out) < n; i-- {
		e := m.log[i]
		if e.UserID != userID || e.Name != eventName {
			continue
		}
		if seen[e.DedupKey()] {
			continue
		}
		seen[e.DedupKey()] = true
		out = append(out, e)
	}
	return out, nil
}

type importCall struct {
	collection string
	action     string
	payload    string
}

type mockLeader struct {
	mu        sync.Mutex
	url       string
	isLeader  bool
	imports   []importCall
	events    [][]byte
	truncates []string
	failNext  bool
}

func (m *mockLeader) LeaderURL() string { return m.url }

func (m *mockLeader) IsLeader() bool { return m.isLeader }

func (m *mockLeader) ImportDocs(_ context.Context, _, collection, action, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext {
		m.failNext = false
		return errors.New("leader unavailable")
	}
	m.imports = append(m.imports, importCall{collection, action, payload})
	return nil
}

func (m *mockLeader) AggregateEvents(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, payload)
	return nil
}

func (m *mockLeader) TruncateTopK(_ context.Context, _, collection, _ string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.truncates = append(m.truncates, collection)
	return nil
}

func newService(t *testing.T, leader *mockLeader, rateLimit uint32) (*Service, *mockRuleStore) {
	t.Helper()
	repo := newMockRuleStore()
	svc := New(repo, leader, rateLimit, time.Hour, zap.NewNop())
	return svc, repo
}

func counterRule(name, dest string) domana.Rule {
	return domana.Rule{
		Name: name,
		Type: domana.TypeCounter,
		Params: domana.RuleParams{
			Source: domana.RuleSource{
				Collections: []string{"products"},
				Events: []domana.RuleEvent{
					{Name: "product_click", Type: domana.EventClick, Weight: 2, LogToStore: true},
				},
			},
			Destination: domana.RuleDestination{Collection: dest, CounterField: "clicks"},
		},
	}
}

// --- Tests ---

func TestCreateRule_DuplicateRejectedWithoutUpsert(t *testing.T) {
	svc, _ := newService(t, &mockLeader{}, 5)
	ctx := context.Background()
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	err := svc.CreateRule(ctx, counterRule("r1", "popular"), false)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for duplicate rule, got %v", err)
	}
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), true); err != nil {
		t.Errorf("upsert should replace the rule: %v", err)
	}
}

// Rate limit: with a budget of 3 per minute, the fourth event from the same
// IP is rejected; a fresh window resets the count.
func TestAddEvent_RateLimit(t *testing.T) {
	svc, _ := newService(t, &mockLeader{}, 3)
	ctx := context.Background()
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	data := map[string]any{"doc_id": "p1", "user_id": "u1"}
	for i := 0; i < 3; i++ {
		if err := svc.AddEvent(ctx, "10.0.0.1", domana.EventClick, "product_click", data); err != nil {
			t.Fatalf("event %d: %v", i+1, err)
		}
	}
	err := svc.AddEvent(ctx, "10.0.0.1", domana.EventClick, "product_click", data)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on the fourth event, got %v", err)
	}

	// A different IP has its own budget.
	if err := svc.AddEvent(ctx, "10.0.0.2", domana.EventClick, "product_click", data); err != nil {
		t.Errorf("other IP should not be limited: %v", err)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := newRateLimiter(3)
	now := int64(1000)
	for i := 0; i < 3; i++ {
		if !rl.allow("ip", now) {
			t.Fatalf("event %d should pass", i+1)
		}
	}
	if rl.allow("ip", now+30) {
		t.Fatal("fourth event within the window should be limited")
	}
	if !rl.allow("ip", now+61) {
		t.Error("count should reset after the 60s window")
	}
}

func TestAddEvent_UnknownEventName(t *testing.T) {
	svc, _ := newService(t, &mockLeader{}, 5)
	err := svc.AddEvent(context.Background(), "ip", domana.EventClick, "ghost", nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAddEvent_TypeMismatch(t *testing.T) {
	svc, _ := newService(t, &mockLeader{}, 5)
	ctx := context.Background()
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	err := svc.AddEvent(ctx, "ip", domana.EventConversion, "product_click", nil)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for type mismatch, got %v", err)
	}
}

func TestAddEvent_CounterWeights(t *testing.T) {
	leader := &mockLeader{url: "http://leader:8108", isLeader: true}
	svc, _ := newService(t, leader, 100)
	ctx := context.Background()
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := svc.AddEvent(ctx, "ip", domana.EventClick, "product_click",
			map[string]any{"doc_id": "p1", "user_id": "u"}); err != nil {
			t.Fatalf("AddEvent: %v", err)
		}
	}

	svc.Flush(ctx)

	var counterImport *importCall
	for i := range leader.imports {
		if leader.imports[i].action == "update" {
			counterImport = &leader.imports[i]
		}
	}
	if counterImport == nil {
		t.Fatal("expected a counter import")
	}
	// Weight 2 applied three times.
	if !strings.Contains(counterImport.payload, `"clicks":6`) {
		t.Errorf("expected weighted count 6, got payload %s", counterImport.payload)
	}
}

func TestFlush_PopularQueriesEmplaceAndTruncate(t *testing.T) {
	leader := &mockLeader{url: "http://leader:8108", isLeader: true}
	svc, _ := newService(t, leader, 100)
	ctx := context.Background()

	rule := domana.Rule{
		Name: "popular",
		Type: domana.TypePopularQueries,
		Params: domana.RuleParams{
			Source:      domana.RuleSource{Collections: []string{"products"}},
			Destination: domana.RuleDestination{Collection: "product_queries"},
			Limit:       100,
		},
	}
	if err := svc.CreateRule(ctx, rule, false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	// A newer query finalizes the previous one for the same user, so
	// compaction counts "red shoes" without waiting out the settle window.
	svc.ObserveQuery("products", "red shoes", "red shoes", false, "u1", "", "")
	svc.ObserveQuery("products", "blue hats", "blue hats", false, "u1", "", "")
	svc.Flush(ctx)

	var emplace *importCall
	for i := range leader.imports {
		if leader.imports[i].action == "emplace" {
			emplace = &leader.imports[i]
		}
	}
	if emplace == nil {
		t.Fatal("expected an emplace import of popular queries")
	}
	if emplace.collection != "product_queries" {
		t.Errorf("unexpected destination: %s", emplace.collection)
	}
	if !strings.Contains(emplace.payload, `"q":"red shoes"`) {
		t.Errorf("expected the query in the payload: %s", emplace.payload)
	}
	if len(leader.truncates) == 0 || leader.truncates[0] != "product_queries" {
		t.Errorf("expected a top-K truncation on the destination, got %v", leader.truncates)
	}
}

func TestFlush_EmptyLeaderRetainsEvents(t *testing.T) {
	leader := &mockLeader{url: ""}
	svc, _ := newService(t, leader, 100)
	ctx := context.Background()
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if err := svc.AddEvent(ctx, "ip", domana.EventClick, "product_click",
		map[string]any{"doc_id": "p1", "user_id": "u"}); err != nil {
		t.Fatalf("AddEvent: %v", err)
	}

	svc.Flush(ctx)

	svc.mu.Lock()
	buffered := len(svc.queryCollectionEvents["products"])
	svc.mu.Unlock()
	if buffered != 1 {
		t.Errorf("events should be retained when no leader URL is set, got %d", buffered)
	}
}

func TestStop_ClearsState(t *testing.T) {
	svc, _ := newService(t, &mockLeader{}, 100)
	ctx := context.Background()
	if err := svc.CreateRule(ctx, counterRule("r1", "popular"), false); err != nil {
		t.Fatalf("CreateRule: %v", err)
	}

	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	svc.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after Stop")
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.suggestionConfigs) != 0 || len(svc.eventCollectionMap) != 0 {
		t.Error("Stop should clear all maps")
	}
}

func TestWriteEvents_PersistsToLog(t *testing.T) {
	svc, repo := newService(t, &mockLeader{}, 100)
	events := []domana.Event{
		{Name: "e1", UserID: "u1", TimestampUs: 1, EventType: domana.EventClick},
		{Name: "e2", UserID: "u1", TimestampUs: 1, EventType: domana.EventClick},
	}
	if err := svc.WriteEvents(context.Background(), events); err != nil {
		t.Fatalf("WriteEvents: %v", err)
	}
	if len(repo.log) != 2 {
		t.Fatalf("expected 2 logged events, got %d", len(repo.log))
	}
	// Same timestamp and user but different names stay distinct.
	got, err := svc.LastNEvents(context.Background(), "u1", "", "e1", 10)
	if err != nil || len(got) != 1 {
		t.Errorf("expected exactly the e1 event, got %d (%v)", len(got), err)
	}
}
