package analytics

import (
	"strings"
	"testing"
)

func TestQueryAggregator_CompactCountsFinalizedQueries(t *testing.T) {
	agg := NewQueryAggregator(10, false, true)
	now := uint64(1_000_000_000)

	agg.Add("red sh", "red sh", true, "u1", now, "", "")
	// The live query extends the prefix: it replaces, not appends.
	agg.Add("red shoes", "red shoes", true, "u1", now+1000, "", "")

	// Not final yet: still inside the settle window with no follow-up.
	agg.CompactUserQueries(now + 2000)
	if payload := agg.SerializeAsDocs(); payload != "" {
		t.Fatalf("expected no finalized queries yet, got %q", payload)
	}

	// Past the settle window (measured from the last query at now+1000) the
	// query counts.
	agg.CompactUserQueries(now + 1000 + QueryFinalizationIntervalUs + 1)
	payload := agg.SerializeAsDocs()
	if !strings.Contains(payload, `"q":"red shoes"`) {
		t.Errorf("expected the finalized query, got %q", payload)
	}
	if strings.Contains(payload, "red sh\"") {
		t.Errorf("the replaced prefix must not be counted: %q", payload)
	}
}

func TestQueryAggregator_FollowUpFinalizesPrevious(t *testing.T) {
	agg := NewQueryAggregator(10, false, true)
	now := uint64(1_000_000_000)
	agg.Add("first", "first", false, "u1", now, "", "")
	agg.Add("second", "second", false, "u1", now+1000, "", "")

	agg.CompactUserQueries(now + 2000)
	payload := agg.SerializeAsDocs()
	if !strings.Contains(payload, `"q":"first"`) {
		t.Errorf("a followed-up query is final, got %q", payload)
	}
	if strings.Contains(payload, `"q":"second"`) {
		t.Errorf("the trailing query is still pending, got %q", payload)
	}
}

func TestQueryAggregator_CountsAggregate(t *testing.T) {
	agg := NewQueryAggregator(10, false, true)
	now := uint64(1_000_000_000)
	for _, user := range []string{"u1", "u2", "u3"} {
		agg.Add("popular query", "popular query", false, user, now, "", "")
	}
	agg.CompactUserQueries(now + QueryFinalizationIntervalUs + 1)
	payload := agg.SerializeAsDocs()
	if !strings.Contains(payload, `"count":3`) {
		t.Errorf("expected aggregated count 3, got %q", payload)
	}
}

func TestQueryAggregator_ResetLocalCounts(t *testing.T) {
	agg := NewQueryAggregator(10, false, true)
	agg.Add("q", "q", false, "u1", 0, "", "")
	agg.CompactUserQueries(QueryFinalizationIntervalUs + 1)
	if agg.SerializeAsDocs() == "" {
		t.Fatal("expected serialized docs before reset")
	}
	agg.ResetLocalCounts()
	if agg.SerializeAsDocs() != "" {
		t.Error("expected no docs after reset")
	}
}

func TestEvent_CloneIsDeep(t *testing.T) {
	e := Event{
		Name:   "click",
		UserID: "u",
		DocIDs: []string{"a"},
		Data:   map[string]string{"k": "v"},
	}
	c := e.Clone()
	c.DocIDs[0] = "changed"
	c.Data["k"] = "changed"
	if e.DocIDs[0] != "a" || e.Data["k"] != "v" {
		t.Error("Clone must not share backing storage")
	}
}

func TestEvent_DedupKeyIncludesName(t *testing.T) {
	a := Event{Name: "click", UserID: "u", TimestampUs: 7}
	b := Event{Name: "visit", UserID: "u", TimestampUs: 7}
	if a.DedupKey() == b.DedupKey() {
		t.Error("events with the same user and timestamp but different names must not collide")
	}
}

func TestRule_Validate(t *testing.T) {
	rule := Rule{
		Name: "r",
		Type: TypeCounter,
		Params: RuleParams{
			Source:      RuleSource{Collections: []string{"c"}},
			Destination: RuleDestination{Collection: "d"},
		},
	}
	if err := rule.Validate(); err == nil {
		t.Error("counter rules without counter_field and events must fail validation")
	}
	rule.Params.Destination.CounterField = "clicks"
	rule.Params.Source.Events = []RuleEvent{{Name: "e", Type: EventClick, Weight: 1}}
	if err := rule.Validate(); err != nil {
		t.Errorf("valid counter rule rejected: %v", err)
	}
}
