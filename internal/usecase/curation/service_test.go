package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/omnidex/internal/domain"
	domover "github.com/kailas-cloud/omnidex/internal/domain/override"
)

// --- Mocks ---

type mockStore struct {
	mu   sync.Mutex
	list []domover.Override
}

func (m *mockStore) Save(_ context.Context, _ string, o domover.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.list {
		if existing.ID == o.ID {
			m.list[i] = o
			return nil
		}
	}
	m.list = append(m.list, o)
	return nil
}

func (m *mockStore) Get(_ context.Context, _ string, id string) (domover.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.list {
		if o.ID == id {
			return o, nil
		}
	}
	return domover.Override{}, fmt.Errorf("%w: override %q", domain.ErrNotFound, id)
}

func (m *mockStore) List(_ context.Context, _ string) ([]domover.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domover.Override(nil), m.list...), nil
}

func (m *mockStore) Delete(_ context.Context, _ string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.list[:0]
	for _, o := range m.list {
		if o.ID != id {
			kept = append(kept, o)
		}
	}
	m.list = kept
	return nil
}

func newService(store *mockStore) *Service {
	return New(store, zap.NewNop())
}

func addOverride(t *testing.T, svc *Service, id string, o domover.Override) {
	t.Helper()
	if _, err := svc.Upsert(context.Background(), "c", id, o); err != nil {
		t.Fatalf("Upsert(%s): %v", id, err)
	}
}

// --- Tests ---

func TestUpsert_RequiresPredicate(t *testing.T) {
	svc := newService(&mockStore{})
	_, err := svc.Upsert(context.Background(), "c", "o1", domover.Override{
		Includes: []domover.AddHit{{ID: "a", Position: 1}},
	})
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for override without predicates, got %v", err)
	}
}

func TestProcess_ExactMatch(t *testing.T) {
	svc := newService(&mockStore{})
	addOverride(t, svc, "o1", domover.Override{
		Rule:     domover.Rule{Match: domover.MatchExact, Query: "Red Shoes"},
		Includes: []domover.AddHit{{ID: "a", Position: 1}},
	})

	out, err := svc.Process(context.Background(), "c", "red   shoes", "", "", "", "", 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Includes) != 1 || out.Includes[0].DocID != "a" {
		t.Errorf("expected the include from the exact-match override, got %+v", out.Includes)
	}
}

func TestProcess_ContainsMatch(t *testing.T) {
	svc := newService(&mockStore{})
	addOverride(t, svc, "o1", domover.Override{
		Rule:     domover.Rule{Match: domover.MatchContains, Query: "shoes"},
		Excludes: []domover.DropHit{{ID: "b"}},
	})

	out, err := svc.Process(context.Background(), "c", "red shoes for sale", "", "", "", "", 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Excludes) != 1 || out.Excludes[0] != "b" {
		t.Errorf("expected the exclude from the contains override, got %+v", out.Excludes)
	}
}

func TestProcess_StopProcessingHaltsClass(t *testing.T) {
	svc := newService(&mockStore{})
	addOverride(t, svc, "o1", domover.Override{
		Rule:           domover.Rule{Match: domover.MatchExact, Query: "red"},
		Includes:       []domover.AddHit{{ID: "A", Position: 1}},
		StopProcessing: true,
	})
	addOverride(t, svc, "o2", domover.Override{
		Rule:     domover.Rule{Match: domover.MatchContains, Query: "red"},
		Excludes: []domover.DropHit{{ID: "A"}},
	})

	out, err := svc.Process(context.Background(), "c", "red", "", "", "", "", 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.Includes) != 1 || out.Includes[0].DocID != "A" {
		t.Fatalf("expected A pinned, got %+v", out.Includes)
	}
	if len(out.Excludes) != 0 {
		t.Errorf("the later drop must not run after stop_processing, got %+v", out.Excludes)
	}
}

func TestProcess_TagPrecedence(t *testing.T) {
	svc := newService(&mockStore{})
	addOverride(t, svc, "exact", domover.Override{
		Rule:     domover.Rule{Tags: []string{"summer", "sale"}},
		Includes: []domover.AddHit{{ID: "exact-hit", Position: 1}},
	})
	addOverride(t, svc, "partial", domover.Override{
		Rule:     domover.Rule{Tags: []string{"summer", "extra"}},
		Includes: []domover.AddHit{{ID: "partial-hit", Position: 2}},
	})
	addOverride(t, svc, "untagged", domover.Override{
		Rule:     domover.Rule{Match: domover.MatchContains, Query: "q"},
		Includes: []domover.AddHit{{ID: "untagged-hit", Position: 3}},
	})

	out, err := svc.Process(context.Background(), "c", "q", "", "summer,sale", "", "", 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	ids := map[string]bool{}
	for _, inc := range out.Includes {
		ids[inc.DocID] = true
	}
	if !ids["exact-hit"] || !ids["partial-hit"] {
		t.Errorf("expected exact and partial tag matches, got %+v", out.Includes)
	}
	if ids["untagged-hit"] {
		t.Error("untagged overrides must be skipped when tags are given")
	}
}

func TestProcess_EffectiveWindowInclusive(t *testing.T) {
	svc := newService(&mockStore{})
	addOverride(t, svc, "o1", domover.Override{
		Rule:            domover.Rule{Match: domover.MatchExact, Query: "red"},
		Includes:        []domover.AddHit{{ID: "a", Position: 1}},
		EffectiveFromTs: 1000,
		EffectiveToTs:   2000,
	})

	for _, tc := range []struct {
		now  int64
		want bool
	}{
		{999, false}, {1000, true}, {1500, true}, {2000, true}, {2001, false},
	} {
		out, err := svc.Process(context.Background(), "c", "red", "", "", "", "", tc.now)
		if err != nil {
			t.Fatalf("Process(%d): %v", tc.now, err)
		}
		got := len(out.Includes) > 0
		if got != tc.want {
			t.Errorf("now=%d: expected active=%v, got %v", tc.now, tc.want, got)
		}
	}
}

func TestProcess_RemoveMatchedTokensSuppressedByDynamicFilter(t *testing.T) {
	svc := newService(&mockStore{})
	addOverride(t, svc, "o1", domover.Override{
		Rule:                domover.Rule{Match: domover.MatchContains, Query: "cheap"},
		FilterBy:            "price:<50",
		RemoveMatchedTokens: true,
	})

	out, err := svc.Process(context.Background(), "c", "cheap shoes", "", "", "", "", 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(out.RemoveMatchedTokens) != 0 {
		t.Error("remove_matched_tokens must be suppressed when filter_by is present")
	}
	if len(out.FilterBy) != 1 {
		t.Errorf("expected the dynamic filter, got %+v", out.FilterBy)
	}
}

func TestRoundTrip_AddListRemove(t *testing.T) {
	store := &mockStore{}
	svc := newService(store)
	addOverride(t, svc, "o1", domover.Override{
		Rule:     domover.Rule{Match: domover.MatchExact, Query: "x"},
		Includes: []domover.AddHit{{ID: "a", Position: 1}},
	})
	list, err := svc.List(context.Background(), "c")
	if err != nil || len(list) != 1 {
		t.Fatalf("List: %v (%d entries)", err, len(list))
	}
	if err := svc.Delete(context.Background(), "c", "o1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	list, err = svc.List(context.Background(), "c")
	if err != nil || len(list) != 0 {
		t.Errorf("expected empty list after delete, got %d entries (%v)", len(list), err)
	}
}
