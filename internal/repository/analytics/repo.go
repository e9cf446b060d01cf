// Package analytics persists analytics rules and the event log.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	domana "github.com/kailas-cloud/omnidex/internal/domain/analytics"

	"github.com/kailas-cloud/omnidex/internal/domain"
	"github.com/kailas-cloud/omnidex/internal/store"
)

// Repo stores rules under $AR_<name> and events under
// userid%event%serialized(ts).
type Repo struct {
	kv store.KV
}

// New creates the repository.
func New(kv store.KV) *Repo {
	return &Repo{kv: kv}
}

// SaveRule persists an analytics rule.
func (r *Repo) SaveRule(ctx context.Context, rule domana.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("%w: marshal analytics rule: %v", domain.ErrInternal, err)
	}
	if err := r.kv.Set(ctx, store.AnalyticsRuleKey(rule.Name), data); err != nil {
		return fmt.Errorf("%w: persist analytics rule: %v", domain.ErrInternal, err)
	}
	return nil
}

// GetRule loads one rule.
func (r *Repo) GetRule(ctx context.Context, name string) (domana.Rule, error) {
	data, err := r.kv.Get(ctx, store.AnalyticsRuleKey(name))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return domana.Rule{}, fmt.Errorf("%w: analytics rule %q", domain.ErrNotFound, name)
		}
		return domana.Rule{}, fmt.Errorf("%w: load analytics rule: %v", domain.ErrInternal, err)
	}
	var rule domana.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return domana.Rule{}, fmt.Errorf("%w: parse analytics rule: %v", domain.ErrInternal, err)
	}
	return rule, nil
}

// ListRules loads every persisted rule.
func (r *Repo) ListRules(ctx context.Context) ([]domana.Rule, error) {
	var out []domana.Rule
	var parseErr error
	err := r.kv.ScanPrefix(ctx, store.AnalyticsRulePrefix, func(e store.Entry) bool {
		var rule domana.Rule
		if err := json.Unmarshal(e.Value, &rule); err != nil {
			parseErr = fmt.Errorf("%w: parse analytics rule at %s: %v", domain.ErrInternal, e.Key, err)
			return false
		}
		out = append(out, rule)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan analytics rules: %v", domain.ErrInternal, err)
	}
	if parseErr != nil {
		return nil, parseErr
	}
	return out, nil
}

// DeleteRule removes a rule.
func (r *Repo) DeleteRule(ctx context.Context, name string) error {
	if err := r.kv.Delete(ctx, store.AnalyticsRuleKey(name)); err != nil {
		return fmt.Errorf("%w: delete analytics rule: %v", domain.ErrInternal, err)
	}
	return nil
}

// LogEvent appends an event to the analytics store. The % separators are
// structural, so % is stripped from the user id by the key builder.
func (r *Repo) LogEvent(ctx context.Context, e domana.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: marshal analytics event: %v", domain.ErrInternal, err)
	}
	key := store.AnalyticsEventKey(e.UserID, e.Name, e.TimestampUs)
	if err := r.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("%w: persist analytics event: %v", domain.ErrInternal, err)
	}
	return nil
}

// LastNEvents returns up to n most recent logged events of a user+event
// name, newest first, deduplicated by user, event name and timestamp.
func (r *Repo) LastNEvents(ctx context.Context, userID, collection, eventName string,
	n int) ([]domana.Event, error) {
	prefix := store.AnalyticsEventKey(userID, eventName, 0)
	prefix = prefix[:len(prefix)-8]

	var events []domana.Event
	err := r.kv.ScanPrefix(ctx, prefix, func(e store.Entry) bool {
		var ev domana.Event
		if err := json.Unmarshal(e.Value, &ev); err != nil {
			return true
		}
		if collection != "" && ev.Collection != "" && ev.Collection != collection {
			return true
		}
		events = append(events, ev)
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan analytics events: %v", domain.ErrInternal, err)
	}

	seen := map[string]bool{}
	var out []domana.Event
	for i := len(events) - 1; i >= 0 && len(out) < n; i-- {
		key := events[i].DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, events[i])
	}
	return out, nil
}
