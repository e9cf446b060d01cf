package analytics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	domana "github.com/kailas-cloud/omnidex/internal/domain/analytics"
)

// maxBufferedEventsPerCollection caps the retained event backlog when no
// leader URL is available; the oldest events are dropped past it.
const maxBufferedEventsPerCollection = 10000

// Run is the aggregator's background loop: a single cooperative task that
// waits on the condition variable with the compaction-interval timeout and
// flushes once per flush interval. Stop wakes and terminates it.
func (s *Service) Run(ctx context.Context) {
	s.mu.Lock()
	s.lastFlush = time.Now()
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if !s.quit {
			waitWithTimeout(s.cond, QueryCompactionIntervalS*time.Second)
		}
		if s.quit {
			s.mu.Unlock()
			break
		}
		if time.Since(s.lastFlush) < s.flushInterval {
			s.mu.Unlock()
			continue
		}
		s.flushLocked(ctx)
		s.lastFlush = time.Now()
		s.mu.Unlock()
	}
	s.dispose()
}

// Stop wakes the loop; Run then releases all aggregators and clears all maps
// before it returns.
func (s *Service) Stop() {
	s.mu.Lock()
	s.quit = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Flush forces an immediate flush (admin trigger and tests).
func (s *Service) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked(ctx)
	s.lastFlush = time.Now()
}

// flushLocked runs the three flush phases in order: popular/no-hit
// aggregations, buffered log events, counter documents. The caller holds
// the mutex.
func (s *Service) flushLocked(ctx context.Context) {
	s.flushQueryAggregations(ctx)
	s.flushLogEvents(ctx)
	s.flushCounterDocs(ctx)
}

// flushQueryAggregations compacts and ships popular/no-hit query counts as
// emplace imports, then truncates the destination to its top K when this
// node leads.
func (s *Service) flushQueryAggregations(ctx context.Context) {
	ship := func(agg *domana.QueryAggregator, dest, kind string) {
		nowUs := uint64(time.Now().UnixMicro()) //nolint:gosec // epoch micros
		agg.CompactUserQueries(nowUs)
		payload := agg.SerializeAsDocs()
		if payload == "" {
			return
		}
		leaderURL := s.leader.LeaderURL()
		if leaderURL == "" {
			// No leader to forward to: counts are retained for the next
			// flush rather than dropped or cleared.
			s.logger.Warn("no leader URL; retaining query aggregation",
				zap.String("destination", dest), zap.String("kind", kind))
			return
		}
		if err := s.leader.ImportDocs(ctx, leaderURL, dest, "emplace", payload); err != nil {
			s.logger.Error("error while sending query aggregation to leader",
				zap.String("destination", dest), zap.String("kind", kind), zap.Error(err))
			return
		}
		s.logger.Info("query aggregation flushed", zap.String("destination", dest),
			zap.String("kind", kind))
		agg.ResetLocalCounts()

		if s.leader.IsLeader() {
			if err := s.leader.TruncateTopK(ctx, leaderURL, dest, "count", agg.K()); err != nil {
				s.logger.Error("error while running top K truncation",
					zap.String("destination", dest), zap.Error(err))
			}
		}
	}

	for dest, agg := range s.popularQueries {
		ship(agg, dest, "popular queries")
	}
	for dest, agg := range s.nohitsQueries {
		ship(agg, dest, "nohits queries")
	}
}

// flushLogEvents ships buffered log events and clears each collection's
// buffer after a successful POST.
func (s *Service) flushLogEvents(ctx context.Context) {
	leaderURL := s.leader.LeaderURL()
	for coll, events := range s.queryCollectionEvents {
		if len(events) == 0 {
			continue
		}
		var payload []domana.Event
		for _, ev := range events {
			if ev.LogToStore {
				ev.Collection = coll
				payload = append(payload, ev)
			}
		}
		if len(payload) == 0 {
			s.queryCollectionEvents[coll] = nil
			continue
		}
		if leaderURL == "" {
			// Retained for the next flush; bounded so an absent leader
			// cannot grow the buffer without limit.
			if len(events) > maxBufferedEventsPerCollection {
				s.queryCollectionEvents[coll] = events[len(events)-maxBufferedEventsPerCollection:]
			}
			continue
		}
		data, err := json.Marshal(payload)
		if err != nil {
			s.logger.Error("marshal log events", zap.Error(err))
			continue
		}
		if err := s.leader.AggregateEvents(ctx, leaderURL, data); err != nil {
			s.logger.Error("error while sending log events to leader",
				zap.String("collection", coll), zap.Error(err))
			continue
		}
		s.queryCollectionEvents[coll] = nil
	}
}

// flushCounterDocs ships counter documents as update imports and clears the
// counts.
func (s *Service) flushCounterDocs(ctx context.Context) {
	leaderURL := s.leader.LeaderURL()
	if leaderURL == "" {
		return
	}
	for coll, cs := range s.counterEvents {
		if len(cs.DocCounts) == 0 {
			continue
		}
		payload := serializeCounterDocs(cs)
		if err := s.leader.ImportDocs(ctx, leaderURL, coll, "update", payload); err != nil {
			s.logger.Error("error while sending counter events to leader",
				zap.String("collection", coll), zap.Error(err))
			continue
		}
		cs.DocCounts = make(map[string]uint64)
	}
}

// serializeCounterDocs renders counter state as an NDJSON update payload.
func serializeCounterDocs(cs *domana.CounterState) string {
	out := ""
	for docID, count := range cs.DocCounts {
		line, err := json.Marshal(map[string]any{
			"id": docID,
			"$operations": map[string]any{
				"increment": map[string]any{cs.CounterField: count},
			},
		})
		if err != nil {
			continue
		}
		out += string(line) + "\n"
	}
	return out
}

// dispose releases every aggregator and clears all maps.
func (s *Service) dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.popularQueries = make(map[string]*domana.QueryAggregator)
	s.nohitsQueries = make(map[string]*domana.QueryAggregator)
	s.suggestionConfigs = make(map[string]domana.Rule)
	s.queryCollectionMapping = make(map[string][]string)
	s.counterEvents = make(map[string]*domana.CounterState)
	s.queryCollectionEvents = make(map[string][]domana.Event)
	s.eventCollectionMap = make(map[string]domana.EventRoute)
	s.limiter.clear()
}

// waitWithTimeout emulates a timed condition-variable wait: a helper
// goroutine broadcasts after the timeout unless the cond fires first.
func waitWithTimeout(cond *sync.Cond, d time.Duration) {
	done := make(chan struct{})
	go func() {
		select {
		case <-time.After(d):
			cond.Broadcast()
		case <-done:
		}
	}()
	cond.Wait()
	close(done)
}
