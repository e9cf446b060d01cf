package analytics

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// QueryFinalizationIntervalUs is how long a user's latest query must sit
// unchanged before compaction treats it as final rather than a live prefix.
const QueryFinalizationIntervalUs = 4 * 1000 * 1000

// userQuery is one buffered raw query of a user.
type userQuery struct {
	query       string
	expanded    string
	timestampUs uint64
	filter      string
	tag         string
}

// QueryAggregator buffers per-user query streams for one destination
// collection and compacts them into counted suggestions.
type QueryAggregator struct {
	k           int
	maxQSize    int
	expandQuery bool
	autoAggregation bool

	userQueries map[string][]userQuery
	localCounts map[string]aggEntry
}

type aggEntry struct {
	query  string
	filter string
	tag    string
	count  uint64
}

// NewQueryAggregator creates an aggregator keeping the top k suggestions.
func NewQueryAggregator(k int, expandQuery, autoAggregation bool) *QueryAggregator {
	return &QueryAggregator{
		k:           k,
		maxQSize:    k * 30,
		expandQuery: expandQuery,
		autoAggregation: autoAggregation,
		userQueries: make(map[string][]userQuery),
		localCounts: make(map[string]aggEntry),
	}
}

// K returns the aggregation top-K.
func (q *QueryAggregator) K() int { return q.k }

// AutoAggregationEnabled reports whether live queries feed this aggregator.
func (q *QueryAggregator) AutoAggregationEnabled() bool { return q.autoAggregation }

// Add buffers one query. Live queries replace the user's still-typing
// prefix; non-live queries append unconditionally.
func (q *QueryAggregator) Add(query, expanded string, liveQuery bool, userID string,
	nowUs uint64, filter, tag string) {
	if len(q.userQueries) >= q.maxQSize && q.userQueries[userID] == nil {
		return
	}
	norm := strings.TrimSpace(strings.ToLower(query))
	if norm == "" {
		return
	}
	stored := norm
	if q.expandQuery {
		stored = strings.TrimSpace(strings.ToLower(expanded))
	}
	entry := userQuery{query: norm, expanded: stored, timestampUs: nowUs, filter: filter, tag: tag}
	queries := q.userQueries[userID]
	if liveQuery && len(queries) > 0 {
		last := queries[len(queries)-1]
		// Still-typing heuristic: the new query extends the previous one.
		if strings.HasPrefix(norm, last.query) || strings.HasPrefix(last.query, norm) {
			queries[len(queries)-1] = entry
			q.userQueries[userID] = queries
			return
		}
	}
	q.userQueries[userID] = append(queries, entry)
}

// CompactUserQueries folds finalized user queries into local counts. A query
// is final when a newer query follows it, or when it has sat unchanged for
// QueryFinalizationIntervalUs.
func (q *QueryAggregator) CompactUserQueries(nowUs uint64) {
	for user, queries := range q.userQueries {
		var remaining []userQuery
		for i, uq := range queries {
			final := i < len(queries)-1 ||
				nowUs-uq.timestampUs >= QueryFinalizationIntervalUs
			if !final {
				remaining = append(remaining, uq)
				continue
			}
			key := uq.expanded + "\x1f" + uq.filter + "\x1f" + uq.tag
			e := q.localCounts[key]
			e.query, e.filter, e.tag = uq.expanded, uq.filter, uq.tag
			e.count++
			q.localCounts[key] = e
		}
		if len(remaining) == 0 {
			delete(q.userQueries, user)
		} else {
			q.userQueries[user] = remaining
		}
	}
}

// ResetLocalCounts clears the aggregated counts after a successful flush.
func (q *QueryAggregator) ResetLocalCounts() {
	q.localCounts = make(map[string]aggEntry)
}

// SerializeAsDocs renders the aggregated counts as an NDJSON import payload
// of increment operations, largest counts first.
func (q *QueryAggregator) SerializeAsDocs() string {
	entries := make([]aggEntry, 0, len(q.localCounts))
	for _, e := range q.localCounts {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].count > entries[j].count })

	var b strings.Builder
	for _, e := range entries {
		doc := map[string]any{
			"id": docIDForQuery(e.query, e.filter, e.tag),
			"q":  e.query,
			"$operations": map[string]any{
				"increment": map[string]any{"count": e.count},
			},
		}
		if e.filter != "" {
			doc["filter_by"] = e.filter
		}
		if e.tag != "" {
			doc["analytics_tag"] = e.tag
		}
		line, err := json.Marshal(doc)
		if err != nil {
			continue
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// docIDForQuery derives a stable suggestion doc id from the query identity.
func docIDForQuery(query, filter, tag string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(query))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.Write([]byte(filter))
	_, _ = h.Write([]byte{0x1f})
	_, _ = h.Write([]byte(tag))
	return fmt.Sprintf("%d", h.Sum64())
}
