package analytics

import "strconv"

// Event is one buffered analytics event awaiting flush.
type Event struct {
	Query       string              `json:"query,omitempty"`
	EventType   string              `json:"event_type"`
	TimestampUs uint64              `json:"timestamp"`
	UserID      string              `json:"user_id"`
	DocID       string              `json:"doc_id,omitempty"`
	DocIDs      []string            `json:"doc_ids,omitempty"`
	Name        string              `json:"name"`
	Data        map[string]string   `json:"data,omitempty"`
	LogToStore  bool                `json:"-"`
	Collection  string              `json:"collection,omitempty"`
}

// Clone returns a deep copy; self-assignment of the source's copy operator
// was undefined, so copying here is always total.
func (e Event) Clone() Event {
	out := e
	out.DocIDs = append([]string(nil), e.DocIDs...)
	if e.Data != nil {
		out.Data = make(map[string]string, len(e.Data))
		for k, v := range e.Data {
			out.Data[k] = v
		}
	}
	return out
}

// DedupKey identifies an event for get_last_N_events deduplication. The
// event name participates so same-timestamp events of different names
// never collide.
func (e Event) DedupKey() string {
	return e.UserID + "%" + e.Name + "%" + strconv.FormatUint(e.TimestampUs, 10)
}

// EventRoute is the runtime routing entry of one event name.
type EventRoute struct {
	EventType             string
	DestinationCollection string
	SrcCollections        []string
	LogToStore            bool
	RuleName              string
}

// CounterState accumulates weighted per-document counts for one
// destination collection.
type CounterState struct {
	CounterField string
	DocCounts    map[string]uint64
	EventWeights map[string]uint16
}

// Increment applies the event's weight to the given doc ids.
func (c *CounterState) Increment(eventName, docID string, docIDs []string) bool {
	w, ok := c.EventWeights[eventName]
	if !ok {
		return false
	}
	if len(docIDs) > 0 {
		for _, id := range docIDs {
			c.DocCounts[id] += uint64(w)
		}
		return true
	}
	c.DocCounts[docID] += uint64(w)
	return true
}
