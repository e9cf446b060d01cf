package analytics

import "container/list"

// rateLimitWindowS is the sliding rate-limit window in seconds.
const rateLimitWindowS = 60

// eventsCacheCapacity bounds the per-client-IP rate records.
const eventsCacheCapacity = 1024

// rateRecord tracks one client IP's event count inside the current window.
type rateRecord struct {
	ip             string
	lastUpdateTime int64
	count          uint32
}

// rateLimiter is a fixed-capacity LRU of per-IP rate records.
type rateLimiter struct {
	capacity int
	limit    uint32
	order    *list.List
	entries  map[string]*list.Element
	enabled  bool
}

func newRateLimiter(limit uint32) *rateLimiter {
	return &rateLimiter{
		capacity: eventsCacheCapacity,
		limit:    limit,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		enabled:  true,
	}
}

// allow records one event for the IP and reports whether it is inside the
// per-minute budget. Counts reset once the window rolls over.
func (r *rateLimiter) allow(ip string, nowS int64) bool {
	if !r.enabled {
		return true
	}
	if el, ok := r.entries[ip]; ok {
		rec := el.Value.(*rateRecord)
		r.order.MoveToFront(el)
		if nowS-rec.lastUpdateTime < rateLimitWindowS {
			if rec.count >= r.limit {
				return false
			}
			rec.count++
			return true
		}
		rec.lastUpdateTime = nowS
		rec.count = 1
		return true
	}
	if r.order.Len() >= r.capacity {
		oldest := r.order.Back()
		if oldest != nil {
			r.order.Remove(oldest)
			delete(r.entries, oldest.Value.(*rateRecord).ip)
		}
	}
	r.entries[ip] = r.order.PushFront(&rateRecord{ip: ip, lastUpdateTime: nowS, count: 1})
	return true
}

func (r *rateLimiter) clear() {
	r.order.Init()
	r.entries = make(map[string]*list.Element)
}
