package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	searchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnidex",
			Name:      "searches_total",
			Help:      "Total number of search requests by collection",
		},
		[]string{"collection"},
	)

	searchCutoffsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "omnidex",
			Name:      "search_cutoffs_total",
			Help:      "Number of searches that hit the cutoff deadline",
		},
	)

	analyticsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "omnidex",
			Name:      "analytics_events_total",
			Help:      "Analytics events accepted, by event type",
		},
		[]string{"event_type"},
	)
)

// RegisterSearchMetrics registers search pipeline metrics (no init side effects).
func RegisterSearchMetrics() {
	prometheus.MustRegister(searchesTotal)
	prometheus.MustRegister(searchCutoffsTotal)
	prometheus.MustRegister(analyticsEventsTotal)
}

// ObserveSearch increments the per-collection search counter.
func ObserveSearch(collection string) {
	searchesTotal.WithLabelValues(collection).Inc()
}

// ObserveSearchCutoff increments the cutoff counter.
func ObserveSearchCutoff() {
	searchCutoffsTotal.Inc()
}

// ObserveAnalyticsEvent increments the analytics event counter.
func ObserveAnalyticsEvent(eventType string) {
	analyticsEventsTotal.WithLabelValues(eventType).Inc()
}
