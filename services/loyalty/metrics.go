package loyalty

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_events_processed_total",
		Help: "Events run through the rule engine, by outcome.",
	}, []string{"outcome"})

	pointsAwarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "loyalty_points_awarded_total",
		Help: "Points written as new EARNING rows.",
	})

	ruleSkips = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "loyalty_rule_skips_total",
		Help: "Rules that did not award, by reason.",
	}, []string{"reason"})

	evaluationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loyalty_event_evaluation_seconds",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(eventsProcessed, pointsAwarded, ruleSkips, evaluationSeconds)
}
