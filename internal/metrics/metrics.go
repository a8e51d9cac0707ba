package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Grant outcomes used as label values.
const (
	OutcomeGranted     = "granted"
	OutcomeWithheld    = "withheld"
	OutcomeRateLimited = "rate_limited"
	OutcomeBlocked     = "blocked"
	OutcomeInvalid     = "invalid"
	OutcomeError       = "error"
)

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	gatherer prometheus.Gatherer

	grants            *prometheus.CounterVec
	withheld          *prometheus.CounterVec
	grantedXP         prometheus.Counter
	anomalyScore      prometheus.Histogram
	mergeConflicts    prometheus.Counter
	storeFailures     *prometheus.CounterVec
	reconciledActors  prometheus.Counter
	leaderboardRepair prometheus.Counter
}

// New registers the collectors on reg. Recording methods are no-ops on a nil
// *Metrics.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		grants: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_grant_requests_total",
				Help: "XP grant requests by outcome",
			},
			[]string{"outcome"},
		),
		withheld: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_grant_withheld_total",
				Help: "Withheld XP grants by reason",
			},
			[]string{"reason"},
		),
		grantedXP: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xp_granted_points_total",
				Help: "Total XP granted",
			},
		),
		anomalyScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xp_anomaly_score",
				Help:    "Anomaly scores computed for grant requests",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),
		mergeConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xp_leaderboard_merge_conflicts_total",
				Help: "Leaderboard writes rejected because of a stale version",
			},
		),
		storeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xp_store_failures_total",
				Help: "Best-effort storage failures that were logged and swallowed",
			},
			[]string{"store"},
		),
		reconciledActors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xp_reconciled_actors_total",
				Help: "Actors checked by the reconciler",
			},
		),
		leaderboardRepair: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xp_leaderboard_repairs_total",
				Help: "Leaderboard documents corrected toward the points aggregate",
			},
		),
	}
}

func (m *Metrics) ObserveGrant(outcome string) {
	if m == nil {
		return
	}
	m.grants.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveWithheld(reason string) {
	if m == nil {
		return
	}
	m.withheld.WithLabelValues(reason).Inc()
}

func (m *Metrics) AddGrantedXP(xp int) {
	if m == nil {
		return
	}
	m.grantedXP.Add(float64(xp))
}

func (m *Metrics) ObserveAnomalyScore(score int) {
	if m == nil {
		return
	}
	m.anomalyScore.Observe(float64(score))
}

func (m *Metrics) IncMergeConflict() {
	if m == nil {
		return
	}
	m.mergeConflicts.Inc()
}

func (m *Metrics) IncStoreFailure(store string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(store).Inc()
}

func (m *Metrics) IncReconciled() {
	if m == nil {
		return
	}
	m.reconciledActors.Inc()
}

func (m *Metrics) IncLeaderboardRepair() {
	if m == nil {
		return
	}
	m.leaderboardRepair.Inc()
}

// GrantCount returns the counter for an outcome, for tests.
func (m *Metrics) GrantCount(outcome string) prometheus.Counter {
	return m.grants.WithLabelValues(outcome)
}

// StoreFailureCount returns the failure counter of a store, for tests.
func (m *Metrics) StoreFailureCount(store string) prometheus.Counter {
	return m.storeFailures.WithLabelValues(store)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
