// Package services – Prometheus instrumentation for tournament progress.
//
// HTTP traffic metrics live in the middleware package; the collectors here
// count domain events so dashboards can watch a deliberation's health
// (stalled tiers, resolution contention) without scraping the database.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// cellsResolved counts cell resolutions by outcome: "resolved" for the
	// caller that won the completion race, "replay" for callers that found
	// the cell already handled, "deferred" for showdown cells whose tally
	// happens cross-cell.
	cellsResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliberation_cells_resolved_total",
			Help: "Total number of cell resolution attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// tiersAdvanced counts tier transitions by kind ("next_tier",
	// "showdown").
	tiersAdvanced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deliberation_tiers_advanced_total",
			Help: "Total number of tier advancements by kind.",
		},
		[]string{"kind"},
	)

	// championsDeclared counts declared champions.
	championsDeclared = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deliberation_champions_declared_total",
			Help: "Total number of champions declared.",
		},
	)
)

func init() {
	prometheus.MustRegister(cellsResolved, tiersAdvanced, championsDeclared)
}
