// Package metrics exposes Prometheus metrics for rent runs, late fees and
// statement exports. Observe functions are no-ops until Init is called, so
// engines can be used in tests and the CLI without a registry.
package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	metricPrefix = "rent_"

	ResultSuccess    = "success"
	ResultPartial    = "partial"
	ResultError      = "error"
	ResultInProgress = "in_progress"
)

var (
	registerOnce sync.Once

	chargeRuns       *prometheus.CounterVec
	chargeRunLatency *prometheus.HistogramVec
	charges          *prometheus.CounterVec
	lateFees         *prometheus.CounterVec
	reminders        *prometheus.CounterVec
	statementExports *prometheus.CounterVec
)

// Init registers the metrics with the default registry. A non-nil db also
// exports connection pool stats.
func Init(db *sql.DB) {
	registerOnce.Do(func() {
		chargeRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "charge_runs_total",
				Help: "Total charge-all-rent runs by result",
			},
			[]string{"result"},
		)
		chargeRunLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "charge_run_seconds",
				Help:    "Charge-all-rent run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		charges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "charges_total",
				Help: "Per-tenancy rent charge outcomes",
			},
			[]string{"outcome"},
		)
		lateFees = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "late_fees_total",
				Help: "Per-tenancy late fee outcomes",
			},
			[]string{"outcome"},
		)
		reminders = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "late_reminders_total",
				Help: "Late payment reminder outcomes",
			},
			[]string{"outcome"},
		)
		statementExports = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_exports_total",
				Help: "Statement exports by format",
			},
			[]string{"format"},
		)

		prometheus.MustRegister(chargeRuns, chargeRunLatency, charges, lateFees, reminders, statementExports)
		if db != nil {
			prometheus.MustRegister(collectors.NewDBStatsCollector(db, "rent_ledger"))
		}
	})
}

// ObserveChargeRun records one charge-all-rent run.
func ObserveChargeRun(result string, duration time.Duration) {
	if result == "" {
		result = ResultSuccess
	}
	if chargeRuns != nil {
		chargeRuns.WithLabelValues(result).Inc()
	}
	if chargeRunLatency != nil {
		chargeRunLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddCharges adds n tenancies with the given outcome.
func AddCharges(outcome string, n int) {
	if n <= 0 {
		return
	}
	if charges != nil {
		charges.WithLabelValues(outcome).Add(float64(n))
	}
}

// AddLateFees adds n tenancies with the given late fee outcome.
func AddLateFees(outcome string, n int) {
	if n <= 0 {
		return
	}
	if lateFees != nil {
		lateFees.WithLabelValues(outcome).Add(float64(n))
	}
}

// AddReminders adds n late payment reminders with the given outcome.
func AddReminders(outcome string, n int) {
	if n <= 0 {
		return
	}
	if reminders != nil {
		reminders.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncStatementExport counts one statement export.
func IncStatementExport(format string) {
	if format == "" {
		format = "unknown"
	}
	if statementExports != nil {
		statementExports.WithLabelValues(format).Inc()
	}
}
