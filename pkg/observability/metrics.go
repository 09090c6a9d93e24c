// Package observability holds the Prometheus metrics of the sync service
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/venkytv/calendar-sync/internal/models"
)

const namespace = "calendar_sync"

var (
	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "total",
		Help:      "Owner reconciliation runs by trigger and outcome.",
	}, []string{"trigger", "outcome"})

	syncDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "duration_seconds",
		Help:      "Wall time of one owner reconciliation run.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 60},
	}, []string{"trigger"})

	eventActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "actions_total",
		Help:      "Per-event reconciliation outcomes.",
	}, []string{"action"})

	webhookResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "responses_total",
		Help:      "Webhook notifications by resource state and HTTP status.",
	}, []string{"state", "status"})

	tokenRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tokens",
		Name:      "refreshes_total",
		Help:      "Access token lookups by outcome.",
	}, []string{"outcome"})

	pushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "push",
		Name:      "workouts_total",
		Help:      "Outbound workout pushes by action.",
	}, []string{"action"})

	lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "runs",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful owner run.",
	})
)

func init() {
	prometheus.MustRegister(syncRuns, syncDuration, eventActions, webhookResponses, tokenRefreshes, pushes, lastSuccess)
}

// RecordSyncReport counts one finished owner run
func RecordSyncReport(report *models.SyncReport) {
	outcome := "success"
	if report.Error != "" {
		outcome = "error"
	}
	syncRuns.WithLabelValues(report.Trigger, outcome).Inc()
	if !report.StartedAt.IsZero() && !report.FinishedAt.IsZero() {
		syncDuration.WithLabelValues(report.Trigger).Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	}

	eventActions.WithLabelValues("created").Add(float64(report.Created))
	eventActions.WithLabelValues("updated").Add(float64(report.Updated))
	eventActions.WithLabelValues("deleted").Add(float64(report.Deleted))
	eventActions.WithLabelValues("skipped").Add(float64(report.Skipped))
	eventActions.WithLabelValues("failed").Add(float64(report.Failed))

	if outcome == "success" {
		RecordLastSuccess(report.FinishedAt)
	}
}

// RecordLastSuccess updates the success watermark gauge
func RecordLastSuccess(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSuccess.Set(float64(ts.Unix()))
}

// RecordWebhook counts a webhook response
func RecordWebhook(state string, status int) {
	if state == "" {
		state = "none"
	}
	webhookResponses.WithLabelValues(state, statusClass(status)).Inc()
}

// RecordTokenOutcome counts a token lookup: ok, not_connected, reauth or transient
func RecordTokenOutcome(outcome string) {
	tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordPush counts an outbound push
func RecordPush(action string) {
	pushes.WithLabelValues(action).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
