package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/venkytv/calendar-sync/internal/models"
)

func TestRecordSyncReport(t *testing.T) {
	start := time.Date(2024, 6, 15, 9, 0, 0, 0, time.UTC)

	beforeOK := testutil.ToFloat64(syncRuns.WithLabelValues("cron", "success"))
	beforeErr := testutil.ToFloat64(syncRuns.WithLabelValues("cron", "error"))
	beforeCreated := testutil.ToFloat64(eventActions.WithLabelValues("created"))

	RecordSyncReport(&models.SyncReport{
		Trigger:    "cron",
		Created:    3,
		StartedAt:  start,
		FinishedAt: start.Add(2 * time.Second),
	})
	RecordSyncReport(&models.SyncReport{Trigger: "cron", Error: "token refresh failed"})

	if got := testutil.ToFloat64(syncRuns.WithLabelValues("cron", "success")) - beforeOK; got != 1 {
		t.Errorf("Expected one successful run, got %v", got)
	}
	if got := testutil.ToFloat64(syncRuns.WithLabelValues("cron", "error")) - beforeErr; got != 1 {
		t.Errorf("Expected one failed run, got %v", got)
	}
	if got := testutil.ToFloat64(eventActions.WithLabelValues("created")) - beforeCreated; got != 3 {
		t.Errorf("Expected 3 created events, got %v", got)
	}
	if got := testutil.ToFloat64(lastSuccess); got != float64(start.Add(2*time.Second).Unix()) {
		t.Errorf("Expected success watermark at finish time, got %v", got)
	}
}

func TestRecordWebhook(t *testing.T) {
	tests := []struct {
		state  string
		status int
		label  string
		class  string
	}{
		{state: "exists", status: 200, label: "exists", class: "2xx"},
		{state: "", status: 400, label: "none", class: "4xx"},
		{state: "not_exists", status: 503, label: "not_exists", class: "5xx"},
	}

	for _, tt := range tests {
		before := testutil.ToFloat64(webhookResponses.WithLabelValues(tt.label, tt.class))
		RecordWebhook(tt.state, tt.status)
		after := testutil.ToFloat64(webhookResponses.WithLabelValues(tt.label, tt.class))
		if after-before != 1 {
			t.Errorf("RecordWebhook(%q, %d) did not count under %s/%s", tt.state, tt.status, tt.label, tt.class)
		}
	}
}
