package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_RecordPoolCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordPoolCounts(4, 2)

	if got := testutil.ToFloat64(c.available); got != 4 {
		t.Errorf("credman_available = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.leased); got != 2 {
		t.Errorf("credman_leased = %v, want 2", got)
	}
}

func TestCollector_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordProvisioned(4)
	c.RecordAssign()
	c.RecordAssign()
	c.RecordRecycle()
	c.RecordReplaceFailure("assign")

	if got := testutil.ToFloat64(c.provisioned); got != 4 {
		t.Errorf("credman_provisioned_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.assigns); got != 2 {
		t.Errorf("credman_assign_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.recycles); got != 1 {
		t.Errorf("credman_recycle_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.replaceFailure.WithLabelValues("assign")); got != 1 {
		t.Errorf("credman_replace_failure_total{operation=assign} = %v, want 1", got)
	}
}

func TestCollector_RecordExpiryCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordExpiryCounts("provider", 3, 1)
	c.RecordExpiryCounts("client", 2, 0)

	if got := testutil.ToFloat64(c.nearExpiry.WithLabelValues("provider")); got != 3 {
		t.Errorf("credman_near_expiry{clock=provider} = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.overdue.WithLabelValues("provider")); got != 1 {
		t.Errorf("credman_overdue{clock=provider} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.nearExpiry.WithLabelValues("client")); got != 2 {
		t.Errorf("credman_near_expiry{clock=client} = %v, want 2", got)
	}
}

func TestSetupMetricsRoute_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordStoreLatency("GET /credentials", 50*time.Millisecond)

	handler := SetupMetricsRoute(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "credman_store_latency_seconds") {
		t.Error("メトリクス出力にcredman_store_latency_secondsが含まれるべき")
	}
}
