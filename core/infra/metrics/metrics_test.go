package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestNoopMetrics(t *testing.T) {
	var m Metrics = Noop{}
	m.IncUploadsOpened("texture")
	m.IncUploadsCompleted("texture", "published")
	m.IncUploadsRejected("funds")
	m.IncRepairs("ok")
	m.IncRepairFixes("reparent")
	m.IncGuardRejected("purge", "not_under_trash")
}

func TestPromMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewProm("gridstore")
	m.IncUploadsOpened("texture")
	m.IncUploadsOpened("sound")
	m.IncUploadsCompleted("texture", "published")
	m.IncUploadsRejected("funds")
	m.IncRepairs("ok")
	m.IncRepairFixes("reparent")
	m.IncGuardRejected("purge", "not_under_trash")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	checks := []struct {
		name   string
		labels map[string]string
	}{
		{"gridstore_uploads_opened_total", map[string]string{"asset_type": "texture"}},
		{"gridstore_uploads_completed_total", map[string]string{"asset_type": "texture", "outcome": "published"}},
		{"gridstore_uploads_rejected_total", map[string]string{"reason": "funds"}},
		{"gridstore_inventory_repairs_total", map[string]string{"status": "ok"}},
		{"gridstore_inventory_repair_fixes_total", map[string]string{"kind": "reparent"}},
		{"gridstore_inventory_guard_rejected_total", map[string]string{"op": "purge", "reason": "not_under_trash"}},
	}
	for _, c := range checks {
		if !hasMetric(families, c.name, c.labels) {
			t.Fatalf("expected %s metric", c.name)
		}
	}
	if got := gaugeValue(families, "gridstore_uploads_pending"); got != 1 {
		t.Fatalf("expected one pending upload, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	withTestRegistry(t)
	m := NewProm("gridstore")
	m.IncRepairs("ok")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected metrics output")
	}
}

func gaugeValue(families []*dto.MetricFamily, name string) float64 {
	for _, fam := range families {
		if fam.GetName() == name && len(fam.GetMetric()) > 0 {
			return fam.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return -1
}

func hasMetric(families []*dto.MetricFamily, name string, labels map[string]string) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return true
			}
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, labels map[string]string) bool {
	found := 0
	for _, pair := range pairs {
		if val, ok := labels[pair.GetName()]; ok && pair.GetValue() == val {
			found++
		}
	}
	return found == len(labels)
}
