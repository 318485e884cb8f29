package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines the counters emitted by the upload pipeline and the repair pass.
type Metrics interface {
	IncUploadsOpened(assetType string)
	IncUploadsCompleted(assetType, outcome string)
	IncUploadsRejected(reason string)
	IncRepairs(status string)
	IncRepairFixes(kind string)
	IncGuardRejected(op, reason string)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncUploadsOpened(string)            {}
func (Noop) IncUploadsCompleted(string, string) {}
func (Noop) IncUploadsRejected(string)          {}
func (Noop) IncRepairs(string)                  {}
func (Noop) IncRepairFixes(string)              {}
func (Noop) IncGuardRejected(string, string)    {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	uploadsOpened    *prometheus.CounterVec
	uploadsCompleted *prometheus.CounterVec
	uploadsRejected  *prometheus.CounterVec
	uploadsPending   prometheus.Gauge
	repairs          *prometheus.CounterVec
	repairFixes      *prometheus.CounterVec
	guardRejected    *prometheus.CounterVec
	once             sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		uploadsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_opened_total",
			Help:      "Upload transactions opened by asset type",
		}, []string{"asset_type"}),
		uploadsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_completed_total",
			Help:      "Upload transactions completed by asset type and outcome",
		}, []string{"asset_type", "outcome"}),
		uploadsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_rejected_total",
			Help:      "Upload requests rejected before a transaction opened",
		}, []string{"reason"}),
		uploadsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uploads_pending",
			Help:      "Upload transactions opened but not yet complete",
		}),
		repairs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_repairs_total",
			Help:      "Inventory repair passes by status",
		}, []string{"status"}),
		repairFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_repair_fixes_total",
			Help:      "Corrective writes made by the repair pass",
		}, []string{"kind"}),
		guardRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_guard_rejected_total",
			Help:      "Tree mutations skipped by a structural or policy guard",
		}, []string{"op", "reason"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.uploadsOpened, p.uploadsCompleted, p.uploadsRejected, p.uploadsPending,
			p.repairs, p.repairFixes, p.guardRejected)
	})
}

func (p *Prom) IncUploadsOpened(assetType string) {
	p.uploadsOpened.WithLabelValues(assetType).Inc()
	p.uploadsPending.Inc()
}

func (p *Prom) IncUploadsCompleted(assetType, outcome string) {
	p.uploadsCompleted.WithLabelValues(assetType, outcome).Inc()
	p.uploadsPending.Dec()
}

func (p *Prom) IncUploadsRejected(reason string) {
	p.uploadsRejected.WithLabelValues(reason).Inc()
}

func (p *Prom) IncRepairs(status string) {
	p.repairs.WithLabelValues(status).Inc()
}

func (p *Prom) IncRepairFixes(kind string) {
	p.repairFixes.WithLabelValues(kind).Inc()
}

func (p *Prom) IncGuardRejected(op, reason string) {
	p.guardRejected.WithLabelValues(op, reason).Inc()
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
