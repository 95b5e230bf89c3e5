// Package metrics exports service and inventory metrics to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portioncore/pkg/domain"
)

const namespace = "portioncore"

// Recorder implements core.MetricsRecorder on a private registry and carries
// per-location inventory gauges.
type Recorder struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec

	wholeUnits     *prometheus.GaugeVec
	portions       *prometheus.GaugeVec
	reserved       *prometheus.GaugeVec
	valueOnHand    *prometheus.GaugeVec
	wastePercent   *prometheus.GaugeVec
	efficiency     *prometheus.GaugeVec
	qualityAverage *prometheus.GaugeVec
	nearExpiry     *prometheus.GaugeVec
	activeAlerts   *prometheus.GaugeVec
	stockouts      *prometheus.GaugeVec
}

// NewRecorder builds a recorder with its own registry.
func NewRecorder() *Recorder {
	location := []string{"location"}
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "inventory", Name: name, Help: help}, location)
	}
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"operation"}),
		wholeUnits:     gauge("whole_units", "Whole units on hand."),
		portions:       gauge("portions_available", "Portions on hand."),
		reserved:       gauge("portions_reserved", "Portions held by reservations."),
		valueOnHand:    gauge("value_on_hand", "Inventory value at base cost."),
		wastePercent:   gauge("waste_percent", "Waste as a percentage of original portions."),
		efficiency:     gauge("conversion_efficiency", "Share of converted value kept after waste."),
		qualityAverage: gauge("quality_average", "Average quality score of active stock, 5 is excellent."),
		nearExpiry:     gauge("near_expiry_stocks", "Active stocks inside the expiry warning window."),
		activeAlerts:   gauge("active_alerts", "Unresolved alerts."),
		stockouts:      gauge("stockout_events", "Consumptions that emptied a stock in the last day."),
	}
	r.registry.MustRegister(
		r.operations, r.latency,
		r.wholeUnits, r.portions, r.reserved, r.valueOnHand, r.wastePercent,
		r.efficiency, r.qualityAverage, r.nearExpiry, r.activeAlerts, r.stockouts,
	)
	return r
}

// Observe implements core.MetricsRecorder.
func (r *Recorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.operations.WithLabelValues(operation, status).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveInventory publishes a metrics snapshot as gauges. An empty location
// is labelled "all".
func (r *Recorder) ObserveInventory(m domain.FractionalInventoryMetrics) {
	loc := m.LocationID
	if loc == "" {
		loc = "all"
	}
	r.wholeUnits.WithLabelValues(loc).Set(float64(m.TotalWholeUnits))
	r.portions.WithLabelValues(loc).Set(float64(m.TotalPortionsAvailable))
	r.reserved.WithLabelValues(loc).Set(float64(m.TotalReservedPortions))
	r.valueOnHand.WithLabelValues(loc).Set(m.TotalValueOnHand.InexactFloat64())
	r.wastePercent.WithLabelValues(loc).Set(m.WastePercentage.InexactFloat64())
	r.efficiency.WithLabelValues(loc).Set(m.ConversionEfficiency)
	r.qualityAverage.WithLabelValues(loc).Set(m.AverageQualityGrade)
	r.nearExpiry.WithLabelValues(loc).Set(float64(m.ItemsNearExpiry))
	r.activeAlerts.WithLabelValues(loc).Set(float64(len(m.ActiveAlerts)))
	r.stockouts.WithLabelValues(loc).Set(float64(m.StockoutEvents))
}

// RegisterCounterFunc exposes a monotonically increasing value read at
// scrape time, such as alert evaluation failures.
func (r *Recorder) RegisterCounterFunc(name, help string, fn func() float64) error {
	return r.registry.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
