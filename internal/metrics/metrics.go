// Package metrics exposes Prometheus instrumentation for the zone engine and
// the editor transport.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zonestack/server/internal/zones"
)

// Collector bundles the zonestack metrics. It implements zones.Observer so a
// Fitter can report outcomes without importing Prometheus.
type Collector struct {
	gatherer prometheus.Gatherer

	FitOutcomes    *prometheus.CounterVec
	FitIterations  *prometheus.HistogramVec
	ResizeSteps    *prometheus.CounterVec
	ActiveSessions prometheus.Gauge
	CacheLookups   *prometheus.CounterVec
	Operations     *prometheus.HistogramVec
}

var _ zones.Observer = (*Collector)(nil)

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice on the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zonestack_fit_total",
		Help: "Fitter calls by operation and outcome (ok or failure reason).",
	}, []string{"op", "outcome"}), "zonestack_fit_total")
	if err != nil {
		return nil, err
	}

	iterations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zonestack_fit_iterations",
		Help:    "Scale candidates tried per fitter call.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 40, 50},
	}, []string{"op"}), "zonestack_fit_iterations")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zonestack_resize_steps_total",
		Help: "Interactive resize steps by result (accepted or rejected).",
	}, []string{"result"}), "zonestack_resize_steps_total")
	if err != nil {
		return nil, err
	}

	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "zonestack_resize_sessions_active",
		Help: "Interactive resize sessions currently in progress.",
	}), "zonestack_resize_sessions_active")
	if err != nil {
		return nil, err
	}

	cache, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "zonestack_cache_lookups_total",
		Help: "Stack cache lookups by result (hit, miss or error).",
	}, []string{"result"}), "zonestack_cache_lookups_total")
	if err != nil {
		return nil, err
	}

	operations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zonestack_ws_operation_seconds",
		Help:    "Time spent handling editor WebSocket messages by type.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, 1},
	}, []string{"type"}), "zonestack_ws_operation_seconds")
	if err != nil {
		return nil, err
	}

	return &Collector{
		gatherer:       gatherer,
		FitOutcomes:    outcomes,
		FitIterations:  iterations,
		ResizeSteps:    steps,
		ActiveSessions: active,
		CacheLookups:   cache,
		Operations:     operations,
	}, nil
}

// ObserveFit records one fitter call.
func (c *Collector) ObserveFit(op string, reason zones.Reason, iterations int) {
	if c == nil {
		return
	}
	outcome := "ok"
	if reason != "" {
		outcome = string(reason)
	}
	c.FitOutcomes.WithLabelValues(op, outcome).Inc()
	if iterations > 0 {
		c.FitIterations.WithLabelValues(op).Observe(float64(iterations))
	}
}

// ObserveStep records one interactive resize step.
func (c *Collector) ObserveStep(accepted bool) {
	if c == nil {
		return
	}
	result := "accepted"
	if !accepted {
		result = "rejected"
	}
	c.ResizeSteps.WithLabelValues(result).Inc()
}

func (c *Collector) SessionStarted() {
	if c != nil {
		c.ActiveSessions.Inc()
	}
}

func (c *Collector) SessionEnded() {
	if c != nil {
		c.ActiveSessions.Dec()
	}
}

// ObserveCache records a cache lookup result: "hit", "miss" or "error".
func (c *Collector) ObserveCache(result string) {
	if c != nil {
		c.CacheLookups.WithLabelValues(result).Inc()
	}
}

// ObserveOperation records how long handling one message of msgType took.
func (c *Collector) ObserveOperation(msgType string, elapsed time.Duration) {
	if c != nil {
		c.Operations.WithLabelValues(msgType).Observe(elapsed.Seconds())
	}
}

// Handler exposes the registered metrics for scraping.
func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
