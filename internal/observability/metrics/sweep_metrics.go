package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SweepMetrics tracks the background worker's review, expiry and
// auto-release sweeps.
type SweepMetrics struct {
	sweepDuration  *prometheus.HistogramVec
	itemsProcessed *prometheus.CounterVec
	sweepErrors    *prometheus.CounterVec
}

var (
	sweepMetricsOnce sync.Once
	sweepMetrics     *SweepMetrics
)

func Sweep() *SweepMetrics {
	return SweepWithConfig(Config{})
}

func SweepWithConfig(cfg Config) *SweepMetrics {
	sweepMetricsOnce.Do(func() {
		sweepMetrics = newSweepMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return sweepMetrics
}

func ResetSweepMetricsForTest() {
	sweepMetricsOnce = sync.Once{}
	sweepMetrics = nil
}

func newSweepMetrics(registerer prometheus.Registerer, cfg Config) *SweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "finternet"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	sweepDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "finternet_sweep_duration_seconds",
			Help:        "Duration of one background sweep pass.",
			Buckets:     []float64{0.01, 0.05, 0.25, 1, 5, 30, 120},
			ConstLabels: constLabels,
		},
		[]string{"sweep"},
	)
	itemsProcessed := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "finternet_sweep_items_total",
			Help:        "Items handled per sweep: schedules reviewed, listings expired, escrows released.",
			ConstLabels: constLabels,
		},
		[]string{"sweep"},
	)
	sweepErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "finternet_sweep_errors_total",
			Help:        "Errors encountered during background sweeps.",
			ConstLabels: constLabels,
		},
		[]string{"sweep"},
	)

	for _, collector := range []prometheus.Collector{sweepDuration, itemsProcessed, sweepErrors} {
		if err := registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}

	return &SweepMetrics{
		sweepDuration:  sweepDuration,
		itemsProcessed: itemsProcessed,
		sweepErrors:    sweepErrors,
	}
}

// ObserveSweep records one completed sweep pass.
func (m *SweepMetrics) ObserveSweep(sweep string, duration time.Duration, items int) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(duration.Seconds())
	if items > 0 {
		m.itemsProcessed.WithLabelValues(sweep).Add(float64(items))
	}
}

// IncError counts one failed sweep.
func (m *SweepMetrics) IncError(sweep string) {
	if m == nil {
		return
	}
	m.sweepErrors.WithLabelValues(sweep).Inc()
}
