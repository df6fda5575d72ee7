package msq

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the prometheus collectors of the fit and scan routes
type Metrics struct {
	Fits        *prometheus.CounterVec
	FitDuration *prometheus.HistogramVec
	CacheHits   prometheus.Counter
	Scans       *prometheus.CounterVec
	ScanSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.  A nil reg
// leaves them unregistered
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "msq",
			Name:      "fits_total",
			Help:      "Caustic fits performed, by backend, mode and outcome.",
		}, []string{"backend", "mode", "outcome"}),
		FitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "msq",
			Name:      "fit_duration_seconds",
			Help:      "Time spent fitting a caustic.",
			Buckets:   prometheus.ExponentialBuckets(1e-4, 4, 8),
		}, []string{"backend"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "msq",
			Name:      "fit_cache_hits_total",
			Help:      "Fit requests answered from the cache.",
		}),
		Scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "msq",
			Name:      "scans_total",
			Help:      "Caustic scans run, by outcome.",
		}, []string{"outcome"}),
		ScanSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Subsystem: "msq",
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a caustic scan.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.Fits, m.FitDuration, m.CacheHits, m.Scans, m.ScanSeconds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
