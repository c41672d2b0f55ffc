package wfs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	wfsRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfs_retries_total",
		Help: "Total number of page retry attempts by error class",
	}, []string{"error_class"})

	wfsRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wfs_retry_backoff_seconds",
		Help:    "Backoff duration for page retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	wfsRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wfs_retry_exhausted_total",
		Help: "Total number of pages that exhausted their retry budget by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the per-page retry policy.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts per page, including the
	// initial request.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration

	// BackoffMultiplier is the factor applied per attempt.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default per-page retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// withDefaults fills zero fields so a partially specified policy behaves.
func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.BackoffMultiplier <= 1 {
		c.BackoffMultiplier = def.BackoffMultiplier
	}
	return c
}
