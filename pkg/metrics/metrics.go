// Package metrics provides the centralized Prometheus metrics reference
// for the WFS fetch library. All metrics are defined in their respective
// packages (wfs, cache, servicestate) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the library.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Metrics (pkg/wfs):
//   - wfs_requests_total{layer, status} (Counter): Page requests by layer and HTTP status
//   - wfs_request_duration_seconds{layer} (Histogram): Page request duration
//   - wfs_errors_total{class} (Counter): Page errors by class (client, server, network, parse)
//   - wfs_fetches_total{layer, outcome} (Counter): Fetch operations by terminal state
//   - wfs_features_fetched_total{layer} (Counter): Feature records fetched
//
// Retry Metrics (pkg/wfs):
//   - wfs_retries_total{error_class} (Counter): Page retry attempts
//   - wfs_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - wfs_retry_exhausted_total{error_class} (Counter): Pages that spent their retry budget
//
// Cache Metrics (pkg/cache):
//   - wfs_cache_hits_total{layer="redis"} (Counter): Metadata document cache hits
//   - wfs_cache_misses_total (Counter): Cache misses
//   - wfs_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - wfs_cache_errors_total{operation} (Counter): Cache operation errors
//
// Availability Metrics (pkg/servicestate):
//   - wfs_endpoint_consecutive_failures{endpoint} (Gauge): Failures since last success
//   - wfs_endpoint_blocks_total (Counter): Fetches blocked on a down endpoint
//
// Example Prometheus Queries:
//
//   # Page error rate by class
//   rate(wfs_errors_total[5m])
//
//   # Retry exhaustion (pages that failed for good)
//   rate(wfs_retry_exhausted_total[5m])
//
//   # P95 page latency per layer
//   histogram_quantile(0.95, rate(wfs_request_duration_seconds_bucket[5m]))
//
//   # Fetch failure ratio
//   sum(rate(wfs_fetches_total{outcome!="completed"}[15m])) /
//   sum(rate(wfs_fetches_total[15m]))
