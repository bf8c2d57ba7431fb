// Package metrics documents the Prometheus metrics exposed by the DENUE
// census client. All metrics are defined in their respective packages
// (client, dispatch, token) via promauto to keep registration local.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
var Registry = prometheus.DefaultRegisterer

// Metrics Reference
//
// Request Metrics (pkg/client):
//   - denue_requests_total{status} (Counter): Attempts by HTTP status or network_error
//   - denue_request_duration_seconds (Histogram): Per-attempt duration
//   - denue_errors_total{class} (Counter): Attempt errors by class (client, server, network, parse)
//
// Retry Metrics (pkg/client):
//   - denue_retries_total{error_class} (Counter): Retry attempts by error class
//   - denue_retry_exhausted_total{error_class} (Counter): Lookups that exhausted their budget
//
// Credential Metrics (pkg/token):
//   - denue_token_rotations_total (Counter): Credential draws from the rotation ring
//
// Dispatch Metrics (pkg/dispatch):
//   - denue_combinations_total (Counter): Combinations submitted to the pool
//   - denue_cells_failed_total (Counter): Cells recorded as zero after exhaustion
//
// Example Prometheus Queries:
//
//   # Attempt error rate
//   rate(denue_errors_total[5m])
//
//   # Share of lookups that permanently failed
//   rate(denue_retry_exhausted_total[5m]) / rate(denue_combinations_total[5m])
//
//   # P95 attempt latency
//   histogram_quantile(0.95, rate(denue_request_duration_seconds_bucket[5m]))
