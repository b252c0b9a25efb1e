package prometheus

import (
	"time"

	"github.com/marmos91/dittovfs/pkg/metrics"
	"github.com/marmos91/dittovfs/pkg/vfs/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// s3Metrics is the Prometheus implementation of s3.Metrics.
type s3Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	bytesTransferred *prometheus.CounterVec
}

// NewS3Metrics creates a new Prometheus-backed s3.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// leaves the S3 client uninstrumented.
func NewS3Metrics() s3.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newS3Metrics(metrics.GetRegistry())
}

func newS3Metrics(reg prometheus.Registerer) *s3Metrics {
	return &s3Metrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_s3_requests_total",
				Help: "Total number of S3 requests by operation type and status",
			},
			[]string{"operation", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittovfs_s3_request_duration_seconds",
				Help: "Duration of S3 requests in seconds",
				Buckets: []float64{
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
					10.0,  // 10s
					30.0,  // 30s
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittovfs_s3_bytes_transferred_total",
				Help: "Total object bytes transferred to and from S3",
			},
			[]string{"operation"},
		),
	}
}

func (m *s3Metrics) ObserveRequest(operation string, duration time.Duration, bytes int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.requestsTotal.WithLabelValues(operation, status).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if bytes > 0 {
		m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
	}
}
