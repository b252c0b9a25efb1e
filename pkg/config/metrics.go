package config

import (
	"github.com/marmos91/dittovfs/pkg/metrics"
	promMetrics "github.com/marmos91/dittovfs/pkg/metrics/prometheus"
	"github.com/marmos91/dittovfs/pkg/vfs"
	"github.com/marmos91/dittovfs/pkg/vfs/s3"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// FileSystem receives file operation and pool counters (never nil, uses noop if disabled)
	FileSystem metrics.FileSystemMetrics

	// S3Metrics observes S3 requests (nil if disabled)
	S3Metrics s3.Metrics

	// Listener feeds FileSystem from the events of the top filesystem
	Listener vfs.EventListener
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates the metrics HTTP server
//   - Creates Prometheus-backed metrics instances for all components
//
// If metrics are disabled:
//   - Returns nil server
//   - Returns no-op metrics implementations (zero overhead)
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		fsMetrics := metrics.NewNoopFileSystemMetrics()
		return &MetricsResult{
			FileSystem: fsMetrics,
			Listener:   metrics.NewEventListener(fsMetrics),
		}
	}

	// Initialize global Prometheus registry
	metrics.InitRegistry()

	server := metrics.NewServer(metrics.ServerConfig{
		Port: cfg.Metrics.Port,
	})

	fsMetrics := promMetrics.NewFileSystemMetrics()

	return &MetricsResult{
		Server:     server,
		FileSystem: fsMetrics,
		S3Metrics:  promMetrics.NewS3Metrics(),
		Listener:   metrics.NewEventListener(fsMetrics),
	}
}
