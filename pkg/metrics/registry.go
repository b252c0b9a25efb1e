// Package metrics provides Prometheus metrics collection for DittoVFS
// filesystems.
//
// Nothing is collected until InitRegistry is called. Without it the
// prometheus constructors return no-op implementations and a filesystem can
// run without any listener at all.
//
// Usage:
//
//	metrics.InitRegistry()
//
//	m := prometheus.NewFileSystemMetrics()
//	fs := vfs.New(backend, vfs.Options{Listener: metrics.NewEventListener(m)})
//
//	srv := metrics.NewServer(metrics.ServerConfig{Port: 9090})
//	go srv.Start(ctx)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry together with the Go runtime and
// process collectors. Later calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "dittovfs"}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil before InitRegistry.
//
// The sync.Once in InitRegistry orders the write before every read that
// observes a non-nil value.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
