// Package observability provides structured logging, Prometheus metrics
// and graceful-shutdown coordination for the plugin host.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("plugin", name).Info("plugin loaded")
//
// # Prometheus Metrics
//
// Initialize metrics:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.PluginsLoaded.Set(float64(count))
//	metrics.PositionalArbitrationTotal.WithLabelValues("ok").Inc()
//
// Serve them:
//
//	http.Handle("/metrics", observability.MetricsHandler(registry))
//
// # Graceful Shutdown
//
// Register cleanup work and block until a termination signal:
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.RegisterShutdownFunc(func(ctx context.Context) error { return manager.Close() })
//	sm.WaitForShutdown()
//
// # Related Packages
//
//   - pkg/config: observability configuration
//   - pkg/plugins: the instrumented plugin registry
package observability
