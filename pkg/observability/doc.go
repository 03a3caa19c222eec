// Package observability provides structured logging, Prometheus metrics,
// and health checks for the access control service.
//
// # Structured Logging
//
// Create logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithGroup(groupID).Info("group created")
//
// Context-aware logging:
//
//	logger := observability.FromContext(ctx)
//	logger.WithError(err).Error("access check failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.AccessChecksTotal.WithLabelValues("read", "allowed").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	status := checker.Check(ctx)
//
// # Related Packages
//
//   - pkg/config: runtime configuration
//   - pkg/api: request logging and metrics middleware
package observability
