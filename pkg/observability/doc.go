// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("organization_id", orgID).Info("invitation accepted")
//
// FromContext annotates the request logger with request, principal,
// organization and trace IDs:
//
//	observability.FromContext(r.Context()).Warn("limit check failed open")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LimitCheck("users", "denied")
//
// All recorder methods are no-ops on a nil *Metrics, so components accept an
// optional metrics value.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version).
//		AddCritical("database", db).
//		AddOptional("redis", redisPinger)
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
package observability
