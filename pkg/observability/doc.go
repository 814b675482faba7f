// Package observability provides Prometheus metrics, health checks and
// process lifecycle helpers for the sign-on service.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	metrics.RecordReconcile("matched", time.Since(start))
//
// Recorder methods are safe on a nil *Metrics, so components can be built
// without instrumentation in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient).
//		WithIdentityClient(settingsStatus, cfg.ForceSSO).
//		WithVersion(version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// A missing identity-client configuration is reported as unhealthy when
// Force-SSO is on and as degraded otherwise.
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, appServer, opsServer)
//	sm.RegisterShutdownFunc(func(ctx context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
