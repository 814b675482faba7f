package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/websso/pkg/async"
	"github.com/platinummonkey/websso/pkg/config"
	"github.com/platinummonkey/websso/pkg/directory"
	"github.com/platinummonkey/websso/pkg/middleware"
	"github.com/platinummonkey/websso/pkg/observability"
	"github.com/platinummonkey/websso/pkg/sso"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := cfg.Observability.NewLogger()
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("websso stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	logger.Info("Directory database ready")

	store := directory.NewStore(db)
	if err := ensureDefaultSite(ctx, store, cfg); err != nil {
		return err
	}

	var (
		redisClient  *redis.Client
		sessionStore sso.SessionStore
		limiter      middleware.Limiter
	)
	loginLimits := middleware.LoginRateLimitConfig(cfg.Server.LoginAttempts, cfg.Server.LoginWindow)
	if cfg.Redis.URL != "" {
		redisClient, err = openRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		sessionStore = sso.NewRedisSessionStore(redisClient, cfg.Redis.Prefix)
		limiter = middleware.NewDistributedRateLimiter(redisClient, loginLimits, "")
		logger.Info("Using Redis session store")
	} else {
		ttl := cfg.Session.LocalTTL
		if cfg.Session.UpstreamTTL > ttl {
			ttl = cfg.Session.UpstreamTTL
		}
		sessionStore = sso.NewMemorySessionStore(cfg.Session.CacheSize, ttl)
		memoryLimiter := middleware.NewRateLimiter(loginLimits)
		if cfg.Server.LoginAttempts > 0 {
			memoryLimiter.StartCleanup(ctx)
		}
		limiter = memoryLimiter
		logger.Warn("WEBSSO_REDIS_URL not set, sessions are kept in process")
	}
	if cfg.Server.LoginAttempts <= 0 {
		limiter = nil
	}

	var (
		metrics  *observability.Metrics
		registry *prometheus.Registry
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	tracing, err := observability.InitOTel(ctx, observability.OTelConfig{
		Endpoint:       cfg.Observability.OTLPEndpoint,
		Insecure:       cfg.Observability.OTLPInsecure,
		SampleRatio:    cfg.Observability.TraceSampleRatio,
		ServiceName:    "websso",
		ServiceVersion: version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	status := config.NewSettingsStatus(cfg.SSO)
	adapter := newIdentityClient(ctx, status, &sso.AdapterOptions{
		BaseURL:    cfg.Server.BaseURL,
		Store:      sessionStore,
		SessionTTL: cfg.Session.UpstreamTTL,
		Logger:     logger,
	}, logger)

	invitations := async.NewWorkerPool(ctx, 2, 100, "invitation delivery", 30*time.Second, logger)

	handler := newAppHandler(appDeps{
		Config:   cfg,
		Store:    store,
		Sessions: sessionStore,
		Adapter:  adapter,
		Status:   status,
		Limiter:  limiter,
		Notifier: sso.NewQueuedNotifier(sso.NewLogNotifier(logger), invitations),
		Metrics:  metrics,
		Logger:   logger,
	})

	health := observability.NewHealthChecker(db, redisClient).
		WithIdentityClient(status, cfg.SSO.ForceSSO).
		WithVersion(version)
	opsMux := http.NewServeMux()
	observability.RegisterHealthRoutes(opsMux, health)
	if registry != nil {
		observability.RegisterMetricsEndpoint(opsMux, registry)
	}

	appServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler:           opsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	scheduler, err := newScheduler(ctx, store, db, metrics, logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, appServer, opsServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := invitations.Shutdown(5 * time.Second); err != nil {
			logger.WithError(err).Warn("Pending invitations dropped")
		}
		if err := observability.ShutdownOTel(ctx, tracing, logger); err != nil {
			logger.WithError(err).Warn("Pending spans dropped")
		}
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.WithError(err).Warn("Failed to close Redis client")
			}
		}
		return db.Close()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return shutdown.WaitForShutdown(gctx)
	})
	g.Go(func() error {
		logger.WithFields(logrus.Fields{
			"addr":      appServer.Addr,
			"force_sso": cfg.SSO.ForceSSO,
			"version":   version,
		}).Info("Starting websso server")
		return serve(appServer)
	})
	g.Go(func() error {
		logger.WithField("addr", opsServer.Addr).Info("Starting health server")
		return serve(opsServer)
	})
	g.Go(func() error {
		defer observability.RecoverPanic(logger, "settings watcher")
		return config.WatchSettings(gctx, status, logger.WithField("component", "settings"))
	})

	return g.Wait()
}

func serve(server *http.Server) error {
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server %s failed: %w", server.Addr, err)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := directory.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// ensureDefaultSite creates the site served for unknown hosts on first start
func ensureDefaultSite(ctx context.Context, store *directory.Store, cfg *config.Config) error {
	_, err := store.GetSiteByDomain(ctx, cfg.Tenant.DefaultDomain)
	if err == nil {
		return nil
	}
	if !errors.Is(err, directory.ErrNotFound) {
		return err
	}
	return store.CreateSite(ctx, &directory.Site{
		Name:    cfg.Tenant.DefaultName,
		Domain:  cfg.Tenant.DefaultDomain,
		HomeURL: cfg.Server.BaseURL + "/",
	})
}

// newScheduler registers the periodic maintenance jobs
func newScheduler(ctx context.Context, store *directory.Store, db *sql.DB, metrics *observability.Metrics, logger logrus.FieldLogger) (*cron.Cron, error) {
	jobs := logger.WithField("component", "cron")
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(jobs))))

	_, err := c.AddFunc("@hourly", func() {
		removed, err := store.CleanupExpiredInvitations(ctx)
		if err != nil {
			jobs.WithError(err).Error("Invitation cleanup failed")
			return
		}
		jobs.WithField("removed", removed).Info("Expired invitations removed")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule invitation cleanup: %w", err)
	}

	if metrics != nil {
		if _, err := c.AddFunc("@every 15s", func() { metrics.RecordDBStats(db.Stats()) }); err != nil {
			return nil, fmt.Errorf("failed to schedule pool statistics: %w", err)
		}
	}
	return c, nil
}
