package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calltrackerpro/calltracker/pkg/api"
	"github.com/calltrackerpro/calltracker/pkg/audit"
	"github.com/calltrackerpro/calltracker/pkg/auth"
	"github.com/calltrackerpro/calltracker/pkg/config"
	"github.com/calltrackerpro/calltracker/pkg/invitations"
	"github.com/calltrackerpro/calltracker/pkg/middleware"
	"github.com/calltrackerpro/calltracker/pkg/observability"
	"github.com/calltrackerpro/calltracker/pkg/orgs"
	"github.com/calltrackerpro/calltracker/pkg/records"
	"github.com/calltrackerpro/calltracker/pkg/scope"
	"github.com/calltrackerpro/calltracker/pkg/storage"
	"github.com/calltrackerpro/calltracker/pkg/storage/cache"
	"github.com/calltrackerpro/calltracker/pkg/storage/memory"
	"github.com/calltrackerpro/calltracker/pkg/storage/postgres"
	"github.com/calltrackerpro/calltracker/pkg/webhooks"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// version is set at build time
var version = "dev"

// backend is everything the services need from the primary store. Both the
// in-memory and the PostgreSQL stores implement it.
type backend interface {
	invitations.Store
	records.Store
	cache.Backend
	orgs.UsageCounter
	scope.TeamLister
	api.TeamStore
	PingContext(ctx context.Context) error
	Close() error
}

func main() {
	checkConfig := flag.Bool("check-config", false, "Validate configuration from the environment and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *checkConfig {
		fmt.Println("configuration ok")
		return
	}

	if err := run(cfg); err != nil {
		log.Fatalf("calltracker: %v", err)
	}
}

func run(cfg *config.Config) error {
	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout).WithField("service", "calltracker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitOTel(ctx, cfg.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	store, err := openStore(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Storage.RedisURL != "" {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("Redis connected")
	}

	auditor, auditFile, err := openAuditor(cfg.Observability.AuditLogPath)
	if err != nil {
		return err
	}

	catalog, err := cfg.PlanCatalog()
	if err != nil {
		return err
	}

	creds, err := auth.NewHMACCredentials([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.SessionTTL)
	if err != nil {
		return fmt.Errorf("failed to create credentials: %w", err)
	}

	var directory interface {
		cache.Backend
		api.PrincipalInvalidator
	} = cache.NewDirectory(store, cfg.Storage, redisClient, metrics, logger)
	if !cfg.Storage.CacheEnabled {
		directory = uncached{store}
	}

	guard := orgs.NewLimitGuard(store, catalog, logger, metrics)
	if cfg.PlanCatalogPath != "" {
		if _, err := orgs.WatchPlanCatalog(ctx, cfg.PlanCatalogPath, guard, logger); err != nil {
			logger.WithError(err).Warn("Plan catalog hot reload disabled")
		}
	}

	var notifier invitations.Notifier = invitations.LogNotifier{}
	if cfg.Invitations.WebhookURL != "" {
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook(), metrics)
		if err != nil {
			return err
		}
		notifier = webhooks.NewNotifier(dispatcher)
		logger.WithField("url", cfg.Invitations.WebhookURL).Info("Invitation notifications go to webhook")
	}

	invites, err := invitations.NewService(invitations.Dependencies{
		Store:    store,
		Guard:    guard,
		Hasher:   auth.NewBcryptHasher(cfg.Auth.BcryptCost),
		Issuer:   creds,
		Notifier: notifier,
		Auditor:  auditor,
		Metrics:  metrics,
	}, cfg.InvitationSettings())
	if err != nil {
		return fmt.Errorf("failed to create invitation service: %w", err)
	}

	scheduler, err := invitations.NewScheduler(invites, cfg.Schedule(), logger)
	if err != nil {
		return err
	}

	tenant, err := middleware.NewTenantMiddleware(middleware.TenantConfig{
		Verifier:      creds,
		Principals:    directory,
		Organizations: directory,
		Auditor:       auditor,
		Metrics:       metrics,
		Debug:         cfg.Debug,
	})
	if err != nil {
		return err
	}

	limiterConfig := middleware.RateLimitConfig{
		RequestsPerWindow: cfg.Server.PublicRateLimit,
		WindowDuration:    cfg.Server.PublicRateWindow,
		BurstSize:         cfg.Server.PublicRateBurst,
	}
	var publicLimiter middleware.Limiter
	if redisClient != nil {
		publicLimiter = middleware.NewRedisRateLimiter(redisClient, limiterConfig, "calltracker:ratelimit:invitations")
	} else {
		local := middleware.NewLocalRateLimiter(limiterConfig)
		local.StartCleanup(ctx, logger)
		publicLimiter = local
	}

	health := observability.NewHealthChecker(version).AddCritical("database", store)
	if redisClient != nil {
		health.AddOptional("redis", observability.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	deps := api.Dependencies{
		Invitations:    invites,
		Records:        records.NewService(store, scope.NewResolver(store), guard, auditor),
		Guard:          guard,
		Principals:     store,
		Teams:          store,
		Tenant:         tenant,
		PublicLimiter:  publicLimiter,
		PrincipalCache: directory,
		Auditor:        auditor,
		Metrics:        metrics,
		Health:         health,
		Logger:         logger,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Debug:          cfg.Debug,
	}
	if cfg.Observability.MetricsEnabled {
		deps.Registry = registry
	}
	server, err := api.NewServer(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics are also served on their own port so they stay
	// reachable when the public listener is saturated
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("health server", healthServer.Shutdown)
	shutdown.Register("invitation scheduler", scheduler.Stop)
	shutdown.Register("invitation notifications", invites.Wait)
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})
	shutdown.Register("audit log", func(context.Context) error {
		if auditFile != nil {
			return auditFile.Close()
		}
		return nil
	})
	shutdown.Register("storage", func(context.Context) error {
		var errs []error
		if redisClient != nil {
			errs = append(errs, redisClient.Close())
		}
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	})

	scheduler.Start()

	errCh := make(chan error, 2)
	go serve(httpServer, "api", logger, errCh)
	go serve(healthServer, "health", logger, errCh)

	select {
	case err := <-errCh:
		logger.WithError(err).Error("Server stopped unexpectedly")
		_ = shutdown.Shutdown()
		return err
	case <-ctx.Done():
	}
	return shutdown.WaitForShutdown(ctx)
}

func serve(srv *http.Server, name string, logger *observability.Logger, errCh chan<- error) {
	defer observability.RecoverPanic(logger, name+" server")
	logger.WithField("addr", srv.Addr).Infof("Starting %s server", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

func openStore(ctx context.Context, cfg storage.Config, logger *observability.Logger, metrics *observability.Metrics) (backend, error) {
	switch cfg.Type {
	case storage.TypePostgres:
		store, err := postgres.Open(ctx, cfg, logger, metrics)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		store.Connections().StartHealthCheckRoutine(ctx, 30*time.Second)
		logger.Info("PostgreSQL storage initialized")
		return store, nil
	default:
		logger.Warn("Using in-memory storage; data is lost on restart")
		return memory.New(), nil
	}
}

// openAuditor writes audit events to path, or stdout when path is empty. The
// returned file is nil for stdout.
func openAuditor(path string) (audit.Logger, *os.File, error) {
	if path == "" {
		return audit.NewLogrusLogger(os.Stdout), nil, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return audit.NewLogrusLogger(f), f, nil
}

// uncached reads straight through to the store
type uncached struct {
	cache.Backend
}

func (uncached) InvalidatePrincipal(ctx context.Context, id string) {}
