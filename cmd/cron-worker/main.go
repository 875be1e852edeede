package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marketa-io/marketa-backend/internal/cron"
	"github.com/marketa-io/marketa-backend/internal/orders"
	"github.com/marketa-io/marketa-backend/internal/voucher"
	"github.com/marketa-io/marketa-backend/pkg/config"
	"github.com/marketa-io/marketa-backend/pkg/db"
	"github.com/marketa-io/marketa-backend/pkg/logger"
	"github.com/marketa-io/marketa-backend/pkg/metrics"
	"github.com/marketa-io/marketa-backend/pkg/migrate"
	"github.com/marketa-io/marketa-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	voucherService, err := voucher.NewService(voucher.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create voucher service", err)
		os.Exit(1)
	}
	orderService, err := orders.NewService(
		orders.NewRepository(dbClient.DB()), dbClient, voucherService, logg,
		cfg.Shipping.RateCentsPerKm,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create order service", err)
		os.Exit(1)
	}

	completionJob, err := cron.NewCompletionJob(cron.CompletionJobParams{
		Logger: logg,
		Orders: orderService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create completion job", err)
		os.Exit(1)
	}
	voucherJob, err := cron.NewVoucherWindowJob(cron.VoucherWindowJobParams{
		Logger:   logg,
		Vouchers: voucherService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create voucher window job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)

	completionService, err := newSweepService(logg, redisClient, metricsCollector,
		"order-completion", cfg.Cron.CompletionInterval, completionJob)
	if err != nil {
		logg.Error(context.Background(), "failed to create completion service", err)
		os.Exit(1)
	}
	voucherSweepService, err := newSweepService(logg, redisClient, metricsCollector,
		"voucher-window", cfg.Cron.VoucherInterval, voucherJob)
	if err != nil {
		logg.Error(context.Background(), "failed to create voucher sweep service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: newOpsRouter(dbClient, redisClient),
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
		}
	}()

	var wg sync.WaitGroup
	for _, svc := range []*cron.Service{completionService, voucherSweepService} {
		wg.Add(1)
		go func(svc *cron.Service) {
			defer wg.Done()
			if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "cron service stopped unexpectedly", err)
			}
		}(svc)
	}
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "ops server shutdown failed", err)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// newSweepService wires one cadence: a registry with a single job and a
// redis lock scoped to that job name.
func newSweepService(
	logg *logger.Logger,
	redisClient *redis.Client,
	collector *metrics.CronJobMetrics,
	name string,
	interval time.Duration,
	job cron.Job,
) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(name), interval+time.Hour)
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(job),
		Lock:     lock,
		Metrics:  collector,
		Interval: interval,
	})
}

func newOpsRouter(dbClient *db.Client, redisClient *redis.Client) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbClient.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()); err != nil {
			http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Handle("/metrics", promhttp.Handler())
	return router
}
