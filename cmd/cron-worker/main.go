package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-stock/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-stock/internal/cron"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
)

const serviceName = "cron-worker"

func main() {
	ctx := context.Background()
	rt, err := bootstrap.Start(ctx, serviceName)
	if err != nil {
		bootstrap.Fail(serviceName, err)
	}
	defer rt.Close()
	cfg := rt.Config

	redisClient, err := rt.OpenRedis(ctx)
	if err != nil {
		rt.Exit(ctx, "redis unavailable", err)
	}
	domain, err := rt.Domain(bootstrap.DomainParams{
		Redis:   redisClient,
		Metrics: metrics.NewReservationMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Exit(ctx, "failed to wire stock domain", err)
	}

	registry, err := buildJobs(rt, domain)
	if err != nil {
		rt.Exit(ctx, "failed to build cron jobs", err)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(lockName(cfg.App.Env)), cfg.Reservation.SweepLockTTL)
	if err != nil {
		rt.Exit(ctx, "failed to create cron lock", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:       rt.Logger,
		Registry:     registry,
		Lock:         lock,
		Metrics:      metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:     cfg.Reservation.SweepInterval,
		InitialDelay: cfg.Reservation.SweepInitialDelay,
		JobTimeout:   cfg.Reservation.SweepJobTimeout,
	})
	if err != nil {
		rt.Exit(ctx, "failed to create cron service", err)
	}

	runCtx, stop := rt.SignalContext(map[string]any{"interval": cfg.Reservation.SweepInterval.String()})
	defer stop()
	rt.Logger.Info(runCtx, "starting cron worker")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Exit(runCtx, "cron worker stopped unexpectedly", err)
	}
	rt.Logger.Info(runCtx, "cron worker shutting down gracefully")
}

func buildJobs(rt *bootstrap.Runtime, domain *bootstrap.Domain) (*cron.Registry, error) {
	cfg := rt.Config
	expiry, err := cron.NewReservationExpiryJob(cron.ReservationExpiryJobParams{
		Logger:  rt.Logger,
		Expirer: domain.Reservations,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:       rt.Logger,
		DB:           rt.DB,
		Repository:   domain.Outbox,
		DeadLetter:   outbox.NewDLQRepository(rt.DB.DB()),
		Retention:    cfg.Outbox.RetentionDays,
		DLQRetention: cfg.Outbox.DLQRetentionDays,
		MinAttempts:  cfg.Outbox.MaxAttempts,
		BatchSize:    cfg.Outbox.PurgeBatchSize,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(expiry, retention), nil
}

// lockName scopes the sweeper lock to one environment.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return "reservation-sweeper:" + env
}
