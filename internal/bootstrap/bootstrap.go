// Package bootstrap wires the pieces every stock binary shares: env loading,
// config, logging, the database, optional redis, and the stock domain graph.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/internal/reservations"
	"github.com/angelmondragon/packfinderz-stock/internal/stock"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/instance"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/migrate"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/redis"
)

type closer struct {
	name string
	fn   func() error
}

// Runtime is one running binary. Resources registered with it are closed in
// reverse order by Close or Exit.
type Runtime struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger
	DB     *db.Client

	closers []closer
}

// Start loads .env and config, builds the service logger, opens the
// database and applies dev migrations when enabled.
func Start(ctx context.Context, name string) (*Runtime, error) {
	boot := logger.New(logger.Options{ServiceName: name})
	if err := godotenv.Load(); err != nil {
		boot.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	cfg.Service.Kind = name

	rt := &Runtime{
		Name:   name,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: name,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
			Fields:      map[string]any{"instance": instance.ID(name)},
		}),
	}

	rt.DB, err = db.New(ctx, cfg.DB, cfg.FeatureFlags.UseSQLite, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap database: %w", err)
	}
	rt.OnClose("database", rt.DB.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, rt.Logger, rt.DB); err != nil {
		rt.Close()
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return rt, nil
}

// Fail logs a startup error on a throwaway logger and exits. Use it when
// Start itself failed and there is no Runtime yet.
func Fail(name string, err error) {
	logger.New(logger.Options{ServiceName: name}).Error(context.Background(), "startup failed", err)
	os.Exit(1)
}

func (rt *Runtime) OnClose(name string, fn func() error) {
	rt.closers = append(rt.closers, closer{name: name, fn: fn})
}

// Close releases registered resources, newest first.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		c := rt.closers[i]
		if err := c.fn(); err != nil {
			rt.Logger.Error(rt.Logger.WithField(context.Background(), "resource", c.name), "error closing resource", err)
		}
	}
	rt.closers = nil
}

// Exit logs err, closes every resource and terminates the process.
func (rt *Runtime) Exit(ctx context.Context, msg string, err error) {
	rt.Logger.Error(ctx, msg, err)
	rt.Close()
	os.Exit(1)
}

// OpenRedis dials redis and registers it for Close.
func (rt *Runtime) OpenRedis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, rt.Config.Redis, rt.Logger)
	if err != nil {
		return nil, fmt.Errorf("bootstrap redis: %w", err)
	}
	rt.OnClose("redis", client.Close)
	return client, nil
}

// SignalContext is cancelled on SIGINT or SIGTERM and carries the standard
// env and service fields plus extra.
func (rt *Runtime) SignalContext(extra map[string]any) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	fields := map[string]any{
		"env":          rt.Config.App.Env,
		"service_kind": rt.Config.Service.Kind,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return rt.Logger.WithFields(ctx, fields), stop
}

// Domain is the stock object graph shared by the api and the cron worker.
type Domain struct {
	Stock        stock.Service
	Movements    movements.Service
	Reservations reservations.Manager
	Outbox       *outbox.Repository
}

// DomainParams are the optional collaborators. A nil Redis disables the
// availability cache regardless of the feature flag.
type DomainParams struct {
	Redis   *redis.Client
	Metrics *metrics.ReservationMetrics
}

func (rt *Runtime) Domain(p DomainParams) (*Domain, error) {
	conn := rt.DB.DB()

	var cache stock.AvailabilityCache
	if p.Redis != nil && rt.Config.FeatureFlags.AvailabilityCache {
		cache = stock.NewRedisAvailabilityCache(p.Redis, rt.Config.Cache.AvailabilityTTL)
	}

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, rt.Logger)
	stockRepo := stock.NewRepository(conn)

	movementService, err := movements.NewService(movements.NewRepository(conn))
	if err != nil {
		return nil, fmt.Errorf("movement service: %w", err)
	}
	ledger, err := stock.NewLedger(stockRepo, movementService)
	if err != nil {
		return nil, fmt.Errorf("stock ledger: %w", err)
	}
	stockService, err := stock.NewService(stock.ServiceParams{
		DB:        rt.DB,
		Repo:      stockRepo,
		Ledger:    ledger,
		Movements: movementService,
		Outbox:    emitter,
		Cache:     cache,
		Metrics:   p.Metrics,
		Logger:    rt.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("stock service: %w", err)
	}
	manager, err := reservations.NewManager(reservations.ManagerParams{
		DB:        rt.DB,
		Repo:      reservations.NewRepository(conn),
		StockRepo: stockRepo,
		Ledger:    ledger,
		Outbox:    emitter,
		Cache:     cache,
		Metrics:   p.Metrics,
		Logger:    rt.Logger,
		Config:    rt.Config.Reservation,
	})
	if err != nil {
		return nil, fmt.Errorf("reservation manager: %w", err)
	}

	return &Domain{
		Stock:        stockService,
		Movements:    movementService,
		Reservations: manager,
		Outbox:       outboxRepo,
	}, nil
}
