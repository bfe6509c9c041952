package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-stock/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-stock/pkg/broker"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/registry"
	"github.com/angelmondragon/packfinderz-stock/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-stock/pkg/rabbitmq"
)

const serviceName = "outbox-publisher"

func main() {
	ctx := context.Background()
	rt, err := bootstrap.Start(ctx, serviceName)
	if err != nil {
		bootstrap.Fail(serviceName, err)
	}
	defer rt.Close()
	cfg := rt.Config

	kind, err := broker.NormalizeKind(cfg.Outbox.Broker)
	if err != nil {
		rt.Exit(ctx, "invalid outbox broker", err)
	}
	client, err := newBroker(ctx, kind, cfg, rt.Logger)
	if err != nil {
		rt.Exit(ctx, "failed to connect to "+kind, err)
	}
	rt.OnClose(kind, client.Close)

	events, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		rt.Exit(ctx, "failed to build event registry", err)
	}
	rt.Logger.Info(rt.Logger.WithField(ctx, "routing_keys", events.RoutingKeys()), "event registry ready")

	relay, err := NewRelay(RelayParams{
		Outbox:     cfg.Outbox,
		Logger:     rt.Logger,
		DB:         rt.DB,
		Broker:     client,
		BrokerKind: kind,
		Pending:    outbox.NewRepository(rt.DB.DB()),
		DeadLetter: outbox.NewDLQRepository(rt.DB.DB()),
		Resolver:   events,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		rt.Exit(ctx, "failed to create outbox relay", err)
	}

	runCtx, stop := rt.SignalContext(map[string]any{"broker": kind})
	defer stop()
	rt.Logger.Info(runCtx, "starting outbox publisher")

	if err := relay.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Exit(runCtx, "outbox publisher stopped unexpectedly", err)
	}
	rt.Logger.Info(runCtx, "outbox publisher shutting down gracefully")
}

func newBroker(ctx context.Context, kind string, cfg *config.Config, logg *logger.Logger) (broker.Publisher, error) {
	if kind == broker.KindRabbitMQ {
		return rabbitmq.NewClient(ctx, cfg.RabbitMQ, logg)
	}
	return pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
}
