package bootstrap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
)

func TestCloseRunsNewestFirstOnce(t *testing.T) {
	rt := &Runtime{Logger: logger.Nop()}
	var order []string
	rt.OnClose("database", func() error { order = append(order, "database"); return nil })
	rt.OnClose("redis", func() error { order = append(order, "redis"); return errors.New("already closed") })

	rt.Close()
	rt.Close()
	assert.Equal(t, []string{"redis", "database"}, order)
}

func TestDomainWiresWithoutRedis(t *testing.T) {
	rt := &Runtime{
		Logger: logger.Nop(),
		DB:     db.NewFromGorm(dbtest.Open(t)),
		Config: &config.Config{
			FeatureFlags: config.FeatureFlagsConfig{AvailabilityCache: true},
			Reservation: config.ReservationConfig{
				HoldDuration:   15 * time.Minute,
				SweepBatchSize: 10,
			},
		},
	}
	domain, err := rt.Domain(DomainParams{})
	require.NoError(t, err)
	assert.NotNil(t, domain.Stock)
	assert.NotNil(t, domain.Movements)
	assert.NotNil(t, domain.Reservations)
	assert.NotNil(t, domain.Outbox)

	rt.Config.Reservation.HoldDuration = 0
	_, err = rt.Domain(DomainParams{})
	assert.ErrorContains(t, err, "reservation manager")
}

func TestSignalContextCarriesServiceFields(t *testing.T) {
	rt := &Runtime{
		Logger: logger.Nop(),
		Config: &config.Config{App: config.AppConfig{Env: "dev"}, Service: config.ServiceConfig{Kind: "cron-worker"}},
	}
	ctx, stop := rt.SignalContext(map[string]any{"broker": "pubsub"})
	defer stop()
	require.NoError(t, ctx.Err())

	stop()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
