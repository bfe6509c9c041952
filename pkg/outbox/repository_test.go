package outbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	orderID := uuid.New()

	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventStockReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Actor:         &outbox.ActorRef{Type: enums.ActorService, ID: "checkout"},
			Data:          map[string]any{"order_id": orderID.String()},
		})
	})
	require.NoError(t, err)

	rows, err := outbox.NewRepository(conn).ListByAggregate(context.Background(), orderID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
	assert.Equal(t, "checkout", envelope.Actor.ID)
	assert.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(envelope.Data))
}

func TestEmitRejectsInvalidEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	ctx := context.Background()

	assert.Error(t, svc.Emit(ctx, nil, outbox.DomainEvent{}))
	for _, ev := range []outbox.DomainEvent{
		{EventType: "nope", AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		{EventType: enums.EventStockLow, AggregateType: "nope", AggregateID: uuid.New()},
		{EventType: enums.EventStockLow, AggregateType: enums.AggregateStockItem},
	} {
		assert.Error(t, svc.Emit(ctx, conn, ev))
	}
}

func seedEvent(t *testing.T, conn *gorm.DB, createdAt time.Time, publishedAt *time.Time, attempts int) uuid.UUID {
	t.Helper()
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventStockAdjusted,
		AggregateType: enums.AggregateStockItem,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		CreatedAt:     createdAt,
		PublishedAt:   publishedAt,
		AttemptCount:  attempts,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row.ID
}

func TestDeletePublishedBefore(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	now := time.Now().UTC()
	old := now.Add(-40 * 24 * time.Hour)
	cutoff := now.Add(-30 * 24 * time.Hour)

	for i := 0; i < 3; i++ {
		seedEvent(t, conn, old, &old, 0)
	}
	exhausted := seedEvent(t, conn, old, nil, 10)
	pending := seedEvent(t, conn, old, nil, 2)
	recent := seedEvent(t, conn, now, &now, 0)

	n, err := repo.DeletePublishedBefore(context.Background(), nil, cutoff, 10, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.DeletePublishedBefore(context.Background(), nil, cutoff, 10, 100)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var left []uuid.UUID
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Pluck("id", &left).Error)
	assert.ElementsMatch(t, []uuid.UUID{pending, recent}, left)
	assert.NotContains(t, left, exhausted)
}

func TestDLQInsertClipsAndPurges(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := outbox.NewDLQRepository(conn)
	now := time.Now().UTC()

	long := strings.Repeat("é", 700)
	insert := func(failedAt time.Time, msg string) {
		require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventStockLow,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			ErrorMessage:  &msg,
			FailedAt:      failedAt,
		}))
	}
	insert(now.Add(-100*24*time.Hour), long)
	insert(now, "broker down")

	var stored []models.OutboxDLQ
	require.NoError(t, conn.Order("failed_at ASC").Find(&stored).Error)
	require.Len(t, stored, 2)
	assert.LessOrEqual(t, len(*stored[0].ErrorMessage), 1024)
	assert.True(t, strings.HasPrefix(long, *stored[0].ErrorMessage))

	n, err := dlq.PurgeFailedBefore(context.Background(), nil, now.Add(-90*24*time.Hour), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	assert.Error(t, dlq.InsertTx(nil, models.OutboxDLQ{}))
}

func TestClaimAndSettleLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	ctx := context.Background()
	now := time.Now().UTC()

	first := seedEvent(t, conn, now.Add(-2*time.Minute), nil, 0)
	second := seedEvent(t, conn, now.Add(-time.Minute), nil, 0)
	seedEvent(t, conn, now.Add(-3*time.Minute), &now, 0)
	seedEvent(t, conn, now.Add(-4*time.Minute), nil, 5)

	err := conn.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.ClaimPending(ctx, tx, 10, 5)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, first, rows[0].ID, "oldest first")

		require.NoError(t, repo.MarkPublished(ctx, tx, first, now))
		require.NoError(t, repo.RecordFailure(ctx, tx, second, errors.New(strings.Repeat("x", 4096))))
		return nil
	})
	require.NoError(t, err)

	var failed models.OutboxEvent
	require.NoError(t, conn.First(&failed, "id = ?", second).Error)
	assert.Equal(t, 1, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Len(t, *failed.LastError, 1024)

	require.NoError(t, repo.Park(ctx, conn, second, errors.New("bad payload"), 5))
	rows, err := repo.ClaimPending(ctx, conn, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, repo.MarkPublished(ctx, conn, uuid.New(), now), gorm.ErrRecordNotFound)
	_, err = repo.ClaimPending(ctx, nil, 10, 5)
	assert.Error(t, err)
}
