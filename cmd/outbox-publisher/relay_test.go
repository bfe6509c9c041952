package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-stock/pkg/broker"
	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/logger"
	"github.com/angelmondragon/packfinderz-stock/pkg/metrics"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/registry"
)

func TestDrainOnceSettlesEachRowIndependently(t *testing.T) {
	rows := []models.OutboxEvent{
		newRow(t, enums.EventStockReserved, enums.AggregateOrder, 0),
		newRow(t, enums.EventReservationConfirmed, enums.AggregateOrder, 0),
	}
	store := &fakePending{rows: rows}
	pub := &fakePublisher{results: []error{errors.New("broker unavailable"), nil}}
	relay := newTestRelay(t, relayFakes{pending: store, publisher: pub})

	summary, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.claimed)
	assert.Equal(t, 1, summary.counts[outcomeRetry])
	assert.Equal(t, 1, summary.counts[outcomePublished])
	assert.Equal(t, []uuid.UUID{rows[0].ID}, store.failed)
	assert.Equal(t, []uuid.UUID{rows[1].ID}, store.published)
	assert.Len(t, pub.sent, 2)
}

func TestDrainOnceEmptyBatch(t *testing.T) {
	relay := newTestRelay(t, relayFakes{})
	summary, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.claimed)
}

func TestUnresolvableRowIsDeadLettered(t *testing.T) {
	row := newRow(t, enums.EventStockAdjusted, enums.AggregateStockItem, 0)
	store := &fakePending{rows: []models.OutboxEvent{row}}
	dlq := &fakeDeadLetter{}
	relay := newTestRelay(t, relayFakes{
		pending:    store,
		deadLetter: dlq,
		resolver:   &fakeResolver{err: registry.NewNonRetryableError(errors.New("payload does not match schema"))},
	})

	summary, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.counts[outcomeDeadLettered])
	require.Len(t, dlq.entries, 1)
	entry := dlq.entries[0]
	assert.Equal(t, row.ID, entry.EventID)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	assert.JSONEq(t, string(row.Payload), string(entry.Payload))
	require.NotNil(t, entry.ErrorMessage)
	assert.Contains(t, *entry.ErrorMessage, "schema")
	assert.Equal(t, []uuid.UUID{row.ID}, store.parked)
}

func TestExhaustedRetriesAreDeadLettered(t *testing.T) {
	row := newRow(t, enums.EventReservationExpired, enums.AggregateOrder, 1)
	store := &fakePending{rows: []models.OutboxEvent{row}}
	dlq := &fakeDeadLetter{}
	relay := newTestRelay(t, relayFakes{
		pending:    store,
		deadLetter: dlq,
		publisher:  &fakePublisher{results: []error{errors.New("timeout")}},
		outbox:     &config.OutboxConfig{BatchSize: 1, PollIntervalMS: 100, MaxAttempts: 2},
	})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Empty(t, store.failed)
	assert.Equal(t, []uuid.UUID{row.ID}, store.parked)
}

func TestBookkeepingFailureAbortsBatch(t *testing.T) {
	store := &fakePending{
		rows:       []models.OutboxEvent{newRow(t, enums.EventStockLow, enums.AggregateStockItem, 0)},
		publishErr: errors.New("connection reset"),
	}
	relay := newTestRelay(t, relayFakes{pending: store})

	_, err := relay.drainOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
}

func TestPublishRoutesByBrokerKind(t *testing.T) {
	row := newRow(t, enums.EventStockLow, enums.AggregateStockItem, 0)
	row.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	resolved := &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{Topic: "pf-stock-events", RoutingKey: "stock.low.v1"},
		Envelope:   outbox.PayloadEnvelope{EventID: "evt-low"},
	}
	pub := &fakePublisher{}
	relay := newTestRelay(t, relayFakes{publisher: pub})
	relay.brokerKind = broker.KindRabbitMQ

	require.NoError(t, relay.publish(context.Background(), row, resolved))
	require.Len(t, pub.sent, 1)
	sent := pub.sent[0]
	assert.Equal(t, broker.Destination{Topic: "pf-stock-events", RoutingKey: "stock.low.v1"}, sent.dest)
	assert.Equal(t, "evt-low", sent.msg.ID)
	assert.Equal(t, string(enums.EventStockLow), sent.msg.Attributes["event_type"])
	assert.Equal(t, row.AggregateID.String(), sent.msg.Attributes["aggregate_id"])
	assert.Equal(t, row.AggregateID.String(), sent.msg.OrderingKey)
	assert.Equal(t, "2026-03-01T09:00:00Z", sent.msg.Attributes["created_at"])
	assert.Equal(t, []byte(row.Payload), sent.msg.Data)
	assert.Equal(t, "stock.low.v1", relay.destinationName(resolved.Descriptor))

	relay.brokerKind = broker.KindPubSub
	assert.Equal(t, "pf-stock-events", relay.destinationName(resolved.Descriptor))
}

func TestPublishWithoutDestinationIsNonRetryable(t *testing.T) {
	relay := newTestRelay(t, relayFakes{})
	err := relay.publish(context.Background(), models.OutboxEvent{EventType: enums.EventStockAdjusted}, &registry.ResolvedEvent{})
	var nonRetry registry.NonRetryableError
	assert.ErrorAs(t, err, &nonRetry)
}

func TestDrainOnceRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := &fakePending{rows: []models.OutboxEvent{newRow(t, enums.EventStockImported, enums.AggregateStockItem, 0)}}
	relay := newTestRelay(t, relayFakes{pending: store, metrics: metrics.NewOutboxMetrics(reg)})

	_, err := relay.drainOnce(context.Background())
	require.NoError(t, err)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "pf_stock_outbox_deliveries_total" {
			found = true
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, float64(1), mf.GetMetric()[0].GetCounter().GetValue())
		}
	}
	assert.True(t, found)
}

func TestRunStopsWhenBrokerUnreachable(t *testing.T) {
	relay := newTestRelay(t, relayFakes{publisher: &fakePublisher{pingErr: errors.New("refused")}})
	err := relay.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping failed")
}

func TestRunReturnsOnCancel(t *testing.T) {
	relay := newTestRelay(t, relayFakes{})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, relay.Run(ctx), context.DeadlineExceeded)
}

func TestPacerBacksOffAndResets(t *testing.T) {
	p := pacer{base: 100 * time.Millisecond, max: 350 * time.Millisecond, current: 100 * time.Millisecond}
	assert.Equal(t, 200*time.Millisecond, p.failed())
	assert.Equal(t, 350*time.Millisecond, p.failed())
	assert.Equal(t, 350*time.Millisecond, p.failed())
	assert.Equal(t, 100*time.Millisecond, p.idle())
	assert.Equal(t, 200*time.Millisecond, p.failed())
}

type relayFakes struct {
	pending    *fakePending
	publisher  *fakePublisher
	deadLetter *fakeDeadLetter
	resolver   eventResolver
	outbox     *config.OutboxConfig
	metrics    *metrics.OutboxMetrics
}

func newTestRelay(t *testing.T, f relayFakes) *Relay {
	t.Helper()
	if f.pending == nil {
		f.pending = &fakePending{}
	}
	if f.publisher == nil {
		f.publisher = &fakePublisher{}
	}
	if f.deadLetter == nil {
		f.deadLetter = &fakeDeadLetter{}
	}
	if f.resolver == nil {
		f.resolver = &fakeResolver{}
	}
	outboxCfg := config.OutboxConfig{BatchSize: 2, PollIntervalMS: 10, MaxAttempts: 5}
	if f.outbox != nil {
		outboxCfg = *f.outbox
	}
	relay, err := NewRelay(RelayParams{
		Outbox:     outboxCfg,
		Logger:     logger.Nop(),
		DB:         fakeTx{},
		Broker:     f.publisher,
		Pending:    f.pending,
		DeadLetter: f.deadLetter,
		Resolver:   f.resolver,
		Metrics:    f.metrics,
	})
	require.NoError(t, err)
	return relay
}

func newRow(t *testing.T, eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, attempts int) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     eventType,
		AggregateType: aggregate,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeTx struct{}

func (fakeTx) Ping(context.Context) error { return nil }

func (fakeTx) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type fakePending struct {
	rows       []models.OutboxEvent
	publishErr error
	published  []uuid.UUID
	failed     []uuid.UUID
	parked     []uuid.UUID
}

func (f *fakePending) ClaimPending(context.Context, *gorm.DB, int, int) ([]models.OutboxEvent, error) {
	return f.rows, nil
}

func (f *fakePending) MarkPublished(_ context.Context, _ *gorm.DB, id uuid.UUID, _ time.Time) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakePending) RecordFailure(_ context.Context, _ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakePending) Park(_ context.Context, _ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.parked = append(f.parked, id)
	return nil
}

type sentMessage struct {
	dest broker.Destination
	msg  broker.Message
}

type fakePublisher struct {
	pingErr error
	results []error
	sent    []sentMessage
}

func (f *fakePublisher) Ping(context.Context) error { return f.pingErr }

func (f *fakePublisher) Publish(_ context.Context, dest broker.Destination, msg broker.Message) error {
	f.sent = append(f.sent, sentMessage{dest: dest, msg: msg})
	if len(f.results) == 0 {
		return nil
	}
	err := f.results[0]
	f.results = f.results[1:]
	return err
}

// fakeResolver routes every row to the stock topic unless err is set.
type fakeResolver struct {
	err error
}

func (f *fakeResolver) Resolve(row models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     row.EventType,
			AggregateType: row.AggregateType,
			Topic:         "pf-stock-events",
			RoutingKey:    "stock.test.v1",
		},
		Envelope: outbox.PayloadEnvelope{EventID: row.ID.String(), OccurredAt: time.Now()},
	}, nil
}

type fakeDeadLetter struct {
	entries []models.OutboxDLQ
}

func (f *fakeDeadLetter) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
