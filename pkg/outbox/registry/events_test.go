package registry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/payloads"
)

func newRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{StockTopic: " stock-topic "})
	require.NoError(t, err)
	return reg
}

func envelopeOf(t *testing.T, data any) json.RawMessage {
	t.Helper()
	raw, ok := data.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(data)
		require.NoError(t, err)
	}
	out, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	})
	require.NoError(t, err)
	return out
}

func TestResolveDecodesTypedPayload(t *testing.T) {
	reg := newRegistry(t)
	orderID := uuid.New()
	row := models.OutboxEvent{
		EventType:     enums.EventStockReserved,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: envelopeOf(t, payloads.StockReservedEvent{
			OrderID:   orderID,
			ExpiresAt: time.Now().Add(15 * time.Minute).UTC(),
			Lines:     []payloads.ReservationLine{{ReservationID: uuid.New(), ProductID: uuid.New(), Quantity: 2}},
		}),
	}

	resolved, err := reg.Resolve(row)
	require.NoError(t, err)
	assert.Equal(t, "stock-topic", resolved.Descriptor.Topic)
	assert.Equal(t, "stock.reserved.v1", resolved.Descriptor.RoutingKey)
	assert.NotEmpty(t, resolved.Envelope.EventID)

	payload, ok := resolved.Payload.(*payloads.StockReservedEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	assert.Equal(t, orderID, payload.OrderID)
	assert.Len(t, payload.Lines, 1)
}

func TestResolveExpiredSharesReleasedSchema(t *testing.T) {
	reg := newRegistry(t)
	orderID := uuid.New()
	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventReservationExpired,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Payload: envelopeOf(t, payloads.ReservationReleasedEvent{
			OrderID: orderID,
			Status:  enums.ReservationStatusExpired,
			Reason:  "hold expired",
		}),
	})
	require.NoError(t, err)
	assert.IsType(t, &payloads.ReservationReleasedEvent{}, resolved.Payload)
}

func TestResolveRejectsBadRowsAsNonRetryable(t *testing.T) {
	reg := newRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("stock_vanished"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventStockAdjusted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, []byte(`{"quantity_change":1}`)),
		},
		"missing aggregate id": {
			EventType:     enums.EventReservationExpired,
			AggregateType: enums.AggregateOrder,
			Payload:       envelopeOf(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventStockLow,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventStockLow,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{"version":`),
		},
		"fails payload validation": {
			EventType:     enums.EventStockReserved,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, payloads.StockReservedEvent{OrderID: uuid.New()}),
		},
		"missing import id": {
			EventType:     enums.EventStockImported,
			AggregateType: enums.AggregateStockItem,
			AggregateID:   uuid.New(),
			Payload:       envelopeOf(t, []byte(`{"created":2}`)),
		},
	}
	for name, row := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(row)
			var nonRetry NonRetryableError
			assert.ErrorAs(t, err, &nonRetry)
		})
	}
}

func TestRoutingKeysCoverEveryEvent(t *testing.T) {
	keys := newRegistry(t).RoutingKeys()
	assert.Len(t, keys, len(stockEvents))
	assert.IsIncreasing(t, keys)
	assert.Contains(t, keys, "stock.reservation.confirmed.v1")
}

func TestNewEventRegistryRequiresTopic(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{StockTopic: "  "})
	assert.Error(t, err)
}
