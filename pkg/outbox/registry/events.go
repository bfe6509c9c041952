// Package registry maps outbox event types to their destination and payload
// schema so the relay can decode and check a row before publishing it.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-stock/pkg/config"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/payloads"
)

type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	// RoutingKey is the AMQP routing key and the pubsub "routing_key" attribute.
	RoutingKey string
	decode     func(json.RawMessage) (any, error)
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row the relay should dead-letter immediately.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// EventRegistry is immutable once built and safe for concurrent Resolve calls.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

var payloadValidator = validator.New(validator.WithRequiredStructEnabled())

// typed builds a decoder that unmarshals into T and runs its validate tags.
func typed[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		payload := new(T)
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, err
		}
		if err := payloadValidator.Struct(payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

var stockEvents = []EventDescriptor{
	{EventType: enums.EventStockReserved, AggregateType: enums.AggregateOrder, decode: typed[payloads.StockReservedEvent]()},
	{EventType: enums.EventReservationConfirmed, AggregateType: enums.AggregateOrder, decode: typed[payloads.ReservationConfirmedEvent]()},
	{EventType: enums.EventReservationReleased, AggregateType: enums.AggregateOrder, decode: typed[payloads.ReservationReleasedEvent]()},
	{EventType: enums.EventReservationExpired, AggregateType: enums.AggregateOrder, decode: typed[payloads.ReservationReleasedEvent]()},
	{EventType: enums.EventStockAdjusted, AggregateType: enums.AggregateStockItem, decode: typed[payloads.StockAdjustedEvent]()},
	{EventType: enums.EventStockLow, AggregateType: enums.AggregateStockItem, decode: typed[payloads.StockLowEvent]()},
	{EventType: enums.EventStockImported, AggregateType: enums.AggregateStockItem, decode: typed[payloads.StockImportedEvent]()},
}

// NewEventRegistry routes every stock event to the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.StockTopic)
	if topic == "" {
		return nil, errors.New("stock topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(stockEvents))}
	for _, desc := range stockEvents {
		desc.Topic = topic
		desc.RoutingKey = RoutingKey(desc.EventType)
		reg.entries[desc.EventType] = desc
	}
	return reg, nil
}

// RoutingKey turns stock_reservation_confirmed into stock.reservation.confirmed.v1.
func RoutingKey(eventType enums.OutboxEventType) string {
	return strings.ReplaceAll(string(eventType), "_", ".") + ".v1"
}

// RoutingKeys lists every key the registry emits, sorted. Used to bind queues.
func (r *EventRegistry) RoutingKeys() []string {
	keys := make([]string, 0, len(r.entries))
	for _, desc := range r.entries {
		keys = append(keys, desc.RoutingKey)
	}
	sort.Strings(keys)
	return keys
}

// Resolve checks the row against its descriptor and decodes the payload.
// Every failure is non-retryable: the row will not decode on a later attempt.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	switch {
	case !ok:
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	case desc.AggregateType != event.AggregateType:
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	case event.AggregateID == uuid.Nil:
		return nil, nonRetryable("missing aggregate_id")
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, nonRetryable("decode envelope: %w", err)
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}
	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
