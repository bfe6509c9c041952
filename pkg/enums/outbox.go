package enums

import "slices"

// OutboxAggregateType maps to aggregate_type_enum in Postgres.
type OutboxAggregateType string

const (
	AggregateStockItem   OutboxAggregateType = "stock_item"
	AggregateReservation OutboxAggregateType = "stock_reservation"
	AggregateOrder       OutboxAggregateType = "order"
)

var aggregateTypes = []OutboxAggregateType{AggregateStockItem, AggregateReservation, AggregateOrder}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

// OutboxEventType maps to event_type_enum in Postgres. Adding a value needs
// a migration and a registry descriptor.
type OutboxEventType string

const (
	EventStockReserved        OutboxEventType = "stock_reserved"
	EventReservationConfirmed OutboxEventType = "stock_reservation_confirmed"
	EventReservationReleased  OutboxEventType = "stock_reservation_released"
	EventReservationExpired   OutboxEventType = "stock_reservation_expired"
	EventStockAdjusted        OutboxEventType = "stock_adjusted"
	EventStockLow             OutboxEventType = "stock_low"
	EventStockImported        OutboxEventType = "stock_imported"
)

var eventTypes = []OutboxEventType{
	EventStockReserved,
	EventReservationConfirmed,
	EventReservationReleased,
	EventReservationExpired,
	EventStockAdjusted,
	EventStockLow,
	EventStockImported,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

// OutboxDLQErrorReason records why the relay gave up on a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
