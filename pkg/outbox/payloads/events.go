package payloads

import (
	"time"

	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/google/uuid"
)

// ReservationLine describes one reservation row inside an order-level event.
type ReservationLine struct {
	ReservationID       uuid.UUID `json:"reservation_id" validate:"required"`
	ProductID           uuid.UUID `json:"product_id" validate:"required"`
	WarehouseID         uuid.UUID `json:"warehouse_id"`
	StockItemID         uuid.UUID `json:"stock_item_id"`
	Quantity            int       `json:"quantity" validate:"gte=0"`
	QuantityBackordered int       `json:"quantity_backordered,omitempty"`
}

// StockReservedEvent is emitted once per successful reserve call.
type StockReservedEvent struct {
	OrderID   uuid.UUID         `json:"order_id" validate:"required"`
	ExpiresAt time.Time         `json:"expires_at"`
	Lines     []ReservationLine `json:"lines" validate:"min=1,dive"`
}

// ReservationConfirmedEvent is emitted when an order's holds become sales.
type ReservationConfirmedEvent struct {
	OrderID     uuid.UUID         `json:"order_id" validate:"required"`
	ConfirmedAt time.Time         `json:"confirmed_at"`
	Lines       []ReservationLine `json:"lines" validate:"dive"`
}

// ReservationReleasedEvent covers both explicit releases and expiry.
type ReservationReleasedEvent struct {
	OrderID    uuid.UUID               `json:"order_id" validate:"required"`
	Status     enums.ReservationStatus `json:"status"`
	Reason     string                  `json:"reason"`
	ReleasedAt time.Time               `json:"released_at"`
	Lines      []ReservationLine       `json:"lines" validate:"dive"`
}

// StockAdjustedEvent reports a manual on-hand correction.
type StockAdjustedEvent struct {
	StockItemID    uuid.UUID         `json:"stock_item_id" validate:"required"`
	ProductID      uuid.UUID         `json:"product_id"`
	WarehouseID    uuid.UUID         `json:"warehouse_id"`
	QuantityChange int               `json:"quantity_change"`
	OnHand         int               `json:"on_hand"`
	Reserved       int               `json:"reserved"`
	Status         enums.StockStatus `json:"status"`
	Reason         string            `json:"reason"`
}

// StockLowEvent fires when an entry degrades into a low, empty or backorder state.
type StockLowEvent struct {
	StockItemID    uuid.UUID         `json:"stock_item_id" validate:"required"`
	ProductID      uuid.UUID         `json:"product_id"`
	WarehouseID    uuid.UUID         `json:"warehouse_id"`
	SKU            string            `json:"sku"`
	Available      int               `json:"available"`
	Threshold      int               `json:"threshold"`
	PreviousStatus enums.StockStatus `json:"previous_status"`
	Status         enums.StockStatus `json:"status"`
}

// StockImportedEvent summarizes one bulk import.
type StockImportedEvent struct {
	ImportID uuid.UUID `json:"import_id" validate:"required"`
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
}
