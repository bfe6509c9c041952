package reservations

import (
	"time"

	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/angelmondragon/packfinderz-stock/pkg/outbox/payloads"
	"github.com/google/uuid"
)

// ReleaseReasonExpired is recorded on holds reclaimed by the sweeper.
const ReleaseReasonExpired = "expired"

// DefaultReleaseReason is used when a caller releases without a reason.
const DefaultReleaseReason = "released"

// ReserveItem is one requested product line.
type ReserveItem struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"gt=0"`
}

// ReserveInput places holds for an order.
type ReserveInput struct {
	OrderID      uuid.UUID       `json:"order_id" validate:"required"`
	Items        []ReserveItem   `json:"items" validate:"required,min=1,dive"`
	HoldDuration time.Duration   `json:"-"`
	Actor        movements.Actor `json:"-"`
}

// ReservationView is the API shape of a reservation row.
type ReservationView struct {
	ID                  uuid.UUID               `json:"id"`
	OrderID             uuid.UUID               `json:"order_id"`
	ProductID           uuid.UUID               `json:"product_id"`
	StockItemID         uuid.UUID               `json:"stock_item_id"`
	WarehouseID         uuid.UUID               `json:"warehouse_id"`
	QuantityReserved    int                     `json:"quantity_reserved"`
	QuantityBackordered int                     `json:"quantity_backordered"`
	Status              enums.ReservationStatus `json:"status"`
	ReservedAt          time.Time               `json:"reserved_at"`
	ExpiresAt           time.Time               `json:"expires_at"`
	ConfirmedAt         *time.Time              `json:"confirmed_at,omitempty"`
	ReleasedAt          *time.Time              `json:"released_at,omitempty"`
	ReleaseReason       *string                 `json:"release_reason,omitempty"`
}

func toView(row models.StockReservation) ReservationView {
	return ReservationView{
		ID:                  row.ID,
		OrderID:             row.OrderID,
		ProductID:           row.ProductID,
		StockItemID:         row.StockItemID,
		WarehouseID:         row.WarehouseID,
		QuantityReserved:    row.QuantityReserved,
		QuantityBackordered: row.QuantityBackordered,
		Status:              row.Status,
		ReservedAt:          row.ReservedAt,
		ExpiresAt:           row.ExpiresAt,
		ConfirmedAt:         row.ConfirmedAt,
		ReleasedAt:          row.ReleasedAt,
		ReleaseReason:       row.ReleaseReason,
	}
}

func toViews(rows []models.StockReservation) []ReservationView {
	out := make([]ReservationView, 0, len(rows))
	for _, row := range rows {
		out = append(out, toView(row))
	}
	return out
}

func toLines(rows []models.StockReservation) []payloads.ReservationLine {
	out := make([]payloads.ReservationLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, payloads.ReservationLine{
			ReservationID:       row.ID,
			ProductID:           row.ProductID,
			WarehouseID:         row.WarehouseID,
			StockItemID:         row.StockItemID,
			Quantity:            row.QuantityReserved,
			QuantityBackordered: row.QuantityBackordered,
		})
	}
	return out
}

// ReservationSet is the result of a successful Reserve.
type ReservationSet struct {
	OrderID      uuid.UUID         `json:"order_id"`
	ExpiresAt    time.Time         `json:"expires_at"`
	Reservations []ReservationView `json:"reservations"`
}

// TransitionResult reports a confirm or release. Changed is zero when the
// call was a no-op.
type TransitionResult struct {
	OrderID      uuid.UUID         `json:"order_id"`
	Changed      int               `json:"changed"`
	Units        int               `json:"units"`
	Reservations []ReservationView `json:"reservations"`
}
