package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
)

// StockReservation holds QuantityReserved units of one ledger entry for an
// order. QuantityBackordered is the part of the hold not covered by on-hand
// stock at reservation time.
type StockReservation struct {
	ID                  uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID             uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index:idx_stock_reservations_order_status,priority:1"`
	ProductID           uuid.UUID               `gorm:"column:product_id;type:uuid;not null"`
	StockItemID         uuid.UUID               `gorm:"column:stock_item_id;type:uuid;not null"`
	WarehouseID         uuid.UUID               `gorm:"column:warehouse_id;type:uuid;not null"`
	QuantityReserved    int                     `gorm:"column:quantity_reserved;not null"`
	QuantityBackordered int                     `gorm:"column:quantity_backordered;not null;default:0"`
	Status              enums.ReservationStatus `gorm:"column:status;type:reservation_status_enum;not null;index:idx_stock_reservations_order_status,priority:2;index:idx_stock_reservations_status_expires,priority:1"`
	ReservedAt          time.Time               `gorm:"column:reserved_at;not null"`
	ExpiresAt           time.Time               `gorm:"column:expires_at;not null;index:idx_stock_reservations_status_expires,priority:2"`
	ConfirmedAt         *time.Time              `gorm:"column:confirmed_at"`
	ReleasedAt          *time.Time              `gorm:"column:released_at"`
	ReleaseReason       *string                 `gorm:"column:release_reason"`
	CreatedAt           time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *StockReservation) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
