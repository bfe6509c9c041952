package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
)

// StockMovement is an immutable record of one change to a ledger entry.
// QuantityChange/Before/After track available quantity; the on-hand and
// reserved snapshots let a replay rebuild both counters.
type StockMovement struct {
	ID             uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	StockItemID    uuid.UUID                   `gorm:"column:stock_item_id;type:uuid;not null;index:idx_stock_movements_item_sequence,priority:1"`
	ProductID      uuid.UUID                   `gorm:"column:product_id;type:uuid;not null"`
	WarehouseID    uuid.UUID                   `gorm:"column:warehouse_id;type:uuid;not null"`
	Sequence       int64                       `gorm:"column:sequence;not null;index:idx_stock_movements_item_sequence,priority:2"`
	MovementType   enums.MovementType          `gorm:"column:movement_type;type:movement_type_enum;not null"`
	QuantityChange int                         `gorm:"column:quantity_change;not null"`
	QuantityBefore int                         `gorm:"column:quantity_before;not null"`
	QuantityAfter  int                         `gorm:"column:quantity_after;not null"`
	OnHandBefore   int                         `gorm:"column:on_hand_before;not null"`
	OnHandAfter    int                         `gorm:"column:on_hand_after;not null"`
	ReservedBefore int                         `gorm:"column:reserved_before;not null"`
	ReservedAfter  int                         `gorm:"column:reserved_after;not null"`
	ReferenceType  enums.MovementReferenceType `gorm:"column:reference_type;not null;index:idx_stock_movements_reference,priority:1"`
	ReferenceID    string                      `gorm:"column:reference_id;not null;index:idx_stock_movements_reference,priority:2"`
	ActorType      enums.ActorType             `gorm:"column:actor_type;not null"`
	ActorID        string                      `gorm:"column:actor_id"`
	Note           *string                     `gorm:"column:note"`
	CreatedAt      time.Time                   `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
