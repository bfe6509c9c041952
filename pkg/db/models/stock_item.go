package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
)

// StockItem is one ledger entry: the stock of a product in a single warehouse.
// QuantityAvailable is never stored; StockStatus is persisted for filtering
// but always recomputed from the counters before a write.
type StockItem struct {
	ID                uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID         `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_stock_items_product_warehouse,priority:1"`
	VendorID          uuid.UUID         `gorm:"column:vendor_id;type:uuid;not null"`
	WarehouseID       uuid.UUID         `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_stock_items_product_warehouse,priority:2"`
	SKU               string            `gorm:"column:sku;not null"`
	QuantityOnHand    int               `gorm:"column:quantity_on_hand;not null;default:0"`
	QuantityReserved  int               `gorm:"column:quantity_reserved;not null;default:0"`
	LowStockThreshold int               `gorm:"column:low_stock_threshold;not null;default:0"`
	Backorderable     bool              `gorm:"column:backorderable;not null;default:false"`
	StockStatus       enums.StockStatus `gorm:"column:stock_status;type:stock_status_enum;not null"`
	Version           int64             `gorm:"column:version;not null;default:0"`
	CreatedAt         time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// QuantityAvailable is what can still be promised to new orders. It goes
// negative on backorderable entries.
func (s StockItem) QuantityAvailable() int {
	return s.QuantityOnHand - s.QuantityReserved
}

// DerivedStatus is the status implied by the current counters.
func (s StockItem) DerivedStatus() enums.StockStatus {
	return enums.DeriveStockStatus(s.QuantityAvailable(), s.LowStockThreshold, s.Backorderable)
}

// RefreshStatus recomputes StockStatus and bumps the version used to order
// the entry's movement chain.
func (s *StockItem) RefreshStatus() {
	s.StockStatus = s.DerivedStatus()
	s.Version++
}

func (s *StockItem) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	if s.StockStatus == "" {
		s.StockStatus = s.DerivedStatus()
	}
	return nil
}
