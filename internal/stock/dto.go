package stock

import (
	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/google/uuid"
)

// Availability is the sellable stock of one product across active warehouses.
type Availability struct {
	ProductID      uuid.UUID               `json:"product_id"`
	TotalOnHand    int                     `json:"total_on_hand"`
	TotalReserved  int                     `json:"total_reserved"`
	TotalAvailable int                     `json:"total_available"`
	Backorderable  bool                    `json:"backorderable"`
	Status         enums.StockStatus       `json:"status"`
	Purchasable    bool                    `json:"purchasable"`
	Warehouses     []WarehouseAvailability `json:"warehouses"`
}

// WarehouseAvailability is one ledger entry inside an Availability summary.
type WarehouseAvailability struct {
	StockItemID   uuid.UUID         `json:"stock_item_id"`
	WarehouseID   uuid.UUID         `json:"warehouse_id"`
	OnHand        int               `json:"on_hand"`
	Reserved      int               `json:"reserved"`
	Available     int               `json:"available"`
	Status        enums.StockStatus `json:"status"`
	Backorderable bool              `json:"backorderable"`
}

// summarize folds the active entries of one product. A product with no
// entries is out of stock. TotalAvailable counts only sellable units; a
// backordered entry's negative figure shows on its warehouse row.
func summarize(productID uuid.UUID, items []models.StockItem) Availability {
	out := Availability{
		ProductID:  productID,
		Status:     enums.StockStatusOutOfStock,
		Warehouses: make([]WarehouseAvailability, 0, len(items)),
	}
	for i, item := range items {
		status := item.DerivedStatus()
		out.TotalOnHand += item.QuantityOnHand
		out.TotalReserved += item.QuantityReserved
		out.TotalAvailable += max(item.QuantityAvailable(), 0)
		out.Backorderable = out.Backorderable || item.Backorderable
		if i == 0 {
			out.Status = status
		} else {
			out.Status = out.Status.Worse(status)
		}
		out.Warehouses = append(out.Warehouses, WarehouseAvailability{
			StockItemID:   item.ID,
			WarehouseID:   item.WarehouseID,
			OnHand:        item.QuantityOnHand,
			Reserved:      item.QuantityReserved,
			Available:     item.QuantityAvailable(),
			Status:        status,
			Backorderable: item.Backorderable,
		})
	}
	out.Purchasable = out.TotalAvailable > 0 || out.Backorderable
	return out
}

// ItemView is the admin representation of a ledger entry.
type ItemView struct {
	ID                uuid.UUID         `json:"id"`
	ProductID         uuid.UUID         `json:"product_id"`
	VendorID          uuid.UUID         `json:"vendor_id"`
	WarehouseID       uuid.UUID         `json:"warehouse_id"`
	SKU               string            `json:"sku"`
	QuantityOnHand    int               `json:"quantity_on_hand"`
	QuantityReserved  int               `json:"quantity_reserved"`
	QuantityAvailable int               `json:"quantity_available"`
	LowStockThreshold int               `json:"low_stock_threshold"`
	Backorderable     bool              `json:"backorderable"`
	StockStatus       enums.StockStatus `json:"stock_status"`
	Version           int64             `json:"version"`
}

func toItemView(item models.StockItem) ItemView {
	return ItemView{
		ID:                item.ID,
		ProductID:         item.ProductID,
		VendorID:          item.VendorID,
		WarehouseID:       item.WarehouseID,
		SKU:               item.SKU,
		QuantityOnHand:    item.QuantityOnHand,
		QuantityReserved:  item.QuantityReserved,
		QuantityAvailable: item.QuantityAvailable(),
		LowStockThreshold: item.LowStockThreshold,
		Backorderable:     item.Backorderable,
		StockStatus:       item.StockStatus,
		Version:           item.Version,
	}
}

// ItemPage is one page of an admin listing.
type ItemPage struct {
	Items      []ItemView `json:"items"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

// ListItemsInput filters admin listings.
type ListItemsInput struct {
	WarehouseID *uuid.UUID
	ProductID   *uuid.UUID
	Status      *enums.StockStatus
	Cursor      string
	Limit       int
}

// AdjustInput is a manual on-hand correction.
type AdjustInput struct {
	StockItemID    uuid.UUID       `json:"stock_item_id" validate:"required"`
	QuantityChange int             `json:"quantity_change"`
	Reason         string          `json:"reason" validate:"required,max=255"`
	Actor          movements.Actor `json:"actor"`
}

// ImportItem sets the absolute on-hand count of one (product, warehouse).
type ImportItem struct {
	ProductID         uuid.UUID `json:"product_id" validate:"required"`
	VendorID          uuid.UUID `json:"vendor_id" validate:"required"`
	WarehouseID       uuid.UUID `json:"warehouse_id" validate:"required"`
	SKU               string    `json:"sku" validate:"required,max=128"`
	QuantityOnHand    int       `json:"quantity_on_hand" validate:"gte=0"`
	LowStockThreshold *int      `json:"low_stock_threshold,omitempty" validate:"omitempty,gte=0"`
	Backorderable     *bool     `json:"backorderable,omitempty"`
}

// ImportResult summarizes one bulk import.
type ImportResult struct {
	ImportID  uuid.UUID  `json:"import_id"`
	Created   int        `json:"created"`
	Updated   int        `json:"updated"`
	Unchanged int        `json:"unchanged"`
	Items     []ItemView `json:"items"`
}
