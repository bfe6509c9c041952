package enums

import "slices"

// StockStatus maps to stock_status_enum in Postgres.
type StockStatus string

const (
	StockStatusInStock    StockStatus = "IN_STOCK"
	StockStatusLowStock   StockStatus = "LOW_STOCK"
	StockStatusOutOfStock StockStatus = "OUT_OF_STOCK"
	StockStatusBackorder  StockStatus = "BACKORDER"
)

var stockStatuses = []StockStatus{
	StockStatusInStock,
	StockStatusLowStock,
	StockStatusOutOfStock,
	StockStatusBackorder,
}

func (s StockStatus) IsValid() bool { return slices.Contains(stockStatuses, s) }

// Severity ranks statuses so the worst one wins when aggregating warehouses.
func (s StockStatus) Severity() int {
	switch s {
	case StockStatusOutOfStock:
		return 3
	case StockStatusBackorder:
		return 2
	case StockStatusLowStock:
		return 1
	default:
		return 0
	}
}

// Worse returns whichever of s and other is more severe.
func (s StockStatus) Worse(other StockStatus) StockStatus {
	if other.Severity() > s.Severity() {
		return other
	}
	return s
}

// DeriveStockStatus computes the status of a single ledger entry from its
// available quantity.
func DeriveStockStatus(available, lowStockThreshold int, backorderable bool) StockStatus {
	switch {
	case available <= 0 && backorderable:
		return StockStatusBackorder
	case available <= 0:
		return StockStatusOutOfStock
	case available <= lowStockThreshold:
		return StockStatusLowStock
	default:
		return StockStatusInStock
	}
}

// ParseStockStatus accepts the exact upper-case value, e.g. LOW_STOCK.
func ParseStockStatus(value string) (StockStatus, error) {
	return parse(stockStatuses, value, "stock status")
}
