// Package allocation decides which warehouses fill a requested quantity.
package allocation

import (
	"sort"

	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/google/uuid"
)

// Candidate is a ledger entry that may contribute to an allocation. Only
// entries in active warehouses are candidates.
type Candidate struct {
	StockItemID   uuid.UUID
	ProductID     uuid.UUID
	WarehouseID   uuid.UUID
	Available     int
	Backorderable bool
}

// Allocation is the share of a request taken from one entry. Backordered is
// the part of Quantity not covered by available stock.
type Allocation struct {
	StockItemID uuid.UUID `json:"stock_item_id"`
	ProductID   uuid.UUID `json:"product_id"`
	WarehouseID uuid.UUID `json:"warehouse_id"`
	Quantity    int       `json:"quantity"`
	Backordered int       `json:"backordered"`
}

// Allocate fills quantity from the richest entries first. A shortfall lands
// on the richest backorderable entry, whether or not it had stock to
// contribute; without one the request fails with InsufficientStock. The
// result is deterministic for a given input.
func Allocate(productID uuid.UUID, quantity int, candidates []Candidate) ([]Allocation, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	ordered := make([]Candidate, len(candidates))
	copy(ordered, candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Available != b.Available {
			return a.Available > b.Available
		}
		if a.WarehouseID != b.WarehouseID {
			return a.WarehouseID.String() < b.WarehouseID.String()
		}
		return a.StockItemID.String() < b.StockItemID.String()
	})

	var (
		out       []Allocation
		remaining = quantity
		total     int
	)
	index := make(map[uuid.UUID]int, len(ordered))
	for _, c := range ordered {
		if c.Available <= 0 {
			continue
		}
		total += c.Available
		if remaining == 0 {
			continue
		}
		take := min(c.Available, remaining)
		index[c.StockItemID] = len(out)
		out = append(out, Allocation{
			StockItemID: c.StockItemID,
			ProductID:   productID,
			WarehouseID: c.WarehouseID,
			Quantity:    take,
		})
		remaining -= take
	}
	if remaining == 0 {
		return out, nil
	}

	for _, c := range ordered {
		if !c.Backorderable {
			continue
		}
		if i, ok := index[c.StockItemID]; ok {
			out[i].Quantity += remaining
			out[i].Backordered += remaining
			return out, nil
		}
		return append(out, Allocation{
			StockItemID: c.StockItemID,
			ProductID:   productID,
			WarehouseID: c.WarehouseID,
			Quantity:    remaining,
			Backordered: remaining,
		}), nil
	}

	return nil, pkgerrors.InsufficientStock(productID.String(), quantity, total)
}
