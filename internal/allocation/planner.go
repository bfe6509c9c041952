package allocation

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/google/uuid"
)

// CandidateSource loads the active entries of a set of products.
type CandidateSource interface {
	ListActiveByProducts(ctx context.Context, productIDs []uuid.UUID) ([]models.StockItem, error)
}

// Request is one product line to allocate.
type Request struct {
	ProductID uuid.UUID
	Quantity  int
}

// Planner allocates several lines against freshly loaded candidates.
type Planner struct {
	source CandidateSource
}

// NewPlanner wires a planner over the ledger repository.
func NewPlanner(source CandidateSource) (*Planner, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source required")
	}
	return &Planner{source: source}, nil
}

// Plan allocates every request or fails on the first one that cannot be
// filled. Pass the transaction-scoped source to read inside a transaction.
func (p *Planner) Plan(ctx context.Context, requests []Request) ([]Allocation, error) {
	return PlanWith(ctx, p.source, requests)
}

// PlanWith is Plan against an explicit source.
func PlanWith(ctx context.Context, source CandidateSource, requests []Request) ([]Allocation, error) {
	ids := make([]uuid.UUID, 0, len(requests))
	for _, r := range requests {
		ids = append(ids, r.ProductID)
	}
	items, err := source.ListActiveByProducts(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load allocation candidates")
	}
	byProduct := make(map[uuid.UUID][]Candidate, len(requests))
	for _, item := range items {
		byProduct[item.ProductID] = append(byProduct[item.ProductID], FromStockItem(item))
	}

	var plan []Allocation
	for _, r := range requests {
		allocs, err := Allocate(r.ProductID, r.Quantity, byProduct[r.ProductID])
		if err != nil {
			return nil, err
		}
		plan = append(plan, allocs...)
	}
	return plan, nil
}

// FromStockItem converts a ledger entry to a candidate.
func FromStockItem(item models.StockItem) Candidate {
	return Candidate{
		StockItemID:   item.ID,
		ProductID:     item.ProductID,
		WarehouseID:   item.WarehouseID,
		Available:     item.QuantityAvailable(),
		Backorderable: item.Backorderable,
	}
}
