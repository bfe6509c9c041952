package stock

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-stock/internal/movements"
	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"gorm.io/gorm"
)

// Change is one mutation of a locked ledger entry.
type Change struct {
	OnHandDelta   int
	ReservedDelta int
	Type          enums.MovementType
	ReferenceType enums.MovementReferenceType
	ReferenceID   string
	Actor         movements.Actor
	Note          string

	// Optional settings changes, applied together with the deltas.
	LowStockThreshold *int
	Backorderable     *bool
}

// Applied is the outcome of a change.
type Applied struct {
	Before   models.StockItem
	After    models.StockItem
	Movement *models.StockMovement
}

// StatusDegraded reports whether the change moved the entry to a more
// severe stock status.
func (a Applied) StatusDegraded() bool {
	return a.After.StockStatus.Severity() > a.Before.StockStatus.Severity()
}

// Ledger applies counter changes and their movements in one step. Callers
// must hold the row lock on item inside tx.
type Ledger struct {
	repo      Repository
	movements movements.Service
}

// NewLedger wires the ledger writer.
func NewLedger(repo Repository, movementSvc movements.Service) (*Ledger, error) {
	if repo == nil {
		return nil, fmt.Errorf("stock repository required")
	}
	if movementSvc == nil {
		return nil, fmt.Errorf("movement service required")
	}
	return &Ledger{repo: repo, movements: movementSvc}, nil
}

// Apply mutates item in place. Negative counters are rejected; a reserved
// count above on-hand is only allowed on backorderable entries.
func (l *Ledger) Apply(ctx context.Context, tx *gorm.DB, item *models.StockItem, change Change) (*Applied, error) {
	if item == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stock item required")
	}
	before := *item
	before.StockStatus = before.DerivedStatus()

	next := *item
	next.QuantityOnHand += change.OnHandDelta
	next.QuantityReserved += change.ReservedDelta
	if change.LowStockThreshold != nil {
		next.LowStockThreshold = *change.LowStockThreshold
	}
	if change.Backorderable != nil {
		next.Backorderable = *change.Backorderable
	}
	if next.QuantityOnHand < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "on-hand quantity cannot be negative").
			WithDetails(map[string]any{"stock_item_id": item.ID.String(), "on_hand": next.QuantityOnHand})
	}
	if next.QuantityReserved < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "reserved quantity cannot be negative")
	}
	if !next.Backorderable && next.QuantityReserved > next.QuantityOnHand {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "on-hand quantity cannot drop below reserved").
			WithDetails(map[string]any{
				"stock_item_id": item.ID.String(),
				"on_hand":       next.QuantityOnHand,
				"reserved":      next.QuantityReserved,
			})
	}
	next.RefreshStatus()

	if err := l.repo.WithTx(tx).SaveCounters(ctx, &next); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "save stock item")
	}
	movement, err := l.movements.Append(ctx, tx, before, next, movements.Entry{
		Type:          change.Type,
		ReferenceType: change.ReferenceType,
		ReferenceID:   change.ReferenceID,
		Actor:         change.Actor,
		Note:          change.Note,
	})
	if err != nil {
		return nil, err
	}

	*item = next
	return &Applied{Before: before, After: next, Movement: movement}, nil
}
