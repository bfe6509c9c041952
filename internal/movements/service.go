package movements

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-stock/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const defaultPageSize = 100

// Service records and reads the movement log.
type Service interface {
	Append(ctx context.Context, tx *gorm.DB, before, after models.StockItem, entry Entry) (*models.StockMovement, error)
	List(ctx context.Context, stockItemID uuid.UUID, afterSequence int64, limit int) ([]models.StockMovement, error)
	ListByReference(ctx context.Context, refType enums.MovementReferenceType, refID string) ([]models.StockMovement, error)
	Reconcile(ctx context.Context, item models.StockItem) (*ReconcileResult, error)
}

// ReconcileResult compares the stored counters with a replay of the log.
type ReconcileResult struct {
	StockItemID uuid.UUID `json:"stock_item_id"`
	Movements   int       `json:"movements"`
	Replayed    Snapshot  `json:"replayed"`
	Stored      Snapshot  `json:"stored"`
	Consistent  bool      `json:"consistent"`
	Problem     string    `json:"problem,omitempty"`
}

type service struct {
	repo Repository
}

// NewService wires the movement log service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("movement repository required")
	}
	return &service{repo: repo}, nil
}

// Append writes the movement for a mutation inside the caller's transaction.
func (s *service) Append(ctx context.Context, tx *gorm.DB, before, after models.StockItem, entry Entry) (*models.StockMovement, error) {
	if !entry.Type.IsValid() {
		return nil, fmt.Errorf("invalid movement type %q", entry.Type)
	}
	if !entry.ReferenceType.IsValid() {
		return nil, fmt.Errorf("invalid reference type %q", entry.ReferenceType)
	}
	if entry.ReferenceID == "" {
		return nil, fmt.Errorf("movement reference id is required")
	}
	movement := Build(before, after, entry)
	if err := s.repo.WithTx(tx).Create(ctx, &movement); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record stock movement")
	}
	return &movement, nil
}

func (s *service) List(ctx context.Context, stockItemID uuid.UUID, afterSequence int64, limit int) ([]models.StockMovement, error) {
	if stockItemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock item id is required")
	}
	if limit <= 0 || limit > defaultPageSize {
		limit = defaultPageSize
	}
	rows, err := s.repo.ListByStockItem(ctx, stockItemID, afterSequence, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stock movements")
	}
	return rows, nil
}

// ListByReference returns every movement written for one order, adjustment or
// import, oldest first.
func (s *service) ListByReference(ctx context.Context, refType enums.MovementReferenceType, refID string) ([]models.StockMovement, error) {
	if !refType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid reference type")
	}
	if strings.TrimSpace(refID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference id is required")
	}
	rows, err := s.repo.ListByReference(ctx, refType, strings.TrimSpace(refID))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list movements by reference")
	}
	return rows, nil
}

// Reconcile replays the entry's full chain and reports whether it lands on
// the stored counters.
func (s *service) Reconcile(ctx context.Context, item models.StockItem) (*ReconcileResult, error) {
	chain, err := s.repo.ListByStockItem(ctx, item.ID, 0, 0)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load movement chain")
	}
	result := &ReconcileResult{
		StockItemID: item.ID,
		Movements:   len(chain),
		Stored: Snapshot{
			OnHand:    item.QuantityOnHand,
			Reserved:  item.QuantityReserved,
			Available: item.QuantityAvailable(),
			Sequence:  item.Version,
		},
	}
	replayed, err := Replay(chain)
	if err != nil {
		result.Problem = err.Error()
		return result, nil
	}
	result.Replayed = replayed
	switch {
	case len(chain) == 0 && item.Version > 0:
		result.Problem = "entry has mutations but no movements"
	case replayed.OnHand != item.QuantityOnHand || replayed.Reserved != item.QuantityReserved:
		result.Problem = "replayed counters differ from stored counters"
	case len(chain) > 0 && replayed.Sequence != item.Version:
		result.Problem = "latest movement sequence differs from entry version"
	}
	result.Consistent = result.Problem == ""
	return result, nil
}
