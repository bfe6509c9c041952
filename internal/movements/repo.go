package movements

import (
	"context"

	"github.com/angelmondragon/packfinderz-stock/pkg/db/models"
	"github.com/angelmondragon/packfinderz-stock/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository manages persistence for stock movements. Movements are only
// ever inserted.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, movement *models.StockMovement) error
	ListByStockItem(ctx context.Context, stockItemID uuid.UUID, afterSequence int64, limit int) ([]models.StockMovement, error)
	ListByReference(ctx context.Context, refType enums.MovementReferenceType, refID string) ([]models.StockMovement, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a movement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, movement *models.StockMovement) error {
	return r.db.WithContext(ctx).Create(movement).Error
}

// ListByStockItem returns the chain for one entry in sequence order. A limit
// of zero or less returns everything after afterSequence.
func (r *repository) ListByStockItem(ctx context.Context, stockItemID uuid.UUID, afterSequence int64, limit int) ([]models.StockMovement, error) {
	query := r.db.WithContext(ctx).
		Where("stock_item_id = ?", stockItemID).
		Where("sequence > ?", afterSequence).
		Order("sequence ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []models.StockMovement
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByReference(ctx context.Context, refType enums.MovementReferenceType, refID string) ([]models.StockMovement, error) {
	var rows []models.StockMovement
	if err := r.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", refType, refID).
		Order("created_at ASC").
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
